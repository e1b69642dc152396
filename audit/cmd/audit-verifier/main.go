package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cloudx-io/escrowauction/audit"
)

// plainTextHandler writes bare messages to stdout, without timestamps or
// levels, for CLI output.
type plainTextHandler struct{}

func (*plainTextHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (*plainTextHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintln(os.Stdout, r.Message)
	return err
}

func (h *plainTextHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *plainTextHandler) WithGroup(_ string) slog.Handler {
	return h
}

var logger = slog.New(&plainTextHandler{})

func main() {
	var (
		logPath      = flag.String("log", "", "Path to the signed audit log (required)")
		publicKey    = flag.String("public-key", "", "Path to a PEM public key, or the base64 key printed by auctiond (required)")
		outputFormat = flag.String("format", "text", "Output format: text or json")
		help         = flag.Bool("help", false, "Show usage information")
	)
	flag.Parse()

	if *help || *logPath == "" || *publicKey == "" {
		showUsage()
		if *logPath == "" || *publicKey == "" {
			os.Exit(1)
		}
		os.Exit(0)
	}

	pub, err := readPublicKey(*publicKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading public key: %v\n", err)
		os.Exit(2)
	}

	f, err := os.Open(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening audit log: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = f.Close() }()

	result, err := audit.VerifyLog(pub, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Verification error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		if err := outputJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
			os.Exit(2)
		}
	} else {
		outputText(result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
}

func showUsage() {
	logger.Info("Auction Audit Log Verifier")
	logger.Info("")
	logger.Info("Verifies the COSE_Sign1 signature of every event in an auctiond audit log")
	logger.Info("and replays the history to rebuild each auction record.")
	logger.Info("")
	logger.Info("Usage:")
	logger.Info("  audit-verifier --log <path> --public-key <pem|base64> [options]")
	logger.Info("")
	logger.Info("Optional Flags:")
	logger.Info("  --format <text|json>              Output format (default: text)")
	logger.Info("  --help                            Show this help message")
	logger.Info("")
	logger.Info("Exit Codes:")
	logger.Info("  0 - Verification passed")
	logger.Info("  1 - Verification failed")
	logger.Info("  2 - Invalid input or runtime error")
}

// readPublicKey accepts a PEM file path or an inline base64 PKIX key.
func readPublicKey(arg string) (*ecdsa.PublicKey, error) {
	var der []byte
	if data, err := os.ReadFile(arg); err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("no PEM block found in %s", arg)
		}
		der = block.Bytes
	} else {
		der, err = base64.StdEncoding.DecodeString(strings.TrimSpace(arg))
		if err != nil {
			return nil, fmt.Errorf("not a readable file or base64 key: %w", err)
		}
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not ECDSA")
	}
	return pub, nil
}

func outputText(result *audit.LogVerification) {
	logger.Info("Auction Audit Log Verifier")
	logger.Info("==========================")
	logger.Info("")
	for _, d := range result.Details {
		logger.Info("  " + d)
	}
	logger.Info("")
	logger.Info(fmt.Sprintf("  Signatures Valid: %v", result.SignaturesValid))
	logger.Info(fmt.Sprintf("  Replay Valid:     %v", result.ReplayValid))
	for id, a := range result.Records {
		logger.Info(fmt.Sprintf("  %s  %-9s  highest_bid=%d", id, a.Status, a.HighestBid))
	}
	logger.Info("")
	if result.IsValid() {
		logger.Info("VERIFICATION: PASSED")
	} else {
		logger.Info("VERIFICATION: FAILED")
	}
}

func outputJSON(result *audit.LogVerification) error {
	output := map[string]any{
		"valid":            result.IsValid(),
		"signatures_valid": result.SignaturesValid,
		"replay_valid":     result.ReplayValid,
		"events":           len(result.Events),
		"auctions":         result.Records,
		"details":          result.Details,
	}
	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	logger.Info(string(data))
	return nil
}
