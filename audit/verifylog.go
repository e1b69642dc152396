package audit

import (
	"bufio"
	"crypto/ecdsa"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/cloudx-io/escrowauction/core"
)

// LogVerification is the outcome of checking a signed audit log.
type LogVerification struct {
	Events          []Event
	Records         map[core.AuctionID]core.Auction
	SignaturesValid bool
	ReplayValid     bool
	Details         []string
}

func (r *LogVerification) IsValid() bool {
	return r.SignaturesValid && r.ReplayValid
}

// VerifyLog reads the base64 lines written by SignedLog, verifies every
// envelope against pub and replays the resulting history. Blank lines are
// skipped. Only I/O failures are returned as errors; bad content is reported
// in the result.
func VerifyLog(pub *ecdsa.PublicKey, r io.Reader) (*LogVerification, error) {
	result := &LogVerification{SignaturesValid: true}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			result.SignaturesValid = false
			result.Details = append(result.Details, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		evt, err := VerifySigned(pub, raw)
		if err != nil {
			result.SignaturesValid = false
			result.Details = append(result.Details, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		result.Events = append(result.Events, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	records, err := Replay(result.Events)
	if err != nil {
		result.Details = append(result.Details, fmt.Sprintf("replay: %v", err))
		return result, nil
	}
	result.Records = records
	result.ReplayValid = true
	result.Details = append(result.Details, fmt.Sprintf("%d events verified, %d auctions replayed", len(result.Events), len(records)))
	return result, nil
}

// LastSequence returns the sequence number of the final envelope of a log
// written by SignedLog, or 0 when the log holds no envelopes. The final
// envelope must verify against pub.
func LastSequence(pub *ecdsa.PublicKey, r io.Reader) (uint64, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var last string
	for scanner.Scan() {
		if text := strings.TrimSpace(scanner.Text()); text != "" {
			last = text
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read audit log: %w", err)
	}
	if last == "" {
		return 0, nil
	}

	raw, err := base64.StdEncoding.DecodeString(last)
	if err != nil {
		return 0, fmt.Errorf("decode last envelope: %w", err)
	}
	evt, err := VerifySigned(pub, raw)
	if err != nil {
		return 0, fmt.Errorf("last envelope: %w", err)
	}
	return evt.Seq, nil
}
