package audit

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"github.com/veraison/go-cose"
)

// Signer wraps encoded events in ES256 COSE_Sign1 messages.
type Signer struct {
	signer cose.Signer
	keyID  []byte
}

// NewSigner returns a signer using key (P-256). keyID is carried in the
// unprotected kid header so verifiers can select the right public key.
func NewSigner(key *ecdsa.PrivateKey, keyID string) (*Signer, error) {
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create cose signer: %w", err)
	}
	return &Signer{signer: signer, keyID: []byte(keyID)}, nil
}

// Sign returns the tagged COSE_Sign1 encoding of evt.
func (s *Signer) Sign(evt Event) ([]byte, error) {
	payload, err := Encode(evt)
	if err != nil {
		return nil, err
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Headers.Unprotected[cose.HeaderLabelKeyID] = s.keyID
	msg.Payload = payload
	if err := msg.Sign(rand.Reader, nil, s.signer); err != nil {
		return nil, fmt.Errorf("sign event %d: %w", evt.Seq, err)
	}

	signed, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("marshal COSE_Sign1: %w", err)
	}
	return signed, nil
}

// VerifySigned checks a COSE_Sign1 envelope produced by Signer.Sign against
// pub and returns the event it carries.
func VerifySigned(pub *ecdsa.PublicKey, signed []byte) (Event, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(signed); err != nil {
		return Event{}, fmt.Errorf("parse COSE_Sign1: %w", err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return Event{}, fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return Event{}, fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return Decode(msg.Payload)
}

// SignedLog is a Sink that signs every event and appends the envelope to an
// in-memory log and, when configured, to w as one base64 line per event.
type SignedLog struct {
	mu        sync.Mutex
	signer    *Signer
	w         io.Writer
	envelopes [][]byte
}

// NewSignedLog returns a signed sink. w may be nil.
func NewSignedLog(signer *Signer, w io.Writer) *SignedLog {
	return &SignedLog{signer: signer, w: w}
}

func (l *SignedLog) Publish(_ context.Context, evt Event) error {
	signed, err := l.signer.Sign(evt)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.envelopes = append(l.envelopes, signed)
	if l.w != nil {
		line := base64.StdEncoding.EncodeToString(signed) + "\n"
		if _, err := io.WriteString(l.w, line); err != nil {
			return fmt.Errorf("write signed event %d: %w", evt.Seq, err)
		}
	}
	return nil
}

// Envelopes returns a copy of the signed envelopes in publication order.
func (l *SignedLog) Envelopes() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.envelopes))
	copy(out, l.envelopes)
	return out
}
