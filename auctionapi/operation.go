package auctionapi

import (
	"encoding/base64"
	"fmt"
	"math"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/escrowauction/core"
)

// Operation is the CBOR payload of a signed operation request. Caller must
// equal the identity of the key that signed it, and Nonce may be used once.
type Operation struct {
	Op        core.Operation `cbor:"op"`
	AuctionID core.AuctionID `cbor:"auction_id"`
	Caller    core.Identity  `cbor:"caller"`
	Nonce     string         `cbor:"nonce"`

	// create
	Asset           core.AssetID `cbor:"asset,omitempty"`
	StartingBid     uint64       `cbor:"starting_bid,omitempty"`
	MinBidIncrement uint64       `cbor:"min_bid_increment,omitempty"`
	DurationSeconds int64        `cbor:"duration_seconds,omitempty"`

	// place_bid
	PreviousBidder core.Identity `cbor:"previous_bidder,omitempty"`
	Amount         uint64        `cbor:"amount,omitempty"`

	// update_settings
	NewDurationSeconds *int64  `cbor:"new_duration_seconds,omitempty"`
	NewMinBidIncrement *uint64 `cbor:"new_min_bid_increment,omitempty"`
}

// MaxDurationSeconds is the longest duration a time.Duration can carry.
const MaxDurationSeconds = math.MaxInt64 / int64(time.Second)

func secondsToDuration(secs int64) (time.Duration, error) {
	if secs <= 0 || secs > MaxDurationSeconds {
		return 0, fmt.Errorf("duration of %d seconds: %w", secs, core.ErrInvalidDuration)
	}
	return time.Duration(secs) * time.Second, nil
}

// Duration returns the create duration.
func (o *Operation) Duration() (time.Duration, error) {
	return secondsToDuration(o.DurationSeconds)
}

// SettingsUpdate returns the update_settings arguments.
func (o *Operation) SettingsUpdate() (core.SettingsUpdate, error) {
	var u core.SettingsUpdate
	if o.NewDurationSeconds != nil {
		d, err := secondsToDuration(*o.NewDurationSeconds)
		if err != nil {
			return core.SettingsUpdate{}, err
		}
		u.Duration = &d
	}
	if o.NewMinBidIncrement != nil {
		inc := *o.NewMinBidIncrement
		u.MinBidIncrement = &inc
	}
	return u, nil
}

var opEncMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("auctionapi: cbor enc mode: %v", err))
	}
	return mode
}()

// EncodeOperation returns the canonical CBOR encoding of op.
func EncodeOperation(op Operation) ([]byte, error) {
	if op.Op == "" {
		return nil, fmt.Errorf("operation name is required")
	}
	data, err := opEncMode.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encode operation: %w", err)
	}
	return data, nil
}

// DecodeOperation parses an operation payload.
func DecodeOperation(data []byte) (Operation, error) {
	var op Operation
	if err := cbor.Unmarshal(data, &op); err != nil {
		return Operation{}, fmt.Errorf("decode operation: %w", err)
	}
	if op.Op == "" {
		return Operation{}, fmt.Errorf("decode operation: missing op")
	}
	return op, nil
}

// SignedOperation is a raw COSE_Sign1 message whose payload is an encoded Operation.
type SignedOperation []byte

// EncodedOperation is the base64 form of a SignedOperation.
type EncodedOperation string

// EncodeBase64 returns the standard base64 encoding of the message.
func (s SignedOperation) EncodeBase64() EncodedOperation {
	return EncodedOperation(base64.StdEncoding.EncodeToString(s))
}

// Decode returns the raw COSE_Sign1 bytes.
func (e EncodedOperation) Decode() (SignedOperation, error) {
	raw, err := base64.StdEncoding.DecodeString(string(e))
	if err != nil {
		return nil, fmt.Errorf("decode signed operation: %w", err)
	}
	return SignedOperation(raw), nil
}

func (e EncodedOperation) String() string { return string(e) }

// ExtractPayload returns the payload of a COSE_Sign1 message without
// verifying it. COSE_Sign1 is the array [protected, unprotected, payload, signature],
// optionally wrapped in tag 18.
func ExtractPayload(signed SignedOperation) ([]byte, error) {
	const sign1Tag = 0xd2 // tag 18, one byte head
	data := []byte(signed)
	if len(data) > 0 && data[0] == sign1Tag {
		data = data[1:]
	}
	var arr []cbor.RawMessage
	if err := cbor.Unmarshal(data, &arr); err != nil {
		return nil, fmt.Errorf("parse COSE array: %w", err)
	}

	if len(arr) != 4 {
		return nil, fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(arr))
	}
	var payload []byte
	if err := cbor.Unmarshal(arr[2], &payload); err != nil {
		return nil, fmt.Errorf("invalid payload in COSE structure: %w", err)
	}
	return payload, nil
}
