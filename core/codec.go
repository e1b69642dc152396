package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// RecordSize is the fixed on-ledger size of an encoded Auction, including
// reserved padding for future fields.
const RecordSize = 400

const (
	offDiscriminator = 0
	offID            = 8
	offCreator       = offID + 16
	offAsset         = offCreator + IdentitySize
	offStartingBid   = offAsset + IdentitySize
	offMinIncrement  = offStartingBid + 8
	offCreatedAt     = offMinIncrement + 8
	offEndTime       = offCreatedAt + 8
	offHighestBid    = offEndTime + 8
	offHighestBidder = offHighestBid + 8
	offStatus        = offHighestBidder + IdentitySize
	offPadding       = offStatus + 1
)

// recordDiscriminator tags the first 8 bytes of every encoded record so a
// foreign blob is never mistaken for an auction.
var recordDiscriminator = func() [8]byte {
	sum := sha256.Sum256([]byte("record:Auction"))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}()

// MarshalRecord encodes a into its fixed-width big-endian layout.
func MarshalRecord(a *Auction) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	buf := make([]byte, RecordSize)
	copy(buf[offDiscriminator:], recordDiscriminator[:])
	copy(buf[offID:], a.ID[:])
	copy(buf[offCreator:], a.Creator[:])
	copy(buf[offAsset:], a.Asset[:])
	binary.BigEndian.PutUint64(buf[offStartingBid:], a.StartingBid)
	binary.BigEndian.PutUint64(buf[offMinIncrement:], a.MinBidIncrement)
	binary.BigEndian.PutUint64(buf[offCreatedAt:], uint64(a.CreatedAt))
	binary.BigEndian.PutUint64(buf[offEndTime:], uint64(a.EndTime))
	binary.BigEndian.PutUint64(buf[offHighestBid:], a.HighestBid)
	copy(buf[offHighestBidder:], a.HighestBidder[:])
	buf[offStatus] = byte(a.Status)
	return buf, nil
}

// UnmarshalRecord decodes a record produced by MarshalRecord. Records with a
// wrong size, discriminator, or non-zero padding are rejected.
func UnmarshalRecord(data []byte) (Auction, error) {
	var a Auction
	if len(data) != RecordSize {
		return a, fmt.Errorf("invalid record length: expected %d bytes, got %d", RecordSize, len(data))
	}
	if !bytes.Equal(data[offDiscriminator:offID], recordDiscriminator[:]) {
		return a, fmt.Errorf("invalid record discriminator %x", data[offDiscriminator:offID])
	}
	for _, b := range data[offPadding:] {
		if b != 0 {
			return a, fmt.Errorf("reserved padding is not zero")
		}
	}

	copy(a.ID[:], data[offID:offCreator])
	copy(a.Creator[:], data[offCreator:offAsset])
	copy(a.Asset[:], data[offAsset:offStartingBid])
	a.StartingBid = binary.BigEndian.Uint64(data[offStartingBid:])
	a.MinBidIncrement = binary.BigEndian.Uint64(data[offMinIncrement:])
	a.CreatedAt = int64(binary.BigEndian.Uint64(data[offCreatedAt:]))
	a.EndTime = int64(binary.BigEndian.Uint64(data[offEndTime:]))
	a.HighestBid = binary.BigEndian.Uint64(data[offHighestBid:])
	copy(a.HighestBidder[:], data[offHighestBidder:offStatus])
	a.Status = Status(data[offStatus])

	if err := a.Validate(); err != nil {
		return Auction{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return a, nil
}
