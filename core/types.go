package core

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// IdentitySize is the width of an account or asset identity in bytes.
const IdentitySize = 32

// Identity names an account on the host ledger: a creator, a bidder, the
// platform fee account, or a custody account derived for an auction.
// The zero value means "no identity".
type Identity [IdentitySize]byte

// ParseIdentity decodes the 64-character hex form produced by Identity.String.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("decode identity: %w", err)
	}
	if len(raw) != IdentitySize {
		return id, fmt.Errorf("invalid identity length: expected %d bytes, got %d", IdentitySize, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func (id Identity) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether id is the "no identity" value.
func (id Identity) IsZero() bool { return id == Identity{} }

func (id Identity) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *Identity) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = Identity{}
		return nil
	}
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// AssetID names the unique, non-fungible asset being auctioned.
type AssetID [IdentitySize]byte

// ParseAssetID decodes the hex form produced by AssetID.String.
func ParseAssetID(s string) (AssetID, error) {
	id, err := ParseIdentity(s)
	if err != nil {
		return AssetID{}, fmt.Errorf("parse asset id: %w", err)
	}
	return AssetID(id), nil
}

func (a AssetID) String() string { return hex.EncodeToString(a[:]) }

func (a AssetID) IsZero() bool { return a == AssetID{} }

func (a AssetID) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *AssetID) UnmarshalText(text []byte) error {
	var id Identity
	if err := id.UnmarshalText(text); err != nil {
		return err
	}
	*a = AssetID(id)
	return nil
}

// AuctionID is the globally unique key of an auction record.
type AuctionID = uuid.UUID

// Status is the lifecycle state of an auction. Completed and Cancelled are terminal.
type Status uint8

const (
	StatusActive    Status = 1
	StatusCompleted Status = 2
	StatusCancelled Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the three known states.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusCompleted || s == StatusCancelled
}

// Terminal reports whether no further operation may mutate a record in state s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "active":
		*s = StatusActive
	case "completed":
		*s = StatusCompleted
	case "cancelled":
		*s = StatusCancelled
	default:
		return fmt.Errorf("unknown status %q", text)
	}
	return nil
}

// Auction is the persistent record for one auctioned asset.
// Times are unix seconds as reported by the host clock.
type Auction struct {
	ID              AuctionID `json:"id"`
	Creator         Identity  `json:"creator"`
	Asset           AssetID   `json:"asset"`
	StartingBid     uint64    `json:"starting_bid"`
	MinBidIncrement uint64    `json:"min_bid_increment"`
	CreatedAt       int64     `json:"created_at"`
	EndTime         int64     `json:"end_time"`
	HighestBid      uint64    `json:"highest_bid"`
	HighestBidder   Identity  `json:"highest_bidder"`
	Status          Status    `json:"status"`
}

// HasBids reports whether a bid has been accepted.
func (a *Auction) HasBids() bool { return a.HighestBid > 0 }

// Validate checks the structural invariants every stored record must satisfy.
func (a *Auction) Validate() error {
	if a.ID == uuid.Nil {
		return fmt.Errorf("auction id is required")
	}
	if a.Creator.IsZero() {
		return fmt.Errorf("auction %s: creator is required", a.ID)
	}
	if a.StartingBid == 0 {
		return fmt.Errorf("auction %s: %w", a.ID, ErrInvalidStartingBid)
	}
	if a.MinBidIncrement == 0 {
		return fmt.Errorf("auction %s: %w", a.ID, ErrInvalidBidIncrement)
	}
	if a.EndTime <= a.CreatedAt {
		return fmt.Errorf("auction %s: end time %d not after creation %d: %w", a.ID, a.EndTime, a.CreatedAt, ErrInvalidDuration)
	}
	if a.HighestBid != 0 && a.HighestBid < a.StartingBid {
		return fmt.Errorf("auction %s: highest bid %d below starting bid %d", a.ID, a.HighestBid, a.StartingBid)
	}
	if a.HasBids() == a.HighestBidder.IsZero() {
		return fmt.Errorf("auction %s: highest bidder must be set exactly when a bid exists", a.ID)
	}
	if !a.Status.Valid() {
		return fmt.Errorf("auction %s: invalid status %d", a.ID, uint8(a.Status))
	}
	return nil
}
