package core

import (
	"crypto/sha256"
)

// Custody seeds namespace the accounts derived for an auction.
const (
	VaultSeed  = "auction"
	EscrowSeed = "escrow"
)

// DeriveCustody computes the custody account for an auction under a seed.
// This is used by the engine (to move assets and funds) and by observers
// (to locate an auction's holdings) and must stay stable across releases.
//
// Formula: SHA256(seed + "|" + auction_id_bytes)
func DeriveCustody(seed string, auctionID AuctionID) Identity {
	h := sha256.New()
	h.Write([]byte(seed))
	h.Write([]byte{'|'})
	h.Write(auctionID[:])

	var id Identity
	copy(id[:], h.Sum(nil))
	return id
}

// VaultAccount holds the auctioned asset while the auction is Active.
func VaultAccount(auctionID AuctionID) Identity {
	return DeriveCustody(VaultSeed, auctionID)
}

// EscrowAccount holds the current highest bid while the auction is Active.
func EscrowAccount(auctionID AuctionID) Identity {
	return DeriveCustody(EscrowSeed, auctionID)
}
