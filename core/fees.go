package core

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Platform fee is PlatformFeeNumerator/PlatformFeeDenominator of the winning bid (2.5%).
const (
	PlatformFeeNumerator   int64 = 25
	PlatformFeeDenominator int64 = 1000
)

// Settlement is the split of a winning bid between seller and platform.
// SellerAmount + PlatformFee always equals the winning bid.
type Settlement struct {
	WinningBid   uint64 `json:"winning_bid"`
	SellerAmount uint64 `json:"seller_amount"`
	PlatformFee  uint64 `json:"platform_fee"`
}

// SplitProceeds computes floor(bid*25/1000) as the platform fee and gives the
// remainder to the seller. Decimal arithmetic keeps bid*25 from overflowing uint64.
func SplitProceeds(winningBid uint64) Settlement {
	bid := decimal.NewFromBigInt(new(big.Int).SetUint64(winningBid), 0)
	fee := bid.
		Mul(decimal.NewFromInt(PlatformFeeNumerator)).
		Div(decimal.NewFromInt(PlatformFeeDenominator)).
		Floor()

	platformFee := fee.BigInt().Uint64()
	return Settlement{
		WinningBid:   winningBid,
		SellerAmount: winningBid - platformFee,
		PlatformFee:  platformFee,
	}
}
