// Package fees computes the platform commission split for an order.
// All amounts are integer minor currency units; the split is exact by
// construction: fee + payout == amount for every input.
package fees

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when an amount is negative.
var ErrInvalidAmount = errors.New("fees: amount must be a non-negative number")

var (
	rateFloor = decimal.Zero
	rateCeil  = decimal.NewFromInt(1)
)

// Split computes the platform fee and seller payout for an order amount.
// The fee is amount*rate rounded half-up to the nearest minor unit; the
// payout is the exact remainder. Rates outside [0,1] are clamped.
func Split(amount int64, rate float64) (fee, payout int64, err error) {
	if amount < 0 {
		return 0, 0, ErrInvalidAmount
	}

	r := clampRate(rate)
	fee = decimal.NewFromInt(amount).Mul(r).Round(0).IntPart()
	return fee, amount - fee, nil
}

// PlatformFee returns the commission retained by the platform.
func PlatformFee(amount int64, rate float64) (int64, error) {
	fee, _, err := Split(amount, rate)
	return fee, err
}

// SellerPayout returns the amount credited to the seller on escrow release.
func SellerPayout(amount int64, rate float64) (int64, error) {
	_, payout, err := Split(amount, rate)
	return payout, err
}

func clampRate(rate float64) decimal.Decimal {
	if math.IsNaN(rate) {
		return rateFloor
	}
	if math.IsInf(rate, 1) || rate > 1 {
		return rateCeil
	}
	if math.IsInf(rate, -1) || rate < 0 {
		return rateFloor
	}
	return decimal.NewFromFloat(rate)
}
