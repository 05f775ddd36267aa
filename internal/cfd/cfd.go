// Package cfd implements the fixed-point contract-for-difference math the
// executor needs to finalize a trade: required margin, realized P&L, and
// the order-matching fee taken on a match. All arithmetic uses
// shopspring/decimal rather than float64 so satoshi amounts never drift
// across repeated settle/rollover cycles.
package cfd

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lnperp/coordinator/internal/domain"
)

// CalculateMargin is the initial margin a party must post to collateralize
// a position of the given quantity at the given price and leverage:
// notional / leverage. This generalizes the teacher's basis-point margin
// formula (notional * bps / 10000) to a direct leverage divisor, which is
// what the coordinator's trade params carry (see DESIGN.md).
func CalculateMargin(price, quantity, leverage decimal.Decimal) (decimal.Decimal, error) {
	if leverage.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("cfd: leverage must be positive, got %s", leverage)
	}
	notional := price.Mul(quantity).Abs()
	return notional.Div(leverage).Round(0), nil
}

// CalculatePnL computes the signed satoshi P&L of closing a position of
// quantity q, opened at entry and closed at exit, clamped to the collateral
// actually posted by the losing side. dir is the position's own side (the
// side gaining or losing, not the opposing trade that closes it): Long
// profits when exit > entry, Short profits when exit < entry.
//
// marginLong/marginShort are the initial margins of whichever party is long
// and short respectively — the caller is responsible for mapping
// trader/coordinator margins onto long/short per the Settle dispatch rule
// (MarginsForSettle is keyed on the closing trade's direction per spec.md
// §4.3, which is the opposite of dir here).
func CalculatePnL(entry, exit, q decimal.Decimal, dir domain.Direction, marginLong, marginShort decimal.Decimal) decimal.Decimal {
	delta := exit.Sub(entry).Mul(q)
	pnl := delta
	if dir == domain.Short {
		pnl = delta.Neg()
	}
	// Clamp: a party can never lose more than the margin it posted. dir's
	// gain is the other side's loss, and dir's loss is capped by its own
	// margin.
	ownMargin, otherMargin := marginLong, marginShort
	if dir == domain.Short {
		ownMargin, otherMargin = marginShort, marginLong
	}
	if pnl.GreaterThan(otherMargin) {
		pnl = otherMargin
	}
	if pnl.LessThan(ownMargin.Neg()) {
		pnl = ownMargin.Neg()
	}
	return pnl
}

// MarginsForSettle maps a position's (trader, coordinator) margins onto the
// (long, short) pair CalculatePnL expects, per the Settle dispatch rule in
// the executor: the trader's own direction decides which side it occupies.
func MarginsForSettle(pos domain.Position, dir domain.Direction) (marginLong, marginShort decimal.Decimal) {
	if dir == domain.Long {
		return pos.TraderMargin, pos.CoordinatorMargin
	}
	return pos.CoordinatorMargin, pos.TraderMargin
}

// DefaultForwardingFeeProportionalMillionths is the coordinator's default
// routing fee rate, matching settings.Settings' default.
const DefaultForwardingFeeProportionalMillionths = 50

// OrderMatchingFeeTaker computes the fee taken from a matched trade's
// notional, expressed in proportional millionths (parts-per-million),
// mirroring the original coordinator's order_matching_fee module.
type OrderMatchingFeeTaker struct {
	ProportionalMillionths int64
}

// NewOrderMatchingFeeTaker builds a fee taker at the given rate.
func NewOrderMatchingFeeTaker(proportionalMillionths int64) OrderMatchingFeeTaker {
	return OrderMatchingFeeTaker{ProportionalMillionths: proportionalMillionths}
}

// Fee returns the fee owed on a trade of the given notional value.
func (t OrderMatchingFeeTaker) Fee(notional decimal.Decimal) decimal.Decimal {
	if t.ProportionalMillionths <= 0 {
		return decimal.Zero
	}
	rate := decimal.New(t.ProportionalMillionths, -6)
	return notional.Mul(rate).Round(0)
}
