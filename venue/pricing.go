package venue

import (
	"github.com/shopspring/decimal"

	"github.com/0x5487/execution-engine/marketdata"
	"github.com/0x5487/execution-engine/protocol"
)

var hundred = decimal.NewFromInt(100)

// Crosses reports whether an order on side would trade against contra.
// A buy crosses when its limit is at or above contra, a sell when at or below.
func Crosses(side protocol.Side, isMarket bool, limit, contra protocol.Price) bool {
	if isMarket {
		return true
	}
	if side == protocol.SideBuy {
		return limit >= contra
	}
	return limit <= contra
}

// ImmediatePrice returns the price an order would execute at against the
// snapshot: a buy lifts the ask, a sell hits the bid. ok is false when the
// contra side is absent or the order does not cross.
func ImmediatePrice(side protocol.Side, isMarket bool, limit protocol.Price, snap *marketdata.Snapshot) (protocol.Price, bool) {
	contra, ok := snap.Contra(side)
	if !ok {
		return 0, false
	}
	if !Crosses(side, isMarket, limit, contra) {
		return 0, false
	}
	return contra, true
}

// Deviation returns how far price is from ref, in percent of ref. Positive
// when price is above ref.
func Deviation(price, ref protocol.Price) decimal.Decimal {
	if ref == 0 {
		return decimal.Zero
	}
	diff := price.Decimal().Sub(ref.Decimal())
	return diff.Div(ref.Decimal()).Mul(hundred)
}

// WithinBand reports whether price lies inside [ref*(1-down%), ref*(1+up%)].
func WithinBand(price, ref protocol.Price, up, down decimal.Decimal) bool {
	dev := Deviation(price, ref)
	if dev.IsPositive() {
		return dev.LessThanOrEqual(up)
	}
	return dev.Neg().LessThanOrEqual(down)
}
