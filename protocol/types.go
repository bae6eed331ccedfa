package protocol

import (
	"errors"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of price micros in one currency unit.
const PriceScale = 1_000_000

var (
	ErrInvalidPrice = errors.New("protocol: invalid price")
)

// Price is an integer price in micros (1e-6 currency unit).
type Price int64

// Decimal returns the price in currency units.
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -6)
}

func (p Price) String() string {
	return p.Decimal().String()
}

// PriceFromDecimal converts a currency amount to micros.
// Amounts with more than six fractional digits are rejected.
func PriceFromDecimal(d decimal.Decimal) (Price, error) {
	scaled := d.Shift(6)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrInvalidPrice
	}
	return Price(scaled.IntPart()), nil
}

// ParsePrice parses decimal text such as "100.01" into micros.
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Join(ErrInvalidPrice, err)
	}
	return PriceFromDecimal(d)
}

// MustPrice is ParsePrice for constants and tests.
func MustPrice(s string) Price {
	p, err := ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Qty is an integer quantity in lots.
type Qty int64

// Side represents the order side (Buy/Sell).
type Side int8

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

// Opposite returns the contra side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	}
	return "unknown"
}

// OrderType represents the type of order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// TimeInForce controls what happens to quantity that does not execute immediately.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "DAY"
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC" // Immediate Or Cancel
	TimeInForceFOK TimeInForce = "FOK" // Fill Or Kill
	TimeInForceGTD TimeInForce = "GTD" // expiry accepted, handled as DAY
)

// Rests reports whether unfilled quantity may stay on the book.
func (tif TimeInForce) Rests() bool {
	switch tif {
	case TimeInForceDay, TimeInForceGTC, TimeInForceGTD:
		return true
	}
	return false
}

// Valid reports whether tif is a known value.
func (tif TimeInForce) Valid() bool {
	switch tif {
	case TimeInForceDay, TimeInForceGTC, TimeInForceIOC, TimeInForceFOK, TimeInForceGTD:
		return true
	}
	return false
}

// ExecKind identifies what an execution report announces.
type ExecKind string

const (
	ExecPendingNew     ExecKind = "PENDING_NEW"
	ExecNew            ExecKind = "NEW"
	ExecPartialFill    ExecKind = "PARTIAL_FILL"
	ExecFill           ExecKind = "FILL"
	ExecPendingCancel  ExecKind = "PENDING_CANCEL"
	ExecCanceled       ExecKind = "CANCELED"
	ExecPendingReplace ExecKind = "PENDING_REPLACE"
	ExecReplaced       ExecKind = "REPLACED"
	ExecRejected       ExecKind = "REJECTED"
	ExecCancelReject   ExecKind = "CANCEL_REJECT"
)

// OrdStatus is the client-visible order status.
type OrdStatus string

const (
	StatusPendingNew      OrdStatus = "PENDING_NEW"
	StatusNew             OrdStatus = "NEW"
	StatusWorking         OrdStatus = "WORKING"
	StatusPartiallyFilled OrdStatus = "PARTIALLY_FILLED"
	StatusFilled          OrdStatus = "FILLED"
	StatusCanceled        OrdStatus = "CANCELED"
	StatusRejected        OrdStatus = "REJECTED"
	StatusPendingCancel   OrdStatus = "PENDING_CANCEL"
	StatusPendingReplace  OrdStatus = "PENDING_REPLACE"
)

// Terminal reports whether no further transitions are possible.
func (s OrdStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected:
		return true
	}
	return false
}

// RejectReason explains a REJECT report.
type RejectReason string

const (
	RejectReasonNone              RejectReason = ""
	RejectReasonInvalidInstrument RejectReason = "INVALID_INSTRUMENT"
	RejectReasonInvalidPrice      RejectReason = "INVALID_PRICE"
	RejectReasonInvalidQty        RejectReason = "INVALID_QTY"
	RejectReasonDuplicateOrder    RejectReason = "DUPLICATE_ORDER"
	RejectReasonRiskCheck         RejectReason = "RISK_CHECK"
	RejectReasonUnsupportedType   RejectReason = "UNSUPPORTED_TYPE"
	RejectReasonThrottled         RejectReason = "THROTTLED"
	RejectReasonUnknownVenue      RejectReason = "UNKNOWN_VENUE"
	RejectReasonMalformedEvent    RejectReason = "MALFORMED_EVENT"
)

// CancelRejectReason explains a CANCEL_REJECT report.
type CancelRejectReason string

const (
	CancelRejectUnknownOrder   CancelRejectReason = "UNKNOWN_ORDER"
	CancelRejectAlreadyFilled  CancelRejectReason = "ALREADY_FILLED"
	CancelRejectTooLate        CancelRejectReason = "TOO_LATE"
	CancelRejectVenueRejected  CancelRejectReason = "VENUE_REJECTED"
	CancelRejectInvalidRequest CancelRejectReason = "INVALID_REQUEST"
)

// CancelReason explains why quantity was canceled.
type CancelReason string

const (
	CancelReasonRequested CancelReason = "REQUESTED"
	CancelReasonUnfilled  CancelReason = "UNFILLED"
	CancelReasonExpired   CancelReason = "EXPIRED"
)
