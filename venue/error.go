package venue

import "errors"

var (
	ErrStaleHandle    = errors.New("venue: resting handle is no longer in the book")
	ErrInvalidQty     = errors.New("venue: quantity must be positive")
	ErrInvalidPrice   = errors.New("venue: price must be positive")
	ErrDuplicateOrder = errors.New("venue: order already resting")
	ErrUnknownMarket  = errors.New("venue: unknown instrument")
	ErrTimeout        = errors.New("venue: timeout")
	ErrShutdown       = errors.New("venue: shutting down")
)
