package router

import "errors"

var (
	ErrUnknownChild       = errors.New("router: unknown child")
	ErrDuplicateChild     = errors.New("router: child already exists")
	ErrVenueOrderConflict = errors.New("router: venue order id already bound to another child")
	ErrUnknownVenue       = errors.New("router: unknown venue")
)
