package execution

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrTimeout       = errors.New("timeout")
	ErrShutdown      = errors.New("engine is shutting down")
	ErrNotFound      = errors.New("not found")
)
