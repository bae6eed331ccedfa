package oms

import "errors"

var (
	ErrNotFound = errors.New("oms: order not found")
	ErrTimeout  = errors.New("oms: timeout")
	ErrShutdown = errors.New("oms: pipeline is shutting down")
)
