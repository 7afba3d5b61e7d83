package services

import "errors"

// Sentinel errors. Callers distinguish failure kinds with errors.Is.
var (
	ErrInsufficientFunds = errors.New("insufficient credits")
	ErrInvalidState      = errors.New("invalid job state")
	ErrNotFound          = errors.New("not found")
	ErrQueueUnavailable  = errors.New("task queue unavailable")
)
