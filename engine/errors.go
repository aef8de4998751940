package engine

import "errors"

var (
	ErrNotConnected     = errors.New("session not connected")
	ErrNoMap            = errors.New("no identifier map assigned")
	ErrTransferInFlight = errors.New("transfer already in flight")
	ErrInvalidInput     = errors.New("invalid input")
)
