package types

import "errors"

// Sentinel errors shared across the core. Components wrap these with
// fmt.Errorf("...: %w", ErrX) so callers can errors.Is against them.
var (
	ErrInvalidQuantity  = errors.New("order quantity must be positive")
	ErrInvalidPrice     = errors.New("order price must be positive for non-market orders")
	ErrVersionConflict  = errors.New("portfolio version conflict")
	ErrInsufficientFunds = errors.New("insufficient available cash")
	ErrCircuitOpen      = errors.New("circuit breaker open")
)
