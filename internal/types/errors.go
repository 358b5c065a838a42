package types

import (
	"errors"
	"fmt"
)

// Core failure taxonomy. Doctrine rejections are not errors; they surface as
// a Violation on the OrderResult.
var (
	ErrInsufficientFunds  = errors.New("insufficient available funds")
	ErrInsufficientMargin = errors.New("insufficient margin for novation")
	ErrOrderNotFound      = errors.New("order not found")
	ErrForbidden          = errors.New("order not owned by agent")
	ErrMarketNotActive    = errors.New("market is not active")
	ErrMarketNotFound     = errors.New("market not found")
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrWalletExists       = errors.New("wallet already exists")
	ErrAccountNotFound    = errors.New("margin account not found")
	ErrEmptyBook          = errors.New("no liquidity on opposing side")
	ErrOrderNotOpen       = errors.New("order is not open or partially filled")
)

// ValidationError reports a malformed order field (price out of (0,1),
// non-positive quantity, and similar) before the order touches any state.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
