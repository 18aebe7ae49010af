package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrWithdrawalAlreadyPending = errors.New("a withdrawal is already pending")
	ErrWithdrawalCooldown       = errors.New("withdrawal requested too soon after the previous one")
	ErrGatewayUnavailable       = errors.New("payment gateway unavailable")
	ErrPinNotSet                = errors.New("withdrawal pin is not set")
	ErrPinAlreadySet            = errors.New("withdrawal pin is already set")
	ErrInvalidOTP               = errors.New("verification code is invalid or expired")
	ErrNotFound                 = errors.New("not found")
	ErrInvalidTransition        = errors.New("invalid state transition")
)

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// PinLockedError is returned while the wallet PIN is locked out.
type PinLockedError struct {
	Remaining time.Duration
}

func (e *PinLockedError) Error() string {
	return fmt.Sprintf("pin locked, retry in %s", e.Remaining.Round(time.Second))
}

// PinInvalidError is returned for a wrong PIN.
type PinInvalidError struct {
	AttemptsRemaining int
}

func (e *PinInvalidError) Error() string {
	return fmt.Sprintf("invalid pin, %d attempts remaining", e.AttemptsRemaining)
}

// DataIntegrityError marks a condition that must be resolved by an operator.
type DataIntegrityError struct {
	Entity string
	ID     string
	Reason string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: %s %s: %s", e.Entity, e.ID, e.Reason)
}

// InvalidTransition wraps ErrInvalidTransition with the attempted edge.
func InvalidTransition(entity, from, to string) error {
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, entity, from, to)
}
