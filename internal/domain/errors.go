package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrValidation          = errors.New("validation error")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrGenerationFailure   = errors.New("generation failure")
	ErrPostProcess         = errors.New("post-process failure")
	ErrStorage             = errors.New("storage failure")
)

// InsufficientBalanceCode is the stable machine code surfaced to clients.
const InsufficientBalanceCode = "INSUFFICIENT_TOKENS"

// InsufficientBalanceError reports a failed ledger check. It matches
// ErrInsufficientBalance with errors.Is.
type InsufficientBalanceError struct {
	Current  int
	Required int
	Code     string
}

func NewInsufficientBalance(current, required int) *InsufficientBalanceError {
	return &InsufficientBalanceError{Current: current, Required: required, Code: InsufficientBalanceCode}
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient tokens: have %d, need %d", e.Current, e.Required)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// ValidationError describes a missing or malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid is a shorthand for building a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
