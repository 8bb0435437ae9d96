package otp

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("otp expired or not found")
	ErrExpired   = errors.New("otp expired")
	ErrExhausted = errors.New("too many failed attempts")

	// ErrNoRecord is returned by a Registry when no record exists for a phone.
	ErrNoRecord = errors.New("otp record not found")
)

// ValidationError reports malformed phone or code input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// MismatchError is returned when the submitted code does not match.
type MismatchError struct {
	Remaining int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("invalid code, %d attempts remaining", e.Remaining)
}

// DeliveryError wraps a failed SMS dispatch.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("otp delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
