// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrRuleNotFound         = errors.New("rule not found")
	ErrInvalidRule          = errors.New("invalid rule")
	ErrPersistence          = errors.New("persistence failed")
	ErrChannelDisabled      = errors.New("channel disabled")
	ErrChannelNotConfigured = errors.New("channel not configured")
	ErrRateLimited          = errors.New("rate limited")
	ErrQueueFull            = errors.New("dispatch queue full")
	ErrInvalidSnapshot      = errors.New("invalid snapshot")
	ErrCircuitOpen          = errors.New("circuit breaker is open")
	ErrConfigInvalid        = errors.New("invalid configuration")
	ErrDataNotFound         = errors.New("data not found")
	ErrTimeout              = errors.New("operation timed out")
)

// RuleError represents an error related to a rule operation.
type RuleError struct {
	RuleID    string
	Operation string
	Err       error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule error [%s] %s: %v", e.RuleID, e.Operation, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// NewRuleError creates a new RuleError.
func NewRuleError(ruleID, operation string, err error) *RuleError {
	return &RuleError{
		RuleID:    ruleID,
		Operation: operation,
		Err:       err,
	}
}

// ChannelError represents a failed notification send.
type ChannelError struct {
	Channel string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel error [%s]: %v", e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// NewChannelError creates a new ChannelError.
func NewChannelError(channel string, err error) *ChannelError {
	return &ChannelError{
		Channel: channel,
		Err:     err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Unwrap lets callers match validation failures with ErrInvalidRule.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidRule
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// SnapshotError represents a rejected market snapshot.
type SnapshotError struct {
	InstrumentID string
	Message      string
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot error [%s]: %s", e.InstrumentID, e.Message)
}

func (e *SnapshotError) Unwrap() error {
	return ErrInvalidSnapshot
}

// NewSnapshotError creates a new SnapshotError.
func NewSnapshotError(instrumentID, message string) *SnapshotError {
	return &SnapshotError{
		InstrumentID: instrumentID,
		Message:      message,
	}
}

// New returns an error with the given text.
func New(text string) error {
	return errors.New(text)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
