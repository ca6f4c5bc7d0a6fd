package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no intent exists for a refId
	ErrNotFound = errors.New("intent not found")

	// ErrAlreadyExists is returned when creating an intent whose refId is taken
	ErrAlreadyExists = errors.New("intent already exists")
)

// ValidationError rejects malformed input, bad signatures, expired deadlines and
// disallowed assets or adapters. It is raised before any mutation.
type ValidationError struct {
	Reason string
}

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// IllegalTransitionError means the requested edge is not in the state graph
type IllegalTransitionError struct {
	Flow Flow
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition %s -> %s", e.Flow, e.From, e.To)
}

// ConflictError means another writer advanced the intent first
type ConflictError struct {
	RefID  string
	From   Status
	To     Status
	Actual Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: wanted %s -> %s, got %s", e.RefID, e.From, e.To, e.Actual)
}

// ChainSubmissionError means a leg reverted or its submission was rejected by the node
type ChainSubmissionError struct {
	ChainID int
	Leg     string
	Err     error
}

func (e *ChainSubmissionError) Error() string {
	return fmt.Sprintf("%s on chain %d failed: %v", e.Leg, e.ChainID, e.Err)
}

func (e *ChainSubmissionError) Unwrap() error {
	return e.Err
}

// TimeoutError means a bridge or receipt wait exceeded its ceiling. The intent is
// stalled, not failed.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	if e.After == 0 {
		return fmt.Sprintf("%s stalled", e.Op)
	}
	return fmt.Sprintf("%s timed out after %v", e.Op, e.After)
}

// IsValidation reports whether err is or wraps a ValidationError
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsConflict reports whether err is or wraps a ConflictError
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsTimeout reports whether err is or wraps a TimeoutError
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}
