package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrInsufficientStock is returned when an adjustment would leave a
// variant quantity below zero. The caller must correct the input;
// retrying cannot succeed.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrConcurrencyConflict signals a lost optimistic update race. Callers
// may retry once with a fresh read.
var ErrConcurrencyConflict = errors.New("concurrent update conflict")

// ValidationError reports malformed input. Never auto-retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func NewValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// InvalidTransitionError reports a disallowed status change. The
// shipment is left untouched when this is returned.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

func IsInvalidTransition(err error) bool {
	var te *InvalidTransitionError
	return errors.As(err, &te)
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
