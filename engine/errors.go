package engine

import (
	"errors"
	"fmt"
	"strings"

	"chainpay/models"
)

var (
	// ErrNotFound is returned by reads and settlement for unknown request ids.
	ErrNotFound = errors.New("payment request not found")

	// ErrBusinessNotFound is returned when the owning business does not exist
	// or carries no wallet address.
	ErrBusinessNotFound = errors.New("business wallet address not found")

	// ErrInvalidTransition is returned when settlement evidence is reported
	// for a request not eligible to receive it.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict is returned by Store.Insert when the id already exists.
	// Ids are uuids, so this effectively never fires, but a collision must
	// surface rather than silently overwrite an issued request.
	ErrConflict = errors.New("payment request id already exists")
)

// FieldError identifies a single rejected input field. Index is the offending
// line item position, or -1 when the field is not item-scoped.
type FieldError struct {
	Field   string `json:"field"`
	Index   int    `json:"index"`
	Message string `json:"message"`
}

func fieldErr(field, message string) FieldError {
	return FieldError{Field: field, Index: -1, Message: message}
}

func itemErr(index int, field, message string) FieldError {
	return FieldError{Field: field, Index: index, Message: message}
}

// ValidationError reports everything wrong with a creation or settlement
// payload at once, so the caller can correct the input in a single pass.
// It is always returned before any persistence attempt.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Index >= 0 {
			parts = append(parts, fmt.Sprintf("items[%d].%s: %s", f.Index, f.Field, f.Message))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// PersistenceError wraps a store or collaborator failure. Callers may retry
// the whole operation after checking the request was not already persisted.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// errUpdateNotApplied marks a settlement update that the store silently
// dropped, detected by the post-update re-read.
var errUpdateNotApplied = errors.New("status update was not applied")

func fmtInvalidTransition(id string, current, reported models.RequestStatus) error {
	return fmt.Errorf("%w: request %s is %s, reported %s", ErrInvalidTransition, id, current, reported)
}
