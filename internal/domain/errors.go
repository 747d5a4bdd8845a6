package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for the request boundary.
type ErrorKind int

const (
	KindUnexpected ErrorKind = iota
	KindValidation
	KindNotFound
	KindInsufficientStock
	KindConstraintViolation
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindNotFound:
		return "NotFound"
	case KindInsufficientStock:
		return "InsufficientStock"
	case KindConstraintViolation:
		return "ConstraintViolation"
	default:
		return "Unexpected"
	}
}

// ErrLockTimeout is returned when a checkout waited too long for variant row locks.
var ErrLockTimeout = errors.New("inventory is busy, lock wait timed out")

// ValidationError is a malformed or missing request field.
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

func NewValidationError(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError references a missing variant, product, category or order.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func NewNotFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// InsufficientStockError carries the stock seen inside the transaction.
type InsufficientStockError struct {
	VariantID int64
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = fmt.Sprintf("variant %d", e.VariantID)
	}
	return fmt.Sprintf("not enough stock for %s: available %d, requested %d", name, e.Available, e.Requested)
}

// ConstraintViolationError is a refused removal of something order history
// still points at. Archive instead.
type ConstraintViolationError struct {
	Entity string
	ID     int64
	Reason string
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Entity, e.ID, e.Reason)
}

func NewConstraintViolation(entity string, id int64, reason string) error {
	return &ConstraintViolationError{Entity: entity, ID: id, Reason: reason}
}

// KindOf classifies err; anything not typed above is unexpected.
func KindOf(err error) ErrorKind {
	var (
		verr *ValidationError
		nerr *NotFoundError
		serr *InsufficientStockError
		cerr *ConstraintViolationError
	)
	switch {
	case err == nil:
		return KindUnexpected
	case errors.As(err, &verr):
		return KindValidation
	case errors.As(err, &nerr):
		return KindNotFound
	case errors.As(err, &serr):
		return KindInsufficientStock
	case errors.As(err, &cerr):
		return KindConstraintViolation
	default:
		return KindUnexpected
	}
}
