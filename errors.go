package norm

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	sqlite "modernc.org/sqlite"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested model does not exist.
	ErrNotFound = errors.New("norm: model not found")

	// ErrTxStarted is returned when attempting to start a new transaction
	// within an existing transaction.
	ErrTxStarted = errors.New("norm: cannot start a transaction within a transaction")
)

// NotFoundError represents an error when a model is not found.
type NotFoundError struct {
	label string
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("norm: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the model label.
func (e *NotFoundError) Label() string {
	return e.label
}

// NewNotFoundError returns a new NotFoundError for the given model.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// ValidationError is returned by a model's Validate hook, or when a
// declaration is internally inconsistent.
type ValidationError struct {
	Name string // field or model name
	err  error
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("norm: validating %q: %v", e.Name, e.err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error { return e.err }

// NewValidationError returns a new ValidationError.
func NewValidationError(name string, err error) *ValidationError {
	return &ValidationError{Name: name, err: err}
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}

// ConstraintError wraps a database constraint violation (unique key,
// foreign key, check) in a driver-independent type.
type ConstraintError struct {
	msg string
	err error
}

// Error returns the error string.
func (e *ConstraintError) Error() string {
	return "norm: constraint violation: " + e.msg
}

// Unwrap returns the driver error.
func (e *ConstraintError) Unwrap() error { return e.err }

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConstraintError
	return errors.As(err, &e)
}

// SQLite extended result codes for constraint violations.
const (
	sqliteConstraint           = 19
	sqliteConstraintCheck      = 275
	sqliteConstraintForeignKey = 787
	sqliteConstraintNotNull    = 1299
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// translateError folds driver-specific constraint violations into
// ConstraintError and passes every other error through unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var merr *mysql.MySQLError
	if errors.As(err, &merr) {
		// 1062 duplicate entry, 1452 foreign key, 1048 null violation.
		switch merr.Number {
		case 1062, 1452, 1048:
			return &ConstraintError{msg: merr.Message, err: err}
		}
		return err
	}
	var perr *pq.Error
	if errors.As(err, &perr) {
		// Class 23 — integrity constraint violation.
		if perr.Code.Class() == "23" {
			return &ConstraintError{msg: perr.Message, err: err}
		}
		return err
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqliteConstraint, sqliteConstraintCheck, sqliteConstraintForeignKey,
			sqliteConstraintNotNull, sqliteConstraintPrimaryKey, sqliteConstraintUnique:
			return &ConstraintError{msg: serr.Error(), err: err}
		}
	}
	return err
}

// rollback rolls the transaction back and wraps the original error
// with any rollback failure.
func rollback(tx interface{ Rollback() error }, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		return fmt.Errorf("%w: rolling back: %v", err, rerr)
	}
	return err
}
