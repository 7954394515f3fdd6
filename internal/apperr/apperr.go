package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so the transport layer can pick a status code
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// FieldError describes one rejected input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	return fmt.Sprintf("%s: %s", f.Field, f.Message)
}

// Error is the error type returned by every service operation
type Error struct {
	Op     string
	Kind   Kind
	Err    error
	Fields []FieldError
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Fields) > 0 {
		parts := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			parts[i] = f.String()
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString("]")
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrInvalidInput is the cause attached to validation errors
var ErrInvalidInput = errors.New("invalid input")

// Validation returns a validation error listing every rejected field
func Validation(op string, fields ...FieldError) *Error {
	return &Error{Op: op, Kind: KindValidation, Err: ErrInvalidInput, Fields: fields}
}

// NotFound wraps err as a missing-entity error
func NotFound(op string, err error) *Error {
	return &Error{Op: op, Kind: KindNotFound, Err: err}
}

// Conflict wraps err as a state or inventory conflict
func Conflict(op string, err error) *Error {
	return &Error{Op: op, Kind: KindConflict, Err: err}
}

// Persistence wraps a store failure
func Persistence(op string, err error) *Error {
	return &Error{Op: op, Kind: KindPersistence, Err: err}
}

// KindOf reports the kind of the outermost *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// FieldsOf returns the field errors carried by err, if any
func FieldsOf(err error) []FieldError {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return nil
		}
		if len(e.Fields) > 0 {
			return e.Fields
		}
		err = e.Err
	}
	return nil
}

// Wrap re-labels err with op while keeping its kind. Errors that carry no
// kind are treated as persistence failures.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Op: op, Kind: e.Kind, Err: err}
	}
	return Persistence(op, err)
}

// FieldList accumulates field errors during validation
type FieldList []FieldError

func (l *FieldList) Add(field, format string, args ...any) {
	*l = append(*l, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (l FieldList) Err(op string) error {
	if len(l) == 0 {
		return nil
	}
	return Validation(op, l...)
}
