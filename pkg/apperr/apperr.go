// Package apperr defines the error taxonomy shared by every layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and reporting.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindStorage
	KindDelivery
)

// Stable error codes reported to callers.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeStorage    = "STORAGE_ERROR"
	CodeDelivery   = "DELIVERY_ERROR"
	CodeInternal   = "INTERNAL_ERROR"
)

// Code returns the stable code of the kind.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return CodeValidation
	case KindNotFound:
		return CodeNotFound
	case KindConflict:
		return CodeConflict
	case KindStorage:
		return CodeStorage
	case KindDelivery:
		return CodeDelivery
	default:
		return CodeInternal
	}
}

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage"
	case KindDelivery:
		return "delivery"
	default:
		return "unknown"
	}
}

// Error is a classified error with a caller-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the stable code of the error.
func (e *Error) Code() string { return e.Kind.Code() }

// E builds a classified error. cause may be nil.
func E(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func Validation(msg string) *Error { return E(KindValidation, msg, nil) }

func NotFound(msg string) *Error { return E(KindNotFound, msg, nil) }

func Conflict(msg string) *Error { return E(KindConflict, msg, nil) }

func Storage(msg string, cause error) *Error { return E(KindStorage, msg, cause) }

func Delivery(msg string, cause error) *Error { return E(KindDelivery, msg, cause) }

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the caller-facing message of err, or fallback when err is
// not classified.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return fallback
}
