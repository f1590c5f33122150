package media

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures across the upload, conversion and delivery lifecycle
type ErrorKind string

const (
	KindInvalidFormat    ErrorKind = "invalid_format"
	KindTooLarge         ErrorKind = "too_large"
	KindWriteFailure     ErrorKind = "write_failure"
	KindNotFound         ErrorKind = "not_found"
	KindConversionFailed ErrorKind = "conversion_failed"
	KindIOFailure        ErrorKind = "io_failure"
)

var (
	// ErrInvalidFormat is returned when an upload's extension is not allow-listed
	ErrInvalidFormat = &Error{Kind: KindInvalidFormat}

	// ErrTooLarge is returned when an upload exceeds MaxUploadBytes
	ErrTooLarge = &Error{Kind: KindTooLarge}

	// ErrWriteFailure is returned when staging bytes cannot be persisted
	ErrWriteFailure = &Error{Kind: KindWriteFailure}

	// ErrNotFound is returned for an unknown identifier or artifact filename
	ErrNotFound = &Error{Kind: KindNotFound}

	// ErrConversionFailed is returned when the transcoding engine fails or times out
	ErrConversionFailed = &Error{Kind: KindConversionFailed}

	// ErrIOFailure is returned for unexpected filesystem errors
	ErrIOFailure = &Error{Kind: KindIOFailure}
)

// Error is a structured failure with a kind and a human-readable detail
type Error struct {
	Kind   ErrorKind
	Op     string
	Detail string
	Err    error
}

// NewError creates an Error of the given kind
func NewError(kind ErrorKind, op, detail string, err error) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// regardless of op and detail.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// DetailOf returns a human-readable reason suitable for end users
func DetailOf(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		if err == nil {
			return ""
		}
		return err.Error()
	}
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

// Message returns the short summary used in API error bodies
func (k ErrorKind) Message() string {
	switch k {
	case KindInvalidFormat:
		return "Only video files are allowed"
	case KindTooLarge:
		return "File too large"
	case KindWriteFailure:
		return "Failed to store upload"
	case KindNotFound:
		return "File not found"
	case KindConversionFailed:
		return "Conversion failed"
	case KindIOFailure:
		return "Storage error"
	default:
		return fmt.Sprintf("unexpected error (%s)", string(k))
	}
}
