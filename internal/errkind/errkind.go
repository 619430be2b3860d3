// Package errkind defines the error taxonomy that the serving path surfaces
// to callers: InvalidArgument, Unavailable, Internal, and NotFound. Every
// RPC-facing error in kvfabric is constructed through this package so that
// transport layers (gRPC status codes, HTTP status codes) can be derived
// mechanically from a single Kind rather than re-classifying error strings.
package errkind

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind classifies an error the way §7 of the design does.
type Kind int

const (
	// Unknown is the zero value, reported for errors without a Kind; AsCode
	// maps it to 2 (gRPC's codes.Unknown).
	Unknown Kind = iota
	InvalidArgument
	Unavailable
	Internal
	NotFound
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case Unavailable:
		return "Unavailable"
	case Internal:
		return "Internal"
	case NotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// kindError wraps an underlying error with a Kind. It supports errors.Is/As
// via cockroachdb/errors' wrapping (the underlying error is preserved as the
// cause).
type kindError struct {
	cause error
	kind  Kind
}

func (e *kindError) Error() string { return e.cause.Error() }
func (e *kindError) Unwrap() error { return e.cause }
func (e *kindError) Kind() Kind    { return e.kind }

// New builds an error of the given kind from a message.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, cause: errors.New(msg)}
}

// Newf builds an error of the given kind from a format string.
func Newf(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, cause: errors.Newf(format, args...)}
}

// Wrap attaches a kind to an existing error, preserving it as the cause.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, cause: errors.Wrap(err, msg)}
}

// InvalidArgumentf constructs an InvalidArgument error.
func InvalidArgumentf(format string, args ...any) error { return Newf(InvalidArgument, format, args...) }

// Unavailablef constructs an Unavailable error.
func Unavailablef(format string, args ...any) error { return Newf(Unavailable, format, args...) }

// Internalf constructs an Internal error.
func Internalf(format string, args ...any) error { return Newf(Internal, format, args...) }

// NotFoundf constructs a NotFound error.
func NotFoundf(format string, args ...any) error { return Newf(NotFound, format, args...) }

// InternalMsg constructs an Internal error carrying an exact message, used
// where the spec pins the literal text (e.g. UDF timeout messages).
func InternalMsg(msg string) error { return New(Internal, msg) }

// GetKind extracts the Kind from an error, walking wrapped causes. Errors
// that were never classified report Unknown.
func GetKind(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}

// Is reports whether err was classified with the given kind.
func Is(err error, kind Kind) bool { return GetKind(err) == kind }

// AsCode maps a Kind to a small integer status code matching the numbering
// used informally in spec §8 scenario 4 (Internal == 13, gRPC's codes.Internal).
func AsCode(kind Kind) int {
	switch kind {
	case InvalidArgument:
		return 3
	case NotFound:
		return 5
	case Unavailable:
		return 14
	case Internal:
		return 13
	default:
		return 2 // Unknown
	}
}

// Statusf is a convenience for building "<message>: <formatted detail>" errors
// that keep the outer Kind, used when annotating a lower-level failure.
func Statusf(kind Kind, base string, format string, args ...any) error {
	return Wrap(kind, fmt.Errorf(format, args...), base)
}
