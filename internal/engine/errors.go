package engine

import (
	"errors"
	"fmt"

	"github.com/a3tai/papyrus-engine/internal/source"
)

// ErrorKind categorizes engine failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindUnsupportedType
	KindMalformedSource
	KindFetch
	KindLoad
	KindHostUnavailable
	KindTimeout
	KindRemote
	KindDestroyed
	KindRender
	KindUnknownCommand
)

// String returns a string representation of the ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindUnsupportedType:
		return "UNSUPPORTED_TYPE"
	case KindMalformedSource:
		return "MALFORMED_SOURCE"
	case KindFetch:
		return "FETCH"
	case KindLoad:
		return "LOAD"
	case KindHostUnavailable:
		return "HOST_UNAVAILABLE"
	case KindTimeout:
		return "TIMEOUT"
	case KindRemote:
		return "REMOTE"
	case KindDestroyed:
		return "DESTROYED"
	case KindRender:
		return "RENDER"
	case KindUnknownCommand:
		return "UNKNOWN_COMMAND"
	default:
		return "UNKNOWN"
	}
}

// Error is the error type returned by every backend.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Backend string    `json:"backend"`
	Op      string    `json:"operation"`
	Err     error     `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s engine %s [%s]: %v", e.Backend, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Common error variables
var (
	ErrNotLoaded      = errors.New("no document loaded")
	ErrDestroyed      = errors.New("engine destroyed")
	ErrNotImplemented = errors.New("operation not implemented")
)

// NewError builds an *Error.
func NewError(kind ErrorKind, backend, op string, err error) *Error {
	return &Error{Kind: kind, Backend: backend, Op: op, Err: err}
}

// Errorf builds an *Error with a formatted cause.
func Errorf(kind ErrorKind, backend, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Backend: backend, Op: op, Err: fmt.Errorf(format, args...)}
}

// UnsupportedType reports a document type the backend cannot open.
func UnsupportedType(backend string, t DocumentType) *Error {
	return Errorf(KindUnsupportedType, backend, "load", "unsupported document type %q", string(t))
}

// SourceError classifies a normalizer failure.
func SourceError(backend, op string, err error) *Error {
	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr
	}

	kind := KindLoad
	switch {
	case source.IsMalformed(err):
		kind = KindMalformedSource
	case errors.Is(err, source.ErrFetch), errors.Is(err, source.ErrTooLarge):
		kind = KindFetch
	}
	return NewError(kind, backend, op, err)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
