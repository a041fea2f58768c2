package source

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed marks sources whose encoded payload cannot be decoded.
	ErrMalformed = errors.New("malformed document source")
	// ErrFetch marks failures retrieving a URI.
	ErrFetch = errors.New("document fetch failed")
	// ErrTooLarge marks payloads above the configured size limit.
	ErrTooLarge = errors.New("document exceeds size limit")
	// ErrOutsideDirectory marks local paths outside the confining directory.
	ErrOutsideDirectory = errors.New("path is outside the document directory")
)

// Error carries the normalizer step that failed.
type Error struct {
	Op  string
	Err error
}

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("source %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err stems from an undecodable payload.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}
