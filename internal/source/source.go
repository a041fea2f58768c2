// Package source models the ways a document can be handed to an engine and
// resolves them into the concrete form each backend consumes.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Kind discriminates the Source union.
type Kind int

const (
	KindBytes Kind = iota + 1
	KindURI
	KindData
	KindFile
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindURI:
		return "uri"
	case KindData:
		return "data"
	case KindFile:
		return "file"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// FileLike is anything that can produce its full contents on demand.
type FileLike interface {
	Name() string
	ReadAll(ctx context.Context) ([]byte, error)
}

// Source is a document source. Exactly one payload field is meaningful,
// selected by Kind.
type Source struct {
	Kind  Kind
	Bytes []byte
	URI   string
	File  FileLike
	Str   string
}

// FromBytes wraps a raw byte buffer.
func FromBytes(b []byte) Source { return Source{Kind: KindBytes, Bytes: b} }

// FromURI wraps an explicit {uri} object.
func FromURI(uri string) Source { return Source{Kind: KindURI, URI: uri} }

// FromData wraps an explicit {data} object.
func FromData(b []byte) Source { return Source{Kind: KindData, Bytes: b} }

// FromFile wraps a file-like value.
func FromFile(f FileLike) Source { return Source{Kind: KindFile, File: f} }

// FromString wraps a bare string whose meaning is decided by Classify.
func FromString(s string) Source { return Source{Kind: KindString, Str: s} }

// Hint returns the name-like part of the source used for extension based
// type inference, or "" when the source carries none.
func (s Source) Hint() string {
	switch s.Kind {
	case KindURI:
		return s.URI
	case KindFile:
		if s.File != nil {
			return s.File.Name()
		}
	case KindString:
		return s.Str
	}
	return ""
}

// Validate reports whether the payload required by Kind is present.
func (s Source) Validate() error {
	switch s.Kind {
	case KindBytes, KindData, KindString:
		return nil
	case KindURI:
		if s.URI == "" {
			return newError("validate", fmt.Errorf("%w: empty uri", ErrMalformed))
		}
		return nil
	case KindFile:
		if s.File == nil {
			return newError("validate", fmt.Errorf("%w: nil file", ErrMalformed))
		}
		return nil
	default:
		return newError("validate", fmt.Errorf("%w: unknown source kind %d", ErrMalformed, int(s.Kind)))
	}
}

func (s Source) String() string {
	switch s.Kind {
	case KindBytes, KindData:
		return fmt.Sprintf("%s(%d bytes)", s.Kind, len(s.Bytes))
	case KindURI:
		return fmt.Sprintf("uri(%s)", s.URI)
	case KindFile:
		return fmt.Sprintf("file(%s)", s.Hint())
	case KindString:
		if len(s.Str) > 32 {
			return fmt.Sprintf("string(%s...)", s.Str[:32])
		}
		return fmt.Sprintf("string(%s)", s.Str)
	default:
		return "unknown"
	}
}

// LocalFile is a FileLike backed by a path on disk.
type LocalFile struct {
	Path string
}

func (f LocalFile) Name() string { return filepath.Base(f.Path) }

func (f LocalFile) ReadAll(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(f.Path)
}
