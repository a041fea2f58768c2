package source

import (
	"context"
	"fmt"

	"github.com/a3tai/papyrus-engine/internal/codec"
)

// NativeSource is the shape the host module accepts: exactly one of URI or
// Data is set.
type NativeSource struct {
	URI  string `json:"uri,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// Wire source kinds understood by the webview runtime.
const (
	WireURI    = "uri"
	WireBase64 = "base64"
	WireText   = "text"
)

// WireSource is the JSON form of a source sent to the webview runtime.
type WireSource struct {
	Kind string `json:"kind"`
	URI  string `json:"uri,omitempty"`
	Data string `json:"data,omitempty"`
	Text string `json:"text,omitempty"`
}

// Normalizer resolves sources into backend-native forms.
type Normalizer struct {
	fetcher Fetcher
	maxSize int64
}

// NewNormalizer creates a Normalizer. A nil fetcher uses NewFetcher with the
// same size limit.
func NewNormalizer(fetcher Fetcher, maxSize int64) *Normalizer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if fetcher == nil {
		fetcher = NewFetcher(WithMaxSize(maxSize))
	}
	return &Normalizer{fetcher: fetcher, maxSize: maxSize}
}

// ForPDF resolves src to document bytes. A literal string is treated as a
// path.
func (n *Normalizer) ForPDF(ctx context.Context, src Source) ([]byte, error) {
	return n.bytes(ctx, src, false)
}

// ForEPUB resolves src to archive bytes. A literal string is treated as a
// path.
func (n *Normalizer) ForEPUB(ctx context.Context, src Source) ([]byte, error) {
	return n.bytes(ctx, src, false)
}

// ForText resolves src to encoded text bytes. A literal string is the text.
func (n *Normalizer) ForText(ctx context.Context, src Source) ([]byte, error) {
	return n.bytes(ctx, src, true)
}

// ForNative converts src for the host module. Bare strings become URIs
// unless they are data-URIs or base64, which are decoded.
func (n *Normalizer) ForNative(ctx context.Context, src Source) (NativeSource, error) {
	if err := src.Validate(); err != nil {
		return NativeSource{}, err
	}

	switch src.Kind {
	case KindURI:
		return NativeSource{URI: src.URI}, nil
	case KindBytes, KindData:
		return NativeSource{Data: src.Bytes}, nil
	case KindFile:
		b, err := n.readFile(ctx, src.File)
		if err != nil {
			return NativeSource{}, err
		}
		return NativeSource{Data: b}, nil
	}

	switch Classify(src.Str) {
	case ClassDataURI, ClassBase64:
		b, err := n.decodeString(src.Str)
		if err != nil {
			return NativeSource{}, err
		}
		return NativeSource{Data: b}, nil
	default:
		return NativeSource{URI: src.Str}, nil
	}
}

// ForWire converts src for the webview runtime. URIs are passed through for
// the runtime to fetch; byte payloads travel as base64. literalText selects
// whether an unclassified string is document text or a path.
func (n *Normalizer) ForWire(ctx context.Context, src Source, literalText bool) (WireSource, error) {
	if err := src.Validate(); err != nil {
		return WireSource{}, err
	}

	switch src.Kind {
	case KindURI:
		return WireSource{Kind: WireURI, URI: src.URI}, nil
	case KindBytes, KindData:
		return WireSource{Kind: WireBase64, Data: codec.Encode(src.Bytes)}, nil
	case KindFile:
		b, err := n.readFile(ctx, src.File)
		if err != nil {
			return WireSource{}, err
		}
		return WireSource{Kind: WireBase64, Data: codec.Encode(b)}, nil
	}

	switch Classify(src.Str) {
	case ClassDataURI, ClassBase64:
		b, err := n.decodeString(src.Str)
		if err != nil {
			return WireSource{}, err
		}
		return WireSource{Kind: WireBase64, Data: codec.Encode(b)}, nil
	case ClassURI:
		return WireSource{Kind: WireURI, URI: src.Str}, nil
	default:
		if literalText {
			return WireSource{Kind: WireText, Text: src.Str}, nil
		}
		return WireSource{Kind: WireURI, URI: src.Str}, nil
	}
}

// FromWire resolves a wire source back into bytes on the receiving side.
func (n *Normalizer) FromWire(ctx context.Context, w WireSource) ([]byte, error) {
	switch w.Kind {
	case WireURI:
		return n.fetch(ctx, w.URI)
	case WireBase64:
		return n.checkSize(decodeBase64("wire", w.Data))
	case WireText:
		return n.checkSize([]byte(w.Text), nil)
	default:
		return nil, newError("wire", fmt.Errorf("%w: unknown wire source kind %q", ErrMalformed, w.Kind))
	}
}

func (n *Normalizer) bytes(ctx context.Context, src Source, literalText bool) ([]byte, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}

	switch src.Kind {
	case KindBytes, KindData:
		return n.checkSize(src.Bytes, nil)
	case KindURI:
		return n.fetch(ctx, src.URI)
	case KindFile:
		return n.readFile(ctx, src.File)
	}

	switch Classify(src.Str) {
	case ClassDataURI, ClassBase64:
		return n.checkSize(n.decodeString(src.Str))
	case ClassURI:
		return n.fetch(ctx, src.Str)
	default:
		if literalText {
			return n.checkSize([]byte(src.Str), nil)
		}
		return n.fetch(ctx, src.Str)
	}
}

func (n *Normalizer) decodeString(s string) ([]byte, error) {
	if d, ok := ParseDataURI(s); ok {
		return d.Bytes()
	}
	return decodeBase64("base64", s)
}

func (n *Normalizer) fetch(ctx context.Context, uri string) ([]byte, error) {
	b, err := n.fetcher.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	return n.checkSize(b, nil)
}

func (n *Normalizer) readFile(ctx context.Context, f FileLike) ([]byte, error) {
	b, err := f.ReadAll(ctx)
	if err != nil {
		return nil, newError("read", fmt.Errorf("%w: %s: %v", ErrFetch, f.Name(), err))
	}
	return n.checkSize(b, nil)
}

func (n *Normalizer) checkSize(b []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > n.maxSize {
		return nil, newError("size", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(b), n.maxSize))
	}
	return b, nil
}
