package source

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/a3tai/papyrus-engine/internal/codec"
)

// Class is the interpretation chosen for a bare string.
type Class int

const (
	ClassLiteral Class = iota
	ClassDataURI
	ClassURI
	ClassBase64
)

func (c Class) String() string {
	switch c {
	case ClassDataURI:
		return "data-uri"
	case ClassURI:
		return "uri"
	case ClassBase64:
		return "base64"
	default:
		return "literal"
	}
}

// minBase64Len is the shortest string the base64 heuristic will accept.
const minBase64Len = 16

var (
	uriPrefixes = []string{"http://", "https://", "file://", "/", "./", "../"}
	schemeRe    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*://`)
)

// Classify picks exactly one interpretation for s, in order: data-URI,
// URI, base64, literal.
func Classify(s string) Class {
	if _, ok := ParseDataURI(s); ok {
		return ClassDataURI
	}
	if LooksLikeURI(s) {
		return ClassURI
	}
	if IsLikelyBase64(s) {
		return ClassBase64
	}
	return ClassLiteral
}

// LooksLikeURI reports whether s starts with a known path prefix or any
// scheme:// prefix.
func LooksLikeURI(s string) bool {
	for _, p := range uriPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return schemeRe.MatchString(s)
}

// IsLikelyBase64 applies the base64 heuristic: not a URI, no dot, no path
// separators, at least 16 characters, all inside the base64 alphabet.
func IsLikelyBase64(s string) bool {
	if len(s) < minBase64Len || LooksLikeURI(s) {
		return false
	}
	if strings.ContainsAny(s, `.\`) {
		return false
	}
	// '/' is part of the alphabet; only a leading one marks a path and
	// LooksLikeURI has already rejected that.
	return codec.InAlphabet(s)
}

// DataURI is a parsed data: URI.
type DataURI struct {
	MIME    string
	Params  []string
	Base64  bool
	Payload string
}

// ParseDataURI parses data:[<mime>][;param]*[;base64],<payload>.
func ParseDataURI(s string) (DataURI, bool) {
	if len(s) < 5 || !strings.EqualFold(s[:5], "data:") {
		return DataURI{}, false
	}
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return DataURI{}, false
	}

	header := s[5:comma]
	d := DataURI{Payload: s[comma+1:]}

	parts := strings.Split(header, ";")
	d.MIME = strings.ToLower(strings.TrimSpace(parts[0]))
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if strings.EqualFold(p, "base64") {
			d.Base64 = true
			continue
		}
		if p != "" {
			d.Params = append(d.Params, p)
		}
	}
	if d.MIME != "" && !strings.Contains(d.MIME, "/") {
		return DataURI{}, false
	}

	return d, true
}

// Bytes decodes the payload.
func (d DataURI) Bytes() ([]byte, error) {
	payload := d.Payload
	if strings.Contains(payload, "%") {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, newError("data-uri", fmt.Errorf("%w: %v", ErrMalformed, err))
		}
		payload = unescaped
	}
	if !d.Base64 {
		return []byte(payload), nil
	}
	b, err := codec.Decode(payload)
	if err != nil {
		return nil, newError("data-uri", fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	return b, nil
}

func decodeBase64(op, s string) ([]byte, error) {
	b, err := codec.Decode(s)
	if err != nil {
		return nil, newError(op, fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	return b, nil
}
