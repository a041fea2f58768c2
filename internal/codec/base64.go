// Package codec implements the standard RFC 4648 base64 alphabet with
// explicit lookup tables. The same tables are used on both ends of the
// webview wire so that encoding never depends on a host-provided codec.
package codec

import (
	"fmt"
	"strings"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

const (
	padChar = '='
	invalid = 0xFF
)

var (
	encodeTable [64]byte
	decodeTable [256]byte
)

func init() {
	for i := range decodeTable {
		decodeTable[i] = invalid
	}
	for i := 0; i < len(alphabet); i++ {
		encodeTable[i] = alphabet[i]
		decodeTable[alphabet[i]] = byte(i)
	}
}

// CorruptInputError reports the byte offset of the first bad character.
type CorruptInputError struct {
	Offset int
	Reason string
}

func (e *CorruptInputError) Error() string {
	return fmt.Sprintf("illegal base64 data at input byte %d: %s", e.Offset, e.Reason)
}

// EncodedLen returns the padded length of n encoded bytes.
func EncodedLen(n int) int {
	return (n + 2) / 3 * 4
}

// Encode returns the padded base64 form of src.
func Encode(src []byte) string {
	if len(src) == 0 {
		return ""
	}

	dst := make([]byte, EncodedLen(len(src)))
	di, si := 0, 0
	n := (len(src) / 3) * 3
	for si < n {
		v := uint(src[si])<<16 | uint(src[si+1])<<8 | uint(src[si+2])
		dst[di+0] = encodeTable[v>>18&0x3F]
		dst[di+1] = encodeTable[v>>12&0x3F]
		dst[di+2] = encodeTable[v>>6&0x3F]
		dst[di+3] = encodeTable[v&0x3F]
		si += 3
		di += 4
	}

	switch len(src) - si {
	case 1:
		v := uint(src[si]) << 16
		dst[di+0] = encodeTable[v>>18&0x3F]
		dst[di+1] = encodeTable[v>>12&0x3F]
		dst[di+2] = padChar
		dst[di+3] = padChar
	case 2:
		v := uint(src[si])<<16 | uint(src[si+1])<<8
		dst[di+0] = encodeTable[v>>18&0x3F]
		dst[di+1] = encodeTable[v>>12&0x3F]
		dst[di+2] = encodeTable[v>>6&0x3F]
		dst[di+3] = padChar
	}

	return string(dst)
}

// EncodeString encodes the UTF-8 bytes of s.
func EncodeString(s string) string {
	return Encode([]byte(s))
}

// Decode parses base64 text. ASCII whitespace is skipped and missing
// trailing padding is accepted; anything outside the alphabet, or padding
// anywhere but the end of the final quantum, is a *CorruptInputError.
func Decode(s string) ([]byte, error) {
	out := make([]byte, 0, len(s)*3/4)

	var (
		quantum [4]byte
		qn      int
		pads    int
	)

	for i := 0; i < len(s); i++ {
		c := s[i]
		if isSpace(c) {
			continue
		}
		if c == padChar {
			if qn < 2 {
				return nil, &CorruptInputError{Offset: i, Reason: "unexpected padding"}
			}
			pads++
			if qn+pads > 4 {
				return nil, &CorruptInputError{Offset: i, Reason: "too much padding"}
			}
			continue
		}
		if pads > 0 {
			return nil, &CorruptInputError{Offset: i, Reason: "data after padding"}
		}
		v := decodeTable[c]
		if v == invalid {
			return nil, &CorruptInputError{Offset: i, Reason: fmt.Sprintf("character %q outside alphabet", c)}
		}
		quantum[qn] = v
		qn++
		if qn == 4 {
			out = append(out,
				quantum[0]<<2|quantum[1]>>4,
				quantum[1]<<4|quantum[2]>>2,
				quantum[2]<<6|quantum[3],
			)
			qn = 0
		}
	}

	if pads > 0 && qn+pads != 4 {
		return nil, &CorruptInputError{Offset: len(s), Reason: "incomplete padding"}
	}

	switch qn {
	case 0:
	case 1:
		return nil, &CorruptInputError{Offset: len(s), Reason: "truncated quantum"}
	case 2:
		out = append(out, quantum[0]<<2|quantum[1]>>4)
	case 3:
		out = append(out,
			quantum[0]<<2|quantum[1]>>4,
			quantum[1]<<4|quantum[2]>>2,
		)
	}

	return out, nil
}

// DecodeString decodes s and returns the result as a string.
func DecodeString(s string) (string, error) {
	b, err := Decode(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// InAlphabet reports whether every byte of s belongs to the alphabet or is
// padding.
func InAlphabet(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		if r == padChar {
			return false
		}
		return r > 0x7F || decodeTable[byte(r)] == invalid
	}) < 0
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
