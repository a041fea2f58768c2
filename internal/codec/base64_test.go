package codec

import (
	"encoding/base64"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_RFC4648Vectors(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"f", "Zg=="},
		{"fo", "Zm8="},
		{"foo", "Zm9v"},
		{"foob", "Zm9vYg=="},
		{"fooba", "Zm9vYmE="},
		{"foobar", "Zm9vYmFy"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeString(tt.in))

			got, err := DecodeString(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.in, got)
		})
	}
}

func TestRoundTrip_PaddingRemainders(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for n := 0; n < 64; n++ {
		buf := make([]byte, n)
		rng.Read(buf)

		enc := Encode(buf)
		assert.Equal(t, base64.StdEncoding.EncodeToString(buf), enc, "length %d", n)

		dec, err := Decode(enc)
		require.NoError(t, err, "length %d", n)
		assert.Equal(t, buf, dec[:len(buf)], "length %d", n)
		assert.Len(t, dec, n)
	}
}

func TestDecode_Lenient(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"missing double padding", "Zg", "f"},
		{"missing single padding", "Zm8", "fo"},
		{"embedded newlines", "Zm9v\nYmFy\r\n", "foobar"},
		{"spaces", " Zm9v YmE= ", "fooba"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeString(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"outside alphabet", "Zm9v*mFy"},
		{"url-safe alphabet", "Zm9v-_Fy"},
		{"padding too early", "Z=9v"},
		{"data after padding", "Zg==Zm8="},
		{"too much padding", "Zg==="},
		{"single dangling char", "Zm9vY"},
		{"incomplete padding", "Zg="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.in)
			require.Error(t, err)

			var corrupt *CorruptInputError
			assert.ErrorAs(t, err, &corrupt)
		})
	}
}

func TestInAlphabet(t *testing.T) {
	assert.True(t, InAlphabet("SGVsbG8gd29ybGQh+/=="))
	assert.False(t, InAlphabet("hello world"))
	assert.False(t, InAlphabet("abc.def"))
	assert.False(t, InAlphabet("héllo"))
}
