// Package codec provides the compact string encoding used for locally
// persisted payloads, backup files and URL-embeddable tokens.
//
// The scheme is an LZW-style dictionary coder whose codes are packed into
// fixed-width units and mapped through one of several alphabets:
//
//   - native: 16-bit UTF-16 code units ([]uint16)
//   - bytes: native units as big-endian byte pairs
//   - base64: 6-bit units over A-Z a-z 0-9 + /, padded with '='
//   - URI component: 6-bit units over A-Z a-z 0-9 + - $, unpadded
//   - UTF-16 safe: 15-bit units shifted by 32, always valid UTF-8 in Go strings
//
// Every decoder returns ErrMalformed for truncated or corrupted streams and
// never panics. Empty input encodes to the empty result and the empty result
// decodes to the empty string.
package codec

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"
)

// ErrMalformed is returned when a compressed stream cannot be decoded.
var ErrMalformed = errors.New("malformed compressed stream")

// ErrUnknownEncoding is returned by Encode and Decode for values outside the declared encodings.
var ErrUnknownEncoding = errors.New("unknown encoding")

const (
	keyStrBase64  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/="
	keyStrURISafe = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+-$"
)

var (
	base64Values  = reverseAlphabet(keyStrBase64)
	uriSafeValues = reverseAlphabet(keyStrURISafe)
)

// reverseAlphabet maps alphabet bytes to unit values. Unknown bytes decode as 0.
func reverseAlphabet(alphabet string) [256]int {
	var values [256]int
	for i := 0; i < len(alphabet); i++ {
		values[alphabet[i]] = i
	}
	return values
}

// Encoding selects one of the string-valued alphabets.
type Encoding int

const (
	// Base64 is the padded base64-like alphabet.
	Base64 Encoding = iota
	// URIComponent is the URL-safe alphabet without padding.
	URIComponent
	// UTF16 packs 15 bits per character, for stores that only accept valid text.
	UTF16
)

// String returns the encoding name.
func (e Encoding) String() string {
	switch e {
	case Base64:
		return "base64"
	case URIComponent:
		return "uri"
	case UTF16:
		return "utf16"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// ParseEncoding resolves an encoding by name.
func ParseEncoding(name string) (Encoding, error) {
	switch strings.ToLower(name) {
	case "base64":
		return Base64, nil
	case "uri", "uricomponent":
		return URIComponent, nil
	case "utf16":
		return UTF16, nil
	}
	return 0, fmt.Errorf("unknown encoding %q", name)
}

// Encode compresses s with the given alphabet.
func Encode(s string, enc Encoding) (string, error) {
	switch enc {
	case Base64:
		return CompressToBase64(s), nil
	case URIComponent:
		return CompressToEncodedURIComponent(s), nil
	case UTF16:
		return CompressToUTF16(s), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownEncoding, enc)
}

// Decode reverses Encode.
func Decode(s string, enc Encoding) (string, error) {
	switch enc {
	case Base64:
		return DecompressFromBase64(s)
	case URIComponent:
		return DecompressFromEncodedURIComponent(s)
	case UTF16:
		return DecompressFromUTF16(s)
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownEncoding, enc)
}

// Compress encodes s into 16-bit units.
func Compress(s string) []uint16 {
	if s == "" {
		return []uint16{}
	}
	units := compress(toUnits(s), 16)
	out := make([]uint16, len(units))
	for i, u := range units {
		out[i] = uint16(u)
	}
	return out
}

// Decompress reverses Compress.
func Decompress(data []uint16) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	units, err := decompress(len(data), 16, func(i int) int {
		if i >= len(data) {
			return 0
		}
		return int(data[i])
	})
	if err != nil {
		return "", err
	}
	return fromUnits(units), nil
}

// CompressToBytes encodes s into big-endian byte pairs of 16-bit units.
func CompressToBytes(s string) []byte {
	units := Compress(s)
	out := make([]byte, len(units)*2)
	for i, u := range units {
		out[i*2] = byte(u >> 8)
		out[i*2+1] = byte(u)
	}
	return out
}

// DecompressFromBytes reverses CompressToBytes.
func DecompressFromBytes(data []byte) (string, error) {
	if len(data)%2 != 0 {
		return "", ErrMalformed
	}
	units := make([]uint16, len(data)/2)
	for i := range units {
		units[i] = uint16(data[i*2])<<8 | uint16(data[i*2+1])
	}
	return Decompress(units)
}

// CompressToBase64 encodes s over the base64 alphabet. The result length is
// always a multiple of four.
func CompressToBase64(s string) string {
	if s == "" {
		return ""
	}
	res := mapUnits(compress(toUnits(s), 6), keyStrBase64)
	switch len(res) % 4 {
	case 1:
		return res + "==="
	case 2:
		return res + "=="
	case 3:
		return res + "="
	}
	return res
}

// DecompressFromBase64 reverses CompressToBase64.
func DecompressFromBase64(s string) (string, error) {
	return decodeAlphabet(s, &base64Values)
}

// CompressToEncodedURIComponent encodes s over the URL-safe alphabet.
func CompressToEncodedURIComponent(s string) string {
	if s == "" {
		return ""
	}
	return mapUnits(compress(toUnits(s), 6), keyStrURISafe)
}

// DecompressFromEncodedURIComponent reverses CompressToEncodedURIComponent.
// Spaces are read as '+', since form encodings substitute them.
func DecompressFromEncodedURIComponent(s string) (string, error) {
	return decodeAlphabet(strings.ReplaceAll(s, " ", "+"), &uriSafeValues)
}

// CompressToUTF16 encodes s into characters in the range U+0020..U+801F
// followed by a terminating space.
func CompressToUTF16(s string) string {
	if s == "" {
		return ""
	}
	units := compress(toUnits(s), 15)
	var b strings.Builder
	b.Grow(len(units)*3 + 1)
	for _, u := range units {
		b.WriteRune(rune(u + 32))
	}
	b.WriteByte(' ')
	return b.String()
}

// DecompressFromUTF16 reverses CompressToUTF16.
func DecompressFromUTF16(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	data := toUnits(s)
	units, err := decompress(len(data), 15, func(i int) int {
		if i >= len(data) {
			return 0
		}
		return int(data[i]) - 32
	})
	if err != nil {
		return "", err
	}
	return fromUnits(units), nil
}

func decodeAlphabet(s string, values *[256]int) (string, error) {
	if s == "" {
		return "", nil
	}
	units, err := decompress(len(s), 6, func(i int) int {
		if i >= len(s) {
			return 0
		}
		return values[s[i]]
	})
	if err != nil {
		return "", err
	}
	return fromUnits(units), nil
}

func mapUnits(units []int, alphabet string) string {
	out := make([]byte, len(units))
	for i, u := range units {
		out[i] = alphabet[u]
	}
	return string(out)
}

func toUnits(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

func fromUnits(units []uint16) string {
	return string(utf16.Decode(units))
}
