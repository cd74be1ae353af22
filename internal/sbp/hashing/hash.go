// Package hashing derives the stable 128-bit keys used by the build cache.
package hashing

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

// Hash128 is a 128-bit content hash.
type Hash128 [16]byte

// GUID is a 128-bit identifier of an asset or a synthetic cache line.
type GUID [16]byte

// RawHash is a full-width digest before truncation.
type RawHash [32]byte

// String returns the lowercase hex form of h.
func (h Hash128) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash128) IsZero() bool {
	return h == Hash128{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash128) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash128) UnmarshalText(text []byte) error {
	parsed, err := ParseHash128(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash128 parses a 32 character hex string.
func ParseHash128(value string) (Hash128, error) {
	var h Hash128
	if err := decodeHex(h[:], value); err != nil {
		return Hash128{}, fmt.Errorf("%w: %q", helpers.ErrInvalidHash, value)
	}
	return h, nil
}

// String returns the lowercase hex form of g.
func (g GUID) String() string {
	return hex.EncodeToString(g[:])
}

// IsZero reports whether g is the empty GUID.
func (g GUID) IsZero() bool {
	return g == GUID{}
}

// Compare orders GUIDs by their byte representation.
func (g GUID) Compare(other GUID) int {
	return strings.Compare(string(g[:]), string(other[:]))
}

// MarshalText implements encoding.TextMarshaler.
func (g GUID) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *GUID) UnmarshalText(text []byte) error {
	parsed, err := ParseGUID(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// ParseGUID parses a 32 character hex string.
func ParseGUID(value string) (GUID, error) {
	var g GUID
	if err := decodeHex(g[:], value); err != nil {
		return GUID{}, fmt.Errorf("%w: %q", helpers.ErrInvalidGUID, value)
	}
	return g, nil
}

// MustParseGUID parses value and panics when it is malformed.
func MustParseGUID(value string) GUID {
	g, err := ParseGUID(value)
	if err != nil {
		panic(err)
	}
	return g
}

// ToHash128 truncates r to 128 bits.
func (r RawHash) ToHash128() Hash128 {
	var h Hash128
	copy(h[:], r[:len(h)])
	return h
}

// ToGUID truncates r to a GUID.
func (r RawHash) ToGUID() GUID {
	var g GUID
	copy(g[:], r[:len(g)])
	return g
}

// String returns the lowercase hex form of r.
func (r RawHash) String() string {
	return hex.EncodeToString(r[:])
}

func decodeHex(dst []byte, value string) error {
	value = strings.TrimSpace(value)
	if len(value) != hex.EncodedLen(len(dst)) {
		return hex.ErrLength
	}
	_, err := hex.Decode(dst, []byte(value))
	return err
}
