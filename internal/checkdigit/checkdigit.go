// Package checkdigit implements the device identifier checksum.
//
// Identifiers are hex strings whose trailing byte (two hex digits) is a Luhn
// check over the preceding digits, taken one byte at a time from the right.
// Payload bytes alternate weights 2 and 1 starting with 2 next to the check
// byte; a weighted byte w contributes w/256 + w%256, and the check byte makes
// the total vanish modulo 256. The doubling map is a permutation of 0..255, so
// any single hex digit error changes the sum, and the weight asymmetry catches
// swaps of adjacent differing digits both inside a byte and across a byte
// boundary.
package checkdigit

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// IDLength is the length of identifiers produced by New.
	IDLength = 14
	// MinLength is the shortest identifier Valid accepts.
	MinLength = 10
	// PublicIDLength is the length of the public prefix of an identifier.
	PublicIDLength = 6
)

var ErrIDExhausted = errors.New("id_exhausted")

// Sum computes the check byte for a hex payload. An odd-length payload is
// treated as if left-padded with a zero digit.
func Sum(payload string) (byte, error) {
	raw, err := decode(payload)
	if err != nil {
		return 0, err
	}
	total := weightedSum(raw, 2)
	return byte((256 - total%256) % 256), nil
}

// Append returns payload with its two-digit check byte appended.
func Append(payload string) (string, error) {
	payload = strings.ToLower(payload)
	sum, err := Sum(payload)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%02x", payload, sum), nil
}

// Valid reports whether id is long enough, hex, and carries a correct check byte.
// It never panics.
func Valid(id string) bool {
	if len(id) < MinLength {
		return false
	}
	raw, err := decode(id)
	if err != nil {
		return false
	}
	return weightedSum(raw, 1)%256 == 0
}

// New returns a fresh identifier of IDLength digits. inUse reports collisions;
// after attempts failed tries ErrIDExhausted is returned.
func New(attempts int, inUse func(id string) (bool, error)) (string, error) {
	if attempts <= 0 {
		attempts = 10
	}
	for i := 0; i < attempts; i++ {
		buf := make([]byte, (IDLength-2)/2)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		id, err := Append(hex.EncodeToString(buf))
		if err != nil {
			return "", err
		}
		if inUse == nil {
			return id, nil
		}
		used, err := inUse(id)
		if err != nil {
			return "", err
		}
		if !used {
			return id, nil
		}
	}
	return "", ErrIDExhausted
}

// PublicID returns the non-secret prefix of id.
func PublicID(id string) string {
	if len(id) <= PublicIDLength {
		return id
	}
	return id[:PublicIDLength]
}

// SecretID returns the full identifier.
func SecretID(id string) string { return id }

// weightedSum walks bytes from the right; the rightmost byte gets firstWeight.
func weightedSum(raw []byte, firstWeight int) int {
	total := 0
	weight := firstWeight
	for i := len(raw) - 1; i >= 0; i-- {
		w := int(raw[i]) * weight
		total += w/256 + w%256
		if weight == 2 {
			weight = 1
		} else {
			weight = 2
		}
	}
	return total
}

func decode(s string) ([]byte, error) {
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// IsHex reports whether s is a non-empty string of hex digits.
func IsHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}
