package crypt

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// KeySize is the length of a generated session key in bytes.
const KeySize = 32

var ErrEmptyKey = errors.New("crypt: empty key")

// Key is an opaque per-connection secret. Transforms accept any key of
// length >= 1; generated keys are always KeySize bytes.
type Key []byte

// NewSessionKey returns a fresh random session key. Keys are regenerated for
// every connection and never derived from predictable state.
func NewSessionKey() (Key, error) {
	k := make(Key, KeySize)
	if _, err := rand.Read(k); err != nil {
		return nil, fmt.Errorf("crypt: session key: %w", err)
	}
	return k, nil
}

// Cipher is a reversible payload transform under a session key. Encrypt and
// Decrypt are paired operations; neither is assumed to be self-inverse.
// Implementations must be total: defined for every byte value, every buffer
// length, and every key of length >= 1.
type Cipher interface {
	Encrypt(b []byte, key Key) ([]byte, error)
	Decrypt(b []byte, key Key) ([]byte, error)
}
