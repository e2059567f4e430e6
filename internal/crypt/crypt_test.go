package crypt

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

var ciphers = map[string]Cipher{
	"shuffle": ShuffleCipher{},
	"xtea":    XTEACipher{},
}

func TestNewSessionKey(t *testing.T) {
	a, err := NewSessionKey()
	if err != nil {
		t.Fatalf("session key: %v", err)
	}
	b, err := NewSessionKey()
	if err != nil {
		t.Fatalf("session key: %v", err)
	}
	if len(a) != KeySize || len(b) != KeySize {
		t.Fatalf("key lengths: %d, %d", len(a), len(b))
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two session keys are identical")
	}
}

func TestCipherInvertibility(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	keyLens := []int{1, 2, 7, 16, 32, 64}
	bufLens := []int{0, 1, 2, 8, 9, 255, 1024, 4096}

	for name, c := range ciphers {
		t.Run(name, func(t *testing.T) {
			for _, kl := range keyLens {
				key := make(Key, kl)
				rng.Read(key)
				for _, bl := range bufLens {
					buf := make([]byte, bl)
					rng.Read(buf)
					enc, err := c.Encrypt(buf, key)
					if err != nil {
						t.Fatalf("keyLen=%d bufLen=%d encrypt: %v", kl, bl, err)
					}
					dec, err := c.Decrypt(enc, key)
					if err != nil {
						t.Fatalf("keyLen=%d bufLen=%d decrypt: %v", kl, bl, err)
					}
					if !bytes.Equal(dec, buf) {
						t.Fatalf("keyLen=%d bufLen=%d round-trip mismatch", kl, bl)
					}
				}
			}
		})
	}
}

func TestCipherActuallyTransforms(t *testing.T) {
	key := Key(bytes.Repeat([]byte{0x5c, 0xa1, 0x0b, 0x8d}, 8))
	buf := bytes.Repeat([]byte("fixed-format-field"), 8)
	for name, c := range ciphers {
		enc, err := c.Encrypt(buf, key)
		if err != nil {
			t.Fatalf("%s encrypt: %v", name, err)
		}
		if bytes.Equal(enc, buf) {
			t.Fatalf("%s: ciphertext equals plaintext", name)
		}
	}
}

func TestCipherRejectsEmptyKey(t *testing.T) {
	for name, c := range ciphers {
		if _, err := c.Encrypt([]byte("x"), nil); !errors.Is(err, ErrEmptyKey) {
			t.Fatalf("%s encrypt: expected ErrEmptyKey, got %v", name, err)
		}
		if _, err := c.Decrypt([]byte("x"), nil); !errors.Is(err, ErrEmptyKey) {
			t.Fatalf("%s decrypt: expected ErrEmptyKey, got %v", name, err)
		}
	}
}

func TestShuffleIsDeterministicPerKey(t *testing.T) {
	key := Key("0123456789abcdef")
	buf := []byte("same plaintext, same key")
	a, _ := ShuffleCipher{}.Encrypt(buf, key)
	b, _ := ShuffleCipher{}.Encrypt(buf, key)
	if !bytes.Equal(a, b) {
		t.Fatalf("transform is not deterministic")
	}
	other, _ := ShuffleCipher{}.Encrypt(buf, Key("fedcba9876543210"))
	if bytes.Equal(a, other) {
		t.Fatalf("different keys produced the same ciphertext")
	}
}

func TestPermutationCoversAllPositions(t *testing.T) {
	perm := permutation(Key("k"), 257)
	seen := make([]bool, len(perm))
	for _, j := range perm {
		if j < 0 || j >= len(perm) || seen[j] {
			t.Fatalf("invalid permutation entry %d", j)
		}
		seen[j] = true
	}
}
