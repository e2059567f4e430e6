package crypt

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/xtea"
)

// XTEACipher transforms payloads with an XTEA keystream: successive counter
// blocks are encrypted under the session key and xored over the buffer. The
// keystream restarts at block zero for every frame, so the transform is
// deterministic per key and total for any buffer length.
type XTEACipher struct{}

func (XTEACipher) Encrypt(b []byte, key Key) ([]byte, error) {
	return xteaStream(b, key)
}

func (XTEACipher) Decrypt(b []byte, key Key) ([]byte, error) {
	return xteaStream(b, key)
}

func xteaStream(b []byte, key Key) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	block, err := xtea.NewCipher(blockKey(key))
	if err != nil {
		return nil, fmt.Errorf("crypt: xtea: %w", err)
	}
	out := make([]byte, len(b))
	var counter, stream [8]byte
	for off := 0; off < len(b); off += 8 {
		binary.LittleEndian.PutUint64(counter[:], uint64(off/8))
		block.Encrypt(stream[:], counter[:])
		for i := 0; i < 8 && off+i < len(b); i++ {
			out[off+i] = b[off+i] ^ stream[i]
		}
	}
	return out, nil
}

// blockKey folds a session key of any length into the 16 bytes XTEA requires.
func blockKey(key Key) []byte {
	k := make([]byte, 16)
	for i, b := range key {
		k[i%16] ^= b
	}
	if len(key) < 16 {
		for i := len(key); i < 16; i++ {
			k[i] = key[i%len(key)] + byte(i)
		}
	}
	return k
}
