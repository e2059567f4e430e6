package crypt

import "math/bits"

// ShuffleCipher is the light obfuscation transform: every byte is xored with
// the key cycled byte-by-byte, rotated by an amount taken from a different
// key byte, and finally moved to a new position by a key-seeded permutation.
// The permutation defeats frequency analysis of fixed-format payload fields.
type ShuffleCipher struct{}

func (ShuffleCipher) Encrypt(b []byte, key Key) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	out := make([]byte, len(b))
	for i := range b {
		v := b[i] ^ key[i%len(key)]
		out[i] = bits.RotateLeft8(v, rotationFor(key, i))
	}
	perm := permutation(key, len(out))
	shuffled := make([]byte, len(out))
	for i, j := range perm {
		shuffled[j] = out[i]
	}
	return shuffled, nil
}

func (ShuffleCipher) Decrypt(b []byte, key Key) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	perm := permutation(key, len(b))
	out := make([]byte, len(b))
	for i, j := range perm {
		out[i] = b[j]
	}
	for i := range out {
		v := bits.RotateLeft8(out[i], -rotationFor(key, i))
		out[i] = v ^ key[i%len(key)]
	}
	return out, nil
}

// rotationFor selects the rotation amount for position i from a key byte
// offset from the one used in the xor step, so the amount varies across the
// buffer.
func rotationFor(key Key, i int) int {
	return int(key[(i*7+3)%len(key)] & 0x07)
}

// permutation returns a deterministic position mapping for a buffer of n
// bytes: index i of the plain buffer lands at perm[i]. The shuffle state is
// seeded from the key and reseeded with the position index at every step.
func permutation(key Key, n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	state := keySeed(key)
	for i := n - 1; i > 0; i-- {
		state = mix(state ^ uint64(i)*0x9E3779B97F4A7C15)
		j := int(state % uint64(i+1))
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

func keySeed(key Key) uint64 {
	seed := uint64(0xA5A5_0F0F_3C3C_9696)
	for i, b := range key {
		seed = seed*131 + uint64(b) + uint64(i)
	}
	if seed == 0 {
		seed = 0x9E3779B97F4A7C15
	}
	return seed
}

func mix(x uint64) uint64 {
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	if x == 0 {
		x = 0x9E3779B97F4A7C15
	}
	return x
}
