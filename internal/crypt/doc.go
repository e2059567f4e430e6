// Package crypt implements per-connection payload ciphers.
//
// Ownership boundary:
// - session key generation
// - the shuffle transform (xor, rotation, keyed permutation)
// - the XTEA keystream transform
//
// Neither transform is a vetted authenticated-encryption primitive; they fill
// the obfuscation slot of the wire protocol. The Cipher interface is the
// substitution point for a stronger primitive.
package crypt
