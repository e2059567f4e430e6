// Package protocol owns the wire contract and framing primitives.
//
// Ownership boundary:
// - fixed header encode/decode and checksum
// - streaming frame extraction from a receive buffer
// - opcode band classification
package protocol
