package protocol

import "math/bits"

// Finishing constants for the combined header/payload digest. These provide
// tamper-evidence against corruption and naive modification, not integrity
// against an adversary who knows the algorithm.
const (
	checksumMagic    uint32 = 0x5AD1B07C
	checksumRotation        = 7
)

// Checksum computes the frame checksum: a rolling value over the header bytes
// with the checksum field zeroed, combined by exclusive-or with a rolling
// value over the payload bytes, then rotated and mixed with a fixed constant.
func Checksum(h Header, payload []byte) uint32 {
	h.Checksum = 0
	var hb [HeaderSize]byte
	putHeader(hb[:], h)
	combined := rollingSum(hb[:]) ^ rollingSum(payload)
	return bits.RotateLeft32(combined, checksumRotation) ^ checksumMagic
}

// VerifyChecksum recomputes the checksum for h and payload and compares it
// with the value stored in h.
func VerifyChecksum(h Header, payload []byte) bool {
	return Checksum(h, payload) == h.Checksum
}

func rollingSum(b []byte) uint32 {
	var sum uint32
	for _, c := range b {
		sum = sum*33 + uint32(c)
	}
	return sum
}
