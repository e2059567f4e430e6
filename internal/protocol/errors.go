package protocol

import "errors"

var (
	ErrSizeTooSmall     = errors.New("protocol: declared size below header length")
	ErrFrameTooLarge    = errors.New("protocol: declared size exceeds frame limit")
	ErrPayloadTooLarge  = errors.New("protocol: payload too large")
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")
	ErrOpcodeOutOfBand  = errors.New("protocol: opcode outside registered bands")
)
