package protocol

import (
	"encoding/binary"
	"errors"
)

var ErrShortString = errors.New("protocol: truncated string field")

// AppendString appends a uint16 length-prefixed string to b.
func AppendString(b []byte, s string) []byte {
	b = binary.LittleEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

// ReadString consumes a uint16 length-prefixed string from the front of b
// and returns the value and the remaining bytes.
func ReadString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", b, ErrShortString
	}
	n := int(binary.LittleEndian.Uint16(b[0:2]))
	if len(b) < 2+n {
		return "", b, ErrShortString
	}
	return string(b[2 : 2+n]), b[2+n:], nil
}
