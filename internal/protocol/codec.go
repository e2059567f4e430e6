package protocol

// Encode frames payload under opcode with the given stamp, returning the
// complete wire bytes with a valid checksum.
func Encode(opcode uint16, payload []byte, stamp uint32) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	h := Header{
		Size:   uint16(HeaderSize + len(payload)),
		Opcode: opcode,
		Stamp:  stamp,
	}
	h.Checksum = Checksum(h, payload)
	buf := make([]byte, int(h.Size))
	putHeader(buf[:HeaderSize], h)
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// TryDecode extracts one complete frame from the front of buf.
//
// A nil frame with a nil error means more bytes are needed. A declared size
// outside [HeaderSize, MaxFrameSize] fails closed with zero bytes consumed;
// the connection cannot be reframed and must be dropped. A checksum mismatch
// consumes the declared size so the caller can discard the frame and keep
// the stream aligned.
func TryDecode(buf []byte) (*Frame, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, nil
	}
	h := ReadHeader(buf)
	if int(h.Size) < HeaderSize {
		return nil, 0, ErrSizeTooSmall
	}
	if int(h.Size) > MaxFrameSize {
		return nil, 0, ErrFrameTooLarge
	}
	if len(buf) < int(h.Size) {
		return nil, 0, nil
	}
	payload := make([]byte, int(h.Size)-HeaderSize)
	copy(payload, buf[HeaderSize:h.Size])
	if !VerifyChecksum(h, payload) {
		return nil, int(h.Size), ErrChecksumMismatch
	}
	return &Frame{Header: h, Payload: payload}, int(h.Size), nil
}
