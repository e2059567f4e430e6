package protocol

import "encoding/binary"

const (
	// HeaderSize is the fixed wire header length in bytes.
	HeaderSize = 12

	// MaxFrameSize bounds one complete frame, header included.
	MaxFrameSize = 8192

	// MaxPayloadSize is the largest payload one frame can carry.
	MaxPayloadSize = MaxFrameSize - HeaderSize
)

// Header is the fixed frame header. All fields are little-endian on the wire.
//
//	offset 0  size      u16  total frame length, header included
//	offset 2  opcode    u16  message type
//	offset 4  stamp     u32  sender clock, seconds
//	offset 8  checksum  u32  see Checksum
type Header struct {
	Size     uint16
	Opcode   uint16
	Stamp    uint32
	Checksum uint32
}

// Frame is one complete header-plus-payload unit.
type Frame struct {
	Header  Header
	Payload []byte
}

func putHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint16(b[0:2], h.Size)
	binary.LittleEndian.PutUint16(b[2:4], h.Opcode)
	binary.LittleEndian.PutUint32(b[4:8], h.Stamp)
	binary.LittleEndian.PutUint32(b[8:12], h.Checksum)
}

// ReadHeader decodes the fixed header from the first HeaderSize bytes of b.
func ReadHeader(b []byte) Header {
	return Header{
		Size:     binary.LittleEndian.Uint16(b[0:2]),
		Opcode:   binary.LittleEndian.Uint16(b[2:4]),
		Stamp:    binary.LittleEndian.Uint32(b[4:8]),
		Checksum: binary.LittleEndian.Uint32(b[8:12]),
	}
}
