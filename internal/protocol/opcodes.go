package protocol

// Opcode bands. Client-originated and server-originated messages occupy
// disjoint contiguous ranges; any value outside both is structurally invalid.
const (
	ClientOpcodeMin uint16 = 0x0100
	ClientOpcodeMax uint16 = 0x0FFF
	ServerOpcodeMin uint16 = 0x1000
	ServerOpcodeMax uint16 = 0x1FFF
)

// Client-originated opcodes.
const (
	OpHeartbeat    uint16 = 0x0101
	OpLoginRequest uint16 = 0x010A
	OpLogout       uint16 = 0x010B

	OpDBPing        uint16 = 0x0201
	OpDBAccountLoad uint16 = 0x0202
	OpDBAccountSave uint16 = 0x0203
)

// Server-originated opcodes.
const (
	OpHeartbeatEcho  uint16 = 0x1001
	OpLoginChallenge uint16 = 0x100A
	OpLoginResult    uint16 = 0x100B
	OpServerFull     uint16 = 0x10FE
	OpDBReply        uint16 = 0x1201
)

// ClientOriginated reports whether op falls in the client band.
func ClientOriginated(op uint16) bool {
	return op >= ClientOpcodeMin && op <= ClientOpcodeMax
}

// ServerOriginated reports whether op falls in the server band.
func ServerOriginated(op uint16) bool {
	return op >= ServerOpcodeMin && op <= ServerOpcodeMax
}

// ValidOpcode reports whether op falls in either registered band.
func ValidOpcode(op uint16) bool {
	return ClientOriginated(op) || ServerOriginated(op)
}
