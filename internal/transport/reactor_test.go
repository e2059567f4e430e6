package transport

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwyndham/gatewire/internal/dispatch"
	"github.com/mwyndham/gatewire/internal/protocol"
	"github.com/mwyndham/gatewire/internal/security"
)

func startReactor(t *testing.T, cfg Config, registry *dispatch.Registry) *Reactor {
	t.Helper()
	cfg.ListenAddr = "127.0.0.1:0"
	gate := security.NewGate(security.Config{}, &security.MemorySink{}, nil)
	if registry == nil {
		registry = dispatch.NewRegistry(zerolog.Nop())
	}
	r := NewReactor(cfg, gate, registry, zerolog.Nop(), nil)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(r.Stop)
	return r
}

func dialReactor(t *testing.T, r *Reactor) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", r.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame accumulates bytes from conn until one complete frame decodes.
func readFrame(t *testing.T, conn net.Conn) *protocol.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	for {
		frame, consumed, err := protocol.TryDecode(buf.Bytes())
		if err != nil {
			t.Fatalf("TryDecode: %v", err)
		}
		if frame != nil {
			buf.Next(consumed)
			return frame
		}
		n, err := conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			continue
		}
		if err != nil {
			t.Fatalf("read waiting for frame: %v", err)
		}
	}
}

func writeFrame(t *testing.T, conn net.Conn, opcode uint16, payload []byte) {
	t.Helper()
	wire, err := protocol.Encode(opcode, payload, uint32(time.Now().Unix()))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := conn.Write(wire); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestAdmitSendsLoginChallenge(t *testing.T) {
	r := startReactor(t, Config{}, nil)
	conn := dialReactor(t, r)

	frame := readFrame(t, conn)
	if frame.Header.Opcode != protocol.OpLoginChallenge {
		t.Fatalf("first frame opcode = %#04x, want login challenge", frame.Header.Opcode)
	}
	if len(frame.Payload) != 32 {
		t.Fatalf("challenge carries %d key bytes, want 32", len(frame.Payload))
	}
}

func TestHeartbeatEcho(t *testing.T) {
	r := startReactor(t, Config{}, nil)
	conn := dialReactor(t, r)
	readFrame(t, conn) // challenge

	writeFrame(t, conn, protocol.OpHeartbeat, nil)
	echo := readFrame(t, conn)
	if echo.Header.Opcode != protocol.OpHeartbeatEcho {
		t.Fatalf("reply opcode = %#04x, want heartbeat echo", echo.Header.Opcode)
	}
	if len(echo.Payload) != 0 {
		t.Fatalf("echo payload has %d bytes, want 0", len(echo.Payload))
	}
}

func TestDispatchReachesRegisteredHandler(t *testing.T) {
	registry := dispatch.NewRegistry(zerolog.Nop())
	err := registry.Register(protocol.OpDBPing, func(c dispatch.Conn, opcode uint16, payload []byte) error {
		return c.Send(protocol.OpDBReply, payload)
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	r := startReactor(t, Config{}, registry)
	conn := dialReactor(t, r)
	readFrame(t, conn)

	writeFrame(t, conn, protocol.OpDBPing, []byte("marco"))
	reply := readFrame(t, conn)
	if reply.Header.Opcode != protocol.OpDBReply {
		t.Fatalf("reply opcode = %#04x, want db reply", reply.Header.Opcode)
	}
	if string(reply.Payload) != "marco" {
		t.Fatalf("reply payload = %q, want %q", reply.Payload, "marco")
	}
}

func TestServerFullRefusal(t *testing.T) {
	r := startReactor(t, Config{Capacity: 1}, nil)

	first := dialReactor(t, r)
	readFrame(t, first) // holds the only slot

	second := dialReactor(t, r)
	refusal := readFrame(t, second)
	if refusal.Header.Opcode != protocol.OpServerFull {
		t.Fatalf("refusal opcode = %#04x, want server full", refusal.Header.Opcode)
	}
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := second.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("read after refusal = %v, want EOF", err)
	}
	if got := r.Table().Len(); got != 1 {
		t.Fatalf("table has %d live slots, want 1", got)
	}
}

func TestIdleTimeoutClosesConnection(t *testing.T) {
	r := startReactor(t, Config{IdleTimeout: 150 * time.Millisecond}, nil)
	conn := dialReactor(t, r)
	readFrame(t, conn)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("read after idle period = %v, want EOF", err)
	}
	deadline := time.Now().Add(time.Second)
	for r.Table().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("slot not released after idle close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPeerDisconnectReleasesSlot(t *testing.T) {
	r := startReactor(t, Config{}, nil)
	conn := dialReactor(t, r)
	readFrame(t, conn)
	conn.Close()

	deadline := time.Now().Add(time.Second)
	for r.Table().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("slot not released after peer disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCorruptFrameDropsButKeepsStream(t *testing.T) {
	r := startReactor(t, Config{}, nil)
	conn := dialReactor(t, r)
	readFrame(t, conn)

	// A frame with a flipped payload byte fails the checksum; the reactor
	// drops exactly that frame and decodes the next one cleanly.
	bad, err := protocol.Encode(protocol.OpHeartbeat, []byte{1, 2, 3}, uint32(time.Now().Unix()))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	bad[len(bad)-1] ^= 0x01
	good, err := protocol.Encode(protocol.OpHeartbeat, nil, uint32(time.Now().Unix()))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := conn.Write(append(bad, good...)); err != nil {
		t.Fatalf("write: %v", err)
	}

	echo := readFrame(t, conn)
	if echo.Header.Opcode != protocol.OpHeartbeatEcho {
		t.Fatalf("opcode after corrupt frame = %#04x, want heartbeat echo", echo.Header.Opcode)
	}
}

func TestBroadcastReachesAuthenticatedOnly(t *testing.T) {
	r := startReactor(t, Config{}, nil)

	authed := dialReactor(t, r)
	readFrame(t, authed)
	plain := dialReactor(t, r)
	readFrame(t, plain)

	// Promote the first connection by driving its slot through the login
	// states directly.
	r.table.mu.Lock()
	var promoted bool
	for i := range r.table.slots {
		s := &r.table.slots[i]
		if s.state == StateConnected && !promoted {
			s.state = StateAuthenticated
			promoted = true
		}
	}
	r.table.mu.Unlock()
	if !promoted {
		t.Fatal("no connected slot found to promote")
	}

	if sent := r.Broadcast(protocol.OpLoginResult, []byte{1}); sent != 1 {
		t.Fatalf("broadcast reached %d connections, want 1", sent)
	}
}
