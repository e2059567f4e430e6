package login

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mwyndham/gatewire/internal/auth"
	"github.com/mwyndham/gatewire/internal/dispatch"
	"github.com/mwyndham/gatewire/internal/protocol"
)

type sentFrame struct {
	opcode  uint16
	payload []byte
}

// stubConn records the handler's interactions for assertion.
type stubConn struct {
	id        int
	identity  string
	state     string
	encrypted bool
	closed    bool
	sent      []sentFrame
}

func (c *stubConn) ID() int          { return c.id }
func (c *stubConn) PeerIP() string   { return "198.51.100.9" }
func (c *stubConn) Identity() string { return c.identity }

func (c *stubConn) Authenticating() error {
	if c.state != "" {
		return errors.New("bad state")
	}
	c.state = "authenticating"
	return nil
}

func (c *stubConn) Authenticated(identity string) error {
	if c.state != "authenticating" {
		return errors.New("bad state")
	}
	c.state = "authenticated"
	c.identity = identity
	return nil
}

func (c *stubConn) EnableEncryption() error {
	c.encrypted = true
	return nil
}

func (c *stubConn) Send(opcode uint16, payload []byte) error {
	c.sent = append(c.sent, sentFrame{opcode, append([]byte(nil), payload...)})
	return nil
}

func (c *stubConn) Close() { c.closed = true }

func newRegistry(t *testing.T, creds auth.CredentialStore) *dispatch.Registry {
	t.Helper()
	registry := dispatch.NewRegistry(zerolog.Nop())
	if err := RegisterHandlers(registry, creds, zerolog.Nop()); err != nil {
		t.Fatalf("RegisterHandlers: %v", err)
	}
	return registry
}

func TestLoginAccepted(t *testing.T) {
	creds := auth.NewStaticCredentials(map[string]string{"keeper": "hunter2"})
	registry := newRegistry(t, creds)
	c := &stubConn{}

	err := registry.Dispatch(c, protocol.OpLoginRequest, RequestPayload("keeper", "hunter2"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if c.state != "authenticated" || c.identity != "keeper" {
		t.Fatalf("connection state %q identity %q after login", c.state, c.identity)
	}
	if !c.encrypted {
		t.Fatal("encryption not enabled after successful login")
	}
	if c.closed {
		t.Fatal("connection closed after successful login")
	}
	if len(c.sent) != 1 || c.sent[0].opcode != protocol.OpLoginResult {
		t.Fatalf("sent frames %+v, want one login result", c.sent)
	}
	result, _, err := ParseResult(c.sent[0].payload)
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if result != ResultOK {
		t.Fatalf("result byte = %#02x, want ok", result)
	}
}

func TestLoginDeniedClosesConnection(t *testing.T) {
	creds := auth.NewStaticCredentials(map[string]string{"keeper": "hunter2"})
	registry := newRegistry(t, creds)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"wrong secret", RequestPayload("keeper", "nope")},
		{"unknown account", RequestPayload("ghost", "hunter2")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &stubConn{}
			if err := registry.Dispatch(c, protocol.OpLoginRequest, tt.payload); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if !c.closed {
				t.Fatal("connection left open after denied login")
			}
			if c.encrypted {
				t.Fatal("encryption enabled after denied login")
			}
			if len(c.sent) != 1 {
				t.Fatalf("sent %d frames, want 1 result", len(c.sent))
			}
			result, msg, err := ParseResult(c.sent[0].payload)
			if err != nil {
				t.Fatalf("ParseResult: %v", err)
			}
			if result != ResultDenied || msg == "" {
				t.Fatalf("result = %#02x message %q, want denial with reason", result, msg)
			}
		})
	}
}

func TestLoginMalformedPayload(t *testing.T) {
	creds := auth.NewStaticCredentials(nil)
	registry := newRegistry(t, creds)
	c := &stubConn{}

	err := registry.Dispatch(c, protocol.OpLoginRequest, []byte{0xFF})
	if !errors.Is(err, protocol.ErrShortString) {
		t.Fatalf("Dispatch malformed payload = %v, want ErrShortString", err)
	}
	if c.state != "" {
		t.Fatalf("state advanced to %q on malformed payload", c.state)
	}
}

func TestDuplicateLoginCloses(t *testing.T) {
	creds := auth.NewStaticCredentials(map[string]string{"keeper": "hunter2"})
	registry := newRegistry(t, creds)
	c := &stubConn{}

	payload := RequestPayload("keeper", "hunter2")
	if err := registry.Dispatch(c, protocol.OpLoginRequest, payload); err != nil {
		t.Fatalf("first login: %v", err)
	}
	if err := registry.Dispatch(c, protocol.OpLoginRequest, payload); err != nil {
		t.Fatalf("second login: %v", err)
	}
	if !c.closed {
		t.Fatal("second login on authenticated connection did not close it")
	}
}

func TestLogoutClosesAndLogsIdentity(t *testing.T) {
	creds := auth.NewStaticCredentials(nil)
	registry := newRegistry(t, creds)
	c := &stubConn{identity: "keeper", state: "authenticated"}

	if err := registry.Dispatch(c, protocol.OpLogout, nil); err != nil {
		t.Fatalf("Dispatch logout: %v", err)
	}
	if !c.closed {
		t.Fatal("logout left the connection open")
	}
}

func TestParseResultRejectsEmpty(t *testing.T) {
	if _, _, err := ParseResult(nil); err == nil {
		t.Fatal("ParseResult accepted empty payload")
	}
}
