// Package dispatch routes decoded frames to registered opcode handlers.
package dispatch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrDuplicateHandler = errors.New("dispatch: handler already registered")
	ErrNoHandler        = errors.New("dispatch: no handler for opcode")
)

// Conn is the per-connection surface a handler may touch. It is implemented
// by the transport's connection handle; handlers never see sockets or
// buffers directly.
type Conn interface {
	// ID returns the connection slot index.
	ID() int
	// PeerIP returns the remote address of the connection.
	PeerIP() string
	// Identity returns the authenticated identity, or "" before login.
	Identity() string
	// Authenticating marks the connection as mid-login.
	Authenticating() error
	// Authenticated attaches identity and completes the login exchange.
	Authenticated(identity string) error
	// EnableEncryption turns on the payload cipher for subsequent frames.
	EnableEncryption() error
	// Send frames and queues payload for delivery on this connection.
	Send(opcode uint16, payload []byte) error
	// Close tears the connection down at the end of the current tick.
	Close()
}

// Handler processes one inbound frame. Returning an error is an
// application-level failure: it is logged and the connection stays open.
type Handler func(c Conn, opcode uint16, payload []byte) error

// Registry is the opcode to handler mapping. Registration happens once at
// startup; dispatch is read-only and safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[uint16]Handler

	// Unknown is invoked for structurally valid opcodes nobody registered.
	// Possible protocol drift or probing; never silently ignored.
	Unknown func(c Conn, opcode uint16)

	log zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		handlers: make(map[uint16]Handler),
		log:      log,
	}
}

// Register maps opcode to h. Registering the same opcode twice is a startup
// wiring bug and fails loudly.
func (r *Registry) Register(opcode uint16, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[opcode]; exists {
		return fmt.Errorf("%w: %#04x", ErrDuplicateHandler, opcode)
	}
	r.handlers[opcode] = h
	return nil
}

// Dispatch invokes the handler registered for opcode. Handler panics and
// errors are contained here so one bad message cannot take down the reactor
// loop.
func (r *Registry) Dispatch(c Conn, opcode uint16, payload []byte) error {
	r.mu.RLock()
	h, ok := r.handlers[opcode]
	unknown := r.Unknown
	r.mu.RUnlock()

	if !ok {
		if unknown != nil {
			unknown(c, opcode)
		}
		return fmt.Errorf("%w: %#04x", ErrNoHandler, opcode)
	}

	err := r.invoke(h, c, opcode, payload)
	if err != nil {
		r.log.Warn().
			Int("conn_id", c.ID()).
			Uint16("opcode", opcode).
			Err(err).
			Msg("handler failed")
	}
	return err
}

func (r *Registry) invoke(h Handler, c Conn, opcode uint16, payload []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("dispatch: handler panic for opcode %#04x: %v", opcode, rec)
		}
	}()
	return h(c, opcode, payload)
}
