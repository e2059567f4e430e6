package transport

// Handle is the per-connection surface given to dispatch handlers. It
// carries the slot index plus the generation observed at frame extraction,
// so a handler running after the slot was recycled acts on nothing.
type Handle struct {
	r   *Reactor
	id  int
	gen uint64
}

// ID returns the connection slot index.
func (h Handle) ID() int { return h.id }

// PeerIP returns the remote address, or "" if the slot is gone.
func (h Handle) PeerIP() string {
	h.r.table.mu.Lock()
	defer h.r.table.mu.Unlock()
	if s, ok := h.r.table.liveSlotLocked(h.id, h.gen); ok {
		return s.peerIP
	}
	return ""
}

// Identity returns the authenticated identity, or "" before login.
func (h Handle) Identity() string {
	h.r.table.mu.Lock()
	defer h.r.table.mu.Unlock()
	if s, ok := h.r.table.liveSlotLocked(h.id, h.gen); ok {
		return s.identity
	}
	return ""
}

// Authenticating moves the connection from connected into the login
// exchange. Any other starting state is a protocol violation.
func (h Handle) Authenticating() error {
	h.r.table.mu.Lock()
	defer h.r.table.mu.Unlock()
	s, ok := h.r.table.liveSlotLocked(h.id, h.gen)
	if !ok {
		return ErrSlotStale
	}
	if s.state != StateConnected {
		return ErrBadState
	}
	s.state = StateAuthenticating
	return nil
}

// Authenticated completes the login exchange and attaches identity.
func (h Handle) Authenticated(identity string) error {
	h.r.table.mu.Lock()
	defer h.r.table.mu.Unlock()
	s, ok := h.r.table.liveSlotLocked(h.id, h.gen)
	if !ok {
		return ErrSlotStale
	}
	if s.state != StateAuthenticating {
		return ErrBadState
	}
	s.state = StateAuthenticated
	s.identity = identity
	return nil
}

// EnableEncryption turns on the payload cipher. Frames already queued stay
// as framed; everything enqueued afterwards is encrypted with the session
// key issued at admit time.
func (h Handle) EnableEncryption() error {
	h.r.table.mu.Lock()
	defer h.r.table.mu.Unlock()
	s, ok := h.r.table.liveSlotLocked(h.id, h.gen)
	if !ok {
		return ErrSlotStale
	}
	s.encrypted = true
	return nil
}

// Send frames and queues payload for delivery on this connection.
func (h Handle) Send(opcode uint16, payload []byte) error {
	return h.r.send(h.id, h.gen, opcode, payload)
}

// Close releases the slot, flushing queued output best-effort first.
func (h Handle) Close() {
	h.r.CloseConn(h.id, h.gen, "handler-close")
}
