package transport

import (
	"errors"
	"net"

	"github.com/mwyndham/gatewire/internal/observability"
	"github.com/mwyndham/gatewire/internal/protocol"
)

// send restamps, encrypts if the slot has encryption enabled, frames, and
// queues the bytes on the slot's outgoing buffer. The table lock serializes
// concurrent senders, so sends to one connection complete in request order.
// The checksum always covers the exact bytes on the wire.
func (r *Reactor) send(id int, gen uint64, opcode uint16, payload []byte) error {
	r.table.mu.Lock()
	defer r.table.mu.Unlock()
	s, ok := r.table.liveSlotLocked(id, gen)
	if !ok {
		return ErrSlotStale
	}
	return r.enqueueLocked(s, opcode, payload)
}

func (r *Reactor) enqueueLocked(s *slot, opcode uint16, payload []byte) error {
	body := payload
	if s.encrypted {
		enc, err := r.cfg.Cipher.Encrypt(payload, s.key)
		if err != nil {
			return err
		}
		body = enc
	}
	wire, err := protocol.Encode(opcode, body, r.stamp())
	if err != nil {
		return err
	}
	s.outgoing.Append(wire)
	observability.RecordFrameOut()
	return nil
}

// Send queues one frame for the connection slot id, re-validating that the
// slot is still live.
func (r *Reactor) Send(id int, opcode uint16, payload []byte) error {
	r.table.mu.Lock()
	defer r.table.mu.Unlock()
	if id < 0 || id >= len(r.table.slots) {
		return ErrSlotStale
	}
	s := &r.table.slots[id]
	if s.state == StateDisconnected {
		return ErrSlotStale
	}
	return r.enqueueLocked(s, opcode, payload)
}

// Broadcast queues one frame for every authenticated connection and returns
// the number of targets. Targets are re-validated under the table lock.
func (r *Reactor) Broadcast(opcode uint16, payload []byte) int {
	r.table.mu.Lock()
	defer r.table.mu.Unlock()
	sent := 0
	for i := range r.table.slots {
		s := &r.table.slots[i]
		if s.state != StateAuthenticated {
			continue
		}
		if err := r.enqueueLocked(s, opcode, payload); err == nil {
			sent++
		}
	}
	return sent
}

// flushAll drains every slot's outgoing buffer with a bounded write. A
// partial write keeps the remainder queued for the next tick; a hard socket
// error closes the connection.
func (r *Reactor) flushAll() {
	r.table.mu.Lock()
	defer r.table.mu.Unlock()
	now := r.now()
	for i := range r.table.slots {
		s := &r.table.slots[i]
		if s.state == StateDisconnected || s.outgoing == nil || s.outgoing.ReadableBytes() == 0 {
			continue
		}
		_ = s.conn.SetWriteDeadline(now.Add(r.cfg.WriteWait))
		n, err := s.conn.Write(s.outgoing.PeekAllAsByteSlice())
		if n > 0 {
			s.outgoing.Retrieve(n)
		}
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			r.closeLocked(s, "write-error")
		}
	}
}

// Ingest appends pumped bytes (websocket read pump) to the slot's receive
// buffer; the next tick extracts frames from them in order.
func (r *Reactor) Ingest(id int, gen uint64, data []byte) error {
	r.table.mu.Lock()
	defer r.table.mu.Unlock()
	s, ok := r.table.liveSlotLocked(id, gen)
	if !ok {
		return ErrSlotStale
	}
	s.incoming.Append(data)
	s.lastActivity = r.now()
	return nil
}

// CloseConn releases the slot from outside the tick, e.g. when a read pump
// observes its socket failing.
func (r *Reactor) CloseConn(id int, gen uint64, reason string) {
	r.table.mu.Lock()
	defer r.table.mu.Unlock()
	if s, ok := r.table.liveSlotLocked(id, gen); ok {
		r.closeLocked(s, reason)
	}
}
