package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwyndham/gatewire/internal/crypt"
	"github.com/mwyndham/gatewire/internal/dispatch"
	"github.com/mwyndham/gatewire/internal/observability"
	"github.com/mwyndham/gatewire/internal/protocol"
	"github.com/mwyndham/gatewire/internal/security"
)

// Config tunes the reactor workers.
type Config struct {
	ListenAddr string
	Capacity   int

	// TickInterval is the process worker poll period.
	TickInterval time.Duration
	// ReadWait bounds the per-connection read during one tick; a timeout is
	// "no data yet", not an error.
	ReadWait time.Duration
	// WriteWait bounds one flush attempt; unsent bytes stay queued for the
	// next tick.
	WriteWait time.Duration
	// IdleTimeout closes connections with no inbound activity.
	IdleTimeout time.Duration
	// ReadChunk is the scratch read size per connection per tick.
	ReadChunk int

	// Cipher transforms payloads once a connection enables encryption.
	Cipher crypt.Cipher
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = 500
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 20 * time.Millisecond
	}
	if c.ReadWait <= 0 {
		c.ReadWait = time.Millisecond
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 100 * time.Millisecond
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ReadChunk <= 0 {
		c.ReadChunk = 4096
	}
	if c.Cipher == nil {
		c.Cipher = crypt.ShuffleCipher{}
	}
	return c
}

// Reactor drives the connection table with two cooperating workers: an
// accept worker blocking on the listener and a process worker polling the
// table on a short fixed interval with bounded reads.
type Reactor struct {
	cfg      Config
	log      zerolog.Logger
	gate     *security.Gate
	registry *dispatch.Registry
	table    *Table

	ln   net.Listener
	done chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time

	chunk     []byte
	lastSweep time.Time
}

// NewReactor wires a reactor over gate and registry. now may be nil for the
// wall clock.
func NewReactor(cfg Config, gate *security.Gate, registry *dispatch.Registry, log zerolog.Logger, now func() time.Time) *Reactor {
	if now == nil {
		now = time.Now
	}
	cfg = cfg.withDefaults()
	return &Reactor{
		cfg:      cfg,
		log:      log,
		gate:     gate,
		registry: registry,
		table:    NewTable(cfg.Capacity),
		done:     make(chan struct{}),
		now:      now,
		chunk:    make([]byte, cfg.ReadChunk),
	}
}

// Table exposes the connection table view for the admin API.
func (r *Reactor) Table() *Table { return r.table }

// Addr returns the bound listen address once Start has succeeded.
func (r *Reactor) Addr() net.Addr {
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

// Start binds the listener and launches both workers.
func (r *Reactor) Start() error {
	ln, err := net.Listen("tcp", r.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", r.cfg.ListenAddr, err)
	}
	r.ln = ln
	r.wg.Add(2)
	go r.acceptLoop()
	go r.processLoop()
	r.log.Info().Str("addr", ln.Addr().String()).Msg("reactor listening")
	return nil
}

// Stop signals both workers, unblocks the accept call, and waits for them.
// Join time is bounded by one tick. All live connections are closed.
func (r *Reactor) Stop() {
	select {
	case <-r.done:
		return
	default:
	}
	close(r.done)
	if r.ln != nil {
		_ = r.ln.Close()
	}
	r.wg.Wait()

	r.table.mu.Lock()
	for i := range r.table.slots {
		r.table.releaseLocked(&r.table.slots[i])
	}
	r.table.mu.Unlock()
	observability.SetLiveConnections(0)
	r.log.Info().Msg("reactor stopped")
}

func (r *Reactor) stopping() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Reactor) acceptLoop() {
	defer r.wg.Done()
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if r.stopping() {
				return
			}
			r.log.Warn().Err(err).Msg("accept failed")
			continue
		}
		r.admit(conn, "tcp", false)
	}
}

// admit runs the accept-time checks: the ban table is consulted before a
// slot is even allocated, so banned peers never consume one.
func (r *Reactor) admit(conn net.Conn, acceptor string, pumped bool) (int, uint64, bool) {
	ip := peerIP(conn.RemoteAddr())
	if r.gate.IsBanned(ip) {
		observability.RecordRefusal("banned")
		r.gate.RegisterAnomaly(security.AnomalyBannedAttempt, 1, security.Peer{IP: ip}, acceptor)
		_ = conn.Close()
		return 0, 0, false
	}

	key, err := crypt.NewSessionKey()
	if err != nil {
		r.log.Error().Err(err).Msg("session key generation failed")
		_ = conn.Close()
		return 0, 0, false
	}

	r.table.mu.Lock()
	s, err := r.table.acquireLocked(conn, ip, key, pumped, r.now())
	if errors.Is(err, ErrTableFull) {
		r.table.mu.Unlock()
		observability.RecordRefusal("full")
		r.refuseFull(conn)
		return 0, 0, false
	}
	id, gen := s.id, s.gen
	live := r.table.live
	r.table.mu.Unlock()

	observability.RecordAccept(acceptor)
	observability.SetLiveConnections(live)
	r.log.Info().
		Int("conn_id", id).
		Str("peer_ip", ip).
		Str("acceptor", acceptor).
		Msg("connection admitted")

	// The session key rides in the clear-framed login challenge; encryption
	// turns on only after the login exchange completes.
	if err := r.send(id, gen, protocol.OpLoginChallenge, key); err != nil {
		r.log.Warn().Int("conn_id", id).Err(err).Msg("login challenge enqueue failed")
	}
	return id, gen, true
}

func (r *Reactor) refuseFull(conn net.Conn) {
	if wire, err := protocol.Encode(protocol.OpServerFull, nil, r.stamp()); err == nil {
		_ = conn.SetWriteDeadline(r.now().Add(r.cfg.WriteWait))
		_, _ = conn.Write(wire)
	}
	_ = conn.Close()
}

func (r *Reactor) processLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

// inboundFrame carries one extracted frame out of the table lock.
type inboundFrame struct {
	id    int
	gen   uint64
	frame *protocol.Frame
}

func (r *Reactor) tick() {
	now := r.now()
	var ready []inboundFrame

	r.table.mu.Lock()
	for i := range r.table.slots {
		s := &r.table.slots[i]
		if s.state == StateDisconnected {
			continue
		}
		if now.Sub(s.lastActivity) > r.cfg.IdleTimeout {
			r.closeLocked(s, "idle-timeout")
			continue
		}
		if !s.pumped && !r.readLocked(s, now) {
			continue
		}
		r.extractLocked(s, &ready)
	}
	live := r.table.live
	r.table.mu.Unlock()
	observability.SetLiveConnections(live)

	for _, in := range ready {
		r.process(in)
	}

	r.flushAll()
	r.maybeSweep(now)
}

// readLocked performs one bounded read into the slot's receive buffer.
// Returns false if the slot was released.
func (r *Reactor) readLocked(s *slot, now time.Time) bool {
	_ = s.conn.SetReadDeadline(now.Add(r.cfg.ReadWait))
	n, err := s.conn.Read(r.chunk)
	if n > 0 {
		s.incoming.Append(r.chunk[:n])
		s.lastActivity = now
	}
	if err != nil {
		var nerr net.Error
		switch {
		case errors.As(err, &nerr) && nerr.Timeout():
			// would block; try again next tick
		case errors.Is(err, io.EOF):
			r.closeLocked(s, "peer-closed")
			return false
		default:
			r.closeLocked(s, "read-error")
			return false
		}
	}
	return true
}

// extractLocked slides complete frames out of the slot's receive buffer,
// front to back, preserving per-connection arrival order.
func (r *Reactor) extractLocked(s *slot, ready *[]inboundFrame) {
	for {
		frame, consumed, err := protocol.TryDecode(s.incoming.PeekAllAsByteSlice())
		if err != nil {
			kind, severity := security.Classify(err)
			observability.RecordRejectedFrame(string(kind))
			esc := r.gate.RegisterAnomaly(kind, severity, security.Peer{IP: s.peerIP, ConnID: s.id}, err.Error())
			if consumed > 0 {
				s.incoming.Retrieve(consumed)
			}
			if esc.CloseConnection || consumed == 0 {
				r.closeLocked(s, string(kind))
				return
			}
			continue
		}
		if frame == nil {
			// Incomplete. The codec fails closed on oversized declarations,
			// so a buffer past one frame limit means the stream is broken.
			if s.incoming.ReadableBytes() > protocol.MaxFrameSize {
				observability.RecordRejectedFrame(string(security.AnomalyBufferOverflow))
				r.gate.RegisterAnomaly(security.AnomalyBufferOverflow, 4,
					security.Peer{IP: s.peerIP, ConnID: s.id}, "receive buffer exceeded frame limit")
				r.closeLocked(s, "buffer-overflow")
			}
			return
		}
		s.incoming.Retrieve(consumed)
		observability.RecordFrameIn()
		*ready = append(*ready, inboundFrame{id: s.id, gen: s.gen, frame: frame})
	}
}

// process gates, decrypts, and dispatches one frame outside the table lock.
func (r *Reactor) process(in inboundFrame) {
	h := Handle{r: r, id: in.id, gen: in.gen}
	ip, encrypted, key, ok := r.slotCipherState(in.id, in.gen)
	if !ok {
		return
	}
	peer := security.Peer{IP: ip, ConnID: in.id}

	if err := r.gate.ValidateInbound(in.frame.Header, peer); err != nil {
		kind, severity := security.Classify(err)
		observability.RecordRejectedFrame(string(kind))
		esc := r.gate.RegisterAnomaly(kind, severity, peer, err.Error())
		if esc.CloseConnection || esc.Banned {
			h.Close()
		}
		return
	}

	payload := in.frame.Payload
	if encrypted {
		dec, err := r.cfg.Cipher.Decrypt(payload, key)
		if err != nil {
			r.log.Warn().Int("conn_id", in.id).Err(err).Msg("payload decrypt failed")
			h.Close()
			return
		}
		payload = dec
	}

	// Keepalive handled below the dispatch layer.
	if in.frame.Header.Opcode == protocol.OpHeartbeat {
		if err := h.Send(protocol.OpHeartbeatEcho, nil); err != nil && !errors.Is(err, ErrSlotStale) {
			r.log.Warn().Int("conn_id", in.id).Err(err).Msg("heartbeat echo failed")
		}
		return
	}

	err := r.registry.Dispatch(h, in.frame.Header.Opcode, payload)
	if errors.Is(err, dispatch.ErrNoHandler) {
		observability.RecordRejectedFrame(string(security.AnomalyUnknownOpcode))
		esc := r.gate.RegisterAnomaly(security.AnomalyUnknownOpcode, 1, peer,
			fmt.Sprintf("opcode %#04x", in.frame.Header.Opcode))
		if esc.CloseConnection || esc.Banned {
			h.Close()
		}
	}
}

func (r *Reactor) slotCipherState(id int, gen uint64) (ip string, encrypted bool, key crypt.Key, ok bool) {
	r.table.mu.Lock()
	defer r.table.mu.Unlock()
	s, live := r.table.liveSlotLocked(id, gen)
	if !live {
		return "", false, nil, false
	}
	return s.peerIP, s.encrypted, s.key, true
}

// closeLocked flushes queued output best-effort and releases the slot.
// Caller holds the table lock.
func (r *Reactor) closeLocked(s *slot, reason string) {
	if s.state == StateDisconnected {
		return
	}
	if s.conn != nil && s.outgoing != nil && s.outgoing.ReadableBytes() > 0 {
		_ = s.conn.SetWriteDeadline(r.now().Add(r.cfg.WriteWait))
		data := s.outgoing.PeekAllAsByteSlice()
		_, _ = s.conn.Write(data)
	}
	r.log.Info().
		Int("conn_id", s.id).
		Str("peer_ip", s.peerIP).
		Str("reason", reason).
		Msg("connection closed")
	r.table.releaseLocked(s)
}

func (r *Reactor) maybeSweep(now time.Time) {
	if now.Sub(r.lastSweep) < 30*time.Second {
		return
	}
	r.lastSweep = now
	r.gate.SweepBans()
	observability.SetActiveBans(len(r.gate.Bans()))
}

func (r *Reactor) stamp() uint32 {
	return uint32(r.now().Unix())
}

func peerIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
