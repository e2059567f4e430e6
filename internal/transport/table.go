package transport

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/ZhangGuangxu/netbuffer"

	"github.com/mwyndham/gatewire/internal/crypt"
	"github.com/mwyndham/gatewire/internal/observability"
)

var (
	ErrTableFull = errors.New("transport: connection table full")
	ErrSlotStale = errors.New("transport: connection slot no longer live")
	ErrBadState  = errors.New("transport: invalid state transition")
)

// State is the lifecycle phase of one connection slot.
type State uint8

const (
	StateDisconnected State = iota
	StateConnected
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// slot is one reusable connection entry. The generation counter advances on
// every release so a stale handle can never touch a successor connection
// that reused the index.
type slot struct {
	id  int
	gen uint64

	state        State
	conn         net.Conn
	peerIP       string
	lastActivity time.Time

	incoming *netbuffer.Buffer
	outgoing *netbuffer.Buffer

	key       crypt.Key
	encrypted bool
	identity  string

	// pumped slots receive bytes via Reactor.Ingest (websocket read pump)
	// instead of the tick's socket read.
	pumped bool
}

// Table is a fixed-capacity arena of connection slots. One structural lock
// guards insert, remove, state changes, and buffer mutation during a tick.
type Table struct {
	mu    sync.Mutex
	slots []slot
	free  []int
	live  int
}

func NewTable(capacity int) *Table {
	t := &Table{
		slots: make([]slot, capacity),
		free:  make([]int, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		t.slots[i].id = i
		t.free = append(t.free, i)
	}
	return t
}

// acquireLocked takes a free slot for conn. Caller holds t.mu.
func (t *Table) acquireLocked(conn net.Conn, ip string, key crypt.Key, pumped bool, now time.Time) (*slot, error) {
	if len(t.free) == 0 {
		return nil, ErrTableFull
	}
	id := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	s := &t.slots[id]
	s.state = StateConnected
	s.conn = conn
	s.peerIP = ip
	s.lastActivity = now
	s.incoming = netbuffer.NewBuffer()
	s.outgoing = netbuffer.NewBuffer()
	s.key = key
	s.encrypted = false
	s.identity = ""
	s.pumped = pumped
	t.live++
	return s, nil
}

// releaseLocked returns a slot to the free pool: socket closed, buffers
// dropped, generation advanced. Caller holds t.mu. Reentry on an already
// released slot is a no-op.
func (t *Table) releaseLocked(s *slot) {
	if s.state == StateDisconnected {
		return
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.state = StateDisconnected
	s.conn = nil
	s.peerIP = ""
	s.incoming = nil
	s.outgoing = nil
	s.key = nil
	s.encrypted = false
	s.identity = ""
	s.pumped = false
	s.gen++
	t.free = append(t.free, s.id)
	t.live--
}

// liveSlotLocked returns the slot for id if it is still the generation the
// caller saw. Caller holds t.mu.
func (t *Table) liveSlotLocked(id int, gen uint64) (*slot, bool) {
	if id < 0 || id >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[id]
	if s.state == StateDisconnected || s.gen != gen {
		return nil, false
	}
	return s, true
}

// Len reports the number of live connections.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// Snapshot lists the live slots for the admin API.
func (t *Table) Snapshot() []observability.ConnectionInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]observability.ConnectionInfo, 0, t.live)
	for i := range t.slots {
		s := &t.slots[i]
		if s.state == StateDisconnected {
			continue
		}
		out = append(out, observability.ConnectionInfo{
			ID:           s.id,
			State:        s.state.String(),
			PeerIP:       s.peerIP,
			Identity:     s.identity,
			Encrypted:    s.encrypted,
			LastActivity: s.lastActivity,
		})
	}
	return out
}
