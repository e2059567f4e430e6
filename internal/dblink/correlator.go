// Package dblink maintains the gateway's upstream link to the database
// daemon: one framed connection, request/response correlation by sequence
// number, call timeouts, and reconnect with backoff.
package dblink

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"
)

var (
	ErrCallTimeout = errors.New("dblink: call timed out")
	ErrLinkDown    = errors.New("dblink: link down")
	ErrShortReply  = errors.New("dblink: reply missing sequence prefix")
)

// result is the terminal outcome of one correlated call. Exactly one result
// is ever delivered per pending entry.
type result struct {
	payload []byte
	err     error
}

type pendingCall struct {
	seq      uint32
	opcode   uint16
	deadline time.Time
	done     chan result
}

// Correlator matches replies to in-flight calls by the uint32 sequence
// number prefixed to every request and reply payload. An entry resolves at
// most once: whichever of reply, timeout sweep, or link failure gets there
// first wins, and the others find the entry gone.
type Correlator struct {
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	pending map[uint32]*pendingCall
	nextSeq uint32
}

// NewCorrelator builds a correlator; timeout bounds every call, now may be
// nil for the wall clock.
func NewCorrelator(timeout time.Duration, now func() time.Time) *Correlator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Correlator{
		timeout: timeout,
		now:     now,
		pending: make(map[uint32]*pendingCall),
	}
}

// Register allocates a sequence number and a pending entry for one call.
// The caller sends AppendSeq(seq, payload) upstream and then waits on wait.
func (c *Correlator) Register(opcode uint16) (seq uint32, wait <-chan result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSeq++
	p := &pendingCall{
		seq:      c.nextSeq,
		opcode:   opcode,
		deadline: c.now().Add(c.timeout),
		done:     make(chan result, 1),
	}
	c.pending[p.seq] = p
	return p.seq, p.done
}

// Resolve delivers a reply payload to the pending call for seq. Replies for
// unknown or already settled sequence numbers report false and are dropped.
func (c *Correlator) Resolve(seq uint32, payload []byte) bool {
	c.mu.Lock()
	p, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	p.done <- result{payload: payload}
	return true
}

// SweepTimeouts fails every pending call whose deadline has passed and
// returns how many were failed.
func (c *Correlator) SweepTimeouts() int {
	now := c.now()
	var expired []*pendingCall
	c.mu.Lock()
	for seq, p := range c.pending {
		if now.After(p.deadline) {
			delete(c.pending, seq)
			expired = append(expired, p)
		}
	}
	c.mu.Unlock()
	for _, p := range expired {
		p.done <- result{err: ErrCallTimeout}
	}
	return len(expired)
}

// FailAll settles every pending call with err; used when the link drops so
// no caller waits out a timeout for a reply that can never arrive.
func (c *Correlator) FailAll(err error) int {
	c.mu.Lock()
	all := make([]*pendingCall, 0, len(c.pending))
	for seq, p := range c.pending {
		delete(c.pending, seq)
		all = append(all, p)
	}
	c.mu.Unlock()
	for _, p := range all {
		p.done <- result{err: err}
	}
	return len(all)
}

// Pending reports the number of unsettled calls.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// AppendSeq prefixes payload with the little-endian sequence number.
func AppendSeq(seq uint32, payload []byte) []byte {
	out := make([]byte, 4, 4+len(payload))
	binary.LittleEndian.PutUint32(out, seq)
	return append(out, payload...)
}

// ReadSeq splits a reply payload into its sequence number and body.
func ReadSeq(payload []byte) (uint32, []byte, error) {
	if len(payload) < 4 {
		return 0, nil, ErrShortReply
	}
	return binary.LittleEndian.Uint32(payload[:4]), payload[4:], nil
}
