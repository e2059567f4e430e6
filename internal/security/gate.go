package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/mwyndham/gatewire/internal/protocol"
)

var (
	ErrStaleFrame  = errors.New("security: frame stamp too far in the past")
	ErrFutureFrame = errors.New("security: frame stamp too far in the future")
)

// Config tunes validation tolerances and escalation thresholds.
type Config struct {
	// StampTolerance is the replay window: frames stamped further than this
	// from the gate's clock, in either direction, are rejected.
	StampTolerance time.Duration

	// CloseSeverity is the anomaly severity at which the offending
	// connection is closed immediately.
	CloseSeverity int

	// BanSeverity is the anomaly severity that bans the peer IP outright.
	BanSeverity int

	// BanRepeatCount severe anomalies within BanRepeatWindow ban the IP.
	BanRepeatCount  int
	BanRepeatWindow time.Duration

	// BanDuration is how long an inserted ban lasts.
	BanDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.StampTolerance <= 0 {
		c.StampTolerance = 30 * time.Second
	}
	if c.CloseSeverity <= 0 {
		c.CloseSeverity = 4
	}
	if c.BanSeverity <= 0 {
		c.BanSeverity = 5
	}
	if c.BanRepeatCount <= 0 {
		c.BanRepeatCount = 3
	}
	if c.BanRepeatWindow <= 0 {
		c.BanRepeatWindow = time.Minute
	}
	if c.BanDuration <= 0 {
		c.BanDuration = 30 * time.Minute
	}
	return c
}

// Peer identifies the origin of an inbound event.
type Peer struct {
	IP     string
	ConnID int
}

// Escalation is the reaction RegisterAnomaly decided on.
type Escalation struct {
	CloseConnection bool
	Banned          bool
}

// Gate validates inbound frames and escalates abuse. It owns the ban table
// and the per-IP offense history; both sit behind locks independent of the
// connection table.
type Gate struct {
	cfg  Config
	bans *BanTable
	sink AuditSink
	now  func() time.Time

	offenses offenseLog
}

// NewGate builds a Gate. sink may be nil; now may be nil for wall clock.
func NewGate(cfg Config, sink AuditSink, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	g := &Gate{
		cfg:  cfg.withDefaults(),
		bans: NewBanTable(),
		sink: sink,
		now:  now,
	}
	g.offenses.init()
	return g
}

// ValidateInbound runs the structural checks in order, short-circuiting on
// the first failure: opcode band, declared size bounds, stamp replay window.
func (g *Gate) ValidateInbound(h protocol.Header, peer Peer) error {
	if !protocol.ValidOpcode(h.Opcode) {
		return fmt.Errorf("%w: %#04x", protocol.ErrOpcodeOutOfBand, h.Opcode)
	}
	if int(h.Size) < protocol.HeaderSize {
		return protocol.ErrSizeTooSmall
	}
	if int(h.Size) > protocol.MaxFrameSize {
		return protocol.ErrFrameTooLarge
	}
	now := g.now()
	stamp := time.Unix(int64(h.Stamp), 0)
	if now.Sub(stamp) > g.cfg.StampTolerance {
		return fmt.Errorf("%w: stamp=%d", ErrStaleFrame, h.Stamp)
	}
	if stamp.Sub(now) > g.cfg.StampTolerance {
		return fmt.Errorf("%w: stamp=%d", ErrFutureFrame, h.Stamp)
	}
	return nil
}

// Classify maps a rejection error to its anomaly kind and severity 1-5.
func Classify(err error) (AnomalyKind, int) {
	switch {
	case errors.Is(err, protocol.ErrOpcodeOutOfBand):
		return AnomalyInvalidOpcode, 2
	case errors.Is(err, protocol.ErrSizeTooSmall), errors.Is(err, protocol.ErrFrameTooLarge):
		return AnomalyInvalidSize, 4
	case errors.Is(err, protocol.ErrChecksumMismatch):
		return AnomalyChecksum, 3
	case errors.Is(err, ErrStaleFrame):
		return AnomalyStaleStamp, 3
	case errors.Is(err, ErrFutureFrame):
		return AnomalyFutureStamp, 3
	default:
		return AnomalyUnknownOpcode, 1
	}
}

// RegisterAnomaly records one anomaly and decides the escalation. Severity at
// or above CloseSeverity closes the connection; severity at or above
// BanSeverity, or BanRepeatCount severe offenses inside BanRepeatWindow,
// bans the peer IP for BanDuration.
func (g *Gate) RegisterAnomaly(kind AnomalyKind, severity int, peer Peer, details string) Escalation {
	if severity < 1 {
		severity = 1
	}
	if severity > 5 {
		severity = 5
	}
	now := g.now()
	if g.sink != nil {
		g.sink.RecordAnomaly(Anomaly{
			Kind:     kind,
			Severity: severity,
			PeerIP:   peer.IP,
			ConnID:   peer.ConnID,
			Details:  details,
			At:       now,
		})
	}

	esc := Escalation{CloseConnection: severity >= g.cfg.CloseSeverity}
	if severity >= g.cfg.BanSeverity {
		g.ban(peer.IP, now, fmt.Sprintf("severity %d %s", severity, kind))
		esc.Banned = true
		return esc
	}
	if severity >= g.cfg.CloseSeverity && peer.IP != "" {
		count := g.offenses.record(peer.IP, now, g.cfg.BanRepeatWindow)
		if count >= g.cfg.BanRepeatCount {
			g.ban(peer.IP, now, fmt.Sprintf("%d severe anomalies within %s", count, g.cfg.BanRepeatWindow))
			g.offenses.reset(peer.IP)
			esc.Banned = true
		}
	}
	return esc
}

func (g *Gate) ban(ip string, now time.Time, reason string) {
	if ip == "" {
		return
	}
	entry := g.bans.Insert(ip, now.Add(g.cfg.BanDuration), reason)
	if g.sink != nil {
		g.sink.RecordBan(entry)
	}
}

// IsBanned reports whether ip is currently banned. Consulted at accept time,
// before a connection slot is allocated.
func (g *Gate) IsBanned(ip string) bool {
	return g.bans.IsBanned(ip, g.now())
}

// Ban inserts an operator-driven ban.
func (g *Gate) Ban(ip string, d time.Duration, reason string) BanEntry {
	if d <= 0 {
		d = g.cfg.BanDuration
	}
	entry := g.bans.Insert(ip, g.now().Add(d), reason)
	if g.sink != nil {
		g.sink.RecordBan(entry)
	}
	return entry
}

// Unban lifts any ban on ip.
func (g *Gate) Unban(ip string) {
	g.bans.Remove(ip)
}

// Bans lists the active ban entries.
func (g *Gate) Bans() []BanEntry {
	return g.bans.List(g.now())
}

// SweepBans removes expired entries and stale offense history.
func (g *Gate) SweepBans() int {
	now := g.now()
	g.offenses.prune(now, g.cfg.BanRepeatWindow)
	return g.bans.Sweep(now)
}
