package security

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AnomalyKind names one class of rejected or suspicious inbound event.
type AnomalyKind string

const (
	AnomalyInvalidOpcode  AnomalyKind = "invalid-opcode"
	AnomalyInvalidSize    AnomalyKind = "invalid-size"
	AnomalyStaleStamp     AnomalyKind = "stale-stamp"
	AnomalyFutureStamp    AnomalyKind = "future-stamp"
	AnomalyChecksum       AnomalyKind = "checksum-mismatch"
	AnomalyUnknownOpcode  AnomalyKind = "unknown-opcode"
	AnomalyHandlerPanic   AnomalyKind = "handler-panic"
	AnomalyBufferOverflow AnomalyKind = "buffer-overflow"
	AnomalyBannedAttempt  AnomalyKind = "banned-connect-attempt"
)

// Anomaly is one recorded suspicious event.
type Anomaly struct {
	Kind     AnomalyKind `json:"kind"`
	Severity int         `json:"severity"`
	PeerIP   string      `json:"peer_ip"`
	ConnID   int         `json:"conn_id"`
	Details  string      `json:"details"`
	At       time.Time   `json:"at"`
}

// AuditSink receives anomaly and ban records for persistence or operator
// review. Implementations must be safe for concurrent use.
type AuditSink interface {
	RecordAnomaly(a Anomaly)
	RecordBan(b BanEntry)
}

// LogSink writes audit records to a structured logger.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) RecordAnomaly(a Anomaly) {
	s.Log.Warn().
		Str("kind", string(a.Kind)).
		Int("severity", a.Severity).
		Str("peer_ip", a.PeerIP).
		Int("conn_id", a.ConnID).
		Str("details", a.Details).
		Msg("anomaly")
}

func (s LogSink) RecordBan(b BanEntry) {
	s.Log.Warn().
		Str("ip", b.IP).
		Time("expiry", b.Expiry).
		Str("reason", b.Reason).
		Msg("ip_banned")
}

// MemorySink retains records in memory for tests and the admin API.
type MemorySink struct {
	mu        sync.RWMutex
	anomalies []Anomaly
	bans      []BanEntry
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) RecordAnomaly(a Anomaly) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies = append(s.anomalies, a)
}

func (s *MemorySink) RecordBan(b BanEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bans = append(s.bans, b)
}

func (s *MemorySink) Anomalies() []Anomaly {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Anomaly, len(s.anomalies))
	copy(out, s.anomalies)
	return out
}

func (s *MemorySink) Bans() []BanEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BanEntry, len(s.bans))
	copy(out, s.bans)
	return out
}

// TeeSink fans records out to several sinks.
type TeeSink []AuditSink

func (t TeeSink) RecordAnomaly(a Anomaly) {
	for _, s := range t {
		s.RecordAnomaly(a)
	}
}

func (t TeeSink) RecordBan(b BanEntry) {
	for _, s := range t {
		s.RecordBan(b)
	}
}
