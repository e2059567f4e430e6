package security

import (
	"sync"
	"time"
)

// offenseLog tracks recent severe anomalies per IP for repeat-offender
// escalation.
type offenseLog struct {
	mu   sync.Mutex
	byIP map[string][]time.Time
}

func (l *offenseLog) init() {
	l.byIP = make(map[string][]time.Time)
}

// record appends one offense for ip at time now, drops entries older than
// window, and returns the count remaining.
func (l *offenseLog) record(ip string, now time.Time, window time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := appendPruned(l.byIP[ip], now, window)
	l.byIP[ip] = kept
	return len(kept)
}

func (l *offenseLog) reset(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byIP, ip)
}

func (l *offenseLog) prune(now time.Time, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, times := range l.byIP {
		kept := times[:0]
		for _, at := range times {
			if now.Sub(at) <= window {
				kept = append(kept, at)
			}
		}
		if len(kept) == 0 {
			delete(l.byIP, ip)
		} else {
			l.byIP[ip] = kept
		}
	}
}

func appendPruned(times []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := times[:0]
	for _, at := range times {
		if now.Sub(at) <= window {
			kept = append(kept, at)
		}
	}
	return append(kept, now)
}
