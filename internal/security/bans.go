package security

import (
	"sort"
	"sync"
	"time"
)

// BanEntry is one timed IP ban.
type BanEntry struct {
	IP     string    `json:"ip"`
	Expiry time.Time `json:"expiry"`
	Reason string    `json:"reason"`
}

// BanTable holds timed IP bans behind its own lock. Expired entries are
// ignored by lookups and removed by Sweep.
type BanTable struct {
	mu      sync.RWMutex
	entries map[string]BanEntry
}

func NewBanTable() *BanTable {
	return &BanTable{entries: make(map[string]BanEntry)}
}

// Insert records a ban for ip until expiry. A later expiry for an already
// banned ip extends the ban; an earlier one is ignored.
func (t *BanTable) Insert(ip string, expiry time.Time, reason string) BanEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := BanEntry{IP: ip, Expiry: expiry, Reason: reason}
	if cur, ok := t.entries[ip]; ok && cur.Expiry.After(expiry) {
		return cur
	}
	t.entries[ip] = entry
	return entry
}

// IsBanned reports whether ip is banned at time now.
func (t *BanTable) IsBanned(ip string, now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[ip]
	return ok && entry.Expiry.After(now)
}

// Remove lifts the ban for ip, if any.
func (t *BanTable) Remove(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, ip)
}

// Sweep drops every entry whose expiry has elapsed and returns the number
// removed.
func (t *BanTable) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for ip, entry := range t.entries {
		if !entry.Expiry.After(now) {
			delete(t.entries, ip)
			removed++
		}
	}
	return removed
}

// List returns active entries sorted by IP.
func (t *BanTable) List(now time.Time) []BanEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]BanEntry, 0, len(t.entries))
	for _, entry := range t.entries {
		if entry.Expiry.After(now) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}
