package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwyndham/gatewire/internal/auth"
	"github.com/mwyndham/gatewire/internal/security"
)

type stubTransport struct {
	conns []ConnectionInfo
}

func (s stubTransport) Snapshot() []ConnectionInfo { return s.conns }

type stubSecurity struct {
	bans map[string]security.BanEntry
}

func (s *stubSecurity) Bans() []security.BanEntry {
	out := make([]security.BanEntry, 0, len(s.bans))
	for _, b := range s.bans {
		out = append(out, b)
	}
	return out
}

func (s *stubSecurity) Ban(ip string, d time.Duration, reason string) security.BanEntry {
	entry := security.BanEntry{IP: ip, Expiry: time.Now().Add(d), Reason: reason}
	s.bans[ip] = entry
	return entry
}

func (s *stubSecurity) Unban(ip string) { delete(s.bans, ip) }

func (s *stubSecurity) IsBanned(ip string) bool {
	_, ok := s.bans[ip]
	return ok
}

func newTestAdmin(t *testing.T) (*AdminServer, *stubSecurity) {
	t.Helper()
	sec := &stubSecurity{bans: make(map[string]security.BanEntry)}
	srv := NewAdminServer(AdminConfig{
		Addr:  ":0",
		Token: auth.StaticToken{Token: "testtoken"},
		Transport: stubTransport{conns: []ConnectionInfo{{
			ID:     3,
			State:  "authenticated",
			PeerIP: "192.0.2.1",
		}}},
		Security: sec,
		Audit:    security.NewMemorySink(),
		Logger:   zerolog.Nop(),
	})
	return srv, sec
}

func do(t *testing.T, srv *AdminServer, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("X-Admin-Token", token)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestAdminHealth(t *testing.T) {
	srv, _ := newTestAdmin(t)
	w := do(t, srv, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
}

func TestAdminConnections(t *testing.T) {
	srv, _ := newTestAdmin(t)
	w := do(t, srv, http.MethodGet, "/connections", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /connections = %d", w.Code)
	}
	var resp struct {
		Connections []ConnectionInfo `json:"connections"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Connections) != 1 || resp.Connections[0].PeerIP != "192.0.2.1" {
		t.Fatalf("connections = %+v", resp.Connections)
	}
}

func TestAdminBanLifecycle(t *testing.T) {
	srv, sec := newTestAdmin(t)

	// Mutations demand the token.
	w := do(t, srv, http.MethodPost, "/bans", "", `{"ip":"203.0.113.5"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("POST /bans without token = %d", w.Code)
	}
	w = do(t, srv, http.MethodPost, "/bans", "wrong", `{"ip":"203.0.113.5"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("POST /bans with bad token = %d", w.Code)
	}

	w = do(t, srv, http.MethodPost, "/bans", "testtoken", `{"ip":"203.0.113.5","duration":"10m","reason":"probe"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /bans = %d body=%s", w.Code, w.Body)
	}
	if !sec.IsBanned("203.0.113.5") {
		t.Fatal("ban not applied")
	}

	w = do(t, srv, http.MethodGet, "/bans", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "203.0.113.5") {
		t.Fatalf("GET /bans = %d body=%s", w.Code, w.Body)
	}

	w = do(t, srv, http.MethodDelete, "/bans/203.0.113.5", "testtoken", "")
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE /bans = %d", w.Code)
	}
	if sec.IsBanned("203.0.113.5") {
		t.Fatal("ban not lifted")
	}

	w = do(t, srv, http.MethodDelete, "/bans/203.0.113.5", "testtoken", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("DELETE of missing ban = %d", w.Code)
	}
}

func TestAdminBadBanRequests(t *testing.T) {
	srv, _ := newTestAdmin(t)
	w := do(t, srv, http.MethodPost, "/bans", "testtoken", `{"duration":"10m"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("POST /bans without ip = %d", w.Code)
	}
	w = do(t, srv, http.MethodPost, "/bans", "testtoken", `{"ip":"203.0.113.5","duration":"soon"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("POST /bans with bad duration = %d", w.Code)
	}
}
