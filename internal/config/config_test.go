package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mwyndham/gatewire/internal/crypt"
	"github.com/mwyndham/gatewire/internal/testutil/tlstest"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatewire.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadGatewayConfig(t *testing.T) {
	path := writeConfig(t, `name = "edge-gw"

[gateway]
listen_addr = ":7171"
capacity = 100
tick_ms = 10
idle_timeout_s = 30
cipher = "xtea"

[security]
stamp_tolerance_s = 15
ban_duration_min = 5

[admin]
addr = ":9090"
token = "secret"

[dblink]
addr = "localhost:7173"
call_timeout_ms = 250

[accounts]
keeper = "hunter2"
`)
	cfg, err := LoadGatewayConfig(path)
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.Name != "edge-gw" {
		t.Fatalf("name = %q", cfg.Name)
	}
	if cfg.Accounts["keeper"] != "hunter2" {
		t.Fatalf("accounts = %v", cfg.Accounts)
	}

	tr := cfg.TransportConfig()
	if tr.ListenAddr != ":7171" || tr.Capacity != 100 {
		t.Fatalf("transport config = %+v", tr)
	}
	if tr.TickInterval != 10*time.Millisecond || tr.IdleTimeout != 30*time.Second {
		t.Fatalf("transport durations = %+v", tr)
	}
	if _, ok := tr.Cipher.(crypt.XTEACipher); !ok {
		t.Fatalf("cipher = %T, want XTEACipher", tr.Cipher)
	}

	sec := cfg.SecurityConfig()
	if sec.StampTolerance != 15*time.Second || sec.BanDuration != 5*time.Minute {
		t.Fatalf("security config = %+v", sec)
	}

	db, err := cfg.DBLinkConfig()
	if err != nil {
		t.Fatalf("DBLinkConfig: %v", err)
	}
	if db.Addr != "localhost:7173" || db.CallTimeout != 250*time.Millisecond {
		t.Fatalf("dblink config = %+v", db)
	}
	if db.TLS != nil {
		t.Fatal("tls config built without tls enabled")
	}
}

func TestLoadGatewayConfigDefaults(t *testing.T) {
	cfg, err := LoadGatewayConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.Name != "gatewire" || cfg.Gateway.ListenAddr != ":7171" || cfg.Gateway.Cipher != "shuffle" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadGatewayConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			"unknown cipher",
			"[gateway]\ncipher = \"rot13\"\n",
			"unknown cipher",
		},
		{
			"admin without token",
			"[admin]\naddr = \":9090\"\n",
			"without a token",
		},
		{
			"bad security mode",
			"[dblink]\naddr = \"localhost:7173\"\nsecurity_mode = \"paranoid\"\n",
			"security_mode",
		},
		{
			"production without tls",
			"[dblink]\naddr = \"localhost:7173\"\nsecurity_mode = \"production\"\n",
			"requires tls",
		},
		{
			"mutual without cert",
			"[dblink]\naddr = \"localhost:7173\"\n[dblink.tls]\nenabled = true\nmutual = true\nca_file = \"ca.pem\"\n",
			"cert_file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadGatewayConfig(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDBLinkConfigMutualTLS(t *testing.T) {
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "gatewire-test-ca")
	certPath, keyPath := ca.IssueClientCert(t, dir, "gateway")

	cfg := GatewayConfig{
		DBLink: DBLinkSection{
			Addr:         "db.internal:7173",
			SecurityMode: "production",
			TLS: TLSConfig{
				Enabled:  true,
				Mutual:   true,
				CAFile:   ca.CAFile(),
				CertFile: certPath,
				KeyFile:  keyPath,
			},
		},
	}
	if err := ValidateDBLink(cfg.DBLink); err != nil {
		t.Fatalf("ValidateDBLink: %v", err)
	}
	db, err := cfg.DBLinkConfig()
	if err != nil {
		t.Fatalf("DBLinkConfig: %v", err)
	}
	if db.TLS == nil {
		t.Fatal("tls config not built")
	}
	if db.TLS.ServerName != "db.internal" {
		t.Fatalf("server name = %q, want db.internal", db.TLS.ServerName)
	}
	if db.TLS.RootCAs == nil {
		t.Fatal("ca pool not loaded")
	}
	if len(db.TLS.Certificates) != 1 {
		t.Fatalf("client certificates = %d, want 1", len(db.TLS.Certificates))
	}
}

func TestTemplateLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatewire.toml")
	if err := WriteTemplate(path, "gateway", false); err != nil {
		t.Fatalf("WriteTemplate: %v", err)
	}
	if err := WriteTemplate(path, "gateway", false); err == nil {
		t.Fatal("overwrite without flag accepted")
	}
	if _, err := LoadGatewayConfig(path); err != nil {
		t.Fatalf("template does not load: %v", err)
	}
	if _, err := Template("mystery"); err == nil {
		t.Fatal("unknown template kind accepted")
	}
}
