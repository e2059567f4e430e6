// Package config loads and validates the TOML configuration for the
// gateway and database probe daemons.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type GatewayConfig struct {
	Name string `toml:"name"`

	Gateway  GatewaySection    `toml:"gateway"`
	Security SecuritySection   `toml:"security"`
	Admin    AdminSection      `toml:"admin"`
	DBLink   DBLinkSection     `toml:"dblink"`
	Accounts map[string]string `toml:"accounts"`
}

type GatewaySection struct {
	ListenAddr   string `toml:"listen_addr"`
	WSListenAddr string `toml:"ws_listen_addr"`
	Capacity     int    `toml:"capacity"`
	TickMillis   int    `toml:"tick_ms"`
	ReadWaitMs   int    `toml:"read_wait_ms"`
	WriteWaitMs  int    `toml:"write_wait_ms"`
	IdleTimeoutS int    `toml:"idle_timeout_s"`
	Cipher       string `toml:"cipher"`
}

type SecuritySection struct {
	StampToleranceS int `toml:"stamp_tolerance_s"`
	CloseSeverity   int `toml:"close_severity"`
	BanSeverity     int `toml:"ban_severity"`
	BanRepeatCount  int `toml:"ban_repeat_count"`
	BanRepeatWinS   int `toml:"ban_repeat_window_s"`
	BanDurationMin  int `toml:"ban_duration_min"`
}

type AdminSection struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

type DBLinkSection struct {
	Addr               string    `toml:"addr"`
	ConnectTimeoutS    int       `toml:"connect_timeout_s"`
	CallTimeoutMs      int       `toml:"call_timeout_ms"`
	MaxConnectAttempts int       `toml:"max_connect_attempts"`
	SecurityMode       string    `toml:"security_mode"`
	TLS                TLSConfig `toml:"tls"`
}

type TLSConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	ServerName         string `toml:"server_name"`
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
}

func LoadGatewayConfig(path string) (GatewayConfig, error) {
	var cfg GatewayConfig
	if err := loadToml(path, &cfg); err != nil {
		return GatewayConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "gatewire"
	}
	if cfg.Gateway.ListenAddr == "" {
		cfg.Gateway.ListenAddr = ":7171"
	}
	if cfg.Gateway.Cipher == "" {
		cfg.Gateway.Cipher = "shuffle"
	}
	if err := ValidateGatewayConfig(cfg); err != nil {
		return GatewayConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateGatewayConfig(cfg GatewayConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("gateway config missing name")
	}
	if strings.TrimSpace(cfg.Gateway.ListenAddr) == "" {
		return fmt.Errorf("gateway config missing listen_addr")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Gateway.Cipher)) {
	case "shuffle", "xtea":
	default:
		return fmt.Errorf("gateway config unknown cipher: %q", cfg.Gateway.Cipher)
	}
	if cfg.Gateway.Capacity < 0 {
		return fmt.Errorf("gateway config capacity must not be negative")
	}
	if cfg.Admin.Addr != "" && strings.TrimSpace(cfg.Admin.Token) == "" {
		return fmt.Errorf("admin api enabled without a token")
	}
	if cfg.DBLink.Addr != "" {
		if err := ValidateDBLink(cfg.DBLink); err != nil {
			return err
		}
	}
	return nil
}

func ValidateDBLink(cfg DBLinkSection) error {
	mode := strings.ToLower(strings.TrimSpace(cfg.SecurityMode))
	switch mode {
	case "", "development", "production":
	default:
		return fmt.Errorf("dblink config invalid security_mode: %q", cfg.SecurityMode)
	}
	if mode == "production" {
		if !cfg.TLS.Enabled {
			return fmt.Errorf("dblink production mode requires tls")
		}
		if !cfg.TLS.Mutual {
			return fmt.Errorf("dblink production mode requires mutual tls")
		}
		if cfg.TLS.InsecureSkipVerify {
			return fmt.Errorf("dblink production mode forbids insecure_skip_verify")
		}
	}
	if cfg.TLS.Mutual && !cfg.TLS.Enabled {
		return fmt.Errorf("dblink mutual tls requires tls enabled")
	}
	if cfg.TLS.Enabled && strings.TrimSpace(cfg.TLS.CAFile) == "" && !cfg.TLS.InsecureSkipVerify {
		return fmt.Errorf("dblink tls requires ca_file")
	}
	if cfg.TLS.Mutual {
		if strings.TrimSpace(cfg.TLS.CertFile) == "" {
			return fmt.Errorf("dblink mutual tls requires cert_file")
		}
		if strings.TrimSpace(cfg.TLS.KeyFile) == "" {
			return fmt.Errorf("dblink mutual tls requires key_file")
		}
	}
	return nil
}
