package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/mwyndham/gatewire/internal/crypt"
	"github.com/mwyndham/gatewire/internal/dblink"
	"github.com/mwyndham/gatewire/internal/security"
	"github.com/mwyndham/gatewire/internal/transport"
)

// TransportConfig maps the [gateway] section onto the reactor's knobs.
// Zero values fall through to the reactor's own defaults.
func (c GatewayConfig) TransportConfig() transport.Config {
	g := c.Gateway
	out := transport.Config{
		ListenAddr:   g.ListenAddr,
		Capacity:     g.Capacity,
		TickInterval: time.Duration(g.TickMillis) * time.Millisecond,
		ReadWait:     time.Duration(g.ReadWaitMs) * time.Millisecond,
		WriteWait:    time.Duration(g.WriteWaitMs) * time.Millisecond,
		IdleTimeout:  time.Duration(g.IdleTimeoutS) * time.Second,
	}
	if strings.EqualFold(strings.TrimSpace(g.Cipher), "xtea") {
		out.Cipher = crypt.XTEACipher{}
	} else {
		out.Cipher = crypt.ShuffleCipher{}
	}
	return out
}

// SecurityConfig maps the [security] section onto the gate's knobs.
func (c GatewayConfig) SecurityConfig() security.Config {
	s := c.Security
	return security.Config{
		StampTolerance:  time.Duration(s.StampToleranceS) * time.Second,
		CloseSeverity:   s.CloseSeverity,
		BanSeverity:     s.BanSeverity,
		BanRepeatCount:  s.BanRepeatCount,
		BanRepeatWindow: time.Duration(s.BanRepeatWinS) * time.Second,
		BanDuration:     time.Duration(s.BanDurationMin) * time.Minute,
	}
}

// DBLinkConfig maps the [dblink] section, building the TLS client config
// when the section enables it.
func (c GatewayConfig) DBLinkConfig() (dblink.Config, error) {
	d := c.DBLink
	out := dblink.Config{
		Addr:               d.Addr,
		ConnectTimeout:     time.Duration(d.ConnectTimeoutS) * time.Second,
		CallTimeout:        time.Duration(d.CallTimeoutMs) * time.Millisecond,
		MaxConnectAttempts: d.MaxConnectAttempts,
	}
	if !d.TLS.Enabled {
		return out, nil
	}
	tlsCfg, err := clientTLS(d.Addr, d.TLS)
	if err != nil {
		return dblink.Config{}, err
	}
	out.TLS = tlsCfg
	return out, nil
}

func clientTLS(addr string, cfg TLSConfig) (*tls.Config, error) {
	out := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(cfg.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	out.ServerName = serverName

	if caPath := strings.TrimSpace(cfg.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("config: parse tls ca bundle: %s", caPath)
		}
		out.RootCAs = pool
	}

	if cfg.Mutual {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}
