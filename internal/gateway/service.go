// Package gateway assembles the game gateway daemon: the reactor, the
// security gate, the dispatch registry with its login and database
// handlers, the websocket acceptor, and the admin HTTP surface.
package gateway

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwyndham/gatewire/internal/auth"
	"github.com/mwyndham/gatewire/internal/config"
	"github.com/mwyndham/gatewire/internal/dblink"
	"github.com/mwyndham/gatewire/internal/dispatch"
	"github.com/mwyndham/gatewire/internal/logging"
	"github.com/mwyndham/gatewire/internal/login"
	"github.com/mwyndham/gatewire/internal/observability"
	"github.com/mwyndham/gatewire/internal/protocol"
	"github.com/mwyndham/gatewire/internal/security"
	"github.com/mwyndham/gatewire/internal/transport"
)

// Service owns the daemon lifecycle from config to shutdown.
type Service struct {
	cfg config.GatewayConfig
	log zerolog.Logger

	audit    *security.MemorySink
	gate     *security.Gate
	registry *dispatch.Registry
	reactor  *transport.Reactor
	ws       *transport.WSAcceptor
	admin    *observability.AdminServer
	db       *dblink.Client
	dbCancel context.CancelFunc
}

func NewService(cfg config.GatewayConfig) *Service {
	return &Service{cfg: cfg}
}

// Run assembles everything and blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	logging.ConfigureRuntime()
	s.log = logging.New("gateway")
	observability.RegisterMetrics()

	s.audit = security.NewMemorySink()
	sink := security.TeeSink{
		security.LogSink{Log: logging.New("audit")},
		s.audit,
	}
	s.gate = security.NewGate(s.cfg.SecurityConfig(), sink, nil)

	s.registry = dispatch.NewRegistry(logging.New("dispatch"))
	creds := auth.NewStaticCredentials(s.cfg.Accounts)
	if err := login.RegisterHandlers(s.registry, creds, logging.New("login")); err != nil {
		return err
	}
	if err := s.setupDBLink(); err != nil {
		return err
	}

	s.reactor = transport.NewReactor(s.cfg.TransportConfig(), s.gate, s.registry, logging.New("transport"), nil)
	if err := s.reactor.Start(); err != nil {
		return err
	}

	if addr := s.cfg.Gateway.WSListenAddr; addr != "" {
		s.ws = transport.NewWSAcceptor(s.reactor, logging.New("ws"))
		if err := s.ws.Start(addr); err != nil {
			s.shutdown()
			return err
		}
	}

	if s.cfg.Admin.Addr != "" {
		s.admin = observability.NewAdminServer(observability.AdminConfig{
			Addr:        s.cfg.Admin.Addr,
			CorsOrigins: s.cfg.Admin.CorsOrigins,
			Token:       auth.StaticToken{Token: s.cfg.Admin.Token},
			Transport:   s.reactor.Table(),
			Security:    s.gate,
			Audit:       s.audit,
			Logger:      logging.New("admin"),
		})
		go func() {
			if err := s.admin.Run(); err != nil {
				s.log.Error().Err(err).Msg("admin server stopped")
			}
		}()
	}

	s.log.Info().Str("name", s.cfg.Name).Msg("gateway up")
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	s.log.Info().Str("signal", sig.String()).Msg("shutting down")
	s.shutdown()
	return nil
}

// setupDBLink starts the upstream link and registers the forwarding
// handlers when the config names a database address.
func (s *Service) setupDBLink() error {
	if s.cfg.DBLink.Addr == "" {
		return nil
	}
	dbCfg, err := s.cfg.DBLinkConfig()
	if err != nil {
		return err
	}
	client, err := dblink.NewClient(dbCfg, logging.New("dblink"))
	if err != nil {
		return err
	}
	s.db = client
	ctx, cancel := context.WithCancel(context.Background())
	s.dbCancel = cancel
	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("database link gave up")
		}
	}()
	return registerDBHandlers(s.registry, client)
}

// registerDBHandlers forwards the database opcodes from authenticated
// clients over the link and relays the reply on the same connection.
func registerDBHandlers(registry *dispatch.Registry, client *dblink.Client) error {
	forward := func(c dispatch.Conn, opcode uint16, payload []byte) error {
		if c.Identity() == "" {
			c.Close()
			return nil
		}
		// The call is correlated and may wait out its timeout; waiting on a
		// goroutine keeps the process worker ticking. Send re-validates the
		// slot, so a reply for a closed connection lands nowhere.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			reply, err := client.Call(ctx, opcode, payload)
			if err != nil {
				return
			}
			_ = c.Send(protocol.OpDBReply, reply)
		}()
		return nil
	}
	for _, opcode := range []uint16{protocol.OpDBPing, protocol.OpDBAccountLoad, protocol.OpDBAccountSave} {
		if err := registry.Register(opcode, forward); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.ws != nil {
		_ = s.ws.Shutdown(ctx)
	}
	if s.reactor != nil {
		s.reactor.Stop()
	}
	if s.admin != nil {
		_ = s.admin.Shutdown(ctx)
	}
	if s.dbCancel != nil {
		s.dbCancel()
	}
}
