package dblink

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZhangGuangxu/netbuffer"

	"github.com/mwyndham/gatewire/internal/observability"
	"github.com/mwyndham/gatewire/internal/protocol"
)

var ErrAddressRequired = errors.New("dblink: address required")

// Config tunes the upstream database link.
type Config struct {
	Addr               string
	ConnectTimeout     time.Duration
	CallTimeout        time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig

	// TLS, when non-nil, wraps the link; the gateway to database hop often
	// crosses host boundaries.
	TLS *tls.Config
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = defaultBackoff()
	}
	return c
}

// Client is the gateway side of the database link. Run owns the connection:
// it dials, pumps frames both ways, and reconnects with backoff when the
// link drops. Calls may arrive from any goroutine.
type Client struct {
	cfg  Config
	log  zerolog.Logger
	corr *Correlator
	rng  *rand.Rand

	out       chan []byte
	connected atomic.Bool

	mu   sync.Mutex
	conn net.Conn
}

func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, ErrAddressRequired
	}
	cfg = cfg.withDefaults()
	return &Client{
		cfg:  cfg,
		log:  log,
		corr: NewCorrelator(cfg.CallTimeout, nil),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		out:  make(chan []byte, 256),
	}, nil
}

// Run drives the link until ctx is cancelled. It returns the dial error
// when the attempt limit is exhausted, otherwise ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	defer c.corr.FailAll(ErrLinkDown)
	for {
		conn, err := c.connect(ctx)
		if err != nil {
			return err
		}
		c.setConn(conn)
		c.log.Info().Str("addr", c.cfg.Addr).Msg("database link up")

		err = c.serve(ctx, conn)
		c.setConn(nil)
		failed := c.corr.FailAll(ErrLinkDown)
		observability.SetDBLinkInflight(0)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Int("failed_calls", failed).Msg("database link lost")
	}
}

func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	var attempt int
	for {
		attempt++
		conn, err := c.dial(ctx)
		if err == nil {
			return conn, nil
		}
		c.log.Warn().Int("attempt", attempt).Str("addr", c.cfg.Addr).Err(err).Msg("database link dial failed")
		if c.cfg.MaxConnectAttempts > 0 && attempt >= c.cfg.MaxConnectAttempts {
			return nil, fmt.Errorf("dblink: connect %s: %w", c.cfg.Addr, err)
		}
		delay := nextBackoffDelay(c.cfg.Backoff, attempt, c.rng)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return nil, err
	}
	if c.cfg.TLS == nil {
		return conn, nil
	}
	tlsConn := tls.Client(conn, c.cfg.TLS)
	handshakeCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// serve pumps one live connection: a writer goroutine drains the outbound
// queue, the read loop extracts reply frames, and a sweeper enforces call
// deadlines. Returns when the socket fails or ctx is cancelled.
func (c *Client) serve(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop(serveCtx, conn)
	}()
	go func() {
		defer wg.Done()
		c.sweepLoop(serveCtx)
	}()

	err := c.readLoop(conn)
	cancel()
	_ = conn.Close()
	wg.Wait()
	return err
}

func (c *Client) writeLoop(ctx context.Context, conn net.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case wire := <-c.out:
			if _, err := conn.Write(wire); err != nil {
				return
			}
		}
	}
}

func (c *Client) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.corr.SweepTimeouts()
			observability.SetDBLinkInflight(c.corr.Pending())
		}
	}
}

func (c *Client) readLoop(conn net.Conn) error {
	buf := netbuffer.NewBuffer()
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf.Append(chunk[:n])
			if derr := c.drain(buf); derr != nil {
				return derr
			}
		}
		if err != nil {
			return err
		}
	}
}

func (c *Client) drain(buf *netbuffer.Buffer) error {
	for {
		frame, consumed, err := protocol.TryDecode(buf.PeekAllAsByteSlice())
		if err != nil {
			// The link speaks only to our own daemon; a framing error means
			// the stream is unusable, so drop the connection and redial.
			return err
		}
		if frame == nil {
			return nil
		}
		buf.Retrieve(consumed)
		seq, body, err := ReadSeq(frame.Payload)
		if err != nil {
			c.log.Warn().Uint16("opcode", frame.Header.Opcode).Msg("reply without sequence prefix")
			continue
		}
		if !c.corr.Resolve(seq, body) {
			// Settled by timeout before the reply landed.
			c.log.Debug().Uint32("seq", seq).Msg("late reply dropped")
		}
	}
}

func (c *Client) setConn(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(conn != nil)
}

// Connected reports whether the link currently has a live connection.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Call issues one correlated request and blocks for the reply, the call
// timeout, or ctx, whichever settles first.
func (c *Client) Call(ctx context.Context, opcode uint16, payload []byte) ([]byte, error) {
	if !c.connected.Load() {
		observability.RecordDBLinkCall("link-down", 0)
		return nil, ErrLinkDown
	}
	start := time.Now()
	seq, wait := c.corr.Register(opcode)

	wire, err := protocol.Encode(opcode, AppendSeq(seq, payload), uint32(start.Unix()))
	if err != nil {
		c.corr.Resolve(seq, nil)
		return nil, err
	}
	select {
	case c.out <- wire:
	case <-ctx.Done():
		c.corr.Resolve(seq, nil)
		return nil, ctx.Err()
	}

	select {
	case res := <-wait:
		outcome := "ok"
		if res.err != nil {
			outcome = "error"
			if errors.Is(res.err, ErrCallTimeout) {
				outcome = "timeout"
			}
		}
		observability.RecordDBLinkCall(outcome, time.Since(start))
		return res.payload, res.err
	case <-ctx.Done():
		c.corr.Resolve(seq, nil)
		observability.RecordDBLinkCall("cancelled", time.Since(start))
		return nil, ctx.Err()
	}
}

// Ping round-trips an empty body for liveness checks.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, protocol.OpDBPing, nil)
	return err
}

// LoadAccount fetches the stored blob for account.
func (c *Client) LoadAccount(ctx context.Context, account string) ([]byte, error) {
	return c.Call(ctx, protocol.OpDBAccountLoad, protocol.AppendString(nil, account))
}

// SaveAccount stores blob under account.
func (c *Client) SaveAccount(ctx context.Context, account string, blob []byte) error {
	req := protocol.AppendString(nil, account)
	req = append(req, blob...)
	_, err := c.Call(ctx, protocol.OpDBAccountSave, req)
	return err
}
