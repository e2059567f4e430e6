package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSAcceptor bridges websocket clients onto the reactor. Each upgraded
// connection gets a read pump goroutine feeding Reactor.Ingest, because the
// websocket library treats a read-deadline expiry as fatal and cannot join
// the tick's bounded-read cycle. Writes still flow through the tick's flush
// via the net.Conn adapter.
type WSAcceptor struct {
	r   *Reactor
	log zerolog.Logger

	srv      *http.Server
	upgrader websocket.Upgrader
}

func NewWSAcceptor(r *Reactor, log zerolog.Logger) *WSAcceptor {
	return &WSAcceptor{
		r:   r,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Start serves the upgrade endpoint on addr until Shutdown.
func (a *WSAcceptor) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: ws listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", a.handleUpgrade)
	a.srv = &http.Server{Handler: mux}
	go func() {
		if err := a.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.log.Error().Err(err).Msg("websocket acceptor stopped")
		}
	}()
	a.log.Info().Str("addr", ln.Addr().String()).Msg("websocket acceptor listening")
	return nil
}

func (a *WSAcceptor) Shutdown(ctx context.Context) error {
	if a.srv == nil {
		return nil
	}
	return a.srv.Shutdown(ctx)
}

func (a *WSAcceptor) handleUpgrade(w http.ResponseWriter, req *http.Request) {
	ws, err := a.upgrader.Upgrade(w, req, nil)
	if err != nil {
		a.log.Warn().Err(err).Str("peer", req.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	id, gen, ok := a.r.admit(&wsConn{ws: ws}, "ws", true)
	if !ok {
		return
	}
	go a.readPump(ws, id, gen)
}

// readPump moves binary messages into the slot's receive buffer. Text and
// control frames other than close are ignored; frame extraction still runs
// on the tick, so ordering and the security gate behave exactly as for TCP.
func (a *WSAcceptor) readPump(ws *websocket.Conn, id int, gen uint64) {
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			a.r.CloseConn(id, gen, "ws-read")
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if err := a.r.Ingest(id, gen, data); err != nil {
			_ = ws.Close()
			return
		}
	}
}

// wsConn adapts a websocket connection to net.Conn for the reactor's write
// path. Reads never happen here; the read pump owns the inbound side.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read([]byte) (int, error) {
	return 0, fmt.Errorf("transport: websocket connections are read via the pump")
}

func (c *wsConn) Write(b []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *wsConn) Close() error         { return c.ws.Close() }
func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(time.Time) error { return nil }

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}
