package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mwyndham/gatewire/internal/auth"
	"github.com/mwyndham/gatewire/internal/security"
)

// ConnectionInfo is one live connection slot as reported by the admin API.
type ConnectionInfo struct {
	ID           int       `json:"id"`
	State        string    `json:"state"`
	PeerIP       string    `json:"peer_ip"`
	Identity     string    `json:"identity,omitempty"`
	Encrypted    bool      `json:"encrypted"`
	LastActivity time.Time `json:"last_activity"`
}

// TransportView is the read-only surface the transport exposes to operators.
type TransportView interface {
	Snapshot() []ConnectionInfo
}

// SecurityView is the operational surface of the security gate.
type SecurityView interface {
	Bans() []security.BanEntry
	Ban(ip string, d time.Duration, reason string) security.BanEntry
	Unban(ip string)
	IsBanned(ip string) bool
}

// AdminConfig wires the admin HTTP surface.
type AdminConfig struct {
	Addr        string
	CorsOrigins []string
	Token       auth.Validator

	Transport TransportView
	Security  SecurityView
	Audit     *security.MemorySink
	Logger    zerolog.Logger
}

// AdminServer serves health, metrics, and operational endpoints.
type AdminServer struct {
	cfg   AdminConfig
	srv   *http.Server
	start time.Time
}

func NewAdminServer(cfg AdminConfig) *AdminServer {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(cfg.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "X-Admin-Token"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &AdminServer{
		cfg:   cfg,
		start: time.Now(),
		srv:   &http.Server{Addr: cfg.Addr, Handler: r},
	}
	a.registerRoutes(r)
	return a
}

func (a *AdminServer) registerRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(a.start).String(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/connections", func(c *gin.Context) {
		if a.cfg.Transport == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transport not attached"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"connections": a.cfg.Transport.Snapshot()})
	})

	r.GET("/anomalies", func(c *gin.Context) {
		if a.cfg.Audit == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit sink not attached"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"anomalies": a.cfg.Audit.Anomalies()})
	})

	r.GET("/bans", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"bans": a.cfg.Security.Bans()})
	})

	guarded := r.Group("/", TokenAuth(a.cfg.Token))

	guarded.POST("/bans", func(c *gin.Context) {
		var req struct {
			IP       string `json:"ip" binding:"required"`
			Duration string `json:"duration"`
			Reason   string `json:"reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var d time.Duration
		if req.Duration != "" {
			parsed, err := time.ParseDuration(req.Duration)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration"})
				return
			}
			d = parsed
		}
		entry := a.cfg.Security.Ban(req.IP, d, req.Reason)
		c.JSON(http.StatusOK, gin.H{"ban": entry})
	})

	guarded.DELETE("/bans/:ip", func(c *gin.Context) {
		ip := c.Param("ip")
		if !a.cfg.Security.IsBanned(ip) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not banned"})
			return
		}
		a.cfg.Security.Unban(ip)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Handler exposes the route tree for tests.
func (a *AdminServer) Handler() http.Handler {
	return a.srv.Handler
}

// Run serves until the listener fails or Shutdown is called.
func (a *AdminServer) Run() error {
	err := a.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *AdminServer) Shutdown(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost"}
	}
	return origins
}
