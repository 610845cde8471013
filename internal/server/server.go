package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quic-go/quic-go/http3"

	"github.com/parleyhq/parley/internal/arena"
	"github.com/parleyhq/parley/internal/audience"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/database"
	"github.com/parleyhq/parley/internal/events"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/ranking"
	"github.com/parleyhq/parley/internal/resilience"
)

// MaxBodyBytes caps REST request bodies.
const MaxBodyBytes = 1 << 20

// Deps carries the server's collaborators. Store handles may be nil in
// reduced deployments; their endpoints answer 503.
type Deps struct {
	Agents   map[string]arena.Debater
	Breaker  *resilience.Breaker
	Registry *events.Registry
	Inbox    *audience.Inbox
	Ledger   *ranking.Ledger
	Archive  *database.ArchiveStore
	Memory   *database.MemoryStore
	Webhooks *database.WebhookStore
}

// Server is the HTTP + WebSocket front of the debate system.
type Server struct {
	config   config.Config
	router   *gin.Engine
	auth     *auth.Auth
	hub      *Hub
	limiter  *audience.ClientLimiter
	debates  *debateManager
	agents   map[string]arena.Debater
	breaker  *resilience.Breaker
	registry *events.Registry
	inbox    *audience.Inbox
	ledger   *ranking.Ledger
	archive  *database.ArchiveStore
	memory   *database.MemoryStore
	webhooks *database.WebhookStore

	httpSrv *http.Server
}

// NewServer wires routes, middleware and the WebSocket hub.
func NewServer(cfg config.Config, deps Deps) *Server {
	if deps.Breaker == nil {
		deps.Breaker = resilience.NewBreaker(resilience.DefaultBreakerConfig())
	}
	if deps.Registry == nil {
		deps.Registry = events.NewRegistry()
	}
	if deps.Inbox == nil {
		deps.Inbox = audience.NewInbox()
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config:   cfg,
		router:   router,
		auth:     auth.New(auth.Config{JWTSecret: cfg.JWTSecret, APIKeyHash: cfg.APIKeyHash}),
		limiter:  audience.NewClientLimiter(cfg.AudienceRatePerMinute, cfg.AudienceBurst),
		agents:   deps.Agents,
		breaker:  deps.Breaker,
		registry: deps.Registry,
		inbox:    deps.Inbox,
		ledger:   deps.Ledger,
		archive:  deps.Archive,
		memory:   deps.Memory,
		webhooks: deps.Webhooks,
	}
	s.hub = newHub(s)
	s.debates = newDebateManager(s)

	router.Use(s.requestLogger())
	router.Use(s.corsMiddleware())
	s.setupRoutes()
	return s
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	api.GET("/health", s.handleHealth)

	api.GET("/debates", s.handleListDebates)
	api.GET("/debates/:id", s.handleGetDebate)
	api.GET("/debates/:id/export", s.handleExportDebate)
	api.POST("/debates", s.requireAuth(), s.handleStartDebate)
	api.DELETE("/debates/:id", s.requireAuth(), s.handleCancelDebate)

	api.GET("/agents", s.handleListAgents)

	api.GET("/leaderboard", s.handleLeaderboard)
	api.GET("/matches/recent", s.handleRecentMatches)
	api.GET("/matches/agent/:name", s.handleAgentMatches)

	api.GET("/insights/recent", s.handleRecentInsights)
	api.GET("/memory/tier-stats", s.handleMemoryTierStats)

	api.GET("/flips/summary", s.handleFlipSummary)
	api.GET("/flips/recent", s.handleRecentFlips)

	api.POST("/webhooks/:source", s.requireAuth(), s.handleWebhook)
}

// corsMiddleware applies the shared origin allowlist to REST responses.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.config.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.LogHTTPRequest(c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), nil)
	}
}

// Start serves HTTP on the configured address, plus HTTP/3 when an
// address and TLS material are configured. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.config.ServerAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.config.HTTP3Addr != "" && s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		h3 := &http3.Server{Addr: s.config.HTTP3Addr, Handler: s.router}
		go func() {
			if err := h3.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile); err != nil {
				logging.Error("http3 listener stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	logging.Info("server listening", map[string]interface{}{"addr": s.config.ServerAddr})
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and cancels running debates.
func (s *Server) Shutdown(ctx context.Context) error {
	s.debates.CancelAll()
	s.hub.Close()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
