package api

import (
	"context"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/raidscope/raidscope/dashboard"
	"github.com/raidscope/raidscope/internal/config"
	"github.com/raidscope/raidscope/internal/display"
	"github.com/raidscope/raidscope/internal/engine"
	"github.com/raidscope/raidscope/internal/events"
	"github.com/raidscope/raidscope/internal/health"
	"github.com/raidscope/raidscope/internal/itemdb"
	"github.com/raidscope/raidscope/internal/util"
)

// Engine is the part of the decode engine the API drives.
type Engine interface {
	Snapshot() display.Snapshot
	Stats() engine.Stats
	Do(ctx context.Context, kind engine.CommandKind, arg string) error
}

// Catalog is the item database as the API uses it.
type Catalog interface {
	Search(q string, limit int) ([]itemdb.Item, error)
	SetPrice(templateID string, price int64) error
}

// Deps are the runtime components behind the routes. Engine is required;
// nil Catalog or Health disable their routes.
type Deps struct {
	Engine  Engine
	Board   *display.Board
	Catalog Catalog
	Health  interface{ Last() health.Report }
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	Version  string
}

// Server is the REST and websocket API.
type Server struct {
	cfg    *config.Config
	bus    *events.Bus
	deps   Deps
	hub    *Hub
	sys    util.SystemInfo
	logger zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer builds the router. It does not listen.
func NewServer(cfg *config.Config, bus *events.Bus, deps Deps) *Server {
	if cfg.Logging.Level == "debug" || cfg.Logging.Level == "trace" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := &Server{
		cfg:    cfg,
		bus:    bus,
		deps:   deps,
		sys:    util.GetSystemInfo(),
		logger: log.With().Str("component", "api").Logger(),
	}
	s.hub = NewHub(deps.Engine)
	if deps.Board != nil {
		deps.Board.OnPublish(s.hub.Broadcast)
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start listens on the configured port until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	s.logger.Info().Str("addr", addr).Msg("API server starting")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	router.GET("/status", s.handleStatus)
	router.GET("/ws", gin.WrapF(s.hub.Handle))

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/version", s.handleVersion)
	}

	limiter := NewRateLimiter(s.cfg.API.RateLimitRPS)
	apiGroup := router.Group("/api")
	apiGroup.Use(limiter.Middleware())
	{
		apiGroup.GET("/snapshot", s.handleSnapshot)
		apiGroup.GET("/players", s.handlePlayers)
		apiGroup.GET("/loot", s.handleLoot)
		apiGroup.GET("/stats", s.handleStats)
		apiGroup.GET("/logs", s.handleLogEntries)

		apiGroup.POST("/loot/:id/hide", s.handleHide)
		apiGroup.POST("/wanted/:template", s.handleWant)
		apiGroup.DELETE("/wanted/:template", s.handleUnwant)

		apiGroup.GET("/items", s.handleSearchItems)
		apiGroup.POST("/items/:template/price", s.handleSetPrice)

		apiGroup.GET("/config", s.handleGetConfig)
		apiGroup.POST("/config/:section", s.handleUpdateConfig)
	}

	s.mountDashboard(router)
	return router
}

// mountDashboard serves the embedded UI for every path outside /api.
func (s *Server) mountDashboard(router *gin.Engine) {
	dist, err := fs.Sub(dashboard.DistFS, "dist")
	if err != nil {
		s.logger.Warn().Err(err).Msg("dashboard assets unavailable")
		dist = nil
	}
	router.NoRoute(func(c *gin.Context) {
		p := c.Request.URL.Path
		if strings.HasPrefix(p, "/api/") || dist == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		if _, err := fs.Stat(dist, strings.TrimPrefix(p, "/")); err != nil {
			p = "/"
		}
		c.FileFromFS(p, http.FS(dist))
	})
}

// Stop gracefully stops the API server and closes websocket clients.
func (s *Server) Stop() error {
	s.hub.Close()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
