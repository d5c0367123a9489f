// Package server exposes sensor entities over HTTP: Home Assistant style
// state objects, entry management, a websocket stream of state changes and
// Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/babelgas/internal/config"
	"github.com/tejusbharadwaj/babelgas/internal/entry"
	"github.com/tejusbharadwaj/babelgas/internal/metrics"
	"github.com/tejusbharadwaj/babelgas/internal/models"
	"github.com/tejusbharadwaj/babelgas/internal/sensor"
	middleware "github.com/tejusbharadwaj/babelgas/internal/server/middlewares"
)

// ServerConfig holds configuration options for the HTTP server
type ServerConfig struct {
	Addr           string
	CacheSize      int      // Size of the rendered state cache
	RateLimit      float64  // Requests per second
	RateLimitBurst int      // Maximum burst size for rate limiting
	AllowedOrigins []string // CORS origins
}

// DefaultServerConfig returns a ServerConfig with sensible defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           ":8080",
		CacheSize:      128,
		RateLimit:      5.0,
		RateLimitBurst: 10,
		AllowedOrigins: []string{"*"},
	}
}

// EntryManager is the part of entry.Manager the API needs.
type EntryManager interface {
	Setup(ctx context.Context, acct config.AccountConfig) (*entry.Entry, error)
	Unload(entryID string) error
	Update(ctx context.Context, uniqueID string) (sensor.Outcome, error)
	Entries() []*entry.Entry
	Snapshot(uniqueID string) (models.EntityState, bool)
	Snapshots() []models.EntityState
}

type entryView struct {
	EntryID  string `json:"entry_id"`
	Title    string `json:"title"`
	UniqueID string `json:"unique_id"`
	EntityID string `json:"entity_id"`
}

type Server struct {
	engine  *gin.Engine
	handler http.Handler
	http    *http.Server
	manager EntryManager
	hub     *Hub
	cache   *middleware.StateCache
	logger  *logrus.Logger
}

// SetupServer builds the router with all middleware.
func SetupServer(
	cfg ServerConfig,
	manager EntryManager,
	hub *Hub,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	logger *logrus.Logger,
) (*Server, error) {
	cache, err := middleware.NewStateCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.ContextMiddleware(),
		middleware.LoggingMiddleware(logger),
		middleware.NewMetricsMiddleware(m.Requests, m.Latency),
	)

	s := &Server{
		engine:  engine,
		manager: manager,
		hub:     hub,
		cache:   cache,
		logger:  logger,
	}

	engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	engine.GET("/api/websocket", s.websocketHandler)

	api := engine.Group("/api", middleware.RateLimitingMiddleware(cfg.RateLimit, cfg.RateLimitBurst))
	api.GET("/states", s.listStatesHandler)
	api.GET("/states/:unique_id", s.getStateHandler)
	api.POST("/states/:unique_id/update", s.updateHandler)
	api.GET("/entries", s.listEntriesHandler)
	api.POST("/entries", s.createEntryHandler)
	api.DELETE("/entries/:entry_id", s.deleteEntryHandler)

	s.handler = cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
	}).Handler(engine)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the root handler including CORS.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.http.Addr).Info("starting http server")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) render(state models.EntityState) StateObject {
	return s.cache.GetOrRender(state.UniqueID, state.Version, state.LastAttempt, func() interface{} {
		return renderState(state)
	}).(StateObject)
}

func (s *Server) renderAll() []StateObject {
	snaps := s.manager.Snapshots()
	out := make([]StateObject, len(snaps))
	for i, snap := range snaps {
		out[i] = s.render(snap)
	}
	return out
}

func (s *Server) listStatesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.renderAll())
}

func (s *Server) getStateHandler(c *gin.Context) {
	state, ok := s.manager.Snapshot(c.Param("unique_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "entity not found"})
		return
	}
	c.JSON(http.StatusOK, s.render(state))
}

func (s *Server) updateHandler(c *gin.Context) {
	uniqueID := c.Param("unique_id")
	outcome, err := s.manager.Update(c.Request.Context(), uniqueID)
	if errors.Is(err, entry.ErrEntityNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "entity not found"})
		return
	}

	state, ok := s.manager.Snapshot(uniqueID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "entity not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"outcome": outcome.String(),
		"state":   s.render(state),
	})
}

func (s *Server) listEntriesHandler(c *gin.Context) {
	entries := s.manager.Entries()
	out := make([]entryView, len(entries))
	for i, e := range entries {
		out[i] = viewEntry(e)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) createEntryHandler(c *gin.Context) {
	var acct config.AccountConfig
	if err := c.ShouldBindJSON(&acct); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	e, err := s.manager.Setup(c.Request.Context(), acct)
	switch {
	case errors.Is(err, entry.ErrInvalidCredentials):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	case errors.Is(err, entry.ErrAlreadyConfigured):
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
		return
	case err != nil:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "setup failed"})
		return
	}
	c.JSON(http.StatusCreated, viewEntry(e))
}

func (s *Server) deleteEntryHandler(c *gin.Context) {
	if err := s.manager.Unload(c.Param("entry_id")); err != nil {
		if errors.Is(err, entry.ErrEntryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "entry not found"})
			return
		}
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "unload failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) websocketHandler(c *gin.Context) {
	s.hub.ServeWS(c.Writer, c.Request, s.renderAll())
}

func viewEntry(e *entry.Entry) entryView {
	return entryView{
		EntryID:  e.ID,
		Title:    e.Title,
		UniqueID: e.Entity.UniqueID(),
		EntityID: EntityID(e.Entity.UniqueID()),
	}
}
