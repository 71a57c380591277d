// Package api exposes the local read-and-trigger HTTP surface.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/UsageDeck/internal/config"
	"github.com/router-for-me/UsageDeck/internal/provider"
	"github.com/router-for-me/UsageDeck/internal/refresh"
	"github.com/router-for-me/UsageDeck/internal/store"
	"github.com/router-for-me/UsageDeck/internal/util"
)

// Server wraps the gin engine and the underlying http.Server.
type Server struct {
	addr   string
	engine *gin.Engine
	srv    *http.Server
}

// NewServer builds the router and binds all routes.
func NewServer(addr string, configs *config.Store, st *store.Store, orchestrator *refresh.Orchestrator, registry *provider.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	handler := newHandler(configs, st, orchestrator, registry)
	RegisterRoutes(engine, handler)

	return &Server{addr: addr, engine: engine}
}

// Engine exposes the router, primarily for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	if s == nil {
		return
	}
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("api: listening on %s", s.addr)
		if errServe := s.srv.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.WithError(errServe).Error("api: server stopped")
		}
	}()
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.srv.Shutdown(ctx)
}

// RegisterRoutes binds the API routes onto the engine.
func RegisterRoutes(engine *gin.Engine, handler *Handler) {
	if engine == nil || handler == nil {
		return
	}
	engine.GET("/healthz", handler.Health)

	api := engine.Group("/api")
	api.POST("/refresh", handler.Refresh)
	api.GET("/providers", handler.Providers)
	api.GET("/providers/:id/history", handler.History)
	api.GET("/providers/:id/resets", handler.Resets)
	api.GET("/providers/:id/check", handler.Check)
	api.GET("/history/recent", handler.RecentHistory)
}

// requestLogger logs completed requests with sensitive query values masked.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		query := util.MaskSensitiveQuery(c.Request.URL.RawQuery)
		path := c.Request.URL.Path
		if query != "" {
			path = path + "?" + query
		}
		log.Debugf("api: %s %s status=%d took=%s",
			c.Request.Method, path, c.Writer.Status(), time.Since(started).Round(time.Millisecond))
	}
}
