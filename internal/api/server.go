// Package api exposes the HTTP surface: job submission and status, media
// resolution, the streaming proxy, health and metrics.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/techask2021/fsmvid-sub005/internal/config"
	"github.com/techask2021/fsmvid-sub005/internal/job"
	"github.com/techask2021/fsmvid-sub005/internal/observability"
	"github.com/techask2021/fsmvid-sub005/internal/proxy"
)

// JobReader fetches jobs for status polling.
type JobReader interface {
	Get(ctx context.Context, id string) (*job.Job, error)
}

// Submitter accepts bulk job submissions.
type Submitter interface {
	Submit(ctx context.Context, userID string, urls []string, quality, format string) (*job.Job, error)
}

// BalanceReader reports a user's current credit balance.
type BalanceReader interface {
	Balance(ctx context.Context, userID string) (int, error)
}

// Server is the HTTP API server.
type Server struct {
	cfg       config.HTTPConfig
	engine    *gin.Engine
	submitter Submitter
	jobs      JobReader
	credits   BalanceReader
	resolver  Resolver
	proxy     *proxy.Proxy
	logger    observability.Logger
	metrics   observability.Metrics

	httpServer *http.Server
}

// NewServer wires the routes and middleware.
func NewServer(
	cfg *config.Config,
	submitter Submitter,
	jobs JobReader,
	credits BalanceReader,
	mediaResolver Resolver,
	streamProxy *proxy.Proxy,
	logger observability.Logger,
	metrics observability.Metrics,
) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       cfg.HTTP,
		submitter: submitter,
		jobs:      jobs,
		credits:   credits,
		resolver:  mediaResolver,
		proxy:     streamProxy,
		logger:    logger.WithFields(map[string]interface{}{"component": "api"}),
		metrics:   metrics.WithTags(map[string]string{"component": "api"}),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.requestLogger())

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/api")
	{
		v1.POST("/jobs", s.handleCreateJob)
		v1.GET("/jobs/:id", s.handleGetJob)
		v1.GET("/credits", s.handleGetCredits)
		v1.POST("/resolve", s.handleResolve)
		v1.GET("/proxy", s.handleProxy)
	}

	s.engine = engine
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		s.metrics.IncrementCounter("http.requests", map[string]string{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": strconv.Itoa(status),
		})
		s.metrics.RecordHistogram("http.request.duration_seconds", duration.Seconds(), map[string]string{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		})

		s.logger.Info("request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", duration.Milliseconds())
	}
}
