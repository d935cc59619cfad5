// Package api exposes the pipeline over HTTP: brand-facing job and
// conflict routes under /api/v1, and secret-guarded service routes under
// /internal/v1.
package api

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/threadpass/pipeline/pkg/core"
	"github.com/threadpass/pipeline/pkg/run"
	"github.com/threadpass/pipeline/pkg/source"
)

// AuthFunc authorizes a request against a brand. The default allows
// everything; deployments inject their member check here.
type AuthFunc func(c *gin.Context, brandID string) error

// Server holds the HTTP handler state.
type Server struct {
	orch      *run.Orchestrator
	secret    string
	logger    *zap.Logger
	authorize AuthFunc

	// Export sinks are kept until the result is downloaded or the
	// process restarts; exports are re-runnable, not durable artifacts.
	mu      sync.Mutex
	exports map[string]*source.Capture
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAuth injects the brand membership check.
func WithAuth(fn AuthFunc) ServerOption {
	return func(s *Server) {
		if fn != nil {
			s.authorize = fn
		}
	}
}

// NewServer creates the handler state. secret guards the internal
// routes; empty disables them.
func NewServer(orch *run.Orchestrator, secret string, logger *zap.Logger, opts ...ServerOption) *Server {
	s := &Server{
		orch:      orch,
		secret:    secret,
		logger:    logger,
		authorize: func(*gin.Context, string) error { return nil },
		exports:   make(map[string]*source.Capture),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(s.logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	brand := r.Group("/api/v1/brands/:brandID", s.requireBrand)
	{
		brand.POST("/jobs", s.submitJob)
		brand.GET("/jobs", s.listJobs)
		brand.GET("/jobs/:jobID", s.jobStatus)
		brand.POST("/jobs/:jobID/approve", s.approveJob)
		brand.POST("/jobs/:jobID/cancel", s.cancelJob)
		brand.GET("/jobs/:jobID/stream", s.streamJob)
		brand.GET("/jobs/:jobID/export", s.downloadExport)
		brand.POST("/promote", s.promote)
		brand.GET("/conflicts", s.listConflicts)
		brand.POST("/conflicts/resolve", s.resolveConflict)
	}

	internal := r.Group("/internal/v1", s.requireSecret)
	{
		internal.POST("/progress", s.emitProgress)
		internal.POST("/cleanup", s.cleanupJob)
	}

	return r
}

// writeError maps domain errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrInvalidInput),
		errors.Is(err, core.ErrEmptySource),
		errors.Is(err, core.ErrInvalidBrand),
		errors.Is(err, core.ErrInvalidSource):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrJobTerminal),
		errors.Is(err, core.ErrNoConflict),
		errors.Is(err, core.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, core.ErrUnauthorized):
		status = http.StatusForbidden
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
