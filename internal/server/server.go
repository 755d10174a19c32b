// Package server exposes the detection pipeline and the detection history
// over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gzhole/aidetect/internal/detector"
	"github.com/gzhole/aidetect/internal/history"
	"github.com/gzhole/aidetect/internal/logger"
)

const (
	DefaultMaxBodyBytes = 1 << 20
	defaultListLimit    = 20
	maxListLimit        = 500
	shutdownTimeout     = 5 * time.Second
)

// CapabilityResolver returns the capability for a provider name. An empty
// name selects the configured default, which may be nil.
type CapabilityResolver func(provider string) (detector.Capability, error)

// ModelStatus is the part of the model classifier the health and reload
// routes use.
type ModelStatus interface {
	State() detector.State
	HasDependencies() bool
	Reinitialize(ctx context.Context) error
}

type Options struct {
	Capabilities CapabilityResolver
	History      *history.Store
	Audit        *logger.AuditLogger
	Model        ModelStatus
	MaxBodyBytes int64
	Logger       *slog.Logger
}

type Server struct {
	pipeline *detector.Pipeline
	opts     Options
	router   *gin.Engine
}

// DetectRequest is the body of POST /v1/detect.
type DetectRequest struct {
	Text     string `json:"text"`
	Source   string `json:"source,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// DetectResponse carries the report and, when history is enabled, the id of
// the stored record.
type DetectResponse struct {
	ID     string          `json:"id,omitempty"`
	Report detector.Report `json:"report"`
}

func New(pipeline *detector.Pipeline, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Capabilities == nil {
		opts.Capabilities = func(string) (detector.Capability, error) { return nil, nil }
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger))

	s := &Server{pipeline: pipeline, opts: opts, router: router}

	router.GET("/healthz", s.health)
	v1 := router.Group("/v1")
	{
		v1.POST("/detect", s.detect)
		v1.GET("/history", s.listHistory)
		v1.GET("/history/:id", s.getHistory)
		v1.POST("/model/reload", s.reloadModel)
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down: %w", err)
		}
		return nil
	}
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"tiers":  s.pipeline.Tiers(),
	}
	if s.opts.Model != nil {
		model := "not configured"
		if s.opts.Model.HasDependencies() {
			model = s.opts.Model.State().String()
		}
		body["model"] = model
	}
	body["history"] = s.opts.History != nil
	c.JSON(http.StatusOK, body)
}

// reloadModel retries a failed model load, so a model server that came up
// after this process does not leave the model tier off for good.
func (s *Server) reloadModel(c *gin.Context) {
	if s.opts.Model == nil || !s.opts.Model.HasDependencies() {
		c.JSON(http.StatusNotFound, gin.H{"error": "model tier is not configured"})
		return
	}

	err := s.opts.Model.Reinitialize(c.Request.Context())
	state := s.opts.Model.State().String()
	if err != nil {
		s.opts.Logger.Warn("model reload failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"model": state, "error": err.Error()})
		return
	}
	s.opts.Logger.Info("model reloaded", "state", state)
	c.JSON(http.StatusOK, gin.H{"model": state})
}

func (s *Server) detect(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxBodyBytes)

	var req DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	capability, err := s.opts.Capabilities(req.Provider)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	source := req.Source
	if source == "" {
		source = "http"
	}

	report := s.pipeline.Analyze(c.Request.Context(), req.Text, capability)
	resp := DetectResponse{Report: report}

	rec := history.NewRecord(source, req.Text, report)
	if s.opts.History != nil {
		if err := s.opts.History.Save(c.Request.Context(), rec); err != nil {
			s.opts.Logger.Warn("failed to save detection", "error", err)
		} else {
			resp.ID = rec.ID
		}
	}
	if s.opts.Audit != nil {
		if err := s.opts.Audit.Log(logger.NewDetectionEvent(rec.ID, source, req.Text, report)); err != nil {
			s.opts.Logger.Warn("failed to write audit event", "error", err)
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) listHistory(c *gin.Context) {
	if s.opts.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	records, err := s.opts.History.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) getHistory(c *gin.Context) {
	if s.opts.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return
	}

	rec, err := s.opts.History.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, history.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, history.ErrAmbiguous):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, rec)
	}
}

func requestLogger(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
