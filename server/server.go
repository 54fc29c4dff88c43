package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/grundgraph"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP API over one grundgraph service.
type Server struct {
	svc       *grundgraph.Service
	router    *gin.Engine
	logger    *slog.Logger
	uploadDir string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithUploadDir sets where uploaded documents are stored.
// Default is <data dir>/uploads.
func WithUploadDir(dir string) Option {
	return func(s *Server) {
		s.uploadDir = dir
	}
}

// NewServer creates a new Server instance.
func NewServer(svc *grundgraph.Service, opts ...Option) *Server {
	s := &Server{
		svc:       svc,
		router:    gin.New(),
		logger:    slog.Default().With("component", "server"),
		uploadDir: filepath.Join(svc.Config().DataDir, "uploads"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully. Open
// progress streams end with ctx.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/v1")
	v1.GET("/presets", s.handlePresets)

	jobs := v1.Group("/jobs")
	jobs.POST("", s.handleCreateJob)
	jobs.POST("/upload", s.handleUpload)
	jobs.GET("", s.handleListJobs)
	jobs.GET("/resumable", s.handleResumableJobs)
	jobs.GET("/:id", s.handleGetJob)
	jobs.GET("/:id/stream", s.handleStream)
	jobs.POST("/:id/resume", s.handleResume)
	jobs.POST("/:id/cancel", s.handleCancel)
	jobs.DELETE("/:id", s.handleDeleteJob)

	v1.POST("/search", s.handleSearch)

	graph := v1.Group("/graph")
	graph.GET("/explore/:id", s.handleExplore)
	graph.GET("/stats", s.handleStats)
	graph.DELETE("/documents/:id", s.handleDeleteDocument)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// Health check
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
