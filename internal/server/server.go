package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rohmanhakim/site-archiver/internal/config"
	"github.com/rohmanhakim/site-archiver/internal/scheduler"
	"go.uber.org/zap"
)

// Crawler is the part of the scheduler the HTTP front door depends on.
type Crawler interface {
	Crawl(ctx context.Context, startURL string, pageBudget int) (scheduler.CrawlingExecution, error)
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	config     config.Config
	router     http.Handler
	httpServer *http.Server
	crawler    Crawler
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
}

// NewServer builds the router. A nil gatherer exposes the default
// Prometheus registry on /metrics.
func NewServer(cfg config.Config, crawler Crawler, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:   cfg,
		crawler:  crawler,
		gatherer: gatherer,
		logger:   logger,
	}
	s.router = s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// no WriteTimeout: a crawl answers only once the whole site is archived
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving on the configured listen address. It returns
// http.ErrServerClosed once Shutdown has been called, even when Shutdown
// ran first.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
