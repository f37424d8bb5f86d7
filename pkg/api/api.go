package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/config"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/orchestrator"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/progress"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/source"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/store"
)

const (
	shutdownTimeout    = 10 * time.Second
	defaultEventBuffer = 256
)

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Deps are the collaborators the API reads from and delegates to.
type Deps struct {
	Orchestrator orchestrator.Orchestrator
	Store        store.Store
	Registry     source.Registry
	Publisher    progress.Publisher
	// EventBuffer is the per-client buffer of the event stream.
	EventBuffer int
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.ServerConfig
	deps       Deps
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.ServerConfig,
	deps Deps,
) Server {
	if deps.EventBuffer <= 0 {
		deps.EventBuffer = defaultEventBuffer
	}

	return &server{
		log:  log.WithField("component", "api"),
		cfg:  cfg,
		deps: deps,
		done: make(chan struct{}),
	}
}

// Start binds the listener and serves the API in the background.
func (s *server) Start(_ context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Listen).Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop ends open event streams and gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("API server stopped")

	return nil
}
