// Package api exposes the HTTP surface: report submission, series
// reads, alerts, and artifact uploads.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/driftwatch/driftwatch/pkg/adapter"
	"github.com/driftwatch/driftwatch/pkg/config"
	"github.com/driftwatch/driftwatch/pkg/coordinator"
	"github.com/driftwatch/driftwatch/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log         logrus.FieldLogger
	cfg         *config.Config
	store       store.Store
	adapters    adapter.Set
	coordinator coordinator.Coordinator
	presigner   *s3Presigner
	httpServer  *http.Server
	wg          sync.WaitGroup
}

// NewServer creates a new API server.
func NewServer(log logrus.FieldLogger, cfg *config.Config) Server {
	return &server{
		log: log.WithField("component", "api"),
		cfg: cfg,
	}
}

// Start opens the store, seeds tokens, and starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	s.store = store.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	if err := s.store.SeedTokens(
		ctx, s.cfg.API.Auth.Tokens,
	); err != nil {
		return fmt.Errorf("seeding tokens: %w", err)
	}

	s.adapters = adapter.DefaultSet()
	s.coordinator = coordinator.New(
		s.log, s.cfg, s.store, s.adapters,
	)

	if s3cfg := s.cfg.API.Artifacts.S3; s3cfg != nil {
		presigner, err := newS3Presigner(
			s.log, s3cfg, s.cfg.API.Artifacts.PresignExpiry,
		)
		if err != nil {
			return fmt.Errorf("initializing s3 presigner: %w", err)
		}

		s.presigner = presigner

		s.log.Info("Artifact uploads enabled")
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.API.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.API.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.API.ListenAddr, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.API.ListenAddr).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the store.
func (s *server) Stop() error {
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

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
