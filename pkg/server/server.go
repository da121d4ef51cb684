// Package server is the King Phisher service run by the startup sequence.
//
// Construction does everything that may need root: the store is opened and
// the TCP listener is bound. ServeForever then serves HTTP on that listener
// until Shutdown is called, which may happen from any goroutine.
//
// Endpoints:
//   - GET /health: liveness, instance id, uptime and database status
//   - GET /metrics: Prometheus metrics (when server.metrics is true)
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingphisher/kingphisher/internal/telemetry"
	"github.com/kingphisher/kingphisher/pkg/config"
	"github.com/kingphisher/kingphisher/pkg/store"
)

// MetaLastStarted is the store metadata key holding the last start time.
const MetaLastStarted = "server.last_started"

// Server is a constructed, not yet serving, service instance.
type Server struct {
	config     Config
	log        *slog.Logger
	store      *store.Store
	listener   net.Listener
	http       *http.Server
	metrics    *serverMetrics
	telemetry  *telemetry.Provider
	instanceID string
	startedAt  time.Time

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds a Server from the server section of cfg.
func New(cfg *config.Configuration, log *slog.Logger) (*Server, error) {
	c, err := ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(c, log)
}

// NewWithConfig opens the store and binds the listener. On failure nothing
// is left open.
func NewWithConfig(c Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	c.applyDefaults()

	st, err := store.OpenURL(c.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	tel, err := telemetry.Start(context.Background(), c.Telemetry)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to start telemetry: %w", err)
	}

	addr := net.JoinHostPort(c.Address.Host, strconv.Itoa(c.Address.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		_ = st.Close()
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	s := &Server{
		config:     c,
		log:        log,
		store:      st,
		listener:   listener,
		telemetry:  tel,
		instanceID: uuid.NewString(),
		startedAt:  time.Now(),
	}
	if c.Metrics {
		s.metrics = newServerMetrics()
	}

	s.http = &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()
	if err := st.SetMeta(ctx, MetaLastStarted, s.startedAt.UTC().Format(time.RFC3339)); err != nil {
		log.Warn("Failed to record start time", "error", err)
	}

	log.Debug("Server constructed",
		"address", listener.Addr().String(),
		"database", string(st.Config().Driver),
		"instance_id", s.instanceID,
		"tracing", tel.Enabled(),
	)
	return s, nil
}

// ServeForever serves requests until Shutdown. It returns nil after an
// orderly shutdown, including one that happened before it was called.
func (s *Server) ServeForever() error {
	s.log.Info("Server listening", "address", s.listener.Addr().String(), "pid", os.Getpid())

	err := s.http.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("server failed: %w", err)
}

// Shutdown stops serving, closes the listener and closes the store. It is
// safe to call concurrently with ServeForever and more than once; callers
// that arrive while the first call is running wait for it and get its result.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.log.Debug("Server shutdown initiated")

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		// Serve may never have run, in which case nothing else closes it.
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close listener: %w", err))
		}
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		if err := s.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}

		s.shutdownErr = errors.Join(errs...)
		if s.shutdownErr != nil {
			s.log.Error("Server shutdown error", "error", s.shutdownErr)
		} else {
			s.log.Info("Server stopped gracefully")
		}
	})
	return s.shutdownErr
}

// LocalStoragePath returns the database file when the store is a local
// SQLite file.
func (s *Server) LocalStoragePath() (string, bool) {
	return s.store.Config().LocalPath()
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// InstanceID returns the random id reported by /health.
func (s *Server) InstanceID() string {
	return s.instanceID
}
