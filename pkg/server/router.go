package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kingphisher/kingphisher/internal/cli/health"
)

// healthCheckTimeout bounds database pings made by /health.
const healthCheckTimeout = 5 * time.Second

func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.telemetry.Middleware)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.handler())
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// handleHealth reports liveness. It answers 503 when the database does not
// respond to a ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	uptime := time.Since(s.startedAt)
	resp := health.Response{
		Status:    health.StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data: health.Data{
			Service:    "king-phisher",
			InstanceID: s.instanceID,
			PID:        os.Getpid(),
			StartedAt:  s.startedAt.UTC().Format(time.RFC3339),
			Uptime:     uptime.Round(time.Second).String(),
			UptimeSec:  int64(uptime.Seconds()),
			Database:   health.StatusHealthy,
		},
	}

	status := http.StatusOK
	if err := s.store.Healthcheck(ctx); err != nil {
		resp.Status = health.StatusUnhealthy
		resp.Data.Database = health.StatusUnhealthy
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// requestLogger logs each request and counts it in the metrics, if enabled.
// Health and metrics scrapes are logged at DEBUG.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		s.metrics.observe(r.Method, ww.Status(), duration)

		logArgs := []any{
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}
		if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
			s.log.Debug("Request completed", logArgs...)
		} else {
			s.log.Info("Request completed", logArgs...)
		}
	})
}
