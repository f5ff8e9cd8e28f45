package adminapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opencifsd/cifsd/internal/cifs/dispatch"
	"github.com/opencifsd/cifsd/internal/config"
	"github.com/opencifsd/cifsd/internal/logger"
)

// Server is the read-only admin HTTP surface: /healthz, /metrics, and
// the JWT-protected /v1/sessions and /v1/shares views. It never
// mutates dispatcher state; everything it serves is a snapshot.
type Server struct {
	http         *http.Server
	auth         *tokenValidator
	shutdownOnce sync.Once
}

// NewServer builds the admin API server from cfg.Admin. registry may
// be nil when metrics collection is disabled, in which case /metrics
// is not registered at all.
func NewServer(cfg *config.Config, srv *dispatch.Server, registry *prometheus.Registry) (*Server, error) {
	if cfg.Admin.JWTSecret == "" || len(cfg.Admin.JWTSecret) < 32 {
		return nil, fmt.Errorf("admin.jwt_secret must be at least 32 characters")
	}

	auth := newTokenValidator(cfg.Admin.JWTSecret)
	router := newRouter(cfg, srv, registry, auth, time.Now())

	return &Server{
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Admin.Port),
			Handler:      router,
			ReadTimeout:  cfg.Admin.ReadTimeout,
			WriteTimeout: cfg.Admin.WriteTimeout,
		},
		auth: auth,
	}, nil
}

// IssueToken mints a bearer token for operator tooling to authenticate
// against this server's admin API.
func (s *Server) IssueToken(subject string, ttl time.Duration) (string, error) {
	return s.auth.IssueToken(subject, ttl)
}

// Start serves the admin API until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin api listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("admin api failed: %w", err)
	}
}

// Stop gracefully shuts down the admin API server. Safe to call more
// than once.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.http.Shutdown(ctx)
	})
	return err
}
