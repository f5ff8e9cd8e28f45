package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opencifsd/cifsd/internal/cifs/dispatch"
	"github.com/opencifsd/cifsd/internal/config"
	"github.com/opencifsd/cifsd/internal/logger"
)

// DataSource is the dispatcher state the admin API reports on. dispatch.Server
// satisfies it directly; tests substitute a stub.
type DataSource interface {
	Snapshot() []dispatch.ConnSnapshot
}

func newRouter(cfg *config.Config, src DataSource, registry *prometheus.Registry, auth *tokenValidator, startedAt time.Time) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "healthy",
			"uptime": time.Since(startedAt).String(),
		})
	})

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.requireAuth)

		r.Get("/v1/sessions", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, sessionsView(src.Snapshot()))
		})

		r.Get("/v1/shares", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, sharesView(cfg.Shares))
		})
	})

	return r
}

// connectionView and sessionView are the admin API's JSON projections
// of dispatch.ConnSnapshot/session.Summary, decoupled from the
// dispatcher's internal field names.
type connectionView struct {
	ID       string        `json:"id"`
	Peer     string        `json:"peer"`
	Sessions []sessionView `json:"sessions"`
}

type sessionView struct {
	UID        uint16    `json:"uid"`
	ClientAddr string    `json:"client_addr"`
	IsGuest    bool      `json:"is_guest"`
	Username   string    `json:"username,omitempty"`
	Domain     string    `json:"domain,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	TreeCount  int       `json:"tree_count"`
}

func sessionsView(conns []dispatch.ConnSnapshot) []connectionView {
	out := make([]connectionView, 0, len(conns))
	for _, c := range conns {
		sessions := make([]sessionView, 0, len(c.Sessions))
		for _, s := range c.Sessions {
			sessions = append(sessions, sessionView{
				UID:        s.UID,
				ClientAddr: s.ClientAddr,
				IsGuest:    s.IsGuest,
				Username:   s.Username,
				Domain:     s.Domain,
				CreatedAt:  s.CreatedAt,
				TreeCount:  s.TreeCount,
			})
		}
		out = append(out, connectionView{ID: c.ID, Peer: c.Peer, Sessions: sessions})
	}
	return out
}

type shareView struct {
	Name      string `json:"name"`
	Comment   string `json:"comment,omitempty"`
	Writeable bool   `json:"writeable"`
	Available bool   `json:"available"`
	GuestOk   bool   `json:"guest_ok"`
}

func sharesView(shares []config.ShareConfig) []shareView {
	out := make([]shareView, 0, len(shares))
	for _, s := range shares {
		out = append(out, shareView{
			Name:      s.Name,
			Comment:   s.Comment,
			Writeable: s.Writeable,
			Available: s.Available,
			GuestOk:   s.GuestOk,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("admin api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}
