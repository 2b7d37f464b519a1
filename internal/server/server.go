// Package server exposes lookups and cache analytics over HTTP.
package server

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/lepinkainen/bookmeta/internal/cache"
	"github.com/lepinkainen/bookmeta/internal/errors"
	"github.com/lepinkainen/bookmeta/internal/lookup"
	"github.com/lepinkainen/bookmeta/internal/providers"
)

const (
	defaultHotKeys = 10
	maxHotKeys     = 100
)

// Lookuper resolves book metadata.
type Lookuper interface {
	ByIdentifier(ctx context.Context, id string) (*lookup.Result, error)
	ByCriteria(ctx context.Context, c providers.Criteria) (*lookup.Result, error)
}

// AnalyticsSource reports cache analytics.
type AnalyticsSource interface {
	Analytics(top int) cache.RegistryAnalytics
}

// Config wires the handler dependencies.
type Config struct {
	Lookup  Lookuper
	Caches  AnalyticsSource
	Metrics http.Handler
	// HotKeys is the default analytics top-N when the request has no ?top.
	HotKeys int
	Logger  *slog.Logger
	// RequestTimeout bounds one lookup. Zero means no limit.
	RequestTimeout time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	cfg Config
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HotKeys <= 0 {
		cfg.HotKeys = defaultHotKeys
	}
	return &Server{cfg: cfg}
}

// Router returns the chi router with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}

	r.Get("/healthz", s.handleHealth)
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/books/{id}", s.handleByIdentifier)
		r.Get("/books", s.handleByCriteria)
		r.Get("/cache/analytics", s.handleAnalytics)
	})
	return r
}

// HTTPServer wraps the router in an http.Server with timeouts set.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type errorResponse struct {
	Error    string           `json:"error"`
	Failures []lookup.Failure `json:"failures,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleByIdentifier(w http.ResponseWriter, r *http.Request) {
	res, err := s.cfg.Lookup.ByIdentifier(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleByCriteria(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c := providers.Criteria{
		Title:     q.Get("title"),
		Author:    q.Get("author"),
		Publisher: q.Get("publisher"),
		Subject:   q.Get("subject"),
	}

	var err error
	if c.Page, err = intParam(q.Get("page")); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "page must be a positive integer"})
		return
	}
	if c.PageSize, err = intParam(q.Get("page_size")); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "page_size must be a positive integer"})
		return
	}

	res, err := s.cfg.Lookup.ByCriteria(r.Context(), c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	top := s.cfg.HotKeys
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "top must be a non-negative integer"})
			return
		}
		top = min(n, maxHotKeys)
	}

	if s.cfg.Caches == nil {
		s.writeJSON(w, http.StatusOK, cache.RegistryAnalytics{Providers: map[string]cache.Stats{}})
		return
	}
	s.writeJSON(w, http.StatusOK, s.cfg.Caches.Analytics(top))
}

// writeError maps lookup failures to status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var nf *lookup.NotFoundError
	switch {
	case stdErrors.As(err, &nf):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found", Failures: nf.Failures})
	case errors.IsNotFound(err):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case stdErrors.Is(err, providers.ErrInvalidIdentifier),
		stdErrors.Is(err, lookup.ErrEmptyCriteria),
		stdErrors.Is(err, lookup.ErrUnknownProvider):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case stdErrors.Is(err, context.DeadlineExceeded):
		s.writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "lookup timed out"})
	default:
		s.cfg.Logger.Error("Lookup failed", "path", r.URL.Path, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.cfg.Logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.cfg.Logger.Debug("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
