// Package server exposes the search engine over HTTP.
//
// The surface is deliberately small: one search endpoint and a health probe.
// Validation failures come back as 400 with a message; internal failures are
// logged with full context and answered with a generic 500 so no engine
// detail leaks to clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hupe1980/melodex"
	"github.com/hupe1980/melodex/search"
)

const (
	// DefaultLimit applies when the request omits limit.
	DefaultLimit = 10

	// MaxLimit caps the requested result count.
	MaxLimit = 50

	readTimeout     = 10 * time.Second
	writeTimeout    = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Options configures the server.
type Options struct {
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Server serves the HTTP API for one engine.
type Server struct {
	engine *melodex.Engine
	logger *slog.Logger
	http   *http.Server
}

// New creates a server listening on addr.
func New(engine *melodex.Engine, addr string, optFns ...func(o *Options)) *Server {
	opts := Options{}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		engine: engine,
		logger: opts.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/search", s.handleSearch)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	return s.http.Shutdown(ctx)
}

type searchRequest struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit"`
	Genre    string `json:"genre,omitempty"`
	YearFrom int    `json:"year_from,omitempty"`
	YearTo   int    `json:"year_to,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	if req.Limit == 0 {
		req.Limit = DefaultLimit
	}

	if req.Limit < 1 || req.Limit > MaxLimit {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be between 1 and 50"})
		return
	}

	var queryOpts []func(q *search.Query)
	if req.Genre != "" {
		queryOpts = append(queryOpts, search.WithGenre(req.Genre))
	}
	if req.YearFrom != 0 || req.YearTo != 0 {
		queryOpts = append(queryOpts, search.WithYearRange(req.YearFrom, req.YearTo))
	}

	resp, err := s.engine.Search(r.Context(), req.Query, req.Limit, queryOpts...)
	if err != nil {
		switch {
		case errors.Is(err, search.ErrQueryTooShort), errors.Is(err, search.ErrInvalidLimit):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		case errors.Is(err, melodex.ErrNotReady):
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "index is loading"})
		default:
			s.logger.Error("search failed", "query", req.Query, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
	Device string `json:"device"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Model:  s.engine.ModelVersion(),
		Device: string(s.engine.Device()),
	}

	status := http.StatusOK
	if !s.engine.Ready() {
		resp.Status = "loading"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
