// Package api provides the HTTP REST API server for optchain.
//
// It serves the same option-chain documents as the CLI, plus the list of
// expirations and single-expiration chains, behind CORS and a short-lived
// response cache.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/seenimoa/optchain/internal/config"
	"github.com/seenimoa/optchain/internal/datasource"
	"github.com/seenimoa/optchain/internal/exporter"
	"github.com/seenimoa/optchain/internal/infra"
	"github.com/seenimoa/optchain/pkg/models"
	"github.com/seenimoa/optchain/pkg/utils"
)

// Version is reported by the health endpoint. Set by the server binary.
var Version = "dev"

// Server is the HTTP API server.
type Server struct {
	router chi.Router
	cfg    *config.Config
	src    datasource.OptionSource
	exp    *exporter.Exporter
	docs   *infra.Cache[[]byte] // rendered documents by ticker; nil when caching is off
	log    logrus.FieldLogger
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config, src datasource.OptionSource, log logrus.FieldLogger) (*Server, error) {
	policy, err := cfg.NonFinitePolicy()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	srv := &Server{
		cfg: cfg,
		src: src,
		exp: exporter.New(src,
			exporter.WithLogger(log),
			exporter.WithConcurrency(cfg.Fetch.Concurrency),
			exporter.WithNonFinite(policy),
		),
		log: log,
	}
	if cfg.API.CacheTTL > 0 {
		srv.docs = infra.NewCache[[]byte](srv.cacheTTL())
	}

	srv.router = srv.buildRouter()
	return srv, nil
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) cacheTTL() time.Duration {
	return time.Duration(s.cfg.API.CacheTTL) * time.Second
}

// ListenAndServe starts the HTTP server and shuts it down gracefully once
// ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.docs != nil {
		go s.sweepCache(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.WithField("addr", addr).Info("API server listening")

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	s.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) sweepCache(ctx context.Context) {
	ticker := time.NewTicker(s.cacheTTL())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.docs.Cleanup()
		}
	}
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.log, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	// CORS
	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", s.handleHealth)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/options/{ticker}", s.handleOptions)
		r.Get("/options/{ticker}/expirations", s.handleExpirations)
		r.Get("/options/{ticker}/{date}", s.handleChain)
	})

	return r
}

// ============================================================
// Response types
// ============================================================

// APIResponse is the standard response envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := utils.NowET()
	data := map[string]interface{}{
		"status":        "ok",
		"version":       Version,
		"source":        s.src.Name(),
		"market_status": utils.MarketStatus(now),
		"time_et":       now.Format("2006-01-02 15:04:05 MST"),
	}
	if s.docs != nil {
		data["cached_documents"] = s.docs.Len()
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

// handleOptions returns the full option chain for a ticker, keyed by
// expiration date.
func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	if s.docs != nil {
		if doc, ok := s.docs.Get(ticker); ok {
			w.Header().Set("X-Cache", "HIT")
			writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: json.RawMessage(doc)})
			return
		}
	}

	data, err := s.exp.Collect(r.Context(), ticker)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.exp.Encode(data)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if s.docs != nil {
		s.docs.Set(ticker, doc)
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: json.RawMessage(doc)})
}

func (s *Server) handleExpirations(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	dates, err := s.src.Ticker(ticker).Expirations(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: dates})
}

// handleChain returns the calls and puts of a single expiration.
func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	date := chi.URLParam(r, "date")
	if _, err := utils.ParseExpiry(date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	h := s.src.Ticker(ticker)
	calls, err := h.Calls(r.Context(), date)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	puts, err := h.Puts(r.Context(), date)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	data := models.NewOptionsData()
	data.Set(date, models.OptionsChain{Calls: calls, Puts: puts})
	doc, err := s.exp.Encode(data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: json.RawMessage(doc)})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	s.log.WithFields(logrus.Fields{
		"path":       r.URL.Path,
		"status":     status,
		"request_id": middleware.GetReqID(r.Context()),
	}).WithError(err).Warn("request failed")
	writeError(w, status, err.Error())
}

// statusFor maps a fetch or encode failure to an HTTP status. Anything that
// is not a serialization failure came from the upstream provider.
func statusFor(err error) int {
	switch {
	case exporter.KindOf(err) == exporter.KindSerialization:
		return http.StatusInternalServerError
	case errors.Is(err, datasource.ErrExpirationNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}
