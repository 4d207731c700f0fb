// Package api provides the administrative HTTP surface: rule management,
// trigger history, snapshot ingestion, status and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"market-alerts/internal/alerts"
	"market-alerts/internal/errors"
	"market-alerts/internal/logging"
	"market-alerts/internal/models"
	"market-alerts/internal/store"
	"market-alerts/internal/stream"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Deps are the components the server exposes.
type Deps struct {
	Registry *alerts.RuleRegistry
	Store    store.AlertStore
	Pusher   stream.Pusher
	// Status returns the value served by GET /status.
	Status   func() interface{}
	Gatherer prometheus.Gatherer
}

// Server is the administrative HTTP server.
type Server struct {
	deps   Deps
	logger zerolog.Logger
	router *mux.Router

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// NewServer creates a server and registers its routes.
func NewServer(deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		deps:   deps,
		logger: logging.WithComponent(logger, "api"),
		router: mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(s.logRequests)

	r.HandleFunc("/rules", s.listRules).Methods(http.MethodGet)
	r.HandleFunc("/rules", s.createRule).Methods(http.MethodPost)
	r.HandleFunc("/rules/{id}", s.getRule).Methods(http.MethodGet)
	r.HandleFunc("/rules/{id}", s.deleteRule).Methods(http.MethodDelete)
	r.HandleFunc("/rules/{id}/enable", s.enableRule).Methods(http.MethodPost)
	r.HandleFunc("/rules/{id}/disable", s.disableRule).Methods(http.MethodPost)

	r.HandleFunc("/triggers", s.listTriggers).Methods(http.MethodGet)
	r.HandleFunc("/snapshots", s.pushSnapshots).Methods(http.MethodPost)
	r.HandleFunc("/status", s.status).Methods(http.MethodGet)

	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server failed")
		}
	}(s.srv)

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("API server listening")
	return nil
}

// Addr returns the bound address, or "" when not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request")
	})
}

// Rules

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.List())
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var spec alerts.RuleSpec
	if err := decodeBody(r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rule, err := spec.Rule()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.deps.Registry.Add(r.Context(), rule); err != nil {
		writeDomainError(w, err)
		return
	}

	created, err := s.deps.Registry.Get(rule.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.deps.Registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Registry.Remove(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) enableRule(w http.ResponseWriter, r *http.Request) {
	s.toggleRule(w, r, s.deps.Registry.Enable)
}

func (s *Server) disableRule(w http.ResponseWriter, r *http.Request) {
	s.toggleRule(w, r, s.deps.Registry.Disable)
}

func (s *Server) toggleRule(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	id := mux.Vars(r)["id"]
	if err := fn(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	rule, err := s.deps.Registry.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// Triggers

func (s *Server) listTriggers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TriggerFilter{
		InstrumentID: q.Get("instrument"),
		RuleID:       q.Get("rule"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		filter.Limit = limit
	}

	triggers, err := s.deps.Store.QueryTriggerHistory(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if triggers == nil {
		triggers = []models.Trigger{}
	}
	writeJSON(w, http.StatusOK, triggers)
}

// Snapshots

// PushResult reports the outcome of POST /snapshots.
type PushResult struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

func (s *Server) pushSnapshots(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	updates, err := stream.DecodeUpdates(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid snapshot payload: %w", err))
		return
	}

	var res PushResult
	for _, u := range updates {
		if err := s.deps.Pusher.PushSnapshot(u, time.Time{}); err != nil {
			res.Rejected++
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		res.Accepted++
	}

	code := http.StatusAccepted
	if res.Accepted == 0 && res.Rejected > 0 {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, res)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"rules": s.deps.Registry.Len()})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Status())
}

// Helpers

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeDomainError maps domain errors to status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errors.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, errors.ErrInvalidRule), errors.Is(err, errors.ErrInvalidSnapshot):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
