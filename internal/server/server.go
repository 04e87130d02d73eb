// Package server exposes the voxledger engine over an HTTP JSON API.
//
// All business routes are tenant-scoped: the caller identifies the acting
// user through the X-User-ID header, and every store access downstream is
// bound to that user. A missing header is rejected before any handler logic
// runs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxledger/voxledger/internal/billing"
	"github.com/voxledger/voxledger/internal/health"
	"github.com/voxledger/voxledger/internal/intent"
	"github.com/voxledger/voxledger/internal/observe"
	"github.com/voxledger/voxledger/internal/resolve"
	"github.com/voxledger/voxledger/internal/transform"
)

// userHeader carries the acting tenant. Authentication happens at the edge
// proxy; this service only scopes data access.
const userHeader = "X-User-ID"

// defaultRequestTimeout bounds a transform request when the config does not
// set one.
const defaultRequestTimeout = 30 * time.Second

// maxBodyBytes caps request bodies. Transform configs and spoken names are
// small; anything larger is a client bug.
const maxBodyBytes = 1 << 20

// Server routes HTTP requests to the resolver, locator, and transform engine.
type Server struct {
	resolver     *resolve.Resolver
	locator      *resolve.Locator
	engine       *transform.Engine
	parser       *intent.Parser
	health       *health.Handler
	metrics      *observe.Metrics
	timeout      time.Duration
	suggestLimit int
}

// Option configures a [Server].
type Option func(*Server)

// WithRequestTimeout bounds each transform request. Non-positive values keep
// the default.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSuggestionLimit sets the suggestion count used when a request does not
// ask for a specific limit. Non-positive values keep the resolver default.
func WithSuggestionLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.suggestLimit = n
		}
	}
}

// WithMetrics attaches metric instruments for the HTTP middleware and
// resolution counters.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth attaches the probe handler. When unset, /healthz and /readyz are
// not served.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// New creates a [Server] over the given components.
func New(resolver *resolve.Resolver, locator *resolve.Locator, engine *transform.Engine, opts ...Option) *Server {
	s := &Server{
		resolver: resolver,
		locator:  locator,
		engine:   engine,
		parser:   intent.NewParser(),
		timeout:  defaultRequestTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the full route table, wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/clients/resolve", s.requireUser(s.handleResolve))
	mux.HandleFunc("POST /v1/clients/suggest", s.requireUser(s.handleSuggest))
	mux.HandleFunc("POST /v1/documents/locate", s.requireUser(s.handleLocate))
	mux.HandleFunc("POST /v1/transforms", s.requireUser(s.handleTransform))
	mux.HandleFunc("GET /v1/transforms/{id}", s.requireUser(s.handleGetJob))
	mux.HandleFunc("POST /v1/transforms/{id}/cancel", s.requireUser(s.handleCancelJob))
	mux.HandleFunc("POST /v1/interpret", s.requireUser(s.handleInterpret))

	mux.Handle("GET /metrics", promhttp.Handler())
	if s.health != nil {
		s.health.Register(mux)
	}

	return observe.Middleware(s.metrics)(mux)
}

// requireUser rejects requests without a tenant header before handler logic.
func (s *Server) requireUser(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("%s header is required", userHeader))
			return
		}
		next(w, r, userID)
	}
}

type resolveRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request, userID string) {
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	start := time.Now()
	res, err := s.resolver.ResolveClient(r.Context(), userID, req.Name)
	if err != nil {
		s.serverError(w, r, "resolve client", err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordResolution(r.Context(), resolutionOutcome(res))
		s.metrics.ResolutionDuration.Record(r.Context(), time.Since(start).Seconds())
	}
	writeJSON(w, http.StatusOK, res)
}

type suggestRequest struct {
	Name  string `json:"name"`
	Limit int    `json:"limit"`
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request, userID string) {
	var req suggestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.suggestLimit
	}
	res, err := s.resolver.SuggestClients(r.Context(), userID, req.Name, limit)
	if err != nil {
		s.serverError(w, r, "suggest clients", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type locateRequest struct {
	ClientName   string               `json:"client_name"`
	DocumentType billing.DocumentType `json:"document_type"`
	Selector     resolve.Selector     `json:"selector"`
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request, userID string) {
	var req locateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ClientName == "" {
		writeError(w, http.StatusBadRequest, "client_name is required")
		return
	}

	res, err := s.locator.FindSourceDocument(r.Context(), userID, req.ClientName, req.DocumentType, req.Selector)
	if err != nil {
		// Unknown document types and selectors are caller mistakes.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request, userID string) {
	var cfg transform.Config
	if !decodeBody(w, r, &cfg) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	res, err := s.engine.ExecuteTransform(ctx, cfg, userID)
	var verr *transform.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}
	var eerr *transform.ExecutionError
	if errors.As(err, &eerr) {
		// The failure is recorded on the job; the result is the resource the
		// caller polls, so it is returned rather than hidden behind a 5xx.
		writeJSON(w, http.StatusOK, res)
		return
	}
	if err != nil {
		s.serverError(w, r, "execute transform", err)
		return
	}
	status := http.StatusCreated
	if !res.Success {
		// Cancelled cooperatively before completion.
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, userID string) {
	job, err := s.engine.GetTransformJob(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.serverError(w, r, "get transform job", err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "transform job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, userID string) {
	cancelled, err := s.engine.CancelTransformJob(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.serverError(w, r, "cancel transform job", err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{Cancelled: cancelled})
}

type interpretRequest struct {
	Transcript string `json:"transcript"`
}

type interpretResponse struct {
	Recognized bool           `json:"recognized"`
	Intent     *intent.Intent `json:"intent,omitempty"`
}

func (s *Server) handleInterpret(w http.ResponseWriter, r *http.Request, userID string) {
	var req interpretRequest
	if !decodeBody(w, r, &req) {
		return
	}

	parsed, err := s.parser.Parse(req.Transcript)
	if errors.Is(err, intent.ErrNoIntent) {
		// An unrecognised utterance is an expected outcome, not a failure.
		writeJSON(w, http.StatusOK, interpretResponse{Recognized: false})
		return
	}
	if err != nil {
		s.serverError(w, r, "interpret transcript", err)
		return
	}
	writeJSON(w, http.StatusOK, interpretResponse{Recognized: true, Intent: parsed})
}

// resolutionOutcome labels a resolution for the metrics counter.
func resolutionOutcome(res resolve.Resolution) string {
	switch {
	case res.Client == nil:
		return "none"
	case res.NeedsConfirmation:
		return "possible"
	default:
		return "confident"
	}
}

// serverError logs the failure with request context and answers 500 without
// leaking internals.
func (s *Server) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	observe.Logger(r.Context()).Error("request failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// decodeBody reads a JSON body into v, answering 400 on malformed input. It
// reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("server: encode response", "error", err)
	}
}
