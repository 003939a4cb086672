package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/incentives/calculator"
	"github.com/liamcoop/incentives/internal/logger"
	"github.com/liamcoop/incentives/registry"
)

// maxBodyBytes caps request bodies; 10000 expenses fit comfortably.
const maxBodyBytes = 8 << 20

// Error codes returned in ErrorResponse.Error
const (
	errCodeValidation          = "validation_error"
	errCodeUnknownJurisdiction = "unknown_jurisdiction"
	errCodeInternal            = "internal_error"
)

type Server struct {
	service  *calculator.Service
	backend  string
	gatherer prometheus.Gatherer
	timeout  time.Duration
	router   *chi.Mux
}

// ServerOptions carries the settings NewServer needs beyond the service.
type ServerOptions struct {
	Backend        string
	Gatherer       prometheus.Gatherer // nil disables /metrics
	RequestTimeout time.Duration
}

func NewServer(service *calculator.Service, opts ServerOptions) *Server {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	s := &Server{
		service:  service,
		backend:  opts.Backend,
		gatherer: opts.Gatherer,
		timeout:  timeout,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	// Health check
	r.Get("/api/v1/health", s.handleHealth)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Evaluation
	r.Route("/api/v1/incentives", func(r chi.Router) {
		r.Post("/calculate", s.handleCalculate)
		r.Post("/compare", s.handleCompare)
	})

	// Rule lookup
	r.Route("/api/v1/jurisdictions", func(r chi.Router) {
		r.Get("/", s.handleListJurisdictions)
		r.Get("/{code}/rule", s.handleGetRule)
	})

	r.Post("/api/v1/rules/cache/invalidate", s.handleInvalidateCache)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs each request at DEBUG with its correlation id
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		logger.Debug("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	codes, err := s.service.Jurisdictions(r.Context())
	if err != nil {
		logger.Warn("health check failed", "backend", s.backend, "error", err)
		respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:  "unhealthy",
			Backend: s.backend,
			Error:   err.Error(),
		})
		return
	}

	counters := logger.Counters()
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Backend:       s.backend,
		Jurisdictions: len(codes),
		Caching:       s.service.CachingEnabled(),
		Counters:      &counters,
	})
}

// Calculate handler
func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req calculator.Request
	if !decodeBody(w, r, &req) {
		return
	}
	if verboseQuery(r) {
		req.Verbose = true
	}

	resp, err := s.service.Calculate(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Compare handler
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req calculator.CompareRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if verboseQuery(r) {
		req.Verbose = true
	}

	resp, err := s.service.Compare(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// List jurisdictions handler
func (s *Server) handleListJurisdictions(w http.ResponseWriter, r *http.Request) {
	codes, err := s.service.Jurisdictions(r.Context())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, JurisdictionsResponse{Codes: codes})
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.service.Rule(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, newRuleSummary(rule))
}

// Cache invalidation handler. An empty body clears every cached rule.
func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req InvalidateCacheRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondValidation(w, []calculator.FieldError{{Field: "body", Message: err.Error()}})
		return
	}

	if err := s.service.InvalidateRules(r.Context(), req.JurisdictionCode); err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// respondServiceError maps service errors onto HTTP responses
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *calculator.ValidationError
	var nf *registry.NotFoundError

	switch {
	case errors.As(err, &verr):
		respondValidation(w, verr.Fields)

	case errors.As(err, &nf):
		respondError(w, http.StatusNotFound, ErrorResponse{
			Error:   errCodeUnknownJurisdiction,
			Message: fmt.Sprintf("no incentive rule for jurisdiction %q", nf.Code),
		})

	case errors.Is(err, registry.ErrNotFound):
		respondError(w, http.StatusNotFound, ErrorResponse{
			Error:   errCodeUnknownJurisdiction,
			Message: "no incentive rule for jurisdiction",
		})

	default:
		requestID := middleware.GetReqID(r.Context())
		if !errors.Is(err, context.Canceled) {
			logger.Logger.ErrorContext(r.Context(), "request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", requestID,
				"error", err,
			)
		}
		respondError(w, http.StatusInternalServerError, ErrorResponse{
			Error:     errCodeInternal,
			Message:   "internal error",
			RequestID: requestID,
		})
	}
}

// Helper functions
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		respondValidation(w, []calculator.FieldError{{Field: "body", Message: "invalid JSON: " + err.Error()}})
		return false
	}
	return true
}

func verboseQuery(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("verbose"))
	return err == nil && v
}

func respondValidation(w http.ResponseWriter, fields []calculator.FieldError) {
	respondError(w, http.StatusBadRequest, ErrorResponse{
		Error:   errCodeValidation,
		Message: "request validation failed",
		Fields:  fields,
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Debug("failed to write response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, body ErrorResponse) {
	switch {
	case status >= 500:
		logger.ErrorHTTP5xx()
	case status >= 400:
		logger.WarnHTTP4xx(status)
	}
	respondJSON(w, status, body)
}
