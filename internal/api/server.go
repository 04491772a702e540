// Package api exposes the read-only HTTP interface for observing a harvest
// run: frontier status, section states, recent progress events, and the
// coverage report.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/regsdata/calregs-harvester/internal/frontier"
	"github.com/regsdata/calregs-harvester/internal/output"
	"github.com/regsdata/calregs-harvester/internal/progress/sinks"
	"github.com/regsdata/calregs-harvester/internal/report"
)

const (
	defaultSectionLimit = 100
	maxSectionLimit     = 1000
	defaultEventLimit   = 50
	maxEventLimit       = 500
)

// Server wires HTTP handlers to the frontier store and progress ring.
type Server struct {
	router     chi.Router
	store      *frontier.Store
	ring       *sinks.Ring
	outputPath string
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The ring may be
// nil when no progress hub is running.
func NewServer(store *frontier.Store, ring *sinks.Ring, outputPath string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:      store,
		ring:       ring,
		outputPath: outputPath,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Get("/sections", s.listSections)
		r.Get("/progress", s.listProgress)
		r.Get("/report", s.getReport)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

// listSections handles GET /v1/sections?status=&limit=&offset=.
func (s *Server) listSections(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultSectionLimit, maxSectionLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *frontier.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, parseErr := parseStatus(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}

	var filtered []sectionDTO
	for _, sec := range s.store.Sections() {
		if status != nil && sec.Status != *status {
			continue
		}
		filtered = append(filtered, toSectionDTO(sec))
	}
	filtered = page(filtered, limit, offset)
	writeJSON(w, http.StatusOK, map[string]any{"sections": filtered})
}

// listProgress handles GET /v1/progress?limit=. Events arrive newest first.
func (s *Server) listProgress(w http.ResponseWriter, r *http.Request) {
	if s.ring == nil {
		writeError(w, http.StatusServiceUnavailable, "progress buffer unavailable")
		return
	}
	limit, _, err := parseLimitOffset(r, defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.ring.Recent(limit)})
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	var records []output.Record
	if s.outputPath != "" {
		var err error
		records, err = output.ReadAll(s.outputPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("read output records failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to read output records")
			return
		}
	}
	rep, err := report.Build(s.store, records)
	if err != nil {
		s.logger.Error("build report failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type sectionDTO struct {
	URL      string `json:"url"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

func toSectionDTO(sec frontier.Section) sectionDTO {
	return sectionDTO{
		URL:      sec.URL,
		Status:   string(sec.Status),
		Attempts: sec.Attempts,
		Error:    sec.LastError,
	}
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit < len(items) {
		items = items[:limit]
	}
	return items
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (frontier.Status, error) {
	switch strings.ToLower(input) {
	case "pending":
		return frontier.StatusPending, nil
	case "success":
		return frontier.StatusSuccess, nil
	case "external_redirect", "redirect":
		return frontier.StatusExternalRedirect, nil
	case "failed", "failure", "error":
		return frontier.StatusFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
