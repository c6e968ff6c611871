package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/batch"
	"github.com/JakeFAU/keyword-harvester/internal/checkpoint"
	"github.com/JakeFAU/keyword-harvester/internal/metrics"
)

// ProgressSource reports the state of the running batch.
type ProgressSource interface {
	Progress() batch.Progress
}

// RecordSource exposes the checkpoint table.
type RecordSource interface {
	All() []checkpoint.Record
	Remediable(minItems int) []checkpoint.Remediation
}

// Server wires HTTP handlers to the running batch.
type Server struct {
	router   chi.Router
	progress ProgressSource
	records  RecordSource
	minItems int
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. recorder may be
// nil, in which case /metrics is not mounted.
func NewServer(
	progress ProgressSource,
	records RecordSource,
	minItems int,
	recorder *metrics.Recorder,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		progress: progress,
		records:  records,
		minItems: minItems,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))
	if recorder != nil {
		r.Use(recorder.Middleware)
		r.Method(http.MethodGet, "/metrics", recorder.Handler())
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/records", s.listRecords)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.progress == nil || s.records == nil {
		writeError(w, http.StatusServiceUnavailable, "batch not wired")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	if s.progress == nil {
		writeError(w, http.StatusServiceUnavailable, "batch not wired")
		return
	}
	writeJSON(w, http.StatusOK, s.progress.Progress())
}

type recordsResponse struct {
	Count   int                 `json:"count"`
	Records []checkpoint.Record `json:"records"`
}

type remediableRecord struct {
	checkpoint.Record
	Reason checkpoint.Reason `json:"reason"`
}

type remediableResponse struct {
	Count    int                `json:"count"`
	MinItems int                `json:"min_items"`
	Records  []remediableRecord `json:"records"`
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusServiceUnavailable, "batch not wired")
		return
	}
	q := r.URL.Query()
	remediable := false
	if raw := q.Get("remediable"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "remediable must be a boolean")
			return
		}
		remediable = v
	}
	if !remediable {
		recs := s.records.All()
		if recs == nil {
			recs = []checkpoint.Record{}
		}
		writeJSON(w, http.StatusOK, recordsResponse{Count: len(recs), Records: recs})
		return
	}

	minItems := s.minItems
	if raw := q.Get("min_items"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "min_items must be a non-negative integer")
			return
		}
		minItems = v
	}
	rows := s.records.Remediable(minItems)
	out := make([]remediableRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, remediableRecord{Record: row.Record, Reason: row.Reason})
	}
	writeJSON(w, http.StatusOK, remediableResponse{Count: len(out), MinItems: minItems, Records: out})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("error", rec),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
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

// RequestID returns the request id assigned by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

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
