// Package controlplane serves read-only queries over the request audit log.
package controlplane

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/twin-gateway/internal/domain"
	"github.com/tjfontaine/twin-gateway/internal/server"
	"github.com/tjfontaine/twin-gateway/internal/storage"
)

// DefaultWindow is the time range queried when neither from nor to is given.
const DefaultWindow = 24 * time.Hour

const maxListLimit = 500

// timeLayouts are tried in order for the from/to query parameters.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

type Server struct {
	router *chi.Mux
	store  storage.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

// NewServer serves audit queries from store. A nil store answers every
// query with 503.
func NewServer(store storage.AuditStore, opts ...Option) *Server {
	s := &Server{
		router: chi.NewRouter(),
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/", s.handleListByTimeRange)
	s.router.Get("/failed", s.handleListFailed)
	s.router.Get("/operation/{type}", s.handleListByOperation)
	s.router.Get("/target/{target}", s.handleListByTarget)
	s.router.Get("/stats", s.handleStats)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// LogListResponse is the response for every list query.
type LogListResponse struct {
	Logs  []*domain.AuditRecord `json:"logs"`
	Count int                   `json:"count"`
}

func (s *Server) handleListByTimeRange(w http.ResponseWriter, r *http.Request) {
	if !s.available(w) {
		return
	}

	from, to, err := s.timeRange(r)
	if err != nil {
		server.AddError(r.Context(), err)
		server.WriteError(w, err)
		return
	}

	logs, err := s.store.ListByTimeRange(r.Context(), from, to, listOptions(r))
	s.writeList(w, r, logs, err)
}

func (s *Server) handleListFailed(w http.ResponseWriter, r *http.Request) {
	if !s.available(w) {
		return
	}
	logs, err := s.store.ListFailed(r.Context(), listOptions(r))
	s.writeList(w, r, logs, err)
}

func (s *Server) handleListByOperation(w http.ResponseWriter, r *http.Request) {
	if !s.available(w) {
		return
	}
	operation := chi.URLParam(r, "type")
	server.AddLogField(r.Context(), "operation", operation)

	logs, err := s.store.ListByOperationType(r.Context(), operation, listOptions(r))
	s.writeList(w, r, logs, err)
}

func (s *Server) handleListByTarget(w http.ResponseWriter, r *http.Request) {
	if !s.available(w) {
		return
	}
	target := chi.URLParam(r, "target")
	server.AddLogField(r.Context(), "target", target)

	logs, err := s.store.ListByTargetComponent(r.Context(), target, listOptions(r))
	s.writeList(w, r, logs, err)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.available(w) {
		return
	}
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to compute audit stats", slog.String("error", err.Error()))
		server.AddError(r.Context(), err)
		server.WriteError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, stats)
}

func (s *Server) available(w http.ResponseWriter) bool {
	if s.store == nil {
		server.WriteJSON(w, http.StatusServiceUnavailable, server.ErrorBody{
			Status:  http.StatusServiceUnavailable,
			Message: "audit storage not configured",
		})
		return false
	}
	return true
}

func (s *Server) writeList(w http.ResponseWriter, r *http.Request, logs []*domain.AuditRecord, err error) {
	if err != nil {
		s.logger.Error("failed to list audit records", slog.String("error", err.Error()))
		server.AddError(r.Context(), err)
		server.WriteError(w, err)
		return
	}
	if logs == nil {
		logs = []*domain.AuditRecord{}
	}
	server.WriteJSON(w, http.StatusOK, LogListResponse{Logs: logs, Count: len(logs)})
}

// timeRange reads from/to. A missing to means now; a missing from means
// DefaultWindow before to.
func (s *Server) timeRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()

	to := s.now()
	if v := q.Get("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return time.Time{}, time.Time{}, domain.ErrValidationf("invalid to %q", v)
		}
		to = t
	}

	from := to.Add(-DefaultWindow)
	if v := q.Get("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return time.Time{}, time.Time{}, domain.ErrValidationf("invalid from %q", v)
		}
		from = t
	}

	if from.After(to) {
		return time.Time{}, time.Time{}, domain.ErrValidationf("from must not be after to")
	}
	return from, to, nil
}

// parseTime accepts the layouts in timeLayouts or unix milliseconds.
// Layouts without a zone are read as UTC.
func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func listOptions(r *http.Request) storage.ListOptions {
	var opts storage.ListOptions

	if q := r.URL.Query().Get("limit"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 && v <= maxListLimit {
			opts.Limit = v
		}
	}

	if q := r.URL.Query().Get("offset"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v >= 0 {
			opts.Offset = v
		}
	}

	return opts.Normalize()
}
