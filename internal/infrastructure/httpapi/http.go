// Package httpapi accepts trigger events from the feed service and serves operational endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"CitySense/internal/domain"
)

// EventSink receives trigger events.
type EventSink interface {
	OnReportCreated(ctx context.Context, reportID string) (bool, error)
	OnDailyTimer(ctx context.Context, date domain.Date) (bool, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps wires the handlers.
type RouterDeps struct {
	Events  EventSink
	Health  Pinger
	Metrics http.Handler
	// DefaultDate picks the day to aggregate when a timer event omits it.
	DefaultDate func() domain.Date
	Logger      *slog.Logger
}

// Router builds HTTP handlers for /api and the operational endpoints.
type Router struct {
	events      EventSink
	health      Pinger
	metrics     http.Handler
	defaultDate func() domain.Date
	logger      *slog.Logger
}

func NewRouter(deps RouterDeps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defaultDate := deps.DefaultDate
	if defaultDate == nil {
		defaultDate = func() domain.Date { return domain.DateOf(time.Now(), time.UTC).Previous() }
	}
	return &Router{
		events:      deps.Events,
		health:      deps.Health,
		metrics:     deps.Metrics,
		defaultDate: defaultDate,
		logger:      logger,
	}
}

func (r *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/events/report-created", r.reportCreated)
	mux.HandleFunc("POST /api/v1/events/daily-timer", r.dailyTimer)
	mux.HandleFunc("GET /healthz", r.healthz)
	if r.metrics != nil {
		mux.Handle("GET /metrics", r.metrics)
	}
}

// Handler returns a mux with all routes registered.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	r.Register(mux)
	return mux
}

type eventResponse struct {
	Status string `json:"status"`
	Key    string `json:"key"`
}

func (r *Router) reportCreated(w http.ResponseWriter, req *http.Request) {
	var body struct {
		ReportID string `json:"report_id"`
	}
	if err := decode(w, req, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := strings.TrimSpace(body.ReportID)
	if id == "" {
		http.Error(w, "report_id is required", http.StatusBadRequest)
		return
	}

	queued, err := r.events.OnReportCreated(req.Context(), id)
	r.respondEvent(w, id, queued, err)
}

func (r *Router) dailyTimer(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Date string `json:"date"`
	}
	if err := decode(w, req, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	date := r.defaultDate()
	if body.Date != "" {
		parsed, err := domain.ParseDate(body.Date)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		date = parsed
	}

	queued, err := r.events.OnDailyTimer(req.Context(), date)
	r.respondEvent(w, date.String(), queued, err)
}

func (r *Router) respondEvent(w http.ResponseWriter, key string, queued bool, err error) {
	switch {
	case errors.Is(err, domain.ErrQueueFull):
		w.Header().Set("Retry-After", "5")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		r.logger.Error("event rejected", "key", key, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	case queued:
		respondJSON(w, http.StatusAccepted, eventResponse{Status: "queued", Key: key})
	default:
		respondJSON(w, http.StatusOK, eventResponse{Status: "ignored", Key: key})
	}
}

func (r *Router) healthz(w http.ResponseWriter, req *http.Request) {
	if r.health != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := r.health.Ping(ctx); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode accepts an empty body as an empty object.
func decode(w http.ResponseWriter, req *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<16))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
