// Package server exposes health, readiness, metrics and dead-letter
// inspection over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/ingest-notify/common/httputil"
	"github.com/telhawk-systems/ingest-notify/common/logging"
	"github.com/telhawk-systems/ingest-notify/common/middleware"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/dlq"
)

// ReadinessCheck returns nil when the transport can deliver messages.
type ReadinessCheck func(ctx context.Context) error

// DeadLetterQueue is the read side of the rejected-message store.
type DeadLetterQueue interface {
	Stats(ctx context.Context) map[string]interface{}
	List(ctx context.Context, limit int) ([]dlq.RejectedEvent, error)
	Purge(ctx context.Context) error
}

type handlers struct {
	ready  ReadinessCheck
	queue  DeadLetterQueue
	logger *slog.Logger
}

// NewRouter constructs a ServeMux with the operational routes registered.
// ready and queue may be nil.
func NewRouter(ready ReadinessCheck, queue DeadLetterQueue, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{ready: ready, queue: queue, logger: logger.With(logging.Component("http"))}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /readyz", h.readiness)

	// Dead-letter inspection
	if queue != nil {
		mux.HandleFunc("GET /dlq/stats", h.dlqStats)
		mux.HandleFunc("GET /dlq/events", h.dlqEvents)
		mux.HandleFunc("DELETE /dlq/events", h.dlqPurge)
	}

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteStatus(w, http.StatusOK, "ok", nil)
}

func (h *handlers) readiness(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			httputil.WriteStatus(w, http.StatusServiceUnavailable, "not_ready", err)
			return
		}
	}
	httputil.WriteStatus(w, http.StatusOK, "ready", nil)
}

func (h *handlers) dlqStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.queue.Stats(r.Context()))
}

func (h *handlers) dlqEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := h.queue.List(r.Context(), limit)
	if err != nil {
		h.log(r).ErrorContext(r.Context(), "Listing DLQ failed", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []dlq.RejectedEvent{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

func (h *handlers) dlqPurge(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Purge(r.Context()); err != nil {
		h.log(r).ErrorContext(r.Context(), "Purging DLQ failed", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) log(r *http.Request) *slog.Logger {
	return h.logger.With(logging.InvocationID(logging.GetInvocationID(r.Context())))
}
