// Package cdrhealth exposes a minimal chi-routed HTTP surface — /healthz
// and /metrics — for hosts that run the engine as a long-lived process
// (e.g. polling a directory on a schedule) rather than a one-shot CLI
// invocation, grounded on the teacher's health/metrics server wiring.
package cdrhealth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// PingChecker is satisfied by any dependency whose health can be reduced
// to "can we still reach it" — in practice, PostgresSink.
type PingChecker interface {
	HealthCheck(ctx context.Context) error
}

// Response is the JSON body returned by /healthz.
type Response struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

// Handler serves /healthz and /metrics.
type Handler struct {
	db        PingChecker // nil when no PostgresSink is configured
	version   string
	startTime time.Time
	log       zerolog.Logger
}

// NewHandler constructs a health handler. db may be nil.
func NewHandler(db PingChecker, version string, startTime time.Time, log zerolog.Logger) *Handler {
	return &Handler{db: db, version: version, startTime: startTime, log: log}
}

// Router returns a chi router serving /healthz and /metrics.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(h.recoverer)
	r.Get("/healthz", h.serveHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	return r
}

// recoverer mirrors the teacher's own panic-recovery middleware rather than
// chi's built-in, so a panicking handler logs through this package's
// zerolog logger and returns the same JSON error shape as the rest of the
// surface.
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				h.log.Error().Interface("panic", rv).Msg("recovered from panic")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, `{"code":"internal_error","error":"internal server error"}`)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
			h.log.Warn().Err(err).Msg("database health check failed")
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	resp := Response{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(resp)
}
