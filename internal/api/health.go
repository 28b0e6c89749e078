package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger is a dependency checked by the readiness endpoint.
type Pinger func(ctx context.Context) error

type HealthHandler struct {
	critical map[string]Pinger
	optional map[string]Pinger
	env      string
	version  string
}

func NewHealthHandler(env, version string) *HealthHandler {
	return &HealthHandler{
		critical: make(map[string]Pinger),
		optional: make(map[string]Pinger),
		env:      env,
		version:  version,
	}
}

// WithCritical registers a dependency whose failure makes the service not
// ready.
func (h *HealthHandler) WithCritical(name string, p Pinger) *HealthHandler {
	h.critical[name] = p
	return h
}

// WithOptional registers a dependency whose failure only degrades the service.
func (h *HealthHandler) WithOptional(name string, p Pinger) *HealthHandler {
	h.optional[name] = p
	return h
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"

	for name, ping := range h.critical {
		if check(ctx, ping) {
			deps[name] = "ok"
			continue
		}
		deps[name] = "down"
		status = "error"
	}
	for name, ping := range h.optional {
		if check(ctx, ping) {
			deps[name] = "ok"
			continue
		}
		deps[name] = "down"
		if status == "ok" {
			status = "degraded"
		}
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	})
}

func check(ctx context.Context, ping Pinger) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return ping(ctx) == nil
}
