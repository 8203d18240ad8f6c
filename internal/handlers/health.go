package handlers

import (
	"context"
	"net/http"

	"github.com/chumon-app/kiosk/internal/platform/httpx"
)

// ReadyCheck reports whether the kiosk is able to serve traffic.
type ReadyCheck func(ctx context.Context) error

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	ready ReadyCheck
}

// NewHealthHandlers constructs the probe handlers. A nil check makes readiness
// equivalent to liveness.
func NewHealthHandlers(ready ReadyCheck) *HealthHandlers {
	return &HealthHandlers{ready: ready}
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports whether the kiosk's collaborators are up.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("not_ready", err.Error(), http.StatusServiceUnavailable))
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ready"})
}
