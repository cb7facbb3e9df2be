package portal

import (
	"net/http"

	"github.com/Mvula88/impota-portal/internal/portal/pmetrics"
)

// handleHealthz returns 200 "ok" unconditionally (liveness probe).
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz checks store connectivity (readiness probe).
func handleReadyz(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := deps.Entitlements != nil && deps.Devices != nil
		if ready && deps.Entitlements.Ping() != nil {
			ready = false
		}
		if ready && deps.Devices.Ping() != nil {
			ready = false
		}
		w.Header().Set("Content-Type", "text/plain")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

type statusResponse struct {
	Version            string `json:"version"`
	ActiveEntitlements int    `json:"active_entitlements"`
}

// handleStatus reports aggregate portal status.
func handleStatus(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Entitlements.CountActive()
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeUpstreamError, "status failed: "+err.Error())
			return
		}

		// Opportunistically sync the gauge on status calls (in addition to
		// the background updater).
		pmetrics.ActiveEntitlements.Set(float64(n))

		writeJSON(w, http.StatusOK, statusResponse{
			Version:            deps.Version,
			ActiveEntitlements: n,
		})
	}
}
