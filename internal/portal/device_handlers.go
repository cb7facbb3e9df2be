package portal

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Mvula88/impota-portal/internal/portal/devices"
	"github.com/Mvula88/impota-portal/internal/portal/pmetrics"
	"github.com/Mvula88/impota-portal/pkg/sessioncarrier"
)

type deviceCheckRequest struct {
	DeviceFingerprint string          `json:"deviceFingerprint"`
	Signals           devices.Signals `json:"signals"`
	DeviceType        string          `json:"deviceType"`
	SessionToken      string          `json:"sessionToken"`
}

type deviceCheckResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// handleDeviceCheck registers the calling device against the holder's quota
// (POST) or reports active device counts (GET).
func handleDeviceCheck(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			checkDevice(deps, w, r)
		case http.MethodGet:
			countDevices(deps, w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func checkDevice(deps *Deps, w http.ResponseWriter, r *http.Request) {
	var req deviceCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidationError, "invalid JSON body")
		return
	}

	payload := devicePayload(deps, r, req.SessionToken)
	if payload == nil {
		pmetrics.DeviceChecksTotal.WithLabelValues("unauthenticated").Inc()
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "sign in to continue")
		return
	}

	ent, err := deps.Entitlements.Lookup(payload.Email, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeUpstreamError, "access lookup failed: "+err.Error())
		return
	}
	if ent == nil {
		pmetrics.DeviceChecksTotal.WithLabelValues("not_entitled").Inc()
		writeError(w, http.StatusForbidden, codeNotEntitled, "no active access for this account")
		return
	}

	fingerprint := strings.TrimSpace(req.DeviceFingerprint)
	if fingerprint == "" {
		fingerprint = devices.Fingerprint(req.Signals)
	}

	deviceType := devices.DeviceType(req.DeviceType)
	if !devices.ValidDeviceType(deviceType) {
		ua := req.Signals.UserAgent
		if ua == "" {
			ua = r.UserAgent()
		}
		deviceType = devices.ClassifyDeviceType(ua)
	}

	result, err := deps.Devices.Register(userKeyFor(ent, payload.Email), fingerprint, deviceType, payload.SessionID, time.Now())
	if err != nil {
		pmetrics.DeviceChecksTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, codeUpstreamError, "device registration failed: "+err.Error())
		return
	}

	if result.Allowed {
		pmetrics.DeviceChecksTotal.WithLabelValues("allowed").Inc()
	} else {
		pmetrics.DeviceChecksTotal.WithLabelValues("denied").Inc()
	}
	writeJSON(w, http.StatusOK, deviceCheckResponse{Allowed: result.Allowed, Reason: result.Reason})
}

func countDevices(deps *Deps, w http.ResponseWriter, r *http.Request) {
	payload := devicePayload(deps, r, "")
	if payload == nil {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "sign in to continue")
		return
	}

	ent, err := deps.Entitlements.Lookup(payload.Email, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeUpstreamError, "access lookup failed: "+err.Error())
		return
	}
	if ent == nil {
		writeError(w, http.StatusForbidden, codeNotEntitled, "no active access for this account")
		return
	}

	counts, err := deps.Devices.CountActive(userKeyFor(ent, payload.Email))
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeUpstreamError, "device count failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// devicePayload resolves the session for a device call: an explicit token in
// the request body wins, otherwise the carrier cookie is used.
func devicePayload(deps *Deps, r *http.Request, token string) *sessioncarrier.Payload {
	token = strings.TrimSpace(token)
	if token != "" {
		payload, err := sessioncarrier.Verify(deps.SessionKey, token, time.Now())
		if err != nil {
			return nil
		}
		return payload
	}
	return sessionFromRequest(deps, r)
}
