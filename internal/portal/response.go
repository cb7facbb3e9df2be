package portal

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Error codes surfaced to API clients. The web client switches on these to
// pick a user-facing message.
const (
	codeUnauthenticated     = "unauthenticated"
	codeNotEntitled         = "not_entitled"
	codeAlreadyPurchased    = "already_purchased"
	codeDeviceLimitExceeded = "device_limit_exceeded"
	codeSessionInvalid      = "session_invalid"
	codeUpstreamError       = "upstream_error"
	codeValidationError     = "validation_error"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("portal: encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}
