// Package handlers implements the HTTP surface: per-provider OAuth actions,
// sync actions, and observational endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/tradiehq/ledgersync/internal/auth/flow"
	"github.com/tradiehq/ledgersync/internal/auth/token"
	"github.com/tradiehq/ledgersync/internal/syncer"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeFlowError maps known error classes to the response taxonomy: auth
// failures stay generic, validation failures carry a safe message, and
// anything unexpected is logged in full but reported as a generic failure.
func writeFlowError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var rl *flow.RateLimitedError
	switch {
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter))
		writeError(w, http.StatusTooManyRequests, "too many requests")
	case errors.Is(err, flow.ErrInvalidState):
		writeError(w, http.StatusForbidden, "invalid state")
	case errors.Is(err, flow.ErrMissingCode):
		writeError(w, http.StatusBadRequest, "missing authorization code")
	case errors.Is(err, token.ErrReconnectRequired):
		writeError(w, http.StatusUnauthorized, "credentials invalid, please reconnect")
	case errors.Is(err, token.ErrNotConnected):
		writeError(w, http.StatusBadRequest, "provider not connected")
	case errors.Is(err, syncer.ErrSyncDisabled):
		writeError(w, http.StatusBadRequest, "sync is disabled for this provider")
	case errors.Is(err, syncer.ErrInvalidOptions):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
