package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/tradiehq/ledgersync/internal/auth/flow"
	"github.com/tradiehq/ledgersync/internal/auth/identity"
	"github.com/tradiehq/ledgersync/internal/providers"
)

// ConnectHandler starts the OAuth flow: it answers with the provider
// authorization URL the client should redirect the user to.
func ConnectHandler(f *flow.Flow, p providers.Provider, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := identity.UserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		authURL, err := f.Connect(r.Context(), p, userID)
		if err != nil {
			writeFlowError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
	}
}

// CallbackHandler completes the OAuth flow. It is deliberately unauthenticated:
// the provider redirect may land in a browser context without our auth header,
// so the user identity comes from the signed state parameter instead.
func CallbackHandler(f *flow.Flow, p providers.Provider, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if errParam := query.Get("error"); errParam != "" {
			logger.Warn("provider denied authorization",
				zap.String("provider", p.Name()), zap.String("error", errParam))
			writeError(w, http.StatusBadRequest, "authorization was denied")
			return
		}

		if err := f.Callback(r.Context(), p, query.Get("code"), query); err != nil {
			writeFlowError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "connected", "provider": p.Name()})
	}
}

// RefreshHandler forces a token refresh regardless of remaining lifetime.
func RefreshHandler(f *flow.Flow, p providers.Provider, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := identity.UserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		if err := f.Refresh(r.Context(), p, userID); err != nil {
			writeFlowError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed", "provider": p.Name()})
	}
}

// DisconnectHandler clears stored credentials and disables sync.
func DisconnectHandler(f *flow.Flow, p providers.Provider, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := identity.UserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		if err := f.Disconnect(r.Context(), p, userID); err != nil {
			writeFlowError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected", "provider": p.Name()})
	}
}
