package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/tradiehq/ledgersync/internal/auth/identity"
	"github.com/tradiehq/ledgersync/internal/syncer"
)

type clientSyncRequest struct {
	ClientID string `json:"client_id"`
	SyncAll  bool   `json:"sync_all"`
}

type invoiceSyncRequest struct {
	InvoiceID string `json:"invoice_id"`
	SyncAll   bool   `json:"sync_all"`
}

// SyncClientsHandler pushes one client or all pending clients to the
// provider and answers with per-row results.
func SyncClientsHandler(svc *syncer.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := identity.UserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var req clientSyncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		result, err := svc.SyncClients(r.Context(), userID, syncer.Options{EntityID: req.ClientID, All: req.SyncAll})
		if err != nil {
			writeFlowError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// SyncInvoicesHandler pushes one invoice or all pending invoices. Clients an
// invoice depends on are pushed first.
func SyncInvoicesHandler(svc *syncer.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := identity.UserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var req invoiceSyncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		result, err := svc.SyncInvoices(r.Context(), userID, syncer.Options{EntityID: req.InvoiceID, All: req.SyncAll})
		if err != nil {
			writeFlowError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
