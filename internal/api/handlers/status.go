package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tradiehq/ledgersync/internal/auth/flow"
	"github.com/tradiehq/ledgersync/internal/auth/identity"
	"github.com/tradiehq/ledgersync/internal/db/models"
)

const (
	defaultSyncLogLimit = 50
	maxSyncLogLimit     = 200
)

// ConnectionsHandler reports the connection status of every provider for
// the calling user.
func ConnectionsHandler(f *flow.Flow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := identity.UserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		statuses, err := f.Status(r.Context(), userID)
		if err != nil {
			writeFlowError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"connections": statuses})
	}
}

// SyncLogHandler lists the caller's recent sync attempts, newest first.
// Optional query parameters: provider, entity_type, status, limit.
func SyncLogHandler(gdb *gorm.DB, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := identity.UserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		limit := defaultSyncLogLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			if n > maxSyncLogLimit {
				n = maxSyncLogLimit
			}
			limit = n
		}

		q := gdb.WithContext(r.Context()).
			Where("user_id = ?", userID).
			Order("created_at DESC").
			Limit(limit)
		if p := r.URL.Query().Get("provider"); p != "" {
			q = q.Where("provider = ?", p)
		}
		if et := r.URL.Query().Get("entity_type"); et != "" {
			q = q.Where("entity_type = ?", et)
		}
		if st := r.URL.Query().Get("status"); st != "" {
			q = q.Where("sync_status = ?", st)
		}

		var entries []models.SyncLog
		if err := q.Find(&entries).Error; err != nil {
			logger.Error("sync log query failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	}
}

// HealthHandler reports service liveness and database reachability.
func HealthHandler(gdb *gorm.DB, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if sqlDB, err := gdb.DB(); err != nil || sqlDB.PingContext(r.Context()) != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{"status": status, "version": version})
	}
}
