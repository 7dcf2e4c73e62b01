package models

import "time"

// Sync log entity types and statuses.
const (
	EntityTypeClient  = "client"
	EntityTypeInvoice = "invoice"

	SyncDirectionPush = "push"

	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// SyncLog is an append-only record of one sync attempt for one entity.
// Rows are never updated or deleted; they exist for status displays and
// debugging only.
type SyncLog struct {
	ID            string `gorm:"primaryKey"` // UUID
	UserID        string `gorm:"index"`
	Provider      string `gorm:"index"`
	EntityType    string
	EntityID      string
	SyncDirection string
	SyncStatus    string
	ErrorMessage  string
	CreatedAt     time.Time `gorm:"index"`
}
