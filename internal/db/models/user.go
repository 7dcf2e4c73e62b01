package models

import "time"

// Provider identifiers as stored in credential columns and sync logs.
const (
	ProviderXero       = "xero"
	ProviderQuickBooks = "quickbooks"
	ProviderMYOB       = "myob"
)

// Providers lists every supported accounting provider.
var Providers = []string{ProviderXero, ProviderQuickBooks, ProviderMYOB}

// ProviderCredential holds one provider connection embedded in the user row.
// Access and refresh tokens are stored encrypted (vault output, base64) and
// are never written in plaintext. An empty TenantID means "not connected"
// regardless of token presence.
type ProviderCredential struct {
	AccessToken    string     `gorm:"column:access_token"`
	RefreshToken   string     `gorm:"column:refresh_token"`
	TokenExpiresAt *time.Time `gorm:"column:token_expires_at"`
	TenantID       string     `gorm:"column:tenant_id"`
	SyncEnabled    bool       `gorm:"column:sync_enabled;default:false"`
	ConnectedAt    *time.Time `gorm:"column:connected_at"`
}

// Connected reports whether the credential represents a live connection.
func (c *ProviderCredential) Connected() bool {
	return c.TenantID != ""
}

// Clear wipes all credential fields and disables sync.
func (c *ProviderCredential) Clear() {
	*c = ProviderCredential{}
}

// User is a business owner profile with per-provider accounting connections.
type User struct {
	ID           string `gorm:"primaryKey"` // UUID
	Email        string `gorm:"uniqueIndex"`
	BusinessName string

	Xero       ProviderCredential `gorm:"embedded;embeddedPrefix:xero_"`
	QuickBooks ProviderCredential `gorm:"embedded;embeddedPrefix:qb_"`
	MYOB       ProviderCredential `gorm:"embedded;embeddedPrefix:myob_"`

	// Bank details for invoice footers, each field encrypted independently.
	// Any subset may be absent.
	BankName          string
	BankBSB           string
	BankAccountNumber string
	BankAccountName   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Credential returns the embedded credential record for a provider.
// Returns nil for an unknown provider name.
func (u *User) Credential(provider string) *ProviderCredential {
	switch provider {
	case ProviderXero:
		return &u.Xero
	case ProviderQuickBooks:
		return &u.QuickBooks
	case ProviderMYOB:
		return &u.MYOB
	}
	return nil
}
