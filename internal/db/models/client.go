package models

import "time"

// ProviderRef carries the provider-assigned reference id for a synced row
// plus the outcome of the most recent sync attempt. The reference id stays
// null until the first successful sync; later syncs update in place using
// it. A failed sync records the (truncated) error and leaves everything
// else untouched.
type ProviderRef struct {
	RefID      string     `gorm:"column:ref_id"`
	LastSynced *time.Time `gorm:"column:last_synced"`
	SyncError  string     `gorm:"column:sync_error"`
}

// Client is a customer of the business (the "tradie" side of the ledger).
type Client struct {
	ID     string `gorm:"primaryKey"` // UUID
	UserID string `gorm:"index"`

	FirstName   string
	LastName    string
	CompanyName string
	Email       string
	Phone       string

	AddressLine string
	City        string
	Region      string
	PostalCode  string
	Country     string

	Deleted bool `gorm:"default:false"`

	Xero       ProviderRef `gorm:"embedded;embeddedPrefix:xero_contact_"`
	QuickBooks ProviderRef `gorm:"embedded;embeddedPrefix:qb_customer_"`
	MYOB       ProviderRef `gorm:"embedded;embeddedPrefix:myob_contact_"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ref returns the provider reference record for a provider, nil if unknown.
func (c *Client) Ref(provider string) *ProviderRef {
	switch provider {
	case ProviderXero:
		return &c.Xero
	case ProviderQuickBooks:
		return &c.QuickBooks
	case ProviderMYOB:
		return &c.MYOB
	}
	return nil
}

// DisplayName prefers the company name, falling back to the contact name.
func (c *Client) DisplayName() string {
	if c.CompanyName != "" {
		return c.CompanyName
	}
	name := c.FirstName
	if c.LastName != "" {
		if name != "" {
			name += " "
		}
		name += c.LastName
	}
	return name
}
