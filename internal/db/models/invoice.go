package models

import "time"

// Invoice statuses used locally. Providers map these to their closest
// equivalent (see each provider package).
const (
	InvoiceStatusDraft   = "draft"
	InvoiceStatusSent    = "sent"
	InvoiceStatusPaid    = "paid"
	InvoiceStatusOverdue = "overdue"
	InvoiceStatusVoid    = "void"
)

// InvoiceLineItem is one billed line on an invoice.
type InvoiceLineItem struct {
	ID          string `gorm:"primaryKey"` // UUID
	InvoiceID   string `gorm:"index"`
	Description string
	Quantity    float64
	UnitAmount  float64
	Taxable     bool
}

// Invoice is a bill issued to a client.
type Invoice struct {
	ID       string `gorm:"primaryKey"` // UUID
	UserID   string `gorm:"index"`
	ClientID string `gorm:"index"`

	Number    string
	Status    string `gorm:"default:draft"`
	IssueDate time.Time
	DueDate   time.Time

	LineItems []InvoiceLineItem `gorm:"foreignKey:InvoiceID"`

	Subtotal float64
	TaxTotal float64
	Total    float64

	Deleted bool `gorm:"default:false"`

	Xero       ProviderRef `gorm:"embedded;embeddedPrefix:xero_invoice_"`
	QuickBooks ProviderRef `gorm:"embedded;embeddedPrefix:qb_invoice_"`
	MYOB       ProviderRef `gorm:"embedded;embeddedPrefix:myob_invoice_"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ref returns the provider reference record for a provider, nil if unknown.
func (i *Invoice) Ref(provider string) *ProviderRef {
	switch provider {
	case ProviderXero:
		return &i.Xero
	case ProviderQuickBooks:
		return &i.QuickBooks
	case ProviderMYOB:
		return &i.MYOB
	}
	return nil
}
