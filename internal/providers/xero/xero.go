// Package xero implements the Xero accounting integration: OAuth endpoints,
// tenant discovery via the connections API, and Contacts/Invoices upserts.
package xero

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/tradiehq/ledgersync/internal/db/models"
	"github.com/tradiehq/ledgersync/internal/providers"
)

// Scopes requested during connect. offline_access is required for refresh
// tokens.
var Scopes = []string{
	"openid", "profile", "email",
	"accounting.contacts", "accounting.transactions",
	"offline_access",
}

// Xero talks to the Xero API. URL fields are overridable for tests.
type Xero struct {
	ClientID     string
	ClientSecret string

	AuthURL        string
	TokenURL       string
	ConnectionsURL string
	APIBaseURL     string

	HTTPClient *http.Client
}

// New creates a Xero provider with production endpoints.
func New(clientID, clientSecret string) *Xero {
	return &Xero{
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		AuthURL:        "https://login.xero.com/identity/connect/authorize",
		TokenURL:       "https://identity.xero.com/connect/token",
		ConnectionsURL: "https://api.xero.com/connections",
		APIBaseURL:     "https://api.xero.com/api.xro/2.0",
		HTTPClient:     providers.NewHTTPClient(),
	}
}

func (x *Xero) Name() string { return models.ProviderXero }

func (x *Xero) OAuth(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     x.ClientID,
		ClientSecret: x.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   x.AuthURL,
			TokenURL:  x.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

type connection struct {
	TenantID   string `json:"tenantId"`
	TenantName string `json:"tenantName"`
	TenantType string `json:"tenantType"`
}

// ResolveTenant lists authorized connections and selects the first one.
// Users with multiple Xero organisations get the first returned; exposing a
// selection step is a known limitation.
func (x *Xero) ResolveTenant(ctx context.Context, accessToken string, _ url.Values) (providers.Tenant, error) {
	var conns []connection
	_, err := providers.Do(ctx, x.HTTPClient, x.Name(), http.MethodGet, x.ConnectionsURL,
		providers.BearerHeaders(accessToken), nil, &conns)
	if err != nil {
		return providers.Tenant{}, err
	}
	if len(conns) == 0 {
		return providers.Tenant{}, fmt.Errorf("no Xero organisations authorized")
	}
	return providers.Tenant{ID: conns[0].TenantID, Name: conns[0].TenantName}, nil
}

func (x *Xero) headers(tok providers.Token) map[string]string {
	h := providers.BearerHeaders(tok.AccessToken)
	h["Xero-tenant-id"] = tok.TenantID
	return h
}

type xeroPhone struct {
	PhoneType   string `json:"PhoneType"`
	PhoneNumber string `json:"PhoneNumber"`
}

type xeroAddress struct {
	AddressType  string `json:"AddressType"`
	AddressLine1 string `json:"AddressLine1,omitempty"`
	City         string `json:"City,omitempty"`
	Region       string `json:"Region,omitempty"`
	PostalCode   string `json:"PostalCode,omitempty"`
	Country      string `json:"Country,omitempty"`
}

type xeroContact struct {
	ContactID    string        `json:"ContactID,omitempty"`
	Name         string        `json:"Name"`
	FirstName    string        `json:"FirstName,omitempty"`
	LastName     string        `json:"LastName,omitempty"`
	EmailAddress string        `json:"EmailAddress,omitempty"`
	Phones       []xeroPhone   `json:"Phones,omitempty"`
	Addresses    []xeroAddress `json:"Addresses,omitempty"`
}

type contactsEnvelope struct {
	Contacts []xeroContact `json:"Contacts"`
}

func mapContact(c *providers.Contact) xeroContact {
	xc := xeroContact{
		Name:         c.DisplayName,
		FirstName:    c.FirstName,
		LastName:     c.LastName,
		EmailAddress: c.Email,
	}
	if c.Phone != "" {
		xc.Phones = []xeroPhone{{PhoneType: "DEFAULT", PhoneNumber: c.Phone}}
	}
	if c.AddressLine != "" || c.City != "" {
		xc.Addresses = []xeroAddress{{
			AddressType:  "STREET",
			AddressLine1: c.AddressLine,
			City:         c.City,
			Region:       c.Region,
			PostalCode:   c.PostalCode,
			Country:      c.Country,
		}}
	}
	return xc
}

func (x *Xero) CreateContact(ctx context.Context, tok providers.Token, c *providers.Contact) (string, error) {
	in := contactsEnvelope{Contacts: []xeroContact{mapContact(c)}}
	var out contactsEnvelope
	_, err := providers.Do(ctx, x.HTTPClient, x.Name(), http.MethodPost, x.APIBaseURL+"/Contacts",
		x.headers(tok), in, &out)
	if err != nil {
		return "", err
	}
	if len(out.Contacts) == 0 || out.Contacts[0].ContactID == "" {
		return "", fmt.Errorf("xero response missing ContactID")
	}
	return out.Contacts[0].ContactID, nil
}

// UpdateContact posts to /Contacts/{id}; Xero treats POST on an existing
// contact as an update.
func (x *Xero) UpdateContact(ctx context.Context, tok providers.Token, refID string, c *providers.Contact) error {
	xc := mapContact(c)
	xc.ContactID = refID
	in := contactsEnvelope{Contacts: []xeroContact{xc}}
	_, err := providers.Do(ctx, x.HTTPClient, x.Name(), http.MethodPost, x.APIBaseURL+"/Contacts/"+refID,
		x.headers(tok), in, nil)
	return err
}

type xeroLineItem struct {
	Description string  `json:"Description"`
	Quantity    float64 `json:"Quantity"`
	UnitAmount  float64 `json:"UnitAmount"`
	TaxType     string  `json:"TaxType"`
}

type xeroInvoice struct {
	InvoiceID       string         `json:"InvoiceID,omitempty"`
	Type            string         `json:"Type"`
	InvoiceNumber   string         `json:"InvoiceNumber,omitempty"`
	Contact         map[string]any `json:"Contact"`
	Date            string         `json:"Date"`
	DueDate         string         `json:"DueDate"`
	Status          string         `json:"Status"`
	LineAmountTypes string         `json:"LineAmountTypes"`
	LineItems       []xeroLineItem `json:"LineItems"`
}

type invoicesEnvelope struct {
	Invoices []xeroInvoice `json:"Invoices"`
}

// statusMap translates local invoice statuses to Xero's closest
// equivalent. Paid and overdue invoices stay AUTHORISED; payment state in
// Xero comes from payments, not the invoice document.
var statusMap = map[string]string{
	models.InvoiceStatusDraft:   "DRAFT",
	models.InvoiceStatusSent:    "AUTHORISED",
	models.InvoiceStatusPaid:    "AUTHORISED",
	models.InvoiceStatusOverdue: "AUTHORISED",
	models.InvoiceStatusVoid:    "VOIDED",
}

// MapStatus returns the Xero invoice status for a local status.
func MapStatus(local string) string {
	if s, ok := statusMap[local]; ok {
		return s
	}
	return "DRAFT"
}

func mapInvoice(inv *providers.Invoice) xeroInvoice {
	xi := xeroInvoice{
		Type:            "ACCREC",
		InvoiceNumber:   inv.Number,
		Contact:         map[string]any{"ContactID": inv.ContactRef},
		Date:            inv.IssueDate.Format("2006-01-02"),
		DueDate:         inv.DueDate.Format("2006-01-02"),
		Status:          MapStatus(inv.Status),
		LineAmountTypes: "Exclusive",
	}
	for _, l := range inv.Lines {
		taxType := "NONE"
		if l.Taxable {
			taxType = "OUTPUT"
		}
		xi.LineItems = append(xi.LineItems, xeroLineItem{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitAmount:  l.UnitAmount,
			TaxType:     taxType,
		})
	}
	return xi
}

func (x *Xero) CreateInvoice(ctx context.Context, tok providers.Token, inv *providers.Invoice) (string, error) {
	in := invoicesEnvelope{Invoices: []xeroInvoice{mapInvoice(inv)}}
	var out invoicesEnvelope
	_, err := providers.Do(ctx, x.HTTPClient, x.Name(), http.MethodPost, x.APIBaseURL+"/Invoices",
		x.headers(tok), in, &out)
	if err != nil {
		return "", err
	}
	if len(out.Invoices) == 0 || out.Invoices[0].InvoiceID == "" {
		return "", fmt.Errorf("xero response missing InvoiceID")
	}
	return out.Invoices[0].InvoiceID, nil
}

func (x *Xero) UpdateInvoice(ctx context.Context, tok providers.Token, refID string, inv *providers.Invoice) error {
	xi := mapInvoice(inv)
	xi.InvoiceID = refID
	in := invoicesEnvelope{Invoices: []xeroInvoice{xi}}
	_, err := providers.Do(ctx, x.HTTPClient, x.Name(), http.MethodPost, x.APIBaseURL+"/Invoices/"+refID,
		x.headers(tok), in, nil)
	return err
}
