// Package myob implements the MYOB AccountRight integration. Company files
// play the tenant role; the first available file is selected at connect
// time. New entity ids come back in the Location header rather than the
// response body, and updates require the row's current RowVersion.
package myob

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/tradiehq/ledgersync/internal/db/models"
	"github.com/tradiehq/ledgersync/internal/providers"
)

var Scopes = []string{"CompanyFile"}

// MYOB talks to the MYOB AccountRight API. URL fields are overridable for
// tests.
type MYOB struct {
	ClientID     string
	ClientSecret string

	AuthURL    string
	TokenURL   string
	APIBaseURL string // accountright base, company file id appended

	HTTPClient *http.Client
}

// New creates a MYOB provider with production endpoints.
func New(clientID, clientSecret string) *MYOB {
	return &MYOB{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthURL:      "https://secure.myob.com/oauth2/account/authorize",
		TokenURL:     "https://secure.myob.com/oauth2/v1/authorize",
		APIBaseURL:   "https://api.myob.com/accountright",
		HTTPClient:   providers.NewHTTPClient(),
	}
}

func (m *MYOB) Name() string { return models.ProviderMYOB }

func (m *MYOB) OAuth(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     m.ClientID,
		ClientSecret: m.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   m.AuthURL,
			TokenURL:  m.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

func (m *MYOB) headers(accessToken string) map[string]string {
	h := providers.BearerHeaders(accessToken)
	h["x-myobapi-key"] = m.ClientID
	h["x-myobapi-version"] = "v2"
	return h
}

type companyFile struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}

// ResolveTenant lists the user's company files and selects the first one.
// Single-company-file assumption, same limitation as Xero tenant selection.
func (m *MYOB) ResolveTenant(ctx context.Context, accessToken string, _ url.Values) (providers.Tenant, error) {
	var files []companyFile
	_, err := providers.Do(ctx, m.HTTPClient, m.Name(), http.MethodGet, m.APIBaseURL+"/",
		m.headers(accessToken), nil, &files)
	if err != nil {
		return providers.Tenant{}, err
	}
	if len(files) == 0 {
		return providers.Tenant{}, fmt.Errorf("no MYOB company files available")
	}
	return providers.Tenant{ID: files[0].ID, Name: files[0].Name}, nil
}

func (m *MYOB) fileURL(tok providers.Token, path string) string {
	return fmt.Sprintf("%s/%s%s", m.APIBaseURL, tok.TenantID, path)
}

// uidFromLocation extracts the created entity's UID from a Location header
// of the form .../Contact/Customer/{uid}.
func uidFromLocation(h http.Header) (string, error) {
	loc := h.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("myob response missing Location header")
	}
	parts := strings.Split(strings.TrimSuffix(loc, "/"), "/")
	uid := parts[len(parts)-1]
	if uid == "" {
		return "", fmt.Errorf("myob Location header has no UID: %s", loc)
	}
	return uid, nil
}

type myobAddress struct {
	Location int    `json:"Location"`
	Street   string `json:"Street,omitempty"`
	City     string `json:"City,omitempty"`
	State    string `json:"State,omitempty"`
	PostCode string `json:"PostCode,omitempty"`
	Country  string `json:"Country,omitempty"`
	Phone1   string `json:"Phone1,omitempty"`
	Email    string `json:"Email,omitempty"`
}

type myobCustomer struct {
	UID          string        `json:"UID,omitempty"`
	RowVersion   string        `json:"RowVersion,omitempty"`
	FirstName    string        `json:"FirstName,omitempty"`
	LastName     string        `json:"LastName,omitempty"`
	CompanyName  string        `json:"CompanyName,omitempty"`
	IsIndividual bool          `json:"IsIndividual"`
	IsActive     bool          `json:"IsActive"`
	Addresses    []myobAddress `json:"Addresses,omitempty"`
}

func mapCustomer(c *providers.Contact) myobCustomer {
	mc := myobCustomer{
		FirstName:    c.FirstName,
		LastName:     c.LastName,
		CompanyName:  c.CompanyName,
		IsIndividual: c.CompanyName == "",
		IsActive:     true,
	}
	if c.AddressLine != "" || c.City != "" || c.Phone != "" || c.Email != "" {
		mc.Addresses = []myobAddress{{
			Location: 1,
			Street:   c.AddressLine,
			City:     c.City,
			State:    c.Region,
			PostCode: c.PostalCode,
			Country:  c.Country,
			Phone1:   c.Phone,
			Email:    c.Email,
		}}
	}
	return mc
}

func (m *MYOB) CreateContact(ctx context.Context, tok providers.Token, c *providers.Contact) (string, error) {
	h, err := providers.Do(ctx, m.HTTPClient, m.Name(), http.MethodPost, m.fileURL(tok, "/Contact/Customer"),
		m.headers(tok.AccessToken), mapCustomer(c), nil)
	if err != nil {
		return "", err
	}
	return uidFromLocation(h)
}

// UpdateContact fetches the current RowVersion then issues a PUT.
func (m *MYOB) UpdateContact(ctx context.Context, tok providers.Token, refID string, c *providers.Contact) error {
	var current myobCustomer
	_, err := providers.Do(ctx, m.HTTPClient, m.Name(), http.MethodGet, m.fileURL(tok, "/Contact/Customer/"+refID),
		m.headers(tok.AccessToken), nil, &current)
	if err != nil {
		return fmt.Errorf("failed to fetch customer row version: %w", err)
	}

	mc := mapCustomer(c)
	mc.UID = refID
	mc.RowVersion = current.RowVersion

	_, err = providers.Do(ctx, m.HTTPClient, m.Name(), http.MethodPut, m.fileURL(tok, "/Contact/Customer/"+refID),
		m.headers(tok.AccessToken), mc, nil)
	return err
}

type myobInvoiceLine struct {
	Type        string  `json:"Type"`
	Description string  `json:"Description"`
	Total       float64 `json:"Total"`
}

type myobInvoice struct {
	UID        string            `json:"UID,omitempty"`
	RowVersion string            `json:"RowVersion,omitempty"`
	Number     string            `json:"Number,omitempty"`
	Date       string            `json:"Date"`
	Customer   map[string]string `json:"Customer"`
	Status     string            `json:"Status"`
	Lines      []myobInvoiceLine `json:"Lines"`
	Terms      map[string]string `json:"Terms,omitempty"`
}

// MapStatus returns the MYOB invoice status for a local status. MYOB only
// distinguishes open and closed sales.
func MapStatus(local string) string {
	if local == models.InvoiceStatusPaid {
		return "Closed"
	}
	return "Open"
}

func mapInvoice(inv *providers.Invoice) myobInvoice {
	mi := myobInvoice{
		Number:   inv.Number,
		Date:     inv.IssueDate.Format("2006-01-02T15:04:05"),
		Customer: map[string]string{"UID": inv.ContactRef},
		Status:   MapStatus(inv.Status),
		Terms:    map[string]string{"DueDate": inv.DueDate.Format("2006-01-02T15:04:05")},
	}
	for _, l := range inv.Lines {
		mi.Lines = append(mi.Lines, myobInvoiceLine{
			Type:        "Transaction",
			Description: l.Description,
			Total:       l.Quantity * l.UnitAmount,
		})
	}
	return mi
}

func (m *MYOB) CreateInvoice(ctx context.Context, tok providers.Token, inv *providers.Invoice) (string, error) {
	h, err := providers.Do(ctx, m.HTTPClient, m.Name(), http.MethodPost, m.fileURL(tok, "/Sale/Invoice/Service"),
		m.headers(tok.AccessToken), mapInvoice(inv), nil)
	if err != nil {
		return "", err
	}
	return uidFromLocation(h)
}

func (m *MYOB) UpdateInvoice(ctx context.Context, tok providers.Token, refID string, inv *providers.Invoice) error {
	var current myobInvoice
	_, err := providers.Do(ctx, m.HTTPClient, m.Name(), http.MethodGet, m.fileURL(tok, "/Sale/Invoice/Service/"+refID),
		m.headers(tok.AccessToken), nil, &current)
	if err != nil {
		return fmt.Errorf("failed to fetch invoice row version: %w", err)
	}

	mi := mapInvoice(inv)
	mi.UID = refID
	mi.RowVersion = current.RowVersion

	_, err = providers.Do(ctx, m.HTTPClient, m.Name(), http.MethodPut, m.fileURL(tok, "/Sale/Invoice/Service/"+refID),
		m.headers(tok.AccessToken), mi, nil)
	return err
}
