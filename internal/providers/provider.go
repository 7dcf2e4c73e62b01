// Package providers defines the common surface the sync and OAuth layers
// use to talk to the external accounting systems (Xero, QuickBooks, MYOB).
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// Tenant is the provider-side organisation a user's data syncs into
// (Xero tenant, QuickBooks realm, MYOB company file).
type Tenant struct {
	ID   string
	Name string
}

// Token carries what a single API call needs: a decrypted access token and
// the tenant it is scoped to.
type Token struct {
	AccessToken string
	TenantID    string
}

// Contact is the provider-neutral shape of a local client row.
type Contact struct {
	FirstName   string
	LastName    string
	CompanyName string
	DisplayName string
	Email       string
	Phone       string

	AddressLine string
	City        string
	Region      string
	PostalCode  string
	Country     string
}

// InvoiceLine is one line of an invoice draft.
type InvoiceLine struct {
	Description string
	Quantity    float64
	UnitAmount  float64
	Taxable     bool
}

// Invoice is the provider-neutral shape of a local invoice row. ContactRef
// must already hold the provider's reference id for the related client;
// sync order is client-before-invoice.
type Invoice struct {
	Number     string
	Status     string
	IssueDate  time.Time
	DueDate    time.Time
	ContactRef string
	Lines      []InvoiceLine
	Total      float64
}

// Provider is one accounting system integration.
type Provider interface {
	Name() string

	// OAuth returns the authorization-code config for this provider.
	// Client credentials go in a Basic auth header on token calls.
	OAuth(redirectURL string) *oauth2.Config

	// ResolveTenant determines the organisation to sync into right after
	// the code exchange. Xero and MYOB call a discovery endpoint and take
	// the first available organisation (a deliberate single-tenant
	// assumption); QuickBooks reads realmId from the callback query.
	ResolveTenant(ctx context.Context, accessToken string, callbackQuery url.Values) (Tenant, error)

	CreateContact(ctx context.Context, tok Token, c *Contact) (string, error)
	UpdateContact(ctx context.Context, tok Token, refID string, c *Contact) error

	CreateInvoice(ctx context.Context, tok Token, inv *Invoice) (string, error)
	UpdateInvoice(ctx context.Context, tok Token, refID string, inv *Invoice) error
}

// APIError is a non-2xx response from a provider API. The full body is for
// server-side logs only; clients see a truncated excerpt at most.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API returned %d: %s", e.Provider, e.StatusCode, e.Body)
}

// NewHTTPClient returns the http client provider packages share by default.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// Do sends a JSON request and decodes a 2xx response body into out (when
// out is non-nil). Non-2xx responses become a *APIError carrying the full
// body. The response headers are returned for providers that put created
// ids in a Location header.
func Do(ctx context.Context, hc *http.Client, provider, method, rawURL string, headers map[string]string, in, out any) (http.Header, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.Header, &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.Header, fmt.Errorf("failed to decode %s response: %w", provider, err)
		}
	}
	return resp.Header, nil
}

// BearerHeaders returns the common Authorization header set.
func BearerHeaders(accessToken string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + accessToken}
}
