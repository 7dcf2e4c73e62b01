// Package quickbooks implements the QuickBooks Online integration. Unlike
// Xero and MYOB there is no discovery call: the company (realm) id arrives
// on the OAuth callback query string. Updates require fetching the entity's
// SyncToken first, QuickBooks' optimistic-concurrency token.
package quickbooks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/tradiehq/ledgersync/internal/db/models"
	"github.com/tradiehq/ledgersync/internal/providers"
)

var Scopes = []string{"com.intuit.quickbooks.accounting"}

// QuickBooks talks to the QuickBooks Online API. URL fields are
// overridable for tests.
type QuickBooks struct {
	ClientID     string
	ClientSecret string

	AuthURL    string
	TokenURL   string
	APIBaseURL string // company endpoint prefix, realm id appended

	HTTPClient *http.Client
}

// New creates a QuickBooks provider with production endpoints.
func New(clientID, clientSecret string) *QuickBooks {
	return &QuickBooks{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthURL:      "https://appcenter.intuit.com/connect/oauth2",
		TokenURL:     "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer",
		APIBaseURL:   "https://quickbooks.api.intuit.com/v3/company",
		HTTPClient:   providers.NewHTTPClient(),
	}
}

func (q *QuickBooks) Name() string { return models.ProviderQuickBooks }

func (q *QuickBooks) OAuth(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     q.ClientID,
		ClientSecret: q.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   q.AuthURL,
			TokenURL:  q.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// ResolveTenant reads the realmId Intuit appends to the callback redirect.
func (q *QuickBooks) ResolveTenant(_ context.Context, _ string, callbackQuery url.Values) (providers.Tenant, error) {
	realmID := callbackQuery.Get("realmId")
	if realmID == "" {
		return providers.Tenant{}, fmt.Errorf("callback missing realmId")
	}
	return providers.Tenant{ID: realmID}, nil
}

func (q *QuickBooks) companyURL(tok providers.Token, path string) string {
	return fmt.Sprintf("%s/%s%s", q.APIBaseURL, tok.TenantID, path)
}

type qbRef struct {
	Value string `json:"value"`
}

type qbEmail struct {
	Address string `json:"Address"`
}

type qbPhone struct {
	FreeFormNumber string `json:"FreeFormNumber"`
}

type qbAddress struct {
	Line1                  string `json:"Line1,omitempty"`
	City                   string `json:"City,omitempty"`
	CountrySubDivisionCode string `json:"CountrySubDivisionCode,omitempty"`
	PostalCode             string `json:"PostalCode,omitempty"`
	Country                string `json:"Country,omitempty"`
}

type qbCustomer struct {
	ID               string     `json:"Id,omitempty"`
	SyncToken        string     `json:"SyncToken,omitempty"`
	Sparse           bool       `json:"sparse,omitempty"`
	DisplayName      string     `json:"DisplayName"`
	GivenName        string     `json:"GivenName,omitempty"`
	FamilyName       string     `json:"FamilyName,omitempty"`
	CompanyName      string     `json:"CompanyName,omitempty"`
	PrimaryEmailAddr *qbEmail   `json:"PrimaryEmailAddr,omitempty"`
	PrimaryPhone     *qbPhone   `json:"PrimaryPhone,omitempty"`
	BillAddr         *qbAddress `json:"BillAddr,omitempty"`
}

type customerEnvelope struct {
	Customer qbCustomer `json:"Customer"`
}

func mapCustomer(c *providers.Contact) qbCustomer {
	qc := qbCustomer{
		DisplayName: c.DisplayName,
		GivenName:   c.FirstName,
		FamilyName:  c.LastName,
		CompanyName: c.CompanyName,
	}
	if c.Email != "" {
		qc.PrimaryEmailAddr = &qbEmail{Address: c.Email}
	}
	if c.Phone != "" {
		qc.PrimaryPhone = &qbPhone{FreeFormNumber: c.Phone}
	}
	if c.AddressLine != "" || c.City != "" {
		qc.BillAddr = &qbAddress{
			Line1:                  c.AddressLine,
			City:                   c.City,
			CountrySubDivisionCode: c.Region,
			PostalCode:             c.PostalCode,
			Country:                c.Country,
		}
	}
	return qc
}

func (q *QuickBooks) CreateContact(ctx context.Context, tok providers.Token, c *providers.Contact) (string, error) {
	var out customerEnvelope
	_, err := providers.Do(ctx, q.HTTPClient, q.Name(), http.MethodPost, q.companyURL(tok, "/customer"),
		providers.BearerHeaders(tok.AccessToken), mapCustomer(c), &out)
	if err != nil {
		return "", err
	}
	if out.Customer.ID == "" {
		return "", fmt.Errorf("quickbooks response missing customer Id")
	}
	return out.Customer.ID, nil
}

// UpdateContact fetches the current SyncToken and posts a sparse update.
func (q *QuickBooks) UpdateContact(ctx context.Context, tok providers.Token, refID string, c *providers.Contact) error {
	var current customerEnvelope
	_, err := providers.Do(ctx, q.HTTPClient, q.Name(), http.MethodGet, q.companyURL(tok, "/customer/"+refID),
		providers.BearerHeaders(tok.AccessToken), nil, &current)
	if err != nil {
		return fmt.Errorf("failed to fetch customer sync token: %w", err)
	}

	qc := mapCustomer(c)
	qc.ID = refID
	qc.SyncToken = current.Customer.SyncToken
	qc.Sparse = true

	_, err = providers.Do(ctx, q.HTTPClient, q.Name(), http.MethodPost, q.companyURL(tok, "/customer"),
		providers.BearerHeaders(tok.AccessToken), qc, nil)
	return err
}

type qbLineDetail struct {
	Qty        float64 `json:"Qty"`
	UnitPrice  float64 `json:"UnitPrice"`
	TaxCodeRef qbRef   `json:"TaxCodeRef"`
}

type qbLine struct {
	Amount              float64      `json:"Amount"`
	Description         string       `json:"Description,omitempty"`
	DetailType          string       `json:"DetailType"`
	SalesItemLineDetail qbLineDetail `json:"SalesItemLineDetail"`
}

type qbInvoice struct {
	ID          string   `json:"Id,omitempty"`
	SyncToken   string   `json:"SyncToken,omitempty"`
	Sparse      bool     `json:"sparse,omitempty"`
	DocNumber   string   `json:"DocNumber,omitempty"`
	CustomerRef qbRef    `json:"CustomerRef"`
	TxnDate     string   `json:"TxnDate"`
	DueDate     string   `json:"DueDate"`
	Line        []qbLine `json:"Line"`
}

type invoiceEnvelope struct {
	Invoice qbInvoice `json:"Invoice"`
}

func mapInvoice(inv *providers.Invoice) qbInvoice {
	qi := qbInvoice{
		DocNumber:   inv.Number,
		CustomerRef: qbRef{Value: inv.ContactRef},
		TxnDate:     inv.IssueDate.Format("2006-01-02"),
		DueDate:     inv.DueDate.Format("2006-01-02"),
	}
	for _, l := range inv.Lines {
		taxCode := "NON"
		if l.Taxable {
			taxCode = "TAX"
		}
		qi.Line = append(qi.Line, qbLine{
			Amount:      l.Quantity * l.UnitAmount,
			Description: l.Description,
			DetailType:  "SalesItemLineDetail",
			SalesItemLineDetail: qbLineDetail{
				Qty:        l.Quantity,
				UnitPrice:  l.UnitAmount,
				TaxCodeRef: qbRef{Value: taxCode},
			},
		})
	}
	return qi
}

func (q *QuickBooks) CreateInvoice(ctx context.Context, tok providers.Token, inv *providers.Invoice) (string, error) {
	var out invoiceEnvelope
	_, err := providers.Do(ctx, q.HTTPClient, q.Name(), http.MethodPost, q.companyURL(tok, "/invoice"),
		providers.BearerHeaders(tok.AccessToken), mapInvoice(inv), &out)
	if err != nil {
		return "", err
	}
	if out.Invoice.ID == "" {
		return "", fmt.Errorf("quickbooks response missing invoice Id")
	}
	return out.Invoice.ID, nil
}

// UpdateInvoice fetches the SyncToken then posts the full update. A local
// "void" status maps to QuickBooks' void operation, the closest equivalent;
// other statuses have no invoice-document representation in QBO.
func (q *QuickBooks) UpdateInvoice(ctx context.Context, tok providers.Token, refID string, inv *providers.Invoice) error {
	var current invoiceEnvelope
	_, err := providers.Do(ctx, q.HTTPClient, q.Name(), http.MethodGet, q.companyURL(tok, "/invoice/"+refID),
		providers.BearerHeaders(tok.AccessToken), nil, &current)
	if err != nil {
		return fmt.Errorf("failed to fetch invoice sync token: %w", err)
	}

	if inv.Status == models.InvoiceStatusVoid {
		void := qbInvoice{ID: refID, SyncToken: current.Invoice.SyncToken}
		_, err = providers.Do(ctx, q.HTTPClient, q.Name(), http.MethodPost, q.companyURL(tok, "/invoice?operation=void"),
			providers.BearerHeaders(tok.AccessToken), void, nil)
		return err
	}

	qi := mapInvoice(inv)
	qi.ID = refID
	qi.SyncToken = current.Invoice.SyncToken
	qi.Sparse = true

	_, err = providers.Do(ctx, q.HTTPClient, q.Name(), http.MethodPost, q.companyURL(tok, "/invoice"),
		providers.BearerHeaders(tok.AccessToken), qi, nil)
	return err
}
