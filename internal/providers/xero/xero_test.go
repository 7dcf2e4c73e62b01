package xero

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tradiehq/ledgersync/internal/db/models"
	"github.com/tradiehq/ledgersync/internal/providers"
)

func testProvider(serverURL string) *Xero {
	x := New("client-id", "client-secret")
	x.ConnectionsURL = serverURL + "/connections"
	x.APIBaseURL = serverURL + "/api.xro/2.0"
	return x
}

func TestResolveTenant_TakesFirstConnection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/connections" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"tenantId":"org-1","tenantName":"First Org","tenantType":"ORGANISATION"},
			{"tenantId":"org-2","tenantName":"Second Org","tenantType":"ORGANISATION"}
		]`))
	}))
	defer ts.Close()

	tenant, err := testProvider(ts.URL).ResolveTenant(context.Background(), "access-1", nil)
	if err != nil {
		t.Fatalf("ResolveTenant: %v", err)
	}
	if tenant.ID != "org-1" || tenant.Name != "First Org" {
		t.Fatalf("tenant = %+v", tenant)
	}
}

func TestResolveTenant_NoConnections(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	if _, err := testProvider(ts.URL).ResolveTenant(context.Background(), "access-1", nil); err == nil {
		t.Fatal("expected error with no authorized organisations")
	}
}

func TestCreateContact(t *testing.T) {
	var got contactsEnvelope
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api.xro/2.0/Contacts" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Xero-tenant-id"); got != "org-1" {
			t.Errorf("Xero-tenant-id = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Contacts":[{"ContactID":"contact-9","Name":"Bloggs Plumbing"}]}`))
	}))
	defer ts.Close()

	tok := providers.Token{AccessToken: "access-1", TenantID: "org-1"}
	refID, err := testProvider(ts.URL).CreateContact(context.Background(), tok, &providers.Contact{
		DisplayName: "Bloggs Plumbing",
		CompanyName: "Bloggs Plumbing",
		FirstName:   "Jo",
		LastName:    "Bloggs",
		Email:       "jo@example.com",
		Phone:       "0400000000",
		AddressLine: "1 High St",
		City:        "Sydney",
	})
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	if refID != "contact-9" {
		t.Fatalf("refID = %q", refID)
	}

	if len(got.Contacts) != 1 {
		t.Fatalf("sent %d contacts", len(got.Contacts))
	}
	sent := got.Contacts[0]
	if sent.Name != "Bloggs Plumbing" || sent.EmailAddress != "jo@example.com" {
		t.Fatalf("sent contact = %+v", sent)
	}
	if len(sent.Phones) != 1 || sent.Phones[0].PhoneNumber != "0400000000" {
		t.Fatalf("sent phones = %+v", sent.Phones)
	}
	if len(sent.Addresses) != 1 || sent.Addresses[0].AddressType != "STREET" {
		t.Fatalf("sent addresses = %+v", sent.Addresses)
	}
}

func TestUpdateContact_PostsToContactPath(t *testing.T) {
	var got contactsEnvelope
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api.xro/2.0/Contacts/contact-9" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	tok := providers.Token{AccessToken: "access-1", TenantID: "org-1"}
	err := testProvider(ts.URL).UpdateContact(context.Background(), tok, "contact-9", &providers.Contact{
		DisplayName: "Bloggs Plumbing",
	})
	if err != nil {
		t.Fatalf("UpdateContact: %v", err)
	}
	if got.Contacts[0].ContactID != "contact-9" {
		t.Fatalf("sent ContactID = %q", got.Contacts[0].ContactID)
	}
}

func TestCreateInvoice_Mapping(t *testing.T) {
	var got invoicesEnvelope
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Invoices":[{"InvoiceID":"inv-7"}]}`))
	}))
	defer ts.Close()

	tok := providers.Token{AccessToken: "access-1", TenantID: "org-1"}
	refID, err := testProvider(ts.URL).CreateInvoice(context.Background(), tok, &providers.Invoice{
		Number:     "INV-0042",
		Status:     models.InvoiceStatusSent,
		IssueDate:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		DueDate:    time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		ContactRef: "contact-9",
		Lines: []providers.InvoiceLine{
			{Description: "Labour", Quantity: 2, UnitAmount: 95, Taxable: true},
			{Description: "Permit fee", Quantity: 1, UnitAmount: 40, Taxable: false},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if refID != "inv-7" {
		t.Fatalf("refID = %q", refID)
	}

	sent := got.Invoices[0]
	if sent.Type != "ACCREC" || sent.Status != "AUTHORISED" {
		t.Fatalf("sent invoice = %+v", sent)
	}
	if sent.Date != "2026-03-01" || sent.DueDate != "2026-03-15" {
		t.Fatalf("dates = %s / %s", sent.Date, sent.DueDate)
	}
	if sent.Contact["ContactID"] != "contact-9" {
		t.Fatalf("contact = %+v", sent.Contact)
	}
	if sent.LineItems[0].TaxType != "OUTPUT" || sent.LineItems[1].TaxType != "NONE" {
		t.Fatalf("tax types = %s / %s", sent.LineItems[0].TaxType, sent.LineItems[1].TaxType)
	}
}

func TestMapStatus(t *testing.T) {
	cases := map[string]string{
		models.InvoiceStatusDraft:   "DRAFT",
		models.InvoiceStatusSent:    "AUTHORISED",
		models.InvoiceStatusPaid:    "AUTHORISED",
		models.InvoiceStatusOverdue: "AUTHORISED",
		models.InvoiceStatusVoid:    "VOIDED",
		"unknown":                   "DRAFT",
	}
	for local, want := range cases {
		if got := MapStatus(local); got != want {
			t.Errorf("MapStatus(%q) = %q, want %q", local, got, want)
		}
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"Type":"ValidationException"}`, http.StatusBadRequest)
	}))
	defer ts.Close()

	tok := providers.Token{AccessToken: "access-1", TenantID: "org-1"}
	_, err := testProvider(ts.URL).CreateContact(context.Background(), tok, &providers.Contact{DisplayName: "X"})
	var apiErr *providers.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *providers.APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Provider != models.ProviderXero {
		t.Fatalf("api error = %+v", apiErr)
	}
}
