package flow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/tradiehq/ledgersync/internal/auth/state"
	"github.com/tradiehq/ledgersync/internal/auth/token"
	"github.com/tradiehq/ledgersync/internal/auth/vault"
	"github.com/tradiehq/ledgersync/internal/db"
	"github.com/tradiehq/ledgersync/internal/db/models"
	"github.com/tradiehq/ledgersync/internal/providers"
	"github.com/tradiehq/ledgersync/internal/ratelimit"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeProvider struct {
	name     string
	baseURL  string
	tenant   providers.Tenant
	tenantFn func(q url.Values) (providers.Tenant, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) OAuth(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  redirectURL,
		Scopes:       []string{"accounting.contacts"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   f.baseURL + "/authorize",
			TokenURL:  f.baseURL + "/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

func (f *fakeProvider) ResolveTenant(ctx context.Context, accessToken string, q url.Values) (providers.Tenant, error) {
	if f.tenantFn != nil {
		return f.tenantFn(q)
	}
	return f.tenant, nil
}

func (f *fakeProvider) CreateContact(ctx context.Context, tok providers.Token, c *providers.Contact) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeProvider) UpdateContact(ctx context.Context, tok providers.Token, refID string, c *providers.Contact) error {
	return errors.New("not implemented")
}

func (f *fakeProvider) CreateInvoice(ctx context.Context, tok providers.Token, inv *providers.Invoice) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeProvider) UpdateInvoice(ctx context.Context, tok providers.Token, refID string, inv *providers.Invoice) error {
	return errors.New("not implemented")
}

type flowFixture struct {
	flow   *Flow
	db     *gorm.DB
	vault  *vault.Vault
	signer *state.Signer
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:flow-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	v, err := vault.New(testSecret)
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	signer, err := state.NewSigner(testSecret)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	logger := zap.NewNop()
	limiter := ratelimit.NewLimiter(gdb, logger)
	tokens := token.NewManager(gdb, v, logger)
	f := New(gdb, v, signer, limiter, tokens, "https://app.example.com", logger)

	if err := gdb.Create(&models.User{ID: "user-1", Email: "owner@example.com"}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return &flowFixture{flow: f, db: gdb, vault: v, signer: signer}
}

func TestConnect_StateIsBoundToUser(t *testing.T) {
	fx := newFlowFixture(t)
	p := &fakeProvider{name: models.ProviderXero, baseURL: "https://provider.example.com"}

	authURL, err := fx.flow.Connect(context.Background(), p, "user-1")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	q := parsed.Query()
	if got := q.Get("redirect_uri"); got != "https://app.example.com/api/xero/callback" {
		t.Fatalf("redirect_uri = %q", got)
	}
	if q.Get("access_type") != "offline" {
		t.Fatalf("access_type = %q, want offline", q.Get("access_type"))
	}

	payload, err := fx.signer.Verify(q.Get("state"))
	if err != nil {
		t.Fatalf("state does not verify: %v", err)
	}
	if payload.UserID != "user-1" {
		t.Fatalf("state user id = %q, want user-1", payload.UserID)
	}
	if payload.Provider != models.ProviderXero {
		t.Fatalf("state provider = %q, want xero", payload.Provider)
	}
	age := time.Since(time.Unix(payload.Timestamp, 0))
	if age < 0 || age > 5*time.Second {
		t.Fatalf("state timestamp not fresh: age %v", age)
	}
}

func TestConnect_RateLimited(t *testing.T) {
	fx := newFlowFixture(t)
	p := &fakeProvider{name: models.ProviderXero, baseURL: "https://provider.example.com"}
	ctx := context.Background()

	for i := 0; i < connectMaxAttempts; i++ {
		if _, err := fx.flow.Connect(ctx, p, "user-1"); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	_, err := fx.flow.Connect(ctx, p, "user-1")
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("error = %v, want RateLimitedError", err)
	}
	if rl.RetryAfter <= 0 {
		t.Fatalf("retry after = %d, want positive", rl.RetryAfter)
	}
}

func TestCallback_Success(t *testing.T) {
	fx := newFlowFixture(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"granted-access","refresh_token":"granted-refresh","token_type":"Bearer","expires_in":1800}`))
	}))
	defer ts.Close()
	p := &fakeProvider{
		name:    models.ProviderXero,
		baseURL: ts.URL,
		tenant:  providers.Tenant{ID: "org-42", Name: "Demo Org"},
	}

	signed, err := fx.signer.Sign(state.Payload{UserID: "user-1", Provider: models.ProviderXero})
	if err != nil {
		t.Fatalf("sign state: %v", err)
	}
	query := url.Values{"state": {signed}}

	if err := fx.flow.Callback(context.Background(), p, "auth-code", query); err != nil {
		t.Fatalf("Callback: %v", err)
	}

	var user models.User
	if err := fx.db.First(&user, "id = ?", "user-1").Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if !user.Xero.Connected() {
		t.Fatal("user not connected after callback")
	}
	if user.Xero.TenantID != "org-42" {
		t.Fatalf("tenant id = %q, want org-42", user.Xero.TenantID)
	}
	if !user.Xero.SyncEnabled {
		t.Fatal("sync not enabled after connect")
	}
	if user.Xero.AccessToken == "granted-access" {
		t.Fatal("access token stored in plaintext")
	}
	if plain, err := fx.vault.Decrypt(user.Xero.AccessToken); err != nil || plain != "granted-access" {
		t.Fatalf("stored access token = %q, %v", plain, err)
	}
	if plain, err := fx.vault.Decrypt(user.Xero.RefreshToken); err != nil || plain != "granted-refresh" {
		t.Fatalf("stored refresh token = %q, %v", plain, err)
	}
}

func TestCallback_BadStateWritesNothing(t *testing.T) {
	fx := newFlowFixture(t)
	p := &fakeProvider{name: models.ProviderXero, baseURL: "https://provider.example.com"}

	cases := map[string]url.Values{
		"garbage state": {"state": {"not-a-signed-state"}},
		"missing state": {},
	}
	for name, query := range cases {
		err := fx.flow.Callback(context.Background(), p, "auth-code", query)
		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("%s: error = %v, want ErrInvalidState", name, err)
		}
	}

	// A state signed by someone else must also be rejected.
	other, err := state.NewSigner("ffffffffffffffffffffffffffffffff")
	if err != nil {
		t.Fatalf("create signer: %v", err)
	}
	forged, err := other.Sign(state.Payload{UserID: "user-1", Provider: models.ProviderXero})
	if err != nil {
		t.Fatalf("sign forged state: %v", err)
	}
	err = fx.flow.Callback(context.Background(), p, "auth-code", url.Values{"state": {forged}})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("forged state: error = %v, want ErrInvalidState", err)
	}

	var user models.User
	if err := fx.db.First(&user, "id = ?", "user-1").Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if user.Xero.Connected() || user.Xero.AccessToken != "" {
		t.Fatal("rejected callback must not write credentials")
	}
}

func TestCallback_MissingCode(t *testing.T) {
	fx := newFlowFixture(t)
	p := &fakeProvider{name: models.ProviderXero, baseURL: "https://provider.example.com"}

	signed, err := fx.signer.Sign(state.Payload{UserID: "user-1", Provider: models.ProviderXero})
	if err != nil {
		t.Fatalf("sign state: %v", err)
	}
	err = fx.flow.Callback(context.Background(), p, "", url.Values{"state": {signed}})
	if !errors.Is(err, ErrMissingCode) {
		t.Fatalf("error = %v, want ErrMissingCode", err)
	}

	var user models.User
	if err := fx.db.First(&user, "id = ?", "user-1").Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if user.Xero.Connected() || user.Xero.AccessToken != "" {
		t.Fatal("rejected callback must not write credentials")
	}
}

func TestCallback_ProviderMismatch(t *testing.T) {
	fx := newFlowFixture(t)
	p := &fakeProvider{name: models.ProviderXero, baseURL: "https://provider.example.com"}

	signed, err := fx.signer.Sign(state.Payload{UserID: "user-1", Provider: models.ProviderQuickBooks})
	if err != nil {
		t.Fatalf("sign state: %v", err)
	}
	err = fx.flow.Callback(context.Background(), p, "auth-code", url.Values{"state": {signed}})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("error = %v, want ErrInvalidState", err)
	}
}

func TestDisconnect_ClearsCredentials(t *testing.T) {
	fx := newFlowFixture(t)

	encAccess, _ := fx.vault.Encrypt("some-access")
	encRefresh, _ := fx.vault.Encrypt("some-refresh")
	expiry := time.Now().Add(time.Hour)
	now := time.Now()
	fx.db.Model(&models.User{}).Where("id = ?", "user-1").Updates(map[string]any{
		"xero_access_token":     encAccess,
		"xero_refresh_token":    encRefresh,
		"xero_token_expires_at": expiry,
		"xero_tenant_id":        "org-42",
		"xero_sync_enabled":     true,
		"xero_connected_at":     now,
	})

	p := &fakeProvider{name: models.ProviderXero}
	if err := fx.flow.Disconnect(context.Background(), p, "user-1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	var user models.User
	if err := fx.db.First(&user, "id = ?", "user-1").Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if user.Xero.Connected() {
		t.Fatal("still connected after disconnect")
	}
	if user.Xero.AccessToken != "" || user.Xero.RefreshToken != "" || user.Xero.TokenExpiresAt != nil {
		t.Fatal("credential fields not nulled")
	}
	if user.Xero.SyncEnabled {
		t.Fatal("sync still enabled after disconnect")
	}
}

func TestStatus_ListsEveryProvider(t *testing.T) {
	fx := newFlowFixture(t)

	fx.db.Model(&models.User{}).Where("id = ?", "user-1").Updates(map[string]any{
		"qb_tenant_id":    "realm-9",
		"qb_sync_enabled": true,
	})

	statuses, err := fx.flow.Status(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(statuses) != len(models.Providers) {
		t.Fatalf("got %d statuses, want %d", len(statuses), len(models.Providers))
	}
	byName := make(map[string]ConnectionStatus)
	for _, s := range statuses {
		byName[s.Provider] = s
	}
	if !byName[models.ProviderQuickBooks].Connected {
		t.Fatal("quickbooks should report connected")
	}
	if byName[models.ProviderQuickBooks].TenantID != "realm-9" {
		t.Fatalf("quickbooks tenant = %q", byName[models.ProviderQuickBooks].TenantID)
	}
	if byName[models.ProviderXero].Connected || byName[models.ProviderMYOB].Connected {
		t.Fatal("unconnected providers must report disconnected")
	}
}
