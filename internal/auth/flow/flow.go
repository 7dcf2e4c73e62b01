// Package flow drives the per-provider OAuth lifecycle: connect, callback,
// refresh, disconnect.
package flow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/tradiehq/ledgersync/internal/auth/state"
	"github.com/tradiehq/ledgersync/internal/auth/token"
	"github.com/tradiehq/ledgersync/internal/auth/vault"
	"github.com/tradiehq/ledgersync/internal/db/models"
	"github.com/tradiehq/ledgersync/internal/metrics"
	"github.com/tradiehq/ledgersync/internal/providers"
	"github.com/tradiehq/ledgersync/internal/ratelimit"
)

// Connect throttling: a user gets this many connect attempts per window.
const (
	connectMaxAttempts = 5
	connectWindow      = 60 * time.Second
)

// ErrInvalidState rejects a callback whose state parameter failed
// verification. Handlers answer 403; no credential writes happen.
var ErrInvalidState = errors.New("invalid oauth state")

// ErrMissingCode rejects a callback that carries valid state but no
// authorization code. Handlers answer 400.
var ErrMissingCode = errors.New("missing authorization code")

// RateLimitedError reports throttling with a retry hint in seconds.
type RateLimitedError struct {
	RetryAfter int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %d seconds", e.RetryAfter)
}

// ConnectionStatus is one provider's connection summary for a user.
type ConnectionStatus struct {
	Provider       string     `json:"provider"`
	Connected      bool       `json:"connected"`
	TenantID       string     `json:"tenant_id,omitempty"`
	SyncEnabled    bool       `json:"sync_enabled"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

// Flow implements the OAuth actions shared by all providers.
type Flow struct {
	db      *gorm.DB
	vault   *vault.Vault
	signer  *state.Signer
	limiter *ratelimit.Limiter
	tokens  *token.Manager
	logger  *zap.Logger

	// redirectBase is the externally visible origin callbacks return to,
	// e.g. "https://app.example.com".
	redirectBase string
	now          func() time.Time
}

// New wires the flow service.
func New(gdb *gorm.DB, v *vault.Vault, signer *state.Signer, limiter *ratelimit.Limiter, tokens *token.Manager, redirectBase string, logger *zap.Logger) *Flow {
	return &Flow{
		db:           gdb,
		vault:        v,
		signer:       signer,
		limiter:      limiter,
		tokens:       tokens,
		logger:       logger.Named("oauth_flow"),
		redirectBase: redirectBase,
		now:          time.Now,
	}
}

// RedirectURL is the callback URL registered with the provider.
func (f *Flow) RedirectURL(p providers.Provider) string {
	return fmt.Sprintf("%s/api/%s/callback", f.redirectBase, p.Name())
}

// Connect builds the provider authorization URL carrying a signed state
// token bound to the calling user.
func (f *Flow) Connect(ctx context.Context, p providers.Provider, userID string) (string, error) {
	res := f.limiter.Check(ctx, userID, "oauth_connect", connectMaxAttempts, connectWindow)
	if res.Limited {
		metrics.RateLimited.WithLabelValues("oauth_connect").Inc()
		return "", &RateLimitedError{RetryAfter: res.RetryAfter}
	}

	signed, err := f.signer.Sign(state.Payload{UserID: userID, Provider: p.Name()})
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}

	cfg := p.OAuth(f.RedirectURL(p))
	return cfg.AuthCodeURL(signed, oauth2.AccessTypeOffline), nil
}

// Callback verifies the signed state, exchanges the code, resolves the
// tenant, and persists encrypted credentials. The user identity comes from
// the verified state payload, not from the request's auth header: the
// provider redirect may arrive in a different browser context.
func (f *Flow) Callback(ctx context.Context, p providers.Provider, code string, query url.Values) error {
	payload, err := f.signer.Verify(query.Get("state"))
	if err != nil {
		f.logger.Warn("state verification failed",
			zap.String("provider", p.Name()), zap.Error(err))
		return ErrInvalidState
	}
	if payload.Provider != p.Name() {
		f.logger.Warn("state provider mismatch",
			zap.String("expected", p.Name()), zap.String("got", payload.Provider))
		return ErrInvalidState
	}
	if code == "" {
		return ErrMissingCode
	}

	cfg := p.OAuth(f.RedirectURL(p))
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		// Full detail stays server-side; callers get a generic failure.
		f.logger.Error("code exchange failed",
			zap.String("provider", p.Name()), zap.Error(err))
		return fmt.Errorf("token exchange failed")
	}

	tenant, err := p.ResolveTenant(ctx, tok.AccessToken, query)
	if err != nil {
		f.logger.Error("tenant discovery failed",
			zap.String("provider", p.Name()), zap.Error(err))
		return fmt.Errorf("organisation discovery failed")
	}

	encAccess, err := f.vault.Encrypt(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := f.vault.Encrypt(tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	var user models.User
	if err := f.db.WithContext(ctx).First(&user, "id = ?", payload.UserID).Error; err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	cred := user.Credential(p.Name())
	if cred == nil {
		return fmt.Errorf("unknown provider %q", p.Name())
	}

	now := f.now()
	expiry := tok.Expiry
	cred.AccessToken = encAccess
	cred.RefreshToken = encRefresh
	cred.TokenExpiresAt = &expiry
	cred.TenantID = tenant.ID
	cred.SyncEnabled = true
	cred.ConnectedAt = &now

	if err := f.db.WithContext(ctx).Save(&user).Error; err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	f.logger.Info("provider connected",
		zap.String("user_id", payload.UserID),
		zap.String("provider", p.Name()),
		zap.String("tenant_id", tenant.ID))
	return nil
}

// Refresh forces a token refresh for the calling user.
func (f *Flow) Refresh(ctx context.Context, p providers.Provider, userID string) error {
	return f.tokens.Refresh(ctx, p, userID)
}

// Disconnect nulls all provider credential fields and disables sync. The
// token is not revoked at the provider.
func (f *Flow) Disconnect(ctx context.Context, p providers.Provider, userID string) error {
	var user models.User
	if err := f.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	cred := user.Credential(p.Name())
	if cred == nil {
		return fmt.Errorf("unknown provider %q", p.Name())
	}
	cred.Clear()
	if err := f.db.WithContext(ctx).Save(&user).Error; err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}

	f.logger.Info("provider disconnected",
		zap.String("user_id", userID), zap.String("provider", p.Name()))
	return nil
}

// Status summarizes every provider connection for a user.
func (f *Flow) Status(ctx context.Context, userID string) ([]ConnectionStatus, error) {
	var user models.User
	if err := f.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	statuses := make([]ConnectionStatus, 0, len(models.Providers))
	for _, name := range models.Providers {
		cred := user.Credential(name)
		s := ConnectionStatus{Provider: name, Connected: cred.Connected()}
		if s.Connected {
			s.TenantID = cred.TenantID
			s.SyncEnabled = cred.SyncEnabled
			s.ConnectedAt = cred.ConnectedAt
			s.TokenExpiresAt = cred.TokenExpiresAt
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}
