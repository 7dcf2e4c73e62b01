// Package token manages the OAuth credential lifecycle: decrypting stored
// access tokens, refreshing them when expired, and normalizing state to
// disconnected when a refresh is unrecoverable.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/tradiehq/ledgersync/internal/auth/vault"
	"github.com/tradiehq/ledgersync/internal/db/models"
	"github.com/tradiehq/ledgersync/internal/metrics"
	"github.com/tradiehq/ledgersync/internal/providers"
)

var (
	// ErrNotConnected means the user has no live connection for the
	// provider (no tenant id on record).
	ErrNotConnected = errors.New("provider not connected")
	// ErrReconnectRequired means stored credentials are unusable and have
	// been cleared; the user must run the connect flow again.
	ErrReconnectRequired = errors.New("credentials invalid, please reconnect")
)

// refreshMargin is how close to expiry a token may get before it is
// refreshed rather than used.
const refreshMargin = time.Minute

// Manager hands out valid decrypted access tokens, refreshing through the
// provider's refresh grant when needed. Refreshes for the same user and
// provider are serialized under an advisory lock so concurrent requests
// cannot invalidate each other's rotated refresh token.
type Manager struct {
	db     *gorm.DB
	vault  *vault.Vault
	logger *zap.Logger

	locks sync.Map // "<userID>:<provider>" -> *sync.Mutex
	now   func() time.Time
}

// NewManager creates a token manager over the shared database and vault.
func NewManager(gdb *gorm.DB, v *vault.Vault, logger *zap.Logger) *Manager {
	return &Manager{
		db:     gdb,
		vault:  v,
		logger: logger.Named("token_manager"),
		now:    time.Now,
	}
}

// AccessToken returns a valid decrypted access token scoped to the user's
// tenant, refreshing first if the stored token is expired or expiring.
func (m *Manager) AccessToken(ctx context.Context, p providers.Provider, userID string) (providers.Token, error) {
	var user models.User
	if err := m.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return providers.Token{}, fmt.Errorf("failed to load user: %w", err)
	}

	cred := user.Credential(p.Name())
	if cred == nil {
		return providers.Token{}, fmt.Errorf("unknown provider %q", p.Name())
	}
	if !cred.Connected() || cred.AccessToken == "" {
		return providers.Token{}, ErrNotConnected
	}

	if cred.TokenExpiresAt == nil || cred.TokenExpiresAt.Before(m.now().Add(refreshMargin)) {
		if err := m.Refresh(ctx, p, userID); err != nil {
			return providers.Token{}, err
		}
		// Re-read the refreshed credentials.
		if err := m.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
			return providers.Token{}, fmt.Errorf("failed to reload user: %w", err)
		}
		cred = user.Credential(p.Name())
	}

	access, err := m.vault.Decrypt(cred.AccessToken)
	if err != nil {
		var de *vault.DecryptionError
		if errors.As(err, &de) {
			m.logger.Warn("stored access token undecryptable, clearing credentials",
				zap.String("user_id", userID), zap.String("provider", p.Name()), zap.Error(err))
			if clearErr := m.clearCredentials(ctx, p.Name(), userID); clearErr != nil {
				m.logger.Error("failed to clear credentials", zap.Error(clearErr))
			}
			return providers.Token{}, ErrReconnectRequired
		}
		return providers.Token{}, err
	}

	return providers.Token{AccessToken: access, TenantID: cred.TenantID}, nil
}

// Refresh runs the provider's refresh grant and stores the re-encrypted
// result. Permanent failures (revoked or invalid grants) clear the stored
// credentials and disable sync, uniformly across providers.
func (m *Manager) Refresh(ctx context.Context, p providers.Provider, userID string) error {
	mu := m.lock(userID, p.Name())
	mu.Lock()
	defer mu.Unlock()

	var user models.User
	if err := m.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	cred := user.Credential(p.Name())
	if cred == nil || !cred.Connected() {
		return ErrNotConnected
	}

	// Another request may have refreshed while we waited on the lock.
	if cred.TokenExpiresAt != nil && cred.TokenExpiresAt.After(m.now().Add(refreshMargin)) {
		return nil
	}

	if cred.RefreshToken == "" {
		return m.failPermanently(ctx, p.Name(), userID, errors.New("no refresh token on record"))
	}
	refresh, err := m.vault.Decrypt(cred.RefreshToken)
	if err != nil {
		return m.failPermanently(ctx, p.Name(), userID, err)
	}

	src := p.OAuth("").TokenSource(ctx, &oauth2.Token{RefreshToken: refresh})
	newToken, err := src.Token()
	if err != nil {
		metrics.OAuthRefreshes.WithLabelValues(p.Name(), "error").Inc()
		if isPermanentRefreshError(err) {
			return m.failPermanently(ctx, p.Name(), userID, err)
		}
		m.logger.Warn("transient refresh failure, credentials kept",
			zap.String("user_id", userID), zap.String("provider", p.Name()), zap.Error(err))
		return fmt.Errorf("token refresh failed: %w", err)
	}

	encAccess, err := m.vault.Encrypt(newToken.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	cred.AccessToken = encAccess
	expiry := newToken.Expiry
	cred.TokenExpiresAt = &expiry

	// Persist the rotated refresh token if the provider issued one.
	if newToken.RefreshToken != "" {
		encRefresh, err := m.vault.Encrypt(newToken.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		cred.RefreshToken = encRefresh
	}

	if err := m.db.WithContext(ctx).Save(&user).Error; err != nil {
		return fmt.Errorf("failed to save refreshed credentials: %w", err)
	}

	metrics.OAuthRefreshes.WithLabelValues(p.Name(), "success").Inc()
	m.logger.Info("token refreshed",
		zap.String("user_id", userID),
		zap.String("provider", p.Name()),
		zap.Time("expires_at", newToken.Expiry))
	return nil
}

func (m *Manager) lock(userID, provider string) *sync.Mutex {
	v, _ := m.locks.LoadOrStore(userID+":"+provider, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// failPermanently clears the connection and reports reconnect-required.
func (m *Manager) failPermanently(ctx context.Context, provider, userID string, cause error) error {
	m.logger.Warn("unrecoverable refresh failure, clearing credentials",
		zap.String("user_id", userID), zap.String("provider", provider), zap.Error(cause))
	if err := m.clearCredentials(ctx, provider, userID); err != nil {
		m.logger.Error("failed to clear credentials", zap.Error(err))
	}
	return ErrReconnectRequired
}

func (m *Manager) clearCredentials(ctx context.Context, provider, userID string) error {
	var user models.User
	if err := m.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	cred := user.Credential(provider)
	if cred == nil {
		return fmt.Errorf("unknown provider %q", provider)
	}
	cred.Clear()
	if err := m.db.WithContext(ctx).Save(&user).Error; err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// isPermanentRefreshError classifies refresh failures. Permanent failures
// mean the grant itself is dead and retrying cannot help.
func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
