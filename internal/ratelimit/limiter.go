// Package ratelimit implements a sliding-window request counter backed by a
// persisted attempt table. It is a lightweight guard, not a hard gate: if
// the storage layer is unreachable the limiter fails open rather than
// blocking traffic.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tradiehq/ledgersync/internal/db/models"
)

// Result is the outcome of one limit check.
type Result struct {
	Limited   bool `json:"limited"`
	Remaining int  `json:"remaining"`
	// RetryAfter is a fixed-window retry hint in seconds, not the precise
	// remaining time.
	RetryAfter int `json:"retry_after,omitempty"`
}

// Limiter counts persisted attempts per "<action>:<identifier>" key.
type Limiter struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewLimiter creates a limiter over the shared database.
func NewLimiter(gdb *gorm.DB, logger *zap.Logger) *Limiter {
	return &Limiter{
		db:     gdb,
		logger: logger.Named("ratelimit"),
		now:    time.Now,
	}
}

// Check counts attempts for action:identifier within the trailing window.
// At or over max it reports limited without recording a new attempt;
// otherwise it records the attempt and reports the remaining budget.
func (l *Limiter) Check(ctx context.Context, identifier, action string, max int, window time.Duration) Result {
	key := fmt.Sprintf("%s:%s", action, identifier)
	cutoff := l.now().Add(-window)

	var count int64
	err := l.db.WithContext(ctx).
		Model(&models.RateLimitAttempt{}).
		Where("key = ? AND created_at >= ?", key, cutoff).
		Count(&count).Error
	if err != nil {
		// Fail open: availability beats strict enforcement for this guard.
		l.logger.Warn("rate limit check failed, allowing request",
			zap.String("key", key), zap.Error(err))
		return Result{Limited: false, Remaining: max - 1}
	}

	if count >= int64(max) {
		return Result{Limited: true, RetryAfter: int(window.Seconds())}
	}

	attempt := models.RateLimitAttempt{
		ID:        uuid.New().String(),
		Key:       key,
		CreatedAt: l.now(),
	}
	if err := l.db.WithContext(ctx).Create(&attempt).Error; err != nil {
		l.logger.Warn("rate limit attempt insert failed, allowing request",
			zap.String("key", key), zap.Error(err))
		return Result{Limited: false, Remaining: max - int(count) - 1}
	}

	return Result{Limited: false, Remaining: max - int(count) - 1}
}

// Prune removes attempt rows older than the given age.
func (l *Limiter) Prune(ctx context.Context, age time.Duration) error {
	cutoff := l.now().Add(-age)
	res := l.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.RateLimitAttempt{})
	if res.Error != nil {
		return fmt.Errorf("failed to prune rate limit attempts: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		l.logger.Debug("pruned rate limit attempts", zap.Int64("rows", res.RowsAffected))
	}
	return nil
}

// StartSweep prunes stale attempt rows on a ticker until ctx is cancelled.
func (l *Limiter) StartSweep(ctx context.Context, interval, age time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.Prune(ctx, age); err != nil {
					l.logger.Warn("rate limit sweep failed", zap.Error(err))
				}
			}
		}
	}()
	l.logger.Info("rate limit sweep started", zap.Duration("interval", interval))
}
