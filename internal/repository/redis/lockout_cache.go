package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"finnect-auth/internal/client"
	"finnect-auth/internal/util"
)

const lockoutPrefix = "lockout:"

// LockoutCache short-circuits login attempts against accounts that are
// inside their lockout window. The durable truth stays on the account
// record; this entry just spares a ScyllaDB round trip per rejected
// attempt and expires exactly when the window does.
type LockoutCache struct {
	client *client.RedisClient
}

func NewLockoutCache(client *client.RedisClient) *LockoutCache {
	return &LockoutCache{client: client}
}

// SetBlock marks the email as blocked for the remainder of its lockout
// window.
func (c *LockoutCache) SetBlock(ctx context.Context, email string, retryAfter time.Duration) error {
	ctx, cancel := c.client.WithContext(ctx, 5*time.Second)
	defer cancel()

	key := lockoutPrefix + email
	if err := c.client.Set(ctx, key, "blocked", retryAfter); err != nil {
		util.Error("Failed to cache lockout",
			zap.Duration("retry_after", retryAfter),
			zap.Error(err))
		return fmt.Errorf("failed to cache lockout: %w", err)
	}

	util.Debug("Lockout cached", zap.Duration("retry_after", retryAfter))
	return nil
}

// IsBlocked reports whether the email is inside a cached lockout window
// and how long remains.
func (c *LockoutCache) IsBlocked(ctx context.Context, email string) (bool, time.Duration, error) {
	ctx, cancel := c.client.WithContext(ctx, 5*time.Second)
	defer cancel()

	key := lockoutPrefix + email
	ttl, err := c.client.TTL(ctx, key)
	if err != nil {
		util.Error("Failed to check cached lockout", zap.Error(err))
		return false, 0, fmt.Errorf("failed to check cached lockout: %w", err)
	}
	if ttl <= 0 {
		// -2 key missing, -1 no expiry set; neither counts as blocked.
		return false, 0, nil
	}

	return true, ttl, nil
}

// Clear removes a cached lockout, used when the counter is reset.
func (c *LockoutCache) Clear(ctx context.Context, email string) error {
	ctx, cancel := c.client.WithContext(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, lockoutPrefix+email); err != nil {
		util.Error("Failed to clear cached lockout", zap.Error(err))
		return fmt.Errorf("failed to clear cached lockout: %w", err)
	}
	return nil
}
