package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"finnect-auth/internal/client"
	"finnect-auth/internal/util"
)

const otpCodePrefix = "otp_code:"

// OTPCache maps a live OTP code to the account that holds it. Redis TTL
// keeps the entry aligned with the code's expiry; ScyllaDB remains the
// durable source, this is only the fast path for verification lookups.
type OTPCache struct {
	client *client.RedisClient
}

func NewOTPCache(client *client.RedisClient) *OTPCache {
	return &OTPCache{client: client}
}

func (c *OTPCache) Put(ctx context.Context, code, accountID string, ttl time.Duration) error {
	ctx, cancel := c.client.WithContext(ctx, 5*time.Second)
	defer cancel()

	key := otpCodePrefix + code
	if err := c.client.Set(ctx, key, accountID, ttl); err != nil {
		util.Error("Failed to index OTP code",
			zap.String("account_id", accountID),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to index OTP code: %w", err)
	}

	util.Debug("OTP code indexed",
		zap.String("account_id", accountID),
		zap.Duration("ttl", ttl))
	return nil
}

// Lookup returns the account id holding the code, or "" when the code is
// unknown or already expired.
func (c *OTPCache) Lookup(ctx context.Context, code string) (string, error) {
	ctx, cancel := c.client.WithContext(ctx, 5*time.Second)
	defer cancel()

	key := otpCodePrefix + code
	accountID, err := c.client.Get(ctx, key)
	if err != nil {
		if err.Error() == fmt.Sprintf("key not found: %s", key) {
			return "", nil
		}
		util.Error("Failed to look up OTP code", zap.Error(err))
		return "", fmt.Errorf("failed to look up OTP code: %w", err)
	}

	return accountID, nil
}

func (c *OTPCache) Delete(ctx context.Context, code string) error {
	ctx, cancel := c.client.WithContext(ctx, 5*time.Second)
	defer cancel()

	key := otpCodePrefix + code
	if err := c.client.Del(ctx, key); err != nil {
		util.Error("Failed to drop OTP code from index", zap.Error(err))
		return fmt.Errorf("failed to drop OTP code from index: %w", err)
	}

	util.Debug("OTP code dropped from index")
	return nil
}

// TTL reports the remaining lifetime of an indexed code.
func (c *OTPCache) TTL(ctx context.Context, code string) (time.Duration, error) {
	ctx, cancel := c.client.WithContext(ctx, 5*time.Second)
	defer cancel()

	ttl, err := c.client.TTL(ctx, otpCodePrefix+code)
	if err != nil {
		return 0, fmt.Errorf("failed to get OTP code TTL: %w", err)
	}
	return ttl, nil
}
