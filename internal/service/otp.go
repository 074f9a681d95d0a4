package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"finnect-auth/internal/config"
	"finnect-auth/internal/models"
	"finnect-auth/internal/repository/scylla"
	"finnect-auth/internal/util"

	"go.uber.org/zap"
)

// OTPIndex is the fast-path lookup from a live OTP code to the account that
// holds it. Backed by Redis with a TTL matching the code's lifetime; the
// Scylla accounts_by_otp table remains the durable source.
type OTPIndex interface {
	Put(ctx context.Context, code, accountID string, ttl time.Duration) error
	Lookup(ctx context.Context, code string) (string, error)
	Delete(ctx context.Context, code string) error
}

// OTPManager issues and validates the one-time passcodes used as the second
// login factor. A code lives on the account record together with its expiry;
// issuing a new code overwrites any previous one (last-issued-wins).
type OTPManager struct {
	accountRepo scylla.AccountRepository
	index       OTPIndex
	expiration  time.Duration
	length      int
	logger      *zap.Logger
}

func NewOTPManager(
	accountRepo scylla.AccountRepository,
	index OTPIndex,
	cfg config.AuthConfig,
	logger *zap.Logger,
) *OTPManager {
	return &OTPManager{
		accountRepo: accountRepo,
		index:       index,
		expiration:  cfg.OTPExpiration,
		length:      cfg.OTPLength,
		logger:      logger,
	}
}

// Issue generates a fresh numeric code, stores it on the account with its
// expiry, persists, and returns the code for dispatch. The caller must not
// echo the code back to the client.
func (m *OTPManager) Issue(ctx context.Context, acct *models.Account, now time.Time) (string, error) {
	code, err := GenerateOTP(m.length)
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}

	previous := acct.OTPCode
	expiry := now.Add(m.expiration)
	acct.OTPCode = code
	acct.OTPExpiresAt = &expiry

	if err := m.accountRepo.SetOTP(ctx, acct, previous); err != nil {
		return "", fmt.Errorf("failed to persist OTP: %w", err)
	}

	if m.index != nil {
		if previous != "" {
			if err := m.index.Delete(ctx, previous); err != nil {
				m.logger.Warn("Failed to drop superseded OTP from index",
					util.String("account_id", acct.AccountID),
					util.ErrorField(err))
			}
		}
		if err := m.index.Put(ctx, code, acct.AccountID, m.expiration); err != nil {
			m.logger.Warn("Failed to index OTP",
				util.String("account_id", acct.AccountID),
				util.ErrorField(err))
		}
	}

	m.logger.Info("OTP issued",
		util.String("account_id", acct.AccountID),
		util.Time("expires_at", expiry))

	return code, nil
}

// Verify checks the submitted code against the account's stored code. On a
// match before expiry it clears the OTP fields, persists, and returns true.
// On any mismatch the stored code is left untouched; OTP failures do not
// feed the login failure counter.
func (m *OTPManager) Verify(ctx context.Context, acct *models.Account, submitted string, now time.Time) (bool, error) {
	if acct.OTPCode == "" || acct.OTPExpiresAt == nil {
		return false, nil
	}
	if submitted != acct.OTPCode {
		return false, nil
	}
	if !now.Before(*acct.OTPExpiresAt) {
		return false, nil
	}

	code := acct.OTPCode
	acct.OTPCode = ""
	acct.OTPExpiresAt = nil

	if err := m.accountRepo.ClearOTP(ctx, acct, code); err != nil {
		return false, fmt.Errorf("failed to clear OTP: %w", err)
	}

	if m.index != nil {
		if err := m.index.Delete(ctx, code); err != nil {
			m.logger.Warn("Failed to drop used OTP from index",
				util.String("account_id", acct.AccountID),
				util.ErrorField(err))
		}
	}

	m.logger.Info("OTP verified", util.String("account_id", acct.AccountID))
	return true, nil
}

// FindAccount resolves an unexpired code to its account: Redis index first,
// Scylla lookup table as fallback. Returns nil when no account holds the
// code. The code is a bearer secret here, not scoped to a session.
func (m *OTPManager) FindAccount(ctx context.Context, code string, now time.Time) (*models.Account, error) {
	if m.index != nil {
		accountID, err := m.index.Lookup(ctx, code)
		if err != nil {
			m.logger.Warn("OTP index lookup failed", util.ErrorField(err))
		} else if accountID != "" {
			acct, err := m.accountRepo.GetAccountByID(ctx, accountID)
			if err == nil && acct.HasLiveOTP(now) && acct.OTPCode == code {
				return acct, nil
			}
		}
	}

	acct, err := m.accountRepo.GetAccountByOTP(ctx, code, now)
	if err != nil {
		if errors.Is(err, scylla.ErrAccountNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !acct.HasLiveOTP(now) {
		return nil, nil
	}
	return acct, nil
}

// Expiration exposes the configured code lifetime.
func (m *OTPManager) Expiration() time.Duration {
	return m.expiration
}

// GenerateOTP returns a numeric code of the given length built from
// uniformly selected digits.
func GenerateOTP(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
