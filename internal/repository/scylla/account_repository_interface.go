package scylla

import (
	"context"
	"time"

	"finnect-auth/internal/models"
)

// AccountRepository defines the durable operations the login flow needs.
// All state-mutating methods are explicit; nothing saves implicitly.
type AccountRepository interface {
	// Lookups
	GetAccountByID(ctx context.Context, accountID string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	// GetAccountByOTP resolves an unexpired code to the account holding it,
	// scanning the accounts_by_otp lookup table.
	GetAccountByOTP(ctx context.Context, code string, now time.Time) (*models.Account, error)

	// Registration
	CreateAccount(ctx context.Context, acct *models.Account) error

	// Lockout counter. UpdateFailedLogins applies the account's current
	// counter and timestamp only if the stored counter still equals
	// expected, returning ErrConcurrentUpdate otherwise.
	UpdateFailedLogins(ctx context.Context, acct *models.Account, expected int) error
	ResetFailedLogins(ctx context.Context, acct *models.Account) error

	// OTP state. Both fields move together; previousCode/code identify the
	// accounts_by_otp row to drop.
	SetOTP(ctx context.Context, acct *models.Account, previousCode string) error
	ClearOTP(ctx context.Context, acct *models.Account, code string) error

	HealthCheck(ctx context.Context) error
}
