package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"finnect-auth/internal/bucketing"
	"finnect-auth/internal/models"
	"finnect-auth/internal/util"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrDuplicateIDNumber = errors.New("id number already registered")
	ErrConcurrentUpdate  = errors.New("concurrent account update")
)

type accountRepository struct {
	client       *ScyllaClient
	bucketingMgr *bucketing.BucketingManager
}

func NewAccountRepository(client *ScyllaClient, bucketingMgr *bucketing.BucketingManager, logger *zap.Logger) AccountRepository {
	return &accountRepository{
		client:       client,
		bucketingMgr: bucketingMgr,
	}
}

func (r *accountRepository) CreateAccount(ctx context.Context, acct *models.Account) error {
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = &now
	acct.AccountBucket = r.bucketingMgr.GetAccountBucket(acct.AccountID)

	// Uniqueness is claimed through LWT index rows before the account row
	// is written. LWT inserts cannot be batched across partitions, so the
	// second failure compensates the first.
	applied, err := r.client.Prepared.CreateEmailIndex.
		Bind(acct.Email, acct.AccountBucket, acct.AccountID).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to claim email: %w", err)
	}
	if !applied {
		return ErrDuplicateEmail
	}

	applied, err = r.client.Prepared.CreateIDNumberIndex.
		Bind(acct.IDNumber, acct.AccountID).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil || !applied {
		if delErr := r.client.Query(
			`DELETE FROM accounts_by_email WHERE email = ?`, acct.Email,
		).WithContext(ctx).Exec(); delErr != nil {
			util.Error("Failed to release email claim after id_number conflict",
				zap.String("email", acct.Email),
				zap.Error(delErr))
		}
		if err != nil {
			return fmt.Errorf("failed to claim id number: %w", err)
		}
		return ErrDuplicateIDNumber
	}

	query := r.client.Prepared.CreateAccount.Bind(
		acct.AccountBucket, acct.AccountID, acct.Email, acct.Username,
		acct.FirstName, acct.MiddleName, acct.LastName, acct.IDNumber,
		acct.SecurityQuestion, acct.SecurityAnswerEncrypted,
		acct.SecurityAnswerKeyID, acct.Role, acct.AccountStatus,
		acct.CredentialHash, acct.FailedLoginAttempts,
		timeOrNil(acct.LastFailedLogin), acct.OTPCode,
		timeOrNil(acct.OTPExpiresAt), acct.CreatedAt, acct.UpdatedAt,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to create account",
			zap.String("account_id", acct.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to create account: %w", err)
	}

	util.Info("Account created",
		zap.String("account_id", acct.AccountID),
		zap.String("username", acct.Username),
		zap.Int("account_bucket", acct.AccountBucket))

	return nil
}

func (r *accountRepository) GetAccountByID(ctx context.Context, accountID string) (*models.Account, error) {
	bucket := r.bucketingMgr.GetAccountBucket(accountID)
	return r.scanAccount(ctx, bucket, accountID)
}

func (r *accountRepository) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var bucket int
	var accountID string

	query := r.client.Prepared.GetAccountByEmail.Bind(email).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &bucket, &accountID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrAccountNotFound
		}
		util.Error("Failed to look up account by email", zap.Error(err))
		return nil, fmt.Errorf("failed to look up account by email: %w", err)
	}

	return r.scanAccount(ctx, bucket, accountID)
}

func (r *accountRepository) GetAccountByOTP(ctx context.Context, code string, now time.Time) (*models.Account, error) {
	var bucket int
	var accountID string
	var expiresAt time.Time

	query := r.client.Prepared.GetAccountByOTP.Bind(code).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &bucket, &accountID, &expiresAt); err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrAccountNotFound
		}
		util.Error("Failed to look up account by OTP", zap.Error(err))
		return nil, fmt.Errorf("failed to look up account by OTP: %w", err)
	}

	if !now.Before(expiresAt) {
		return nil, ErrAccountNotFound
	}

	return r.scanAccount(ctx, bucket, accountID)
}

func (r *accountRepository) UpdateFailedLogins(ctx context.Context, acct *models.Account, expected int) error {
	now := time.Now().UTC()

	applied, err := r.client.Prepared.UpdateFailedLogins.Bind(
		acct.FailedLoginAttempts, timeOrNil(acct.LastFailedLogin), now,
		acct.AccountBucket, acct.AccountID, expected,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to update failure counter",
			zap.String("account_id", acct.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to update failure counter: %w", err)
	}
	if !applied {
		return ErrConcurrentUpdate
	}

	acct.UpdatedAt = &now
	return nil
}

func (r *accountRepository) ResetFailedLogins(ctx context.Context, acct *models.Account) error {
	now := time.Now().UTC()

	query := r.client.Prepared.ResetFailedLogins.Bind(
		now, acct.AccountBucket, acct.AccountID,
	).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to reset failure counter: %w", err)
	}

	acct.UpdatedAt = &now
	return nil
}

func (r *accountRepository) SetOTP(ctx context.Context, acct *models.Account, previousCode string) error {
	now := time.Now().UTC()

	if previousCode != "" {
		if err := r.client.Prepared.DeleteOTPIndex.Bind(previousCode).WithContext(ctx).Exec(); err != nil {
			util.Warn("Failed to drop superseded OTP lookup row",
				zap.String("account_id", acct.AccountID),
				zap.Error(err))
		}
	}

	query := r.client.Prepared.SetOTP.Bind(
		acct.OTPCode, acct.OTPExpiresAt, now,
		acct.AccountBucket, acct.AccountID,
	).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	// The lookup row expires on its own a little after the code does, so a
	// crashed verify cannot leave it behind forever.
	ttl := int(time.Until(*acct.OTPExpiresAt).Seconds()) + 60
	if ttl < 60 {
		ttl = 60
	}
	indexQuery := r.client.Prepared.InsertOTPIndex.Bind(
		acct.OTPCode, acct.AccountBucket, acct.AccountID, *acct.OTPExpiresAt, ttl,
	).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(indexQuery, 3); err != nil {
		return fmt.Errorf("failed to store OTP lookup row: %w", err)
	}

	acct.UpdatedAt = &now
	return nil
}

func (r *accountRepository) ClearOTP(ctx context.Context, acct *models.Account, code string) error {
	now := time.Now().UTC()

	query := r.client.Prepared.ClearOTP.Bind(
		now, acct.AccountBucket, acct.AccountID,
	).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to clear OTP: %w", err)
	}

	if code != "" {
		if err := r.client.Prepared.DeleteOTPIndex.Bind(code).WithContext(ctx).Exec(); err != nil {
			util.Warn("Failed to drop used OTP lookup row",
				zap.String("account_id", acct.AccountID),
				zap.Error(err))
		}
	}

	acct.UpdatedAt = &now
	return nil
}

func (r *accountRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}

func (r *accountRepository) scanAccount(ctx context.Context, bucket int, accountID string) (*models.Account, error) {
	acct := &models.Account{}
	var lastFailed, otpExpires, updatedAt time.Time

	query := r.client.Prepared.GetAccount.Bind(bucket, accountID).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&acct.AccountBucket, &acct.AccountID, &acct.Email, &acct.Username,
		&acct.FirstName, &acct.MiddleName, &acct.LastName, &acct.IDNumber,
		&acct.SecurityQuestion, &acct.SecurityAnswerEncrypted,
		&acct.SecurityAnswerKeyID, &acct.Role, &acct.AccountStatus,
		&acct.CredentialHash, &acct.FailedLoginAttempts,
		&lastFailed, &acct.OTPCode, &otpExpires, &acct.CreatedAt, &updatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrAccountNotFound
		}
		util.Error("Failed to get account",
			zap.String("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	acct.LastFailedLogin = nilIfZero(lastFailed)
	acct.OTPExpiresAt = nilIfZero(otpExpires)
	acct.UpdatedAt = nilIfZero(updatedAt)

	return acct, nil
}

func timeOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nilIfZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t
	return &u
}
