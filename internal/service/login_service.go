package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"finnect-auth/internal/models"
	"finnect-auth/internal/repository/scylla"
	"finnect-auth/internal/token"
	"finnect-auth/internal/util"
)

// casRetries bounds the optimistic retry loop on the failure counter.
const casRetries = 3

// LoginStatus tags the outcome of a login phase. Domain failures are
// values, not errors; an error return means infrastructure trouble.
type LoginStatus string

const (
	StatusOTPSent             LoginStatus = "OTP_SENT"
	StatusInvalidCredentials  LoginStatus = "INVALID_CREDENTIALS"
	StatusAccountBlocked      LoginStatus = "ACCOUNT_BLOCKED"
	StatusOTPInvalidOrExpired LoginStatus = "OTP_INVALID_OR_EXPIRED"
	StatusAuthenticated       LoginStatus = "AUTHENTICATED"
)

// LoginOutcome is the tagged result handed to the transport layer.
// Email is set for OTP_SENT, RetryAfter for ACCOUNT_BLOCKED and Tokens
// for AUTHENTICATED; the other fields are zero.
type LoginOutcome struct {
	Status     LoginStatus
	Email      string
	RetryAfter time.Duration
	Tokens     *token.TokenPair
}

// Notifier dispatches the login flow emails. Delivery is best effort;
// the orchestrator never fails a request over a lost email.
type Notifier interface {
	SendOTPEmail(email, code string) error
	SendAccountBlockedEmail(email string) error
}

// TokenIssuer mints and refreshes signed credentials.
type TokenIssuer interface {
	Issue(accountID, email string) (*token.TokenPair, error)
	Refresh(refreshToken string) (string, error)
}

// AuditRecorder receives security events. Implementations must not
// block the request path on sink failures.
type AuditRecorder interface {
	Record(ctx context.Context, event *models.SecurityEvent)
}

// BlockCache is the Redis fast path for lockout checks. The account
// record in Scylla stays authoritative; a cache miss just means the
// durable check decides.
type BlockCache interface {
	SetBlock(ctx context.Context, email string, retryAfter time.Duration) error
	IsBlocked(ctx context.Context, email string) (bool, time.Duration, error)
	Clear(ctx context.Context, email string) error
}

// PasswordVerifier checks a plaintext password against a stored hash.
type PasswordVerifier interface {
	VerifyPassword(password, encoded string) (bool, error)
}

// LoginService orchestrates the two-phase login: credentials first,
// then the emailed one-time code. It is stateless between calls; all
// progress lives on the account record.
type LoginService struct {
	accountRepo scylla.AccountRepository
	lockout     *LockoutPolicy
	otp         *OTPManager
	tokens      TokenIssuer
	notifier    Notifier
	audit       AuditRecorder
	blockCache  BlockCache
	passwords   PasswordVerifier
	logger      *zap.Logger
	now         func() time.Time
}

func NewLoginService(
	accountRepo scylla.AccountRepository,
	lockout *LockoutPolicy,
	otp *OTPManager,
	tokens TokenIssuer,
	notifier Notifier,
	audit AuditRecorder,
	blockCache BlockCache,
	passwords PasswordVerifier,
	logger *zap.Logger,
) *LoginService {
	return &LoginService{
		accountRepo: accountRepo,
		lockout:     lockout,
		otp:         otp,
		tokens:      tokens,
		notifier:    notifier,
		audit:       audit,
		blockCache:  blockCache,
		passwords:   passwords,
		logger:      logger,
		now:         time.Now,
	}
}

// SubmitCredentials runs phase one. A lookup miss and a password
// mismatch both come back as INVALID_CREDENTIALS so callers cannot
// probe which emails hold accounts.
func (s *LoginService) SubmitCredentials(ctx context.Context, email, password string) (*LoginOutcome, error) {
	email = util.NormalizeEmail(email)

	if s.blockCache != nil {
		blocked, ttl, err := s.blockCache.IsBlocked(ctx, email)
		if err != nil {
			s.logger.Warn("lockout cache check failed", util.ErrorField(err))
		} else if blocked {
			return &LoginOutcome{Status: StatusAccountBlocked, RetryAfter: ttl}, nil
		}
	}

	acct, err := s.accountRepo.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, scylla.ErrAccountNotFound) {
			s.recordEvent(ctx, models.EventLoginFailed, "", email, "unknown email")
			return &LoginOutcome{Status: StatusInvalidCredentials}, nil
		}
		return nil, fmt.Errorf("account lookup failed: %w", err)
	}

	now := s.now()
	if s.lockout.IsBlocked(acct, now) {
		retryAfter := s.lockout.RetryAfter(acct, now)
		s.cacheBlock(ctx, email, retryAfter)
		return &LoginOutcome{Status: StatusAccountBlocked, RetryAfter: retryAfter}, nil
	}

	match, err := s.passwords.VerifyPassword(password, acct.CredentialHash)
	if err != nil {
		return nil, fmt.Errorf("credential check failed: %w", err)
	}
	if !match {
		return s.handleFailedCredentials(ctx, acct, now)
	}

	if acct.FailedLoginAttempts > 0 || acct.LastFailedLogin != nil {
		s.lockout.Reset(acct)
		if err := s.accountRepo.ResetFailedLogins(ctx, acct); err != nil {
			return nil, fmt.Errorf("failed to reset login counter: %w", err)
		}
	}
	if s.blockCache != nil {
		if err := s.blockCache.Clear(ctx, email); err != nil {
			s.logger.Warn("failed to clear lockout cache", util.ErrorField(err))
		}
	}

	code, err := s.otp.Issue(ctx, acct, now)
	if err != nil {
		return nil, fmt.Errorf("OTP issuance failed: %w", err)
	}

	// Fire and forget: a lost email is the user's problem to retry,
	// not a failed login.
	go func(email, code string) {
		_ = s.notifier.SendOTPEmail(email, code)
	}(acct.Email, code)

	s.recordEvent(ctx, models.EventOTPIssued, acct.AccountID, acct.Email, "")

	return &LoginOutcome{Status: StatusOTPSent, Email: acct.Email}, nil
}

// handleFailedCredentials bumps the failure counter with an optimistic
// compare-and-set so two racing attempts cannot collapse into one.
func (s *LoginService) handleFailedCredentials(ctx context.Context, acct *models.Account, now time.Time) (*LoginOutcome, error) {
	var count int
	for attempt := 0; ; attempt++ {
		expected := acct.FailedLoginAttempts
		count = s.lockout.RecordFailure(acct, now)

		err := s.accountRepo.UpdateFailedLogins(ctx, acct, expected)
		if err == nil {
			break
		}
		if !errors.Is(err, scylla.ErrConcurrentUpdate) {
			return nil, fmt.Errorf("failed to persist login failure: %w", err)
		}
		if attempt+1 >= casRetries {
			return nil, fmt.Errorf("failed to persist login failure: %w", err)
		}

		fresh, err := s.accountRepo.GetAccountByID(ctx, acct.AccountID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload account: %w", err)
		}
		acct = fresh
	}

	if count >= s.lockout.MaxAttempts() {
		retryAfter := s.lockout.RetryAfter(acct, now)
		s.cacheBlock(ctx, acct.Email, retryAfter)

		go func(email string) {
			_ = s.notifier.SendAccountBlockedEmail(email)
		}(acct.Email)

		s.recordEvent(ctx, models.EventAccountBlocked, acct.AccountID, acct.Email,
			fmt.Sprintf("failed attempts: %d", count))

		return &LoginOutcome{Status: StatusAccountBlocked, RetryAfter: retryAfter}, nil
	}

	s.recordEvent(ctx, models.EventLoginFailed, acct.AccountID, acct.Email,
		fmt.Sprintf("failed attempts: %d", count))

	return &LoginOutcome{Status: StatusInvalidCredentials}, nil
}

// SubmitOTP runs phase two. The code alone identifies the account; any
// account holding an unexpired matching code passes.
func (s *LoginService) SubmitOTP(ctx context.Context, code string) (*LoginOutcome, error) {
	now := s.now()

	acct, err := s.otp.FindAccount(ctx, code, now)
	if err != nil {
		return nil, fmt.Errorf("OTP lookup failed: %w", err)
	}
	if acct == nil {
		s.recordEvent(ctx, models.EventOTPRejected, "", "", "no matching code")
		return &LoginOutcome{Status: StatusOTPInvalidOrExpired}, nil
	}

	if s.lockout.IsBlocked(acct, now) {
		retryAfter := s.lockout.RetryAfter(acct, now)
		s.cacheBlock(ctx, acct.Email, retryAfter)
		return &LoginOutcome{Status: StatusAccountBlocked, RetryAfter: retryAfter}, nil
	}

	ok, err := s.otp.Verify(ctx, acct, code, now)
	if err != nil {
		return nil, fmt.Errorf("OTP verification failed: %w", err)
	}
	if !ok {
		s.recordEvent(ctx, models.EventOTPRejected, acct.AccountID, acct.Email, "")
		return &LoginOutcome{Status: StatusOTPInvalidOrExpired}, nil
	}

	pair, err := s.tokens.Issue(acct.AccountID, acct.Email)
	if err != nil {
		return nil, fmt.Errorf("token issuance failed: %w", err)
	}

	s.recordEvent(ctx, models.EventLoginSucceeded, acct.AccountID, acct.Email, "")

	return &LoginOutcome{Status: StatusAuthenticated, Tokens: pair}, nil
}

// RefreshToken exchanges a valid refresh token for a fresh access
// token. Invalid tokens come back as token.ErrInvalidToken for the
// transport layer to map.
func (s *LoginService) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	access, err := s.tokens.Refresh(refreshToken)
	if err != nil {
		return "", err
	}

	s.recordEvent(ctx, models.EventTokenRefreshed, "", "", "")
	return access, nil
}

func (s *LoginService) cacheBlock(ctx context.Context, email string, retryAfter time.Duration) {
	if s.blockCache == nil || retryAfter <= 0 {
		return
	}
	if err := s.blockCache.SetBlock(ctx, email, retryAfter); err != nil {
		s.logger.Warn("failed to cache lockout", util.ErrorField(err))
	}
}

func (s *LoginService) recordEvent(ctx context.Context, eventType, accountID, email, details string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, &models.SecurityEvent{
		AccountID: accountID,
		EventType: eventType,
		EventTime: s.now().UTC(),
		Email:     email,
		Details:   details,
	})
}

// WithClock overrides the service's time source. Test hook.
func (s *LoginService) WithClock(now func() time.Time) *LoginService {
	s.now = now
	return s
}
