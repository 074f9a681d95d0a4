package service

import (
	"time"

	"finnect-auth/internal/config"
	"finnect-auth/internal/models"
)

// LockoutPolicy decides whether an account may attempt a login based on its
// failure counter and the time of the most recent failure. It only mutates
// the account passed in; the caller persists.
type LockoutPolicy struct {
	maxAttempts int
	duration    time.Duration
}

func NewLockoutPolicy(cfg config.AuthConfig) *LockoutPolicy {
	return &LockoutPolicy{
		maxAttempts: cfg.MaxLoginAttempts,
		duration:    cfg.LockoutDuration,
	}
}

// IsBlocked reports whether the account is locked out at the given instant.
// The elapsed-time check dominates: once the lockout window has passed the
// account is unblocked even though the counter still holds a stale value.
func (p *LockoutPolicy) IsBlocked(acct *models.Account, now time.Time) bool {
	if acct.FailedLoginAttempts < p.maxAttempts {
		return false
	}
	if acct.LastFailedLogin == nil {
		return false
	}
	return now.Sub(*acct.LastFailedLogin) < p.duration
}

// RetryAfter returns how long until the lockout window expires. Zero when
// the account is not blocked.
func (p *LockoutPolicy) RetryAfter(acct *models.Account, now time.Time) time.Duration {
	if !p.IsBlocked(acct, now) {
		return 0
	}
	return p.duration - now.Sub(*acct.LastFailedLogin)
}

// RecordFailure increments the failure counter and stamps the failure time,
// returning the new count.
func (p *LockoutPolicy) RecordFailure(acct *models.Account, now time.Time) int {
	acct.FailedLoginAttempts++
	t := now
	acct.LastFailedLogin = &t
	return acct.FailedLoginAttempts
}

// Reset clears the failure counter and timestamp.
func (p *LockoutPolicy) Reset(acct *models.Account) {
	acct.FailedLoginAttempts = 0
	acct.LastFailedLogin = nil
}

// MaxAttempts exposes the configured threshold.
func (p *LockoutPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Duration exposes the configured lockout window.
func (p *LockoutPolicy) Duration() time.Duration {
	return p.duration
}
