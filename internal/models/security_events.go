package models

import (
	"net"
	"time"
)

// Security event types emitted by the login flow.
const (
	EventLoginFailed    = "login_failed"
	EventAccountBlocked = "account_blocked"
	EventOTPIssued      = "otp_issued"
	EventOTPVerified    = "otp_verified"
	EventOTPRejected    = "otp_rejected"
	EventLoginSucceeded = "login_succeeded"
	EventTokenRefreshed = "token_refreshed"
)

type SecurityEvent struct {
	EventBucket int       `db:"event_bucket"`
	AccountID   string    `db:"account_id"`
	EventDate   string    `db:"event_date"`
	EventTime   time.Time `db:"event_time"`
	EventType   string    `db:"event_type"`
	Email       string    `db:"email"`
	IPAddress   net.IP    `db:"ip_address"`
	Details     string    `db:"details"`
}
