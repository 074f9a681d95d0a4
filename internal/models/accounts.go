package models

import "time"

// AccountStatus values. BLOCKED is set administratively; the lockout
// decision is computed from the failure counter and timestamps, not from
// this field.
const (
	AccountStatusActive  = "active"
	AccountStatusBlocked = "blocked"
)

// Role values. Stored for downstream services; this service does not
// enforce permissions.
const (
	RoleCustomer      = "customer"
	RoleExecutive     = "executive"
	RoleTeller        = "teller"
	RoleBranchManager = "branch_manager"
)

// Security questions offered at registration.
const (
	SecurityQuestionMaidenName      = "maiden_name"
	SecurityQuestionFavoriteColor   = "favorite_color"
	SecurityQuestionBirthCity       = "birth_city"
	SecurityQuestionChildhoodFriend = "childhood_friend"
)

// Account is the durable record for a bank customer login. The credential
// hash, the lockout counters, and the OTP state all live here; the login
// service mutates them through the account repository.
type Account struct {
	AccountBucket int    `db:"account_bucket"`
	AccountID     string `db:"account_id"`
	Email         string `db:"email"`
	Username      string `db:"username"`

	FirstName  string `db:"first_name"`
	MiddleName string `db:"middle_name"`
	LastName   string `db:"last_name"`
	IDNumber   int64  `db:"id_number"`

	SecurityQuestion        string `db:"security_question"`
	SecurityAnswerEncrypted []byte `db:"security_answer_encrypted"`
	SecurityAnswerKeyID     string `db:"security_answer_key_id"`

	Role          string `db:"role"`
	AccountStatus string `db:"account_status"`

	CredentialHash string `db:"credential_hash"`

	FailedLoginAttempts int        `db:"failed_login_attempts"`
	LastFailedLogin     *time.Time `db:"last_failed_login"`

	OTPCode      string     `db:"otp_code"`
	OTPExpiresAt *time.Time `db:"otp_expires_at"`

	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt *time.Time `db:"updated_at"`
}

// HasLiveOTP reports whether the account holds an OTP that has not yet
// expired at the given instant.
func (a *Account) HasLiveOTP(now time.Time) bool {
	return a.OTPCode != "" && a.OTPExpiresAt != nil && now.Before(*a.OTPExpiresAt)
}
