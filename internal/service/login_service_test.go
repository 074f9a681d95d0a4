package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"finnect-auth/internal/models"
	"finnect-auth/internal/repository/scylla"
	"finnect-auth/internal/token"
	"finnect-auth/internal/util"
)

// --- fakes ---

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*models.Account // keyed by account id

	// casFailures makes the next N UpdateFailedLogins calls report a
	// concurrent update regardless of the expected counter.
	casFailures int
	updateCalls int
}

func newFakeAccountRepo(accts ...*models.Account) *fakeAccountRepo {
	repo := &fakeAccountRepo{accounts: make(map[string]*models.Account)}
	for _, a := range accts {
		cp := *a
		repo.accounts[a.AccountID] = &cp
	}
	return repo
}

func copyAccount(a *models.Account) *models.Account {
	cp := *a
	if a.LastFailedLogin != nil {
		t := *a.LastFailedLogin
		cp.LastFailedLogin = &t
	}
	if a.OTPExpiresAt != nil {
		t := *a.OTPExpiresAt
		cp.OTPExpiresAt = &t
	}
	return &cp
}

func (r *fakeAccountRepo) GetAccountByID(_ context.Context, accountID string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[accountID]; ok {
		return copyAccount(a), nil
	}
	return nil, scylla.ErrAccountNotFound
}

func (r *fakeAccountRepo) GetAccountByEmail(_ context.Context, email string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Email == email {
			return copyAccount(a), nil
		}
	}
	return nil, scylla.ErrAccountNotFound
}

func (r *fakeAccountRepo) GetAccountByOTP(_ context.Context, code string, now time.Time) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.OTPCode == code && a.HasLiveOTP(now) {
			return copyAccount(a), nil
		}
	}
	return nil, scylla.ErrAccountNotFound
}

func (r *fakeAccountRepo) CreateAccount(_ context.Context, acct *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Email == acct.Email {
			return scylla.ErrDuplicateEmail
		}
		if a.IDNumber == acct.IDNumber {
			return scylla.ErrDuplicateIDNumber
		}
	}
	r.accounts[acct.AccountID] = copyAccount(acct)
	return nil
}

func (r *fakeAccountRepo) UpdateFailedLogins(_ context.Context, acct *models.Account, expected int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++
	if r.casFailures > 0 {
		r.casFailures--
		return scylla.ErrConcurrentUpdate
	}
	stored, ok := r.accounts[acct.AccountID]
	if !ok {
		return scylla.ErrAccountNotFound
	}
	if stored.FailedLoginAttempts != expected {
		return scylla.ErrConcurrentUpdate
	}
	stored.FailedLoginAttempts = acct.FailedLoginAttempts
	if acct.LastFailedLogin != nil {
		t := *acct.LastFailedLogin
		stored.LastFailedLogin = &t
	} else {
		stored.LastFailedLogin = nil
	}
	return nil
}

func (r *fakeAccountRepo) ResetFailedLogins(_ context.Context, acct *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.accounts[acct.AccountID]
	if !ok {
		return scylla.ErrAccountNotFound
	}
	stored.FailedLoginAttempts = 0
	stored.LastFailedLogin = nil
	return nil
}

func (r *fakeAccountRepo) SetOTP(_ context.Context, acct *models.Account, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.accounts[acct.AccountID]
	if !ok {
		return scylla.ErrAccountNotFound
	}
	stored.OTPCode = acct.OTPCode
	if acct.OTPExpiresAt != nil {
		t := *acct.OTPExpiresAt
		stored.OTPExpiresAt = &t
	} else {
		stored.OTPExpiresAt = nil
	}
	return nil
}

func (r *fakeAccountRepo) ClearOTP(_ context.Context, acct *models.Account, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.accounts[acct.AccountID]
	if !ok {
		return scylla.ErrAccountNotFound
	}
	stored.OTPCode = ""
	stored.OTPExpiresAt = nil
	return nil
}

func (r *fakeAccountRepo) HealthCheck(context.Context) error { return nil }

func (r *fakeAccountRepo) stored(t *testing.T, accountID string) *models.Account {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	require.True(t, ok, "account %s not in repo", accountID)
	return copyAccount(a)
}

type fakeNotifier struct {
	otpSent     chan string // receives the code
	blockedSent chan string // receives the email
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		otpSent:     make(chan string, 8),
		blockedSent: make(chan string, 8),
	}
}

func (n *fakeNotifier) SendOTPEmail(_, code string) error {
	n.otpSent <- code
	return nil
}

func (n *fakeNotifier) SendAccountBlockedEmail(email string) error {
	n.blockedSent <- email
	return nil
}

type fakeTokenIssuer struct {
	issued int
	fail   error
}

func (f *fakeTokenIssuer) Issue(accountID, email string) (*token.TokenPair, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.issued++
	return &token.TokenPair{AccessToken: "access-" + accountID, RefreshToken: "refresh-" + accountID}, nil
}

func (f *fakeTokenIssuer) Refresh(string) (string, error) {
	return "refreshed-access", nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAudit) Record(_ context.Context, event *models.SecurityEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event.EventType)
}

func (f *fakeAudit) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// plaintextVerifier treats the stored hash as the plaintext password.
type plaintextVerifier struct{}

func (plaintextVerifier) VerifyPassword(password, encoded string) (bool, error) {
	return password == encoded, nil
}

// --- harness ---

type loginHarness struct {
	repo     *fakeAccountRepo
	notifier *fakeNotifier
	tokens   *fakeTokenIssuer
	audit    *fakeAudit
	svc      *LoginService
	clock    time.Time
}

func newLoginHarness(t *testing.T, accts ...*models.Account) *loginHarness {
	t.Helper()
	logger := util.Init("test", "error", "console")

	h := &loginHarness{
		repo:     newFakeAccountRepo(accts...),
		notifier: newFakeNotifier(),
		tokens:   &fakeTokenIssuer{},
		audit:    &fakeAudit{},
		clock:    time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
	}

	otpMgr := NewOTPManager(h.repo, nil, testAuthConfig(), logger)
	h.svc = NewLoginService(
		h.repo,
		NewLockoutPolicy(testAuthConfig()),
		otpMgr,
		h.tokens,
		h.notifier,
		h.audit,
		nil,
		plaintextVerifier{},
		logger,
	).WithClock(func() time.Time { return h.clock })

	return h
}

func (h *loginHarness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}

func testAccount() *models.Account {
	return &models.Account{
		AccountID:      "acct-1",
		Email:          "jane@example.com",
		Username:       "FNB-4F7K2Q9M",
		CredentialHash: "s3cret-pass",
		AccountStatus:  models.AccountStatusActive,
	}
}

func waitFor[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		panic("unreachable")
	}
}

// --- phase one ---

func TestSubmitCredentials_UnknownEmailFoldsIntoInvalidCredentials(t *testing.T) {
	h := newLoginHarness(t)

	outcome, err := h.svc.SubmitCredentials(context.Background(), "ghost@example.com", "whatever")
	require.NoError(t, err)
	require.Equal(t, StatusInvalidCredentials, outcome.Status)
}

func TestSubmitCredentials_WrongPasswordMatchesUnknownEmailResponse(t *testing.T) {
	h := newLoginHarness(t, testAccount())

	unknown, err := h.svc.SubmitCredentials(context.Background(), "ghost@example.com", "x")
	require.NoError(t, err)

	mismatch, err := h.svc.SubmitCredentials(context.Background(), "jane@example.com", "wrong")
	require.NoError(t, err)

	// Account enumeration guard: both must come back identical.
	require.Equal(t, unknown, mismatch)
}

func TestSubmitCredentials_WrongPasswordIncrementsCounter(t *testing.T) {
	h := newLoginHarness(t, testAccount())

	outcome, err := h.svc.SubmitCredentials(context.Background(), "jane@example.com", "wrong")
	require.NoError(t, err)
	require.Equal(t, StatusInvalidCredentials, outcome.Status)

	stored := h.repo.stored(t, "acct-1")
	require.Equal(t, 1, stored.FailedLoginAttempts)
	require.NotNil(t, stored.LastFailedLogin)
}

func TestSubmitCredentials_ThirdFailureBlocks(t *testing.T) {
	h := newLoginHarness(t, testAccount())

	for i := 0; i < 2; i++ {
		outcome, err := h.svc.SubmitCredentials(context.Background(), "jane@example.com", "wrong")
		require.NoError(t, err)
		require.Equal(t, StatusInvalidCredentials, outcome.Status)
	}

	outcome, err := h.svc.SubmitCredentials(context.Background(), "jane@example.com", "wrong")
	require.NoError(t, err)
	require.Equal(t, StatusAccountBlocked, outcome.Status)
	require.Equal(t, 60*time.Second, outcome.RetryAfter)

	require.Equal(t, "jane@example.com", waitFor(t, h.notifier.blockedSent))
}

func TestSubmitCredentials_LockoutScenario(t *testing.T) {
	// Two prior failures on record; a third wrong password at t=0 blocks,
	// a correct password at t=30s is still blocked, at t=61s it succeeds
	// and the counter resets.
	h := newLoginHarness(t, testAccount())

	for i := 0; i < 3; i++ {
		_, err := h.svc.SubmitCredentials(context.Background(), "jane@example.com", "wrong")
		require.NoError(t, err)
	}

	h.advance(30 * time.Second)
	outcome, err := h.svc.SubmitCredentials(context.Background(), "jane@example.com", "s3cret-pass")
	require.NoError(t, err)
	require.Equal(t, StatusAccountBlocked, outcome.Status)
	require.Equal(t, 30*time.Second, outcome.RetryAfter)

	h.advance(31 * time.Second)
	outcome, err = h.svc.SubmitCredentials(context.Background(), "jane@example.com", "s3cret-pass")
	require.NoError(t, err)
	require.Equal(t, StatusOTPSent, outcome.Status)
	require.Equal(t, "jane@example.com", outcome.Email)

	stored := h.repo.stored(t, "acct-1")
	require.Zero(t, stored.FailedLoginAttempts)
	require.Nil(t, stored.LastFailedLogin)
}

func TestSubmitCredentials_SuccessIssuesOTPAndEmailsIt(t *testing.T) {
	h := newLoginHarness(t, testAccount())

	outcome, err := h.svc.SubmitCredentials(context.Background(), "jane@example.com", "s3cret-pass")
	require.NoError(t, err)
	require.Equal(t, StatusOTPSent, outcome.Status)
	require.Equal(t, "jane@example.com", outcome.Email)
	require.Nil(t, outcome.Tokens, "phase one must never return tokens")

	code := waitFor(t, h.notifier.otpSent)
	require.Len(t, code, 6)

	stored := h.repo.stored(t, "acct-1")
	require.Equal(t, code, stored.OTPCode)
	require.NotNil(t, stored.OTPExpiresAt)
}

func TestSubmitCredentials_EmailNormalized(t *testing.T) {
	h := newLoginHarness(t, testAccount())

	outcome, err := h.svc.SubmitCredentials(context.Background(), "jane@EXAMPLE.COM", "s3cret-pass")
	require.NoError(t, err)
	require.Equal(t, StatusOTPSent, outcome.Status)
}

func TestSubmitCredentials_RetriesOnConcurrentUpdate(t *testing.T) {
	h := newLoginHarness(t, testAccount())
	h.repo.casFailures = 1

	outcome, err := h.svc.SubmitCredentials(context.Background(), "jane@example.com", "wrong")
	require.NoError(t, err)
	require.Equal(t, StatusInvalidCredentials, outcome.Status)
	require.Equal(t, 2, h.repo.updateCalls)
	require.Equal(t, 1, h.repo.stored(t, "acct-1").FailedLoginAttempts)
}

func TestSubmitCredentials_GivesUpAfterRepeatedCASFailures(t *testing.T) {
	h := newLoginHarness(t, testAccount())
	h.repo.casFailures = casRetries

	_, err := h.svc.SubmitCredentials(context.Background(), "jane@example.com", "wrong")
	require.Error(t, err)
}

// --- phase two ---

func issueOTPFor(t *testing.T, h *loginHarness) string {
	t.Helper()
	outcome, err := h.svc.SubmitCredentials(context.Background(), "jane@example.com", "s3cret-pass")
	require.NoError(t, err)
	require.Equal(t, StatusOTPSent, outcome.Status)
	return waitFor(t, h.notifier.otpSent)
}

func TestSubmitOTP_ValidCodeAuthenticates(t *testing.T) {
	h := newLoginHarness(t, testAccount())
	code := issueOTPFor(t, h)

	h.advance(59 * time.Second)
	outcome, err := h.svc.SubmitOTP(context.Background(), code)
	require.NoError(t, err)
	require.Equal(t, StatusAuthenticated, outcome.Status)
	require.NotNil(t, outcome.Tokens)
	require.Equal(t, "access-acct-1", outcome.Tokens.AccessToken)
	require.Equal(t, "refresh-acct-1", outcome.Tokens.RefreshToken)
}

func TestSubmitOTP_ExpiredCodeRejected(t *testing.T) {
	h := newLoginHarness(t, testAccount())
	code := issueOTPFor(t, h)

	h.advance(60 * time.Second)
	outcome, err := h.svc.SubmitOTP(context.Background(), code)
	require.NoError(t, err)
	require.Equal(t, StatusOTPInvalidOrExpired, outcome.Status)
	require.Zero(t, h.tokens.issued)
}

func TestSubmitOTP_CodeIsSingleUse(t *testing.T) {
	h := newLoginHarness(t, testAccount())
	code := issueOTPFor(t, h)

	first, err := h.svc.SubmitOTP(context.Background(), code)
	require.NoError(t, err)
	require.Equal(t, StatusAuthenticated, first.Status)

	second, err := h.svc.SubmitOTP(context.Background(), code)
	require.NoError(t, err)
	require.Equal(t, StatusOTPInvalidOrExpired, second.Status)
}

func TestSubmitOTP_WrongCodeLeavesOriginalUsable(t *testing.T) {
	h := newLoginHarness(t, testAccount())
	code := issueOTPFor(t, h)

	h.advance(10 * time.Second)
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	outcome, err := h.svc.SubmitOTP(context.Background(), wrong)
	require.NoError(t, err)
	require.Equal(t, StatusOTPInvalidOrExpired, outcome.Status)

	h.advance(1 * time.Second)
	outcome, err = h.svc.SubmitOTP(context.Background(), code)
	require.NoError(t, err)
	require.Equal(t, StatusAuthenticated, outcome.Status)
}

func TestSubmitOTP_WrongCodeDoesNotTouchLockoutCounter(t *testing.T) {
	h := newLoginHarness(t, testAccount())
	issueOTPFor(t, h)

	_, err := h.svc.SubmitOTP(context.Background(), "999999")
	require.NoError(t, err)
	require.Zero(t, h.repo.stored(t, "acct-1").FailedLoginAttempts)
}

func TestSubmitOTP_BlockedAccountRejectedEvenWithValidCode(t *testing.T) {
	h := newLoginHarness(t, testAccount())
	code := issueOTPFor(t, h)

	// Block the account after the code went out.
	for i := 0; i < 3; i++ {
		_, err := h.svc.SubmitCredentials(context.Background(), "jane@example.com", "wrong")
		require.NoError(t, err)
	}
	// The failed attempts re-issued nothing; the original code is still live.
	outcome, err := h.svc.SubmitOTP(context.Background(), code)
	require.NoError(t, err)
	require.Equal(t, StatusAccountBlocked, outcome.Status)
}

func TestSubmitOTP_ReissueSupersedesPreviousCode(t *testing.T) {
	h := newLoginHarness(t, testAccount())
	first := issueOTPFor(t, h)

	h.advance(5 * time.Second)
	second := issueOTPFor(t, h)
	require.NotEqual(t, first, second)

	outcome, err := h.svc.SubmitOTP(context.Background(), first)
	require.NoError(t, err)
	require.Equal(t, StatusOTPInvalidOrExpired, outcome.Status)

	outcome, err = h.svc.SubmitOTP(context.Background(), second)
	require.NoError(t, err)
	require.Equal(t, StatusAuthenticated, outcome.Status)
}

func TestSubmitOTP_TokenIssuerFailureIsHard(t *testing.T) {
	h := newLoginHarness(t, testAccount())
	code := issueOTPFor(t, h)
	h.tokens.fail = context.DeadlineExceeded

	_, err := h.svc.SubmitOTP(context.Background(), code)
	require.Error(t, err)
}

func TestLoginFlow_AuditTrail(t *testing.T) {
	h := newLoginHarness(t, testAccount())

	_, err := h.svc.SubmitCredentials(context.Background(), "jane@example.com", "wrong")
	require.NoError(t, err)

	code := issueOTPFor(t, h)
	_, err = h.svc.SubmitOTP(context.Background(), code)
	require.NoError(t, err)

	types := h.audit.types()
	require.Contains(t, types, models.EventLoginFailed)
	require.Contains(t, types, models.EventOTPIssued)
	require.Contains(t, types, models.EventLoginSucceeded)
}
