package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"finnect-auth/internal/bucketing"
	"finnect-auth/internal/config"
	"finnect-auth/internal/encryption"
	"finnect-auth/internal/hashing"
	"finnect-auth/internal/models"
	"finnect-auth/internal/repository/scylla"
	"finnect-auth/internal/service"
	"finnect-auth/internal/token"
	"finnect-auth/internal/util"
)

// memoryAccountRepo backs the HTTP tests with an in-memory account store.
type memoryAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

func newMemoryAccountRepo() *memoryAccountRepo {
	return &memoryAccountRepo{accounts: make(map[string]*models.Account)}
}

func (r *memoryAccountRepo) GetAccountByID(_ context.Context, accountID string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[accountID]
	if !ok {
		return nil, scylla.ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (r *memoryAccountRepo) GetAccountByEmail(_ context.Context, email string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, acct := range r.accounts {
		if acct.Email == email {
			cp := *acct
			return &cp, nil
		}
	}
	return nil, scylla.ErrAccountNotFound
}

func (r *memoryAccountRepo) GetAccountByOTP(_ context.Context, code string, now time.Time) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, acct := range r.accounts {
		if acct.OTPCode == code && acct.OTPExpiresAt != nil && now.Before(*acct.OTPExpiresAt) {
			cp := *acct
			return &cp, nil
		}
	}
	return nil, scylla.ErrAccountNotFound
}

func (r *memoryAccountRepo) CreateAccount(_ context.Context, acct *models.Account) error {
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
	cp := *acct
	r.accounts[acct.AccountID] = &cp
	return nil
}

func (r *memoryAccountRepo) UpdateFailedLogins(_ context.Context, acct *models.Account, expected int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.accounts[acct.AccountID]
	if !ok {
		return scylla.ErrAccountNotFound
	}
	if stored.FailedLoginAttempts != expected {
		return scylla.ErrConcurrentUpdate
	}
	stored.FailedLoginAttempts = acct.FailedLoginAttempts
	stored.LastFailedLogin = acct.LastFailedLogin
	return nil
}

func (r *memoryAccountRepo) ResetFailedLogins(_ context.Context, acct *models.Account) error {
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

func (r *memoryAccountRepo) SetOTP(_ context.Context, acct *models.Account, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.accounts[acct.AccountID]
	if !ok {
		return scylla.ErrAccountNotFound
	}
	stored.OTPCode = acct.OTPCode
	stored.OTPExpiresAt = acct.OTPExpiresAt
	return nil
}

func (r *memoryAccountRepo) ClearOTP(_ context.Context, acct *models.Account, _ string) error {
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

func (r *memoryAccountRepo) HealthCheck(context.Context) error { return nil }

// liveOTP reads the code currently stored for the email, standing in for
// the delivery channel the customer would read it from.
func (r *memoryAccountRepo) liveOTP(t *testing.T, email string) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, acct := range r.accounts {
		if acct.Email == email {
			require.NotEmpty(t, acct.OTPCode, "no OTP pending for %s", email)
			return acct.OTPCode
		}
	}
	t.Fatalf("no account for %s", email)
	return ""
}

type noopNotifier struct{}

func (noopNotifier) SendOTPEmail(string, string) error    { return nil }
func (noopNotifier) SendAccountBlockedEmail(string) error { return nil }

type noopAudit struct{}

func (noopAudit) Record(context.Context, *models.SecurityEvent) {}

func handlerTestConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Auth: config.AuthConfig{
			MaxLoginAttempts: 3,
			LockoutDuration:  time.Minute,
			OTPExpiration:    time.Minute,
			OTPLength:        6,
			BankName:         "Finnect National Bank",
		},
		JWT: config.JWTConfig{
			Secret:     "test-secret-key",
			Issuer:     "finnect-auth",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
		},
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Peppers:           "1:test-pepper",
		},
		Bucketing: config.BucketingConfig{
			AccountBuckets: 16,
			EventBuckets:   16,
		},
		KMS: config.KMSConfig{Enabled: false},
	}
}

type handlerHarness struct {
	router chi.Router
	repo   *memoryAccountRepo
}

func newHandlerHarness(t *testing.T) *handlerHarness {
	t.Helper()
	cfg := handlerTestConfig()
	logger := util.Init("test", "error", "console")

	repo := newMemoryAccountRepo()
	hasher := hashing.NewHasher(cfg)
	issuer := token.NewIssuer(cfg)

	loginSvc := service.NewLoginService(
		repo,
		service.NewLockoutPolicy(cfg.Auth),
		service.NewOTPManager(repo, nil, cfg.Auth, logger),
		issuer,
		noopNotifier{},
		noopAudit{},
		nil,
		hasher,
		logger,
	)
	accountSvc := service.NewAccountService(
		cfg,
		repo,
		hasher,
		encryption.NewEncryptionManager(cfg, nil),
		bucketing.NewBucketingManager(cfg),
		logger,
	)

	h := NewAuthHandler(loginSvc, accountSvc, nil, logger)
	router := chi.NewRouter()
	h.RegisterRoutes(router)

	return &handlerHarness{router: router, repo: repo}
}

func (h *handlerHarness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func registerPayload() map[string]interface{} {
	return map[string]interface{}{
		"email":             "jane@example.com",
		"password":          "s3cret-pass",
		"first_name":        "Jane",
		"last_name":         "Doe",
		"id_number":         12345678,
		"security_question": models.SecurityQuestionBirthCity,
		"security_answer":   "Nairobi",
	}
}

func TestRegisterLoginVerifyRefresh(t *testing.T) {
	h := newHandlerHarness(t)

	rec := h.do(t, http.MethodPost, "/auth/register", registerPayload())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeResponse(t, rec)
	require.True(t, resp.Success)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	require.NotContains(t, data, "credential_hash")
	require.NotContains(t, data, "otp_code")

	rec = h.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "jane@example.com",
		"password": "s3cret-pass",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decodeResponse(t, rec)
	require.True(t, resp.Success)
	require.Equal(t, "OTP sent to your email", resp.Message)

	code := h.repo.liveOTP(t, "jane@example.com")
	rec = h.do(t, http.MethodPost, "/auth/verify-otp", map[string]string{"otp": code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decodeResponse(t, rec)
	tokens, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	access, _ := tokens["access_token"].(string)
	refresh, _ := tokens["refresh_token"].(string)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	rec = h.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decodeResponse(t, rec)
	refreshed, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	require.NotEmpty(t, refreshed["access_token"])
}

func TestLogin_InvalidCredentials(t *testing.T) {
	h := newHandlerHarness(t)
	h.do(t, http.MethodPost, "/auth/register", registerPayload())

	wrongPassword := h.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "jane@example.com",
		"password": "wrong-pass",
	})
	unknownEmail := h.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "nobody@example.com",
		"password": "s3cret-pass",
	})

	require.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	require.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
	// Both misses read identically on the wire.
	require.JSONEq(t, unknownEmail.Body.String(), wrongPassword.Body.String())
}

func TestLogin_BlockedAfterRepeatedFailures(t *testing.T) {
	h := newHandlerHarness(t)
	h.do(t, http.MethodPost, "/auth/register", registerPayload())

	bad := map[string]string{"email": "jane@example.com", "password": "wrong-pass"}
	for i := 0; i < 2; i++ {
		rec := h.do(t, http.MethodPost, "/auth/login", bad)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := h.do(t, http.MethodPost, "/auth/login", bad)
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	retry, ok := data["retry_after_seconds"].(float64)
	require.True(t, ok)
	require.Greater(t, retry, float64(0))
	require.LessOrEqual(t, retry, float64(60))

	// The right password is refused while the window holds.
	rec = h.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "jane@example.com",
		"password": "s3cret-pass",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestVerifyOTP_Unknown(t *testing.T) {
	h := newHandlerHarness(t)

	rec := h.do(t, http.MethodPost, "/auth/verify-otp", map[string]string{"otp": "000000"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeResponse(t, rec)
	require.False(t, resp.Success)
}

func TestRefresh_RejectsGarbage(t *testing.T) {
	h := newHandlerHarness(t)

	rec := h.do(t, http.MethodPost, "/auth/refresh", map[string]string{
		"refresh_token": "not-a-token",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBadRequests(t *testing.T) {
	h := newHandlerHarness(t)

	rec := h.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "jane@example.com"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/auth/verify-otp", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/auth/refresh", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegister_Duplicate(t *testing.T) {
	h := newHandlerHarness(t)

	rec := h.do(t, http.MethodPost, "/auth/register", registerPayload())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodPost, "/auth/register", registerPayload())
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	h := newHandlerHarness(t)

	rec := h.do(t, http.MethodGet, "/auth/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	logger := util.Init("test", "error", "console")
	handler := NewAuthHandler(nil, nil, func(*http.Request) error {
		return errors.New("store unreachable")
	}, logger)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/auth/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
