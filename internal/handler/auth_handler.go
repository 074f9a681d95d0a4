package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finnect-auth/internal/models"
	"finnect-auth/internal/service"
	"finnect-auth/internal/token"
	"finnect-auth/internal/util"
)

// AuthHandler handles HTTP requests for the login and registration flow
type AuthHandler struct {
	loginService   *service.LoginService
	accountService *service.AccountService
	healthCheck    func(r *http.Request) error
	logger         *zap.Logger
}

func NewAuthHandler(
	loginService *service.LoginService,
	accountService *service.AccountService,
	healthCheck func(r *http.Request) error,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		loginService:   loginService,
		accountService: accountService,
		healthCheck:    healthCheck,
		logger:         logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyOTPRequest struct {
	OTP string `json:"otp"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RegisterRoutes registers all auth routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/verify-otp", h.VerifyOTP)
		r.Post("/refresh", h.Refresh)
		r.Get("/health", h.HealthCheck)
	})
}

// Login handles the credential phase. The response never distinguishes
// an unknown email from a wrong password.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		h.respondWithError(w, http.StatusBadRequest,
			errors.New("email and password are required"), "Invalid request body")
		return
	}

	outcome, err := h.loginService.SubmitCredentials(ctx, req.Email, req.Password)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Login failed")
		return
	}

	h.respondWithOutcome(w, outcome)
	h.logger.Info("Login attempt handled",
		util.String("status", string(outcome.Status)),
		util.Duration("duration", time.Since(startTime)),
	)
}

// VerifyOTP handles the second phase. The code alone identifies the
// pending login.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.OTP == "" {
		h.respondWithError(w, http.StatusBadRequest,
			errors.New("otp is required"), "Invalid request body")
		return
	}

	outcome, err := h.loginService.SubmitOTP(ctx, req.OTP)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "OTP verification failed")
		return
	}

	h.respondWithOutcome(w, outcome)
	h.logger.Info("OTP verification handled",
		util.String("status", string(outcome.Status)),
		util.Duration("duration", time.Since(startTime)),
	)
}

// Refresh exchanges a refresh token for a new access token
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.RefreshToken == "" {
		h.respondWithError(w, http.StatusBadRequest,
			errors.New("refresh_token is required"), "Invalid request body")
		return
	}

	access, err := h.loginService.RefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, token.ErrInvalidToken) || errors.Is(err, token.ErrWrongUse) {
			h.respondWithError(w, http.StatusUnauthorized, err, "Invalid refresh token")
			return
		}
		h.respondWithError(w, http.StatusInternalServerError, err, "Token refresh failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"access_token": access,
	}, "Token refreshed"))
}

// Register handles account creation
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.AccountCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	acct, err := h.accountService.CreateAccount(ctx, &req)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to create account")
		return
	}

	h.respondWithJSON(w, http.StatusCreated,
		successResponse(sanitizeAccount(acct), "Account created successfully"))
	h.logger.Info("Account created via HTTP",
		util.String("account_id", acct.AccountID),
		util.Duration("duration", time.Since(startTime)),
	)
}

// HealthCheck reports the service's storage health
func (h *AuthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.healthCheck != nil {
		if err := h.healthCheck(r); err != nil {
			h.respondWithError(w, http.StatusServiceUnavailable, err, "Service unhealthy")
			return
		}
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Service is healthy"))
}

// respondWithOutcome maps a tagged login outcome onto the wire
func (h *AuthHandler) respondWithOutcome(w http.ResponseWriter, outcome *service.LoginOutcome) {
	switch outcome.Status {
	case service.StatusOTPSent:
		h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
			"email": outcome.Email,
		}, "OTP sent to your email"))

	case service.StatusAuthenticated:
		h.respondWithJSON(w, http.StatusOK, successResponse(outcome.Tokens, "Authenticated"))

	case service.StatusAccountBlocked:
		h.respondWithJSON(w, http.StatusForbidden, Response{
			Success: false,
			Error:   "account blocked",
			Message: "Account temporarily blocked, try again later",
			Data: map[string]int{
				"retry_after_seconds": int(outcome.RetryAfter.Seconds() + 0.5),
			},
		})

	case service.StatusInvalidCredentials:
		h.respondWithJSON(w, http.StatusUnauthorized,
			errorResponse(errors.New("invalid credentials"), "Invalid email or password"))

	case service.StatusOTPInvalidOrExpired:
		h.respondWithJSON(w, http.StatusUnauthorized,
			errorResponse(errors.New("invalid or expired OTP"), "OTP is invalid or has expired"))

	default:
		h.respondWithJSON(w, http.StatusInternalServerError,
			errorResponse(errors.New("unknown outcome"), "Internal error"))
	}
}

// respondWithJSON sends a JSON response
func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *AuthHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *AuthHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAccountExists), errors.Is(err, service.ErrIDNumberInUse):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// sanitizeAccount strips credential and OTP state before a record goes
// on the wire
func sanitizeAccount(acct *models.Account) map[string]interface{} {
	return map[string]interface{}{
		"account_id":        acct.AccountID,
		"email":             acct.Email,
		"username":          acct.Username,
		"first_name":        acct.FirstName,
		"middle_name":       acct.MiddleName,
		"last_name":         acct.LastName,
		"role":              acct.Role,
		"account_status":    acct.AccountStatus,
		"security_question": acct.SecurityQuestion,
		"created_at":        acct.CreatedAt,
	}
}
