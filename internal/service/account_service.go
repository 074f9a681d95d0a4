package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"finnect-auth/internal/bucketing"
	"finnect-auth/internal/config"
	"finnect-auth/internal/encryption"
	"finnect-auth/internal/hashing"
	"finnect-auth/internal/models"
	"finnect-auth/internal/repository/scylla"
	"finnect-auth/internal/util"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrAccountExists   = errors.New("account already exists")
	ErrIDNumberInUse   = errors.New("id number already registered")
	ErrUsernameExhaust = errors.New("could not generate a unique username")
)

const usernameLength = 12

var validSecurityQuestions = map[string]bool{
	models.SecurityQuestionMaidenName:      true,
	models.SecurityQuestionFavoriteColor:   true,
	models.SecurityQuestionBirthCity:       true,
	models.SecurityQuestionChildhoodFriend: true,
}

// AccountCreateRequest carries the registration payload.
type AccountCreateRequest struct {
	Email            string `json:"email" validate:"required,email"`
	Password         string `json:"password" validate:"required,min=8"`
	FirstName        string `json:"first_name" validate:"required"`
	MiddleName       string `json:"middle_name,omitempty"`
	LastName         string `json:"last_name" validate:"required"`
	IDNumber         int64  `json:"id_number" validate:"required"`
	SecurityQuestion string `json:"security_question" validate:"required"`
	SecurityAnswer   string `json:"security_answer" validate:"required"`
}

// AccountService handles registration and account reads. The generated
// username is the bank's initials plus random characters, never chosen
// by the customer.
type AccountService struct {
	accountRepo   scylla.AccountRepository
	hasher        *hashing.Hasher
	encryptionMgr *encryption.EncryptionManager
	bucketingMgr  *bucketing.BucketingManager
	bankName      string
	logger        *zap.Logger
}

func NewAccountService(
	cfg *config.Config,
	accountRepo scylla.AccountRepository,
	hasher *hashing.Hasher,
	encryptionMgr *encryption.EncryptionManager,
	bucketingMgr *bucketing.BucketingManager,
	logger *zap.Logger,
) *AccountService {
	return &AccountService{
		accountRepo:   accountRepo,
		hasher:        hasher,
		encryptionMgr: encryptionMgr,
		bucketingMgr:  bucketingMgr,
		bankName:      cfg.Auth.BankName,
		logger:        logger,
	}
}

// CreateAccount registers a new customer account.
func (s *AccountService) CreateAccount(ctx context.Context, req *AccountCreateRequest) (*models.Account, error) {
	if err := s.validateCreateRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	email := util.NormalizeEmail(req.Email)

	credentialHash, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(req.SecurityAnswer))
	encryptedAnswer, err := s.encryptionMgr.EncryptField(ctx, answer, "security_answer")
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt security answer: %w", err)
	}
	answerBlob, err := json.Marshal(encryptedAnswer)
	if err != nil {
		return nil, fmt.Errorf("failed to encode security answer: %w", err)
	}

	accountID := uuid.New()
	username, err := s.GenerateUsername()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	acct := &models.Account{
		AccountBucket:           s.bucketingMgr.GetAccountBucket(accountID),
		AccountID:               accountID.String(),
		Email:                   email,
		Username:                username,
		FirstName:               util.SanitizeInput(req.FirstName),
		MiddleName:              util.SanitizeInput(req.MiddleName),
		LastName:                util.SanitizeInput(req.LastName),
		IDNumber:                req.IDNumber,
		SecurityQuestion:        req.SecurityQuestion,
		SecurityAnswerEncrypted: answerBlob,
		SecurityAnswerKeyID:     encryptedAnswer.KeyID,
		Role:                    models.RoleCustomer,
		AccountStatus:           models.AccountStatusActive,
		CredentialHash:          credentialHash,
		CreatedAt:               now,
		UpdatedAt:               &now,
	}

	if err := s.accountRepo.CreateAccount(ctx, acct); err != nil {
		switch {
		case errors.Is(err, scylla.ErrDuplicateEmail):
			return nil, ErrAccountExists
		case errors.Is(err, scylla.ErrDuplicateIDNumber):
			return nil, ErrIDNumberInUse
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info("Account created",
		util.String("account_id", acct.AccountID),
		util.String("username", acct.Username),
	)

	return acct, nil
}

// GetAccountByEmail returns the account registered under the email.
func (s *AccountService) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return s.accountRepo.GetAccountByEmail(ctx, util.NormalizeEmail(email))
}

// VerifySecurityAnswer checks a submitted answer against the stored
// encrypted one. Comparison is case-insensitive on trimmed input.
func (s *AccountService) VerifySecurityAnswer(ctx context.Context, acct *models.Account, answer string) (bool, error) {
	var blob encryption.EncryptedData
	if err := json.Unmarshal(acct.SecurityAnswerEncrypted, &blob); err != nil {
		return false, fmt.Errorf("failed to decode security answer: %w", err)
	}

	stored, err := s.encryptionMgr.DecryptField(ctx, &blob)
	if err != nil {
		return false, fmt.Errorf("failed to decrypt security answer: %w", err)
	}

	return stored == strings.ToLower(strings.TrimSpace(answer)), nil
}

// GenerateUsername builds a username from the bank name's initials and
// random uppercase letters and digits, 12 characters total.
func (s *AccountService) GenerateUsername() (string, error) {
	var prefix strings.Builder
	for _, word := range strings.Fields(s.bankName) {
		prefix.WriteRune([]rune(strings.ToUpper(word))[0])
	}

	remaining := usernameLength - prefix.Len() - 1
	if remaining < 1 {
		remaining = 1
	}

	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	suffix := make([]byte, remaining)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUsernameExhaust, err)
		}
		suffix[i] = alphabet[n.Int64()]
	}

	return prefix.String() + "-" + string(suffix), nil
}

func (s *AccountService) validateCreateRequest(req *AccountCreateRequest) error {
	if req == nil {
		return errors.New("empty request")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(req.Email)); err != nil {
		return errors.New("enter a valid email address")
	}
	if len(req.Password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	if strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		return errors.New("first and last name are required")
	}
	if req.IDNumber <= 0 {
		return errors.New("id number is required")
	}
	if !validSecurityQuestions[req.SecurityQuestion] {
		return errors.New("unknown security question")
	}
	if strings.TrimSpace(req.SecurityAnswer) == "" {
		return errors.New("security answer is required")
	}
	if util.ContainsSuspicious(req.FirstName) || util.ContainsSuspicious(req.LastName) {
		return errors.New("name contains invalid characters")
	}
	return nil
}
