package service

import (
	"go.uber.org/zap"

	"finnect-auth/internal/bucketing"
	"finnect-auth/internal/config"
	"finnect-auth/internal/encryption"
	"finnect-auth/internal/hashing"
	"finnect-auth/internal/repository/scylla"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	cfg           *config.Config
	accountRepo   scylla.AccountRepository
	hasher        *hashing.Hasher
	encryptionMgr *encryption.EncryptionManager
	bucketingMgr  *bucketing.BucketingManager
	otpIndex      OTPIndex
	blockCache    BlockCache
	tokens        TokenIssuer
	notifier      Notifier
	audit         AuditRecorder
	logger        *zap.Logger

	lockoutPolicy  *LockoutPolicy
	otpManager     *OTPManager
	loginService   *LoginService
	accountService *AccountService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	cfg *config.Config,
	accountRepo scylla.AccountRepository,
	hasher *hashing.Hasher,
	encryptionMgr *encryption.EncryptionManager,
	bucketingMgr *bucketing.BucketingManager,
	otpIndex OTPIndex,
	blockCache BlockCache,
	tokens TokenIssuer,
	notifier Notifier,
	audit AuditRecorder,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		cfg:           cfg,
		accountRepo:   accountRepo,
		hasher:        hasher,
		encryptionMgr: encryptionMgr,
		bucketingMgr:  bucketingMgr,
		otpIndex:      otpIndex,
		blockCache:    blockCache,
		tokens:        tokens,
		notifier:      notifier,
		audit:         audit,
		logger:        logger,
	}
}

// LockoutPolicy returns the lockout policy instance (singleton)
func (f *ServiceFactory) LockoutPolicy() *LockoutPolicy {
	if f.lockoutPolicy == nil {
		f.lockoutPolicy = NewLockoutPolicy(f.cfg.Auth)
	}
	return f.lockoutPolicy
}

// OTPManager returns the OTP manager instance (singleton)
func (f *ServiceFactory) OTPManager() *OTPManager {
	if f.otpManager == nil {
		f.otpManager = NewOTPManager(f.accountRepo, f.otpIndex, f.cfg.Auth, f.logger)
	}
	return f.otpManager
}

// LoginService returns the login service instance (singleton)
func (f *ServiceFactory) LoginService() *LoginService {
	if f.loginService == nil {
		f.loginService = NewLoginService(
			f.accountRepo,
			f.LockoutPolicy(),
			f.OTPManager(),
			f.tokens,
			f.notifier,
			f.audit,
			f.blockCache,
			f.hasher,
			f.logger,
		)
	}
	return f.loginService
}

// AccountService returns the account service instance (singleton)
func (f *ServiceFactory) AccountService() *AccountService {
	if f.accountService == nil {
		f.accountService = NewAccountService(
			f.cfg,
			f.accountRepo,
			f.hasher,
			f.encryptionMgr,
			f.bucketingMgr,
			f.logger,
		)
	}
	return f.accountService
}
