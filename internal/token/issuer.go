package token

import (
	"errors"
	"fmt"
	"time"

	"finnect-auth/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWrongUse     = errors.New("token not valid for this use")
)

// TokenPair holds a freshly minted access/refresh credential pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Issuer mints and validates signed access and refresh tokens. The login
// service treats it as a fallible downstream: issuance errors surface as
// hard failures, validation errors as ErrInvalidToken.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

type claims struct {
	Email string `json:"email"`
	Use   string `json:"use"`
	jwt.RegisteredClaims
}

func NewIssuer(cfg *config.Config) *Issuer {
	return &Issuer{
		secret:     []byte(cfg.JWT.Secret),
		issuer:     cfg.JWT.Issuer,
		accessTTL:  cfg.JWT.AccessTTL,
		refreshTTL: cfg.JWT.RefreshTTL,
		now:        time.Now,
	}
}

// Issue mints an access/refresh pair for the account.
func (i *Issuer) Issue(accountID, email string) (*TokenPair, error) {
	access, err := i.sign(accountID, email, "access", i.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	refresh, err := i.sign(accountID, email, "refresh", i.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh validates a refresh token and mints a new access token for the
// same subject.
func (i *Issuer) Refresh(refreshToken string) (string, error) {
	accountID, email, err := i.verify(refreshToken, "refresh")
	if err != nil {
		return "", err
	}
	access, err := i.sign(accountID, email, "access", i.accessTTL)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return access, nil
}

// VerifyAccess validates an access token and returns the account id and email.
func (i *Issuer) VerifyAccess(accessToken string) (string, string, error) {
	return i.verify(accessToken, "access")
}

func (i *Issuer) sign(accountID, email, use string, ttl time.Duration) (string, error) {
	now := i.now().UTC()
	c := claims{
		Email: email,
		Use:   use,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	tk := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tk.SignedString(i.secret)
}

func (i *Issuer) verify(tokenString, expectedUse string) (string, string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(func() time.Time { return i.now() }),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return "", "", ErrInvalidToken
	}
	if c.Use != expectedUse {
		return "", "", ErrWrongUse
	}
	return c.Subject, c.Email, nil
}
