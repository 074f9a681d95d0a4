package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"finnect-auth/internal/config"
)

func testIssuer() *Issuer {
	return NewIssuer(&config.Config{
		JWT: config.JWTConfig{
			Secret:     "test-secret-key",
			Issuer:     "finnect-auth",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
		},
	})
}

func TestIssue_PairVerifies(t *testing.T) {
	t.Parallel()

	iss := testIssuer()
	pair, err := iss.Issue("acct-1", "jane@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	accountID, email, err := iss.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "acct-1", accountID)
	require.Equal(t, "jane@example.com", email)
}

func TestVerifyAccess_RejectsRefreshToken(t *testing.T) {
	t.Parallel()

	iss := testIssuer()
	pair, err := iss.Issue("acct-1", "jane@example.com")
	require.NoError(t, err)

	_, _, err = iss.VerifyAccess(pair.RefreshToken)
	require.ErrorIs(t, err, ErrWrongUse)
}

func TestRefresh_MintsNewAccessToken(t *testing.T) {
	iss := testIssuer()
	pair, err := iss.Issue("acct-1", "jane@example.com")
	require.NoError(t, err)

	access, err := iss.Refresh(pair.RefreshToken)
	require.NoError(t, err)

	accountID, email, err := iss.VerifyAccess(access)
	require.NoError(t, err)
	require.Equal(t, "acct-1", accountID)
	require.Equal(t, "jane@example.com", email)
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	t.Parallel()

	iss := testIssuer()
	pair, err := iss.Issue("acct-1", "jane@example.com")
	require.NoError(t, err)

	_, err = iss.Refresh(pair.AccessToken)
	require.ErrorIs(t, err, ErrWrongUse)
}

func TestVerify_ExpiredToken(t *testing.T) {
	iss := testIssuer()
	issued := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	iss.now = func() time.Time { return issued }

	pair, err := iss.Issue("acct-1", "jane@example.com")
	require.NoError(t, err)

	iss.now = func() time.Time { return issued.Add(16 * time.Minute) }
	_, _, err = iss.VerifyAccess(pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	// Refresh token is still inside its 24h window.
	_, err = iss.Refresh(pair.RefreshToken)
	require.NoError(t, err)
}

func TestVerify_TamperedToken(t *testing.T) {
	t.Parallel()

	iss := testIssuer()
	pair, err := iss.Issue("acct-1", "jane@example.com")
	require.NoError(t, err)

	tampered := pair.AccessToken[:len(pair.AccessToken)-2] + "xx"
	_, _, err = iss.VerifyAccess(tampered)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	iss := testIssuer()
	pair, err := iss.Issue("acct-1", "jane@example.com")
	require.NoError(t, err)

	other := NewIssuer(&config.Config{
		JWT: config.JWTConfig{
			Secret:     "a-different-secret",
			Issuer:     "finnect-auth",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
		},
	})
	_, _, err = other.VerifyAccess(pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}
