package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	require.Equal(t, 3, cfg.Auth.MaxLoginAttempts)
	require.Equal(t, time.Minute, cfg.Auth.LockoutDuration)
	require.Equal(t, time.Minute, cfg.Auth.OTPExpiration)
	require.Equal(t, 6, cfg.Auth.OTPLength)

	require.Equal(t, 8080, cfg.Server.Port)
	require.False(t, cfg.Server.EnableTLS)
	require.Equal(t, 15*time.Minute, cfg.JWT.AccessTTL)
	require.Equal(t, 24*time.Hour, cfg.JWT.RefreshTTL)
	require.Equal(t, []string{"localhost:9042"}, cfg.Scylla.Nodes)
	require.False(t, cfg.KMS.Enabled)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("AUTH_MAX_LOGIN_ATTEMPTS", "5")
	t.Setenv("AUTH_LOCKOUT_DURATION", "2m")
	t.Setenv("AUTH_OTP_EXPIRATION", "90s")
	t.Setenv("SERVER_ENABLE_TLS", "true")
	t.Setenv("SCYLLA_NODES", "node1:9042,node2:9042")
	t.Setenv("HASHING_PEPPERS", "1:old,2:current")

	cfg := LoadConfig()

	require.True(t, cfg.IsProduction())
	require.Equal(t, 5, cfg.Auth.MaxLoginAttempts)
	require.Equal(t, 2*time.Minute, cfg.Auth.LockoutDuration)
	require.Equal(t, 90*time.Second, cfg.Auth.OTPExpiration)
	require.True(t, cfg.Server.EnableTLS)
	require.Equal(t, []string{"node1:9042", "node2:9042"}, cfg.Scylla.Nodes)
	require.Equal(t, "1:old,2:current", cfg.Hashing.Peppers)
}

func TestLoadConfig_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("AUTH_MAX_LOGIN_ATTEMPTS", "not-a-number")
	t.Setenv("AUTH_LOCKOUT_DURATION", "soon")

	cfg := LoadConfig()

	require.Equal(t, 3, cfg.Auth.MaxLoginAttempts)
	require.Equal(t, time.Minute, cfg.Auth.LockoutDuration)
}

func TestValidate(t *testing.T) {
	cfg := LoadConfig()
	require.NoError(t, cfg.Validate())

	cfg.Environment = "production"
	cfg.JWT.Secret = ""
	require.Error(t, cfg.Validate())

	cfg.Environment = "development"
	cfg.Auth.MaxLoginAttempts = 0
	require.Error(t, cfg.Validate())

	cfg.Auth.MaxLoginAttempts = 3
	cfg.Auth.OTPLength = 2
	require.Error(t, cfg.Validate())
}
