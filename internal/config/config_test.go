package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/oauth")
	t.Setenv("OAUTH_REDIRECT_URIS", "https://app.example.com/callback")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.Enabled)
	require.Equal(t, "webservice", cfg.Scope)
	require.Equal(t, 10*time.Minute, cfg.CodeTTL)
	require.Equal(t, time.Hour, cfg.AccessTokenTTL)
	require.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	require.False(t, cfg.MultipleAccessTokens)
	require.Equal(t, "RS256", cfg.IDTokenSigningAlg)
	require.Equal(t, time.Hour, cfg.CleanupInterval)
}

func TestLoadRequiredValues(t *testing.T) {
	t.Setenv("OAUTH_REDIRECT_URIS", "https://app.example.com/callback")
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost/oauth")
	t.Setenv("OAUTH_REDIRECT_URIS", "")
	_, err = Load()
	require.Error(t, err)
}

func TestRedirectURIListParsing(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/oauth")
	t.Setenv("OAUTH_REDIRECT_URIS", "https://a.example.com/cb\nhttps://b.example.com/cb https://c.example.com/cb")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://a.example.com/cb",
		"https://b.example.com/cb",
		"https://c.example.com/cb",
	}, cfg.RedirectURIs)

	require.True(t, cfg.AllowsRedirectURI("https://b.example.com/cb"))
	require.False(t, cfg.AllowsRedirectURI("https://b.example.com/cb/"))
	require.False(t, cfg.AllowsRedirectURI("https://B.example.com/cb"))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/oauth")
	t.Setenv("OAUTH_REDIRECT_URIS", "https://app.example.com/callback")
	t.Setenv("ASSISTANT_API_ENABLED", "false")
	t.Setenv("MULTIPLE_ACCESS_TOKENS", "yes")
	t.Setenv("CODE_TTL", "5m")
	t.Setenv("RATE_LIMIT_RPM", "120")

	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.Enabled)
	require.True(t, cfg.MultipleAccessTokens)
	require.Equal(t, 5*time.Minute, cfg.CodeTTL)
	require.Equal(t, 120, cfg.RateLimitRPM)
}
