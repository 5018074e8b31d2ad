package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiscoveryMetadata(t *testing.T) {
	cfg := testConfig()
	cfg.IDTokenSigningAlg = "RS256"
	disc := NewDiscoveryService(cfg)

	meta := disc.Metadata("https", "auth.example.com")
	require.Equal(t, "https://auth.example.com", meta.Issuer)
	require.Equal(t, "https://auth.example.com/oauth/authorize", meta.AuthorizationEndpoint)
	require.Equal(t, "https://auth.example.com/oauth/token", meta.TokenEndpoint)
	require.Equal(t, []string{"authorization_code", "refresh_token"}, meta.GrantTypesSupported)
	require.Equal(t, []string{"webservice"}, meta.ScopesSupported)
	require.Equal(t, []string{"RS256"}, meta.IDTokenSigningAlgValuesSupported)
}
