package service

import (
	"fmt"

	"github.com/LearnWiseAI/moodle-local-learnwise/internal/config"
)

// DiscoveryService builds responses for discovery endpoints.
type DiscoveryService struct {
	cfg config.Config
}

// NewDiscoveryService wires dependencies.
func NewDiscoveryService(cfg config.Config) *DiscoveryService {
	return &DiscoveryService{cfg: cfg}
}

// ServerMetadata matches the RFC 8414 authorization server metadata document.
type ServerMetadata struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	IntrospectionEndpoint            string   `json:"introspection_endpoint"`
	RevocationEndpoint               string   `json:"revocation_endpoint"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
}

// Metadata builds the discovery document using the request host.
func (s *DiscoveryService) Metadata(scheme, host string) ServerMetadata {
	issuer := fmt.Sprintf("%s://%s", scheme, host)
	return ServerMetadata{
		Issuer:                           issuer,
		AuthorizationEndpoint:            fmt.Sprintf("%s/oauth/authorize", issuer),
		TokenEndpoint:                    fmt.Sprintf("%s/oauth/token", issuer),
		IntrospectionEndpoint:            fmt.Sprintf("%s/oauth/introspect", issuer),
		RevocationEndpoint:               fmt.Sprintf("%s/oauth/revoke", issuer),
		ResponseTypesSupported:           []string{"code"},
		GrantTypesSupported:              []string{"authorization_code", "refresh_token"},
		ScopesSupported:                  []string{s.cfg.Scope},
		TokenEndpointAuthMethods:         []string{"client_secret_post", "client_secret_basic"},
		IDTokenSigningAlgValuesSupported: []string{s.cfg.IDTokenSigningAlg},
	}
}
