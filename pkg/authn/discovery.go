package authn

import (
	"fmt"
)

// DiscoveryDocument holds the identity provider metadata the gateway needs
// from the OIDC discovery document. It is populated from the provider's
// claims after discovery.
type DiscoveryDocument struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
}

// Validate checks that the document carries everything the gateway depends
// on: the endpoints for the code flow, the key-set location, and the
// signing algorithms used to pin credential verification.
func (d *DiscoveryDocument) Validate() error {
	if d.Issuer == "" {
		return fmt.Errorf("missing issuer")
	}
	if d.AuthorizationEndpoint == "" {
		return fmt.Errorf("missing authorization_endpoint")
	}
	if d.TokenEndpoint == "" {
		return fmt.Errorf("missing token_endpoint")
	}
	if d.JWKSURI == "" {
		return fmt.Errorf("missing jwks_uri")
	}
	return nil
}

// SigningAlgorithms returns the provider-declared ID token signing
// algorithms, defaulting to RS256 when the document omits them.
func (d *DiscoveryDocument) SigningAlgorithms() []string {
	if len(d.IDTokenSigningAlgValuesSupported) == 0 {
		return []string{"RS256"}
	}
	return d.IDTokenSigningAlgValuesSupported
}
