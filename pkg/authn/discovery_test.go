package authn

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDiscoveryDocument() DiscoveryDocument {
	return DiscoveryDocument{
		Issuer:                "https://idp.example.com",
		AuthorizationEndpoint: "https://idp.example.com/authorize",
		TokenEndpoint:         "https://idp.example.com/token",
		JWKSURI:               "https://idp.example.com/jwks",
	}
}

func TestDiscoveryDocumentValidate(t *testing.T) {
	t.Parallel()

	valid := validDiscoveryDocument()
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*DiscoveryDocument)
	}{
		{"missing issuer", func(d *DiscoveryDocument) { d.Issuer = "" }},
		{"missing authorization endpoint", func(d *DiscoveryDocument) { d.AuthorizationEndpoint = "" }},
		{"missing token endpoint", func(d *DiscoveryDocument) { d.TokenEndpoint = "" }},
		{"missing jwks uri", func(d *DiscoveryDocument) { d.JWKSURI = "" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			doc := validDiscoveryDocument()
			tc.mutate(&doc)
			assert.Error(t, doc.Validate())
		})
	}
}

func TestDiscoveryDocumentSigningAlgorithms(t *testing.T) {
	t.Parallel()

	doc := validDiscoveryDocument()
	assert.Equal(t, []string{"RS256"}, doc.SigningAlgorithms(), "defaults when omitted")

	doc.IDTokenSigningAlgValuesSupported = []string{"ES256", "RS256"}
	assert.Equal(t, []string{"ES256", "RS256"}, doc.SigningAlgorithms())
}

func TestDiscoveryDocumentDecodesProviderMetadata(t *testing.T) {
	t.Parallel()

	var doc DiscoveryDocument
	require.NoError(t, json.Unmarshal([]byte(`{
		"issuer": "https://idp.example.com",
		"authorization_endpoint": "https://idp.example.com/authorize",
		"token_endpoint": "https://idp.example.com/token",
		"userinfo_endpoint": "https://idp.example.com/userinfo",
		"jwks_uri": "https://idp.example.com/jwks",
		"id_token_signing_alg_values_supported": ["RS256"]
	}`), &doc))

	require.NoError(t, doc.Validate())
	assert.Equal(t, "https://idp.example.com/jwks", doc.JWKSURI)
}
