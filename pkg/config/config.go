// Package config loads gateway settings from the environment and an
// optional config file. All settings can be provided as GATEKEEPER_*
// environment variables, e.g. GATEKEEPER_CLIENT_ID.
package config

import (
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gatekeeper-proxy/gatekeeper/pkg/errors"
)

// Settings holds the full gateway configuration.
type Settings struct {
	// Host and Port define the listen address of the gateway.
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// PolicyFile is the path to the YAML routing/access policy document.
	PolicyFile string `mapstructure:"policy-file"`

	// Issuer is the OIDC issuer URL of the identity provider. Endpoints are
	// discovered from {issuer}/.well-known/openid-configuration.
	Issuer string `mapstructure:"issuer"`

	// ClientID and ClientSecret identify the gateway at the identity provider.
	ClientID     string `mapstructure:"client-id"`
	ClientSecret string `mapstructure:"client-secret"`

	// RedirectURI is the externally reachable URL of the /auth callback.
	RedirectURI string `mapstructure:"redirect-uri"`

	// Scopes are the space-separated OAuth scopes requested on login.
	// The groups scope is required because route authorization depends on
	// group claims.
	Scopes string `mapstructure:"scopes"`

	// Audience is the expected audience claim. Audience verification is
	// relaxed unless ValidateAudience is set.
	Audience         string `mapstructure:"audience"`
	ValidateAudience bool   `mapstructure:"validate-audience"`

	// GroupsClaim is the claim holding the identity's group/role names.
	// Claim names vary by provider (e.g. "groups", "roles", "cognito:groups").
	GroupsClaim string `mapstructure:"groups-claim"`

	// SessionSecret signs session cookies. Required.
	SessionSecret string `mapstructure:"session-secret"`

	// SessionTTL is the lifetime of an authenticated session.
	SessionTTL time.Duration `mapstructure:"session-ttl"`

	// PersistBearer controls whether a verified bearer credential also
	// establishes a durable session for the caller.
	PersistBearer bool `mapstructure:"persist-bearer"`
}

// ScopeList returns the requested scopes as a slice.
func (s *Settings) ScopeList() []string {
	return strings.Fields(s.Scopes)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("policy-file", "routes.yaml")
	v.SetDefault("scopes", "openid profile email groups")
	v.SetDefault("groups-claim", "groups")
	v.SetDefault("session-ttl", time.Hour)
	v.SetDefault("validate-audience", false)
	v.SetDefault("persist-bearer", false)

	// Register the remaining keys so environment-only values are picked up
	// during Unmarshal.
	for _, key := range []string{
		"issuer", "client-id", "client-secret", "redirect-uri",
		"audience", "session-secret",
	} {
		v.SetDefault(key, "")
	}
}

// Load reads settings from the environment and, if configFile is non-empty,
// from the given YAML config file. Environment variables take precedence.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GATEKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.NewConfigError("failed to read config file", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, errors.NewConfigError("failed to unmarshal settings", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &settings, nil
}

// Validate checks that all required settings are present.
func (s *Settings) Validate() error {
	required := map[string]string{
		"issuer":         s.Issuer,
		"client-id":      s.ClientID,
		"client-secret":  s.ClientSecret,
		"redirect-uri":   s.RedirectURI,
		"session-secret": s.SessionSecret,
		"policy-file":    s.PolicyFile,
	}
	for name, value := range required {
		if value == "" {
			return errors.NewConfigError(name+" is required", nil)
		}
	}

	if !slices.Contains(s.ScopeList(), "openid") {
		return errors.NewConfigError("openid scope is required", nil)
	}

	if s.SessionTTL <= 0 {
		return errors.NewConfigError("session-ttl must be positive", nil)
	}

	return nil
}
