// Package provider holds the trust parameters for one Microsoft Entra
// (Azure AD) tenant: which tenant issues tokens, which client and audience
// this service answers to, and the issuer and key-set endpoints derived from
// them.
//
// A [Config] is built once at startup and shared read-only by every
// validator. Construction fails fast: a Config with a missing field is never
// returned.
//
//	cfg, err := provider.Load(config.New())
//	if err != nil {
//	    logger.Error("invalid identity provider configuration", "error", err)
//	    os.Exit(1)
//	}
package provider

import (
	"net/url"
	"strings"

	"github.com/StricklySoft/entra-guard/pkg/config"
	sserr "github.com/StricklySoft/entra-guard/pkg/errors"
)

// DefaultAuthorityHost is the public-cloud Entra login host.
const DefaultAuthorityHost = "login.microsoftonline.com"

// Environment variable names read by [Load].
const (
	EnvTenantID      = "AZURE_AD_TENANT_ID"
	EnvClientID      = "AZURE_AD_CLIENT_ID"
	EnvAudience      = "AZURE_AD_AUDIENCE"
	EnvAuthorityHost = "AZURE_AD_AUTHORITY_HOST"
)

// Settings is the raw, loader-facing form of a [Config].
type Settings struct {
	TenantID      string `env:"AZURE_AD_TENANT_ID" yaml:"tenant_id" json:"tenant_id" required:"true"`
	ClientID      string `env:"AZURE_AD_CLIENT_ID" yaml:"client_id" json:"client_id" required:"true"`
	Audience      string `env:"AZURE_AD_AUDIENCE" yaml:"audience" json:"audience" required:"true"`
	AuthorityHost string `env:"AZURE_AD_AUTHORITY_HOST" envDefault:"login.microsoftonline.com" yaml:"authority_host" json:"authority_host"`
}

// Config is the immutable trust configuration for one tenant.
type Config struct {
	tenantID      string
	clientID      string
	audience      string
	authorityHost string
	issuer        string
	jwksURL       string
}

// New validates s and derives the issuer and key-set URL from the tenant id
// and authority host. Surrounding whitespace is trimmed from every value.
func New(s Settings) (*Config, error) {
	tenant := strings.TrimSpace(s.TenantID)
	client := strings.TrimSpace(s.ClientID)
	audience := strings.TrimSpace(s.Audience)
	host := strings.TrimSpace(s.AuthorityHost)
	if host == "" {
		host = DefaultAuthorityHost
	}

	for _, f := range []struct{ key, val string }{
		{EnvTenantID, tenant},
		{EnvClientID, client},
		{EnvAudience, audience},
	} {
		if f.val == "" {
			return nil, sserr.Newf(sserr.CodeValidationRequired,
				"Missing required env variable: %s", f.key).WithDetail("env", f.key)
		}
	}

	if strings.ContainsAny(tenant, "/?#") {
		return nil, sserr.Newf(sserr.CodeValidationFormat,
			"provider: tenant id %q must be a single path segment", tenant)
	}
	if u, err := url.Parse("https://" + host); err != nil || u.Host != host || u.Path != "" {
		return nil, sserr.Newf(sserr.CodeValidationFormat,
			"provider: authority host %q must be a bare host name", host)
	}

	base := "https://" + host + "/" + tenant
	return &Config{
		tenantID:      tenant,
		clientID:      client,
		audience:      audience,
		authorityHost: host,
		issuer:        base + "/v2.0",
		jwksURL:       base + "/discovery/v2.0/keys",
	}, nil
}

// Load reads [Settings] through loader and builds a Config. A required value
// that is absent or blank fails with [sserr.CodeValidationRequired] naming
// the environment variable.
func Load(loader *config.Loader) (*Config, error) {
	var s Settings
	if err := loader.Load(&s); err != nil {
		return nil, err
	}
	return New(s)
}

// MustLoad is like [Load] but panics on error. Intended for func main.
func MustLoad(loader *config.Loader) *Config {
	cfg, err := Load(loader)
	if err != nil {
		panic("provider: " + err.Error())
	}
	return cfg
}

// TenantID returns the directory tenant identifier.
func (c *Config) TenantID() string { return c.tenantID }

// ClientID returns the application (client) id registered for this service.
func (c *Config) ClientID() string { return c.clientID }

// Audience returns the value a token's aud claim must carry.
func (c *Config) Audience() string { return c.audience }

// AuthorityHost returns the login host the endpoints are derived from.
func (c *Config) AuthorityHost() string { return c.authorityHost }

// Issuer returns the exact iss value trusted tokens carry.
func (c *Config) Issuer() string { return c.issuer }

// JWKSURL returns the location of the tenant's public signing keys.
func (c *Config) JWKSURL() string { return c.jwksURL }
