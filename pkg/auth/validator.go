// Package auth guards an HTTP or gRPC service with bearer tokens issued by a
// Microsoft Entra tenant.
//
// [TokenValidator] is the core. For each token it checks, in a fixed order
// that cannot be configured away:
//
//  1. size and structure, a kid in the header, and an RS256 alg
//  2. the signature, using the tenant key named by kid
//  3. exp (required) and nbf, with optional clock-skew leeway
//  4. aud, which must name the configured audience
//  5. iss, which must equal the tenant issuer
//
// Keys come from the tenant's published key set. The set is cached for a
// configurable TTL, re-fetched once when an unknown kid shows up (to follow
// key rotation), and fetched by at most one goroutine at a time.
//
// Validate returns either decoded [Claims] or an error. A rejection carries
// a [RejectionReason], recoverable with [ReasonOf], and a 401 code. Any
// other error is an infrastructure failure (the key set could not be
// fetched, for example) and must not be reported to the client as a bad
// token.
//
//	v, err := auth.NewTokenValidator(providerCfg, auth.DefaultValidatorConfig())
//	...
//	mux.Handle("/", auth.HTTPMiddleware(v, logger)(app))
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/entra-guard/pkg/errors"
	"github.com/StricklySoft/entra-guard/pkg/provider"
)

// tracerName is the OpenTelemetry instrumentation scope for auth spans.
const tracerName = "github.com/StricklySoft/entra-guard/pkg/auth"

// maxTokenSize is the largest token accepted, in bytes.
const maxTokenSize = 8192

// Validator checks a raw bearer token. [TokenValidator] implements it; the
// HTTP and gRPC adapters accept any implementation.
type Validator interface {
	Validate(ctx context.Context, token string) (Claims, error)
}

// ValidatorConfig tunes key-set caching and clock tolerance. It does not
// switch off any check.
type ValidatorConfig struct {
	// JWKSCacheTTL is how long a fetched key set is used before it is
	// fetched again.
	JWKSCacheTTL time.Duration `env:"AUTH_JWKS_CACHE_TTL" envDefault:"1h" yaml:"jwks_cache_ttl" json:"jwks_cache_ttl"`

	// RefreshCooldown is the minimum gap between fetches forced by unknown
	// key ids. It is also how long an expired key set keeps being served
	// without fetching after a failed fetch. Zero allows a fetch on every
	// miss.
	RefreshCooldown time.Duration `env:"AUTH_JWKS_REFRESH_COOLDOWN" envDefault:"30s" yaml:"jwks_refresh_cooldown" json:"jwks_refresh_cooldown"`

	// FetchTimeout bounds one key-set fetch including its retries.
	FetchTimeout time.Duration `env:"AUTH_JWKS_FETCH_TIMEOUT" envDefault:"10s" yaml:"jwks_fetch_timeout" json:"jwks_fetch_timeout"`

	// FetchMaxRetries is how many times a transient fetch failure is
	// retried.
	FetchMaxRetries int `env:"AUTH_JWKS_FETCH_MAX_RETRIES" envDefault:"3" yaml:"jwks_fetch_max_retries" json:"jwks_fetch_max_retries"`

	// FetchRetryDelay is the first backoff delay; later delays grow
	// exponentially up to 5s.
	FetchRetryDelay time.Duration `env:"AUTH_JWKS_FETCH_RETRY_DELAY" envDefault:"200ms" yaml:"jwks_fetch_retry_delay" json:"jwks_fetch_retry_delay"`

	// ClockSkew is the leeway applied to exp and nbf.
	ClockSkew time.Duration `env:"AUTH_CLOCK_SKEW" envDefault:"0s" yaml:"clock_skew" json:"clock_skew"`

	// HTTPClient fetches the key set. Defaults to an [http.Client] with
	// FetchTimeout.
	HTTPClient HTTPClient `yaml:"-" json:"-"`

	// Store, when set, shares fetched key sets across processes.
	Store KeySetStore `yaml:"-" json:"-"`

	// Logger defaults to [slog.Default].
	Logger *slog.Logger `yaml:"-" json:"-"`

	// Now defaults to [time.Now].
	Now func() time.Time `yaml:"-" json:"-"`
}

// DefaultValidatorConfig returns the defaults the env tags describe.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		JWKSCacheTTL:    time.Hour,
		RefreshCooldown: 30 * time.Second,
		FetchTimeout:    10 * time.Second,
		FetchMaxRetries: 3,
		FetchRetryDelay: 200 * time.Millisecond,
	}
}

// Validate reports the first invalid setting.
func (c *ValidatorConfig) Validate() error {
	switch {
	case c.JWKSCacheTTL <= 0:
		return sserr.New(sserr.CodeValidation, "auth: JWKS cache TTL must be positive")
	case c.RefreshCooldown < 0:
		return sserr.New(sserr.CodeValidation, "auth: JWKS refresh cooldown must be non-negative")
	case c.FetchTimeout <= 0:
		return sserr.New(sserr.CodeValidation, "auth: JWKS fetch timeout must be positive")
	case c.FetchMaxRetries < 0:
		return sserr.New(sserr.CodeValidation, "auth: JWKS fetch retries must be non-negative")
	case c.FetchRetryDelay < 0:
		return sserr.New(sserr.CodeValidation, "auth: JWKS fetch retry delay must be non-negative")
	case c.ClockSkew < 0:
		return sserr.New(sserr.CodeValidation, "auth: clock skew must be non-negative")
	}
	return nil
}

// TokenValidator validates Entra access tokens for one tenant and audience.
// It is safe for concurrent use.
type TokenValidator struct {
	provider *provider.Config
	cache    *keySetCache
	parser   *jwt.Parser
	tracer   trace.Tracer
	logger   *slog.Logger
}

var _ Validator = (*TokenValidator)(nil)

// NewTokenValidator builds a validator for the tenant described by p.
func NewTokenValidator(p *provider.Config, cfg ValidatorConfig) (*TokenValidator, error) {
	if p == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "auth: provider config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}

	fetcher := NewKeySetFetcher(client,
		WithMaxRetries(cfg.FetchMaxRetries),
		WithRetryDelay(cfg.FetchRetryDelay, 5*time.Second),
		WithFetchLogger(logger),
	)

	return &TokenValidator{
		provider: p,
		cache: &keySetCache{
			url:          p.JWKSURL(),
			fetcher:      fetcher,
			store:        cfg.Store,
			ttl:          cfg.JWKSCacheTTL,
			cooldown:     cfg.RefreshCooldown,
			fetchTimeout: cfg.FetchTimeout,
			now:          now,
			logger:       logger,
		},
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(cfg.ClockSkew),
			jwt.WithTimeFunc(now),
		),
		tracer: otel.Tracer(tracerName),
		logger: logger,
	}, nil
}

// Validate checks token and returns its claims. See the package
// documentation for the order of checks and the meaning of the error.
func (v *TokenValidator) Validate(ctx context.Context, token string) (Claims, error) {
	ctx, span := startSpan(ctx, v.tracer, "auth.Validate")
	defer span.End()

	claims, err := v.validate(ctx, token, span)
	if err != nil {
		if reason, ok := ReasonOf(err); ok {
			span.SetAttributes(attribute.String("auth.rejection_reason", reason.String()))
			span.SetStatus(codes.Error, reason.String())
			v.logger.DebugContext(ctx, "auth: token rejected", "reason", reason.String())
			return nil, err
		}
		finishSpan(span, err)
		return nil, err
	}
	return claims, nil
}

func (v *TokenValidator) validate(ctx context.Context, token string, span trace.Span) (Claims, error) {
	if token == "" || len(token) > maxTokenSize {
		return nil, reject(ReasonMalformed, nil)
	}

	unverified, _, err := v.parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, reject(ReasonMalformed, err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, reject(ReasonMissingKeyID, nil)
	}
	if alg, _ := unverified.Header["alg"].(string); alg != jwt.SigningMethodRS256.Alg() {
		return nil, reject(ReasonMalformed, errors.New("auth: unsupported signing algorithm"))
	}
	span.SetAttributes(attribute.String("auth.kid", kid))

	key, err := v.cache.resolveKey(ctx, kid)
	if err != nil {
		return nil, err
	}

	parsed, err := v.parser.ParseWithClaims(token, jwt.MapClaims{}, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		return nil, classifyError(err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, reject(ReasonMalformed, errors.New("auth: unexpected claims type"))
	}

	aud, err := mc.GetAudience()
	if err != nil || !slices.Contains(aud, v.provider.Audience()) {
		return nil, reject(ReasonInvalidAudience, err)
	}
	iss, err := mc.GetIssuer()
	if err != nil || iss != v.provider.Issuer() {
		return nil, reject(ReasonInvalidIssuer, err)
	}

	return Claims(mc), nil
}

// KeySet returns the tenant's current key set, fetching it if needed.
func (v *TokenValidator) KeySet(ctx context.Context) (*KeySet, error) {
	e, err := v.cache.get(ctx)
	if err != nil {
		return nil, err
	}
	return e.set, nil
}

// classifyError maps a golang-jwt verification error onto a rejection.
// The library checks the signature before any claim, so a token that is
// both forged and expired reports the signature.
func classifyError(err error) *sserr.Error {
	if ssErr, ok := sserr.AsError(err); ok {
		return ssErr
	}
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return reject(ReasonInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return reject(ReasonExpired, err)
	default:
		return reject(ReasonMalformed, err)
	}
}

func startSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// finishSpan records err on span and marks it failed.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
