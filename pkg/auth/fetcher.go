package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/entra-guard/pkg/errors"
)

// HTTPClient is the subset of [http.Client] used to fetch key sets.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxKeySetSize caps the key-set response body.
const maxKeySetSize = 1 << 20

// KeySetFetcher downloads a provider's key set over HTTPS. Network errors,
// 5xx and 429 responses are retried with exponential backoff; any other
// failure is returned at once.
type KeySetFetcher struct {
	client       HTTPClient
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	tracer       trace.Tracer
	logger       *slog.Logger
}

// FetcherOption customizes a [KeySetFetcher].
type FetcherOption func(*KeySetFetcher)

// WithMaxRetries sets how many times a retryable failure is retried.
// Zero disables retries.
func WithMaxRetries(n int) FetcherOption {
	return func(f *KeySetFetcher) {
		if n >= 0 {
			f.maxRetries = n
		}
	}
}

// WithRetryDelay sets the first and the largest backoff delay.
func WithRetryDelay(initial, ceiling time.Duration) FetcherOption {
	return func(f *KeySetFetcher) {
		if initial > 0 {
			f.initialDelay = initial
		}
		if ceiling >= f.initialDelay {
			f.maxDelay = ceiling
		}
	}
}

// WithFetchLogger sets the logger for retry and fetch events.
func WithFetchLogger(l *slog.Logger) FetcherOption {
	return func(f *KeySetFetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewKeySetFetcher returns a fetcher using client, or a default
// [http.Client] when client is nil.
func NewKeySetFetcher(client HTTPClient, opts ...FetcherOption) *KeySetFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	f := &KeySetFetcher{
		client:       client,
		maxRetries:   3,
		initialDelay: 200 * time.Millisecond,
		maxDelay:     5 * time.Second,
		tracer:       otel.Tracer(tracerName),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads and parses the key set at rawURL.
func (f *KeySetFetcher) Fetch(ctx context.Context, rawURL string) (*KeySet, error) {
	raw, err := f.fetchRaw(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return ParseKeySet(raw)
}

// fetchRaw returns the validated response body. The body is parsed once
// before returning so a malformed document is a permanent failure rather
// than something the caller caches.
func (f *KeySetFetcher) fetchRaw(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, span := startSpan(ctx, f.tracer, "auth.FetchKeySet")
	defer span.End()
	span.SetAttributes(attribute.String("url.full", rawURL))

	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		err := sserr.Newf(sserr.CodeInternalConfiguration,
			"auth: key set URL %q must be an absolute https URL", rawURL)
		finishSpan(span, err)
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.initialDelay
	bo.MaxInterval = f.maxDelay
	bo.MaxElapsedTime = 0

	attempts := 0
	var body []byte
	op := func() error {
		attempts++
		b, err := f.attempt(ctx, rawURL)
		if err != nil {
			return err
		}
		body = b
		return nil
	}
	notify := func(err error, next time.Duration) {
		f.logger.WarnContext(ctx, "auth: key set fetch failed, retrying",
			"url", rawURL,
			"attempt", attempts,
			"retry_in", next,
			"error", err,
		)
	}

	err = backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(f.maxRetries)), ctx), notify)
	span.SetAttributes(attribute.Int("auth.jwks.attempts", attempts))
	if err != nil {
		ssErr := fetchError(err).WithDetail("url", rawURL).WithDetail("attempts", attempts)
		finishSpan(span, ssErr)
		return nil, ssErr
	}

	f.logger.DebugContext(ctx, "auth: fetched key set", "url", rawURL, "attempts", attempts, "bytes", len(body))
	return body, nil
}

// attempt performs one GET. Failures that a retry cannot fix are wrapped in
// backoff.Permanent.
func (f *KeySetFetcher) attempt(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(sserr.Wrap(err, sserr.CodeInternalConfiguration, "auth: failed to create key set request"))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fetchError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxKeySetSize))
		e := sserr.Newf(sserr.CodeUnavailableDependency,
			"auth: key set endpoint returned status %d", resp.StatusCode).
			WithDetail("status", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, e
		}
		return nil, backoff.Permanent(e)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetSize+1))
	if err != nil {
		return nil, fetchError(err)
	}
	if len(body) > maxKeySetSize {
		return nil, backoff.Permanent(sserr.Newf(sserr.CodeInternalKeySet, "auth: key set exceeds %d bytes", maxKeySetSize))
	}
	if _, err := ParseKeySet(body); err != nil {
		return nil, backoff.Permanent(err)
	}
	return body, nil
}

// fetchError classifies a transport-level failure. Deadline overruns become
// timeouts; everything else is an unavailable dependency.
func fetchError(err error) *sserr.Error {
	if ssErr, ok := sserr.AsError(err); ok {
		return ssErr
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return sserr.Wrap(err, sserr.CodeTimeoutDependency, "auth: timed out fetching key set")
	}
	return sserr.Wrap(err, sserr.CodeUnavailableDependency, "auth: failed to fetch key set")
}
