package providers

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lepinkainen/bookmeta/internal/backoff"
	"github.com/lepinkainen/bookmeta/internal/book"
	"github.com/lepinkainen/bookmeta/internal/cache"
	"github.com/lepinkainen/bookmeta/internal/errors"
	"github.com/lepinkainen/bookmeta/internal/ratelimit"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultPositiveTTL  = 24 * time.Hour
	defaultNegativeTTL  = time.Hour
	defaultMaxQuotaWait = 2 * time.Minute
	maxBodyBytes        = 4 << 20
	userAgent           = "bookmeta/1.0 (+https://github.com/lepinkainen/bookmeta)"
)

// HTTPDoer is an interface for making HTTP requests.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// DecodeFunc turns a successful response body into records.
type DecodeFunc func(body []byte) ([]book.Record, error)

// Client runs one provider's requests through the shared pipeline:
// cache lookup, quota admission, pacing, backoff-wrapped HTTP with a
// per-attempt timeout, and failure classification.
type Client struct {
	tag          book.Tag
	baseURL      string
	httpClient   HTTPDoer
	headers      http.Header
	cache        *cache.Cache
	limiter      *ratelimit.Limiter
	pacer        *ratelimit.Pacer
	policy       *backoff.Policy
	backoffCfg   backoff.Config
	backoffOpts  []backoff.Option
	timeout      time.Duration
	maxQuotaWait time.Duration
	positiveTTL  time.Duration
	negativeTTL  time.Duration
	observer     Observer
	logger       *slog.Logger
	now          func() time.Time
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// NewClient creates the pipeline for provider tag talking to baseURL.
func NewClient(tag book.Tag, baseURL string, opts ...Option) *Client {
	c := &Client{
		tag:          tag,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{},
		headers:      make(http.Header),
		timeout:      defaultTimeout,
		maxQuotaWait: defaultMaxQuotaWait,
		positiveTTL:  defaultPositiveTTL,
		negativeTTL:  defaultNegativeTTL,
		observer:     nopObserver{},
		logger:       slog.Default(),
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	policyOpts := []backoff.Option{
		backoff.WithRetryable(retryable),
		backoff.WithRetryAfter(retryAfter),
		backoff.WithLogger(c.logger, string(tag)),
	}
	c.policy = backoff.New(c.backoffCfg, append(policyOpts, c.backoffOpts...)...)

	return c
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.httpClient = doer
		}
	}
}

// WithBaseURL overrides the provider's API base URL.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.baseURL = strings.TrimSuffix(base, "/")
		}
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithCache enables response caching.
func WithCache(store *cache.Cache) Option {
	return func(c *Client) {
		c.cache = store
	}
}

// WithCacheTTL sets the TTLs for found and not-found answers.
func WithCacheTTL(positive, negative time.Duration) Option {
	return func(c *Client) {
		if positive > 0 {
			c.positiveTTL = positive
		}
		if negative > 0 {
			c.negativeTTL = negative
		}
	}
}

// WithLimiter enables quota admission.
func WithLimiter(limiter *ratelimit.Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithMaxQuotaWait bounds how long a request waits for a quota slot before
// failing with a rate-limited error.
func WithMaxQuotaWait(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.maxQuotaWait = d
		}
	}
}

// WithPacer spaces requests out.
func WithPacer(pacer *ratelimit.Pacer) Option {
	return func(c *Client) {
		c.pacer = pacer
	}
}

// WithBackoff sets the retry budget. Extra options are applied after the
// client's own classification hooks.
func WithBackoff(cfg backoff.Config, opts ...backoff.Option) Option {
	return func(c *Client) {
		c.backoffCfg = cfg
		c.backoffOpts = append(c.backoffOpts, opts...)
	}
}

// WithTimeout bounds each HTTP attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithObserver reports request outcomes, cache hits and quota rejections.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now, used for Retry-After dates and timings.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Tag returns the provider tag.
func (c *Client) Tag() book.Tag {
	return c.tag
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Cache returns the client's cache, or nil.
func (c *Client) Cache() *cache.Cache {
	return c.cache
}

// Limiter returns the client's limiter, or nil.
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// cachedResult is what the cache stores per request. NotFound answers are
// cached too, with the negative TTL.
type cachedResult struct {
	Records  []book.Record `json:"records"`
	NotFound bool          `json:"not_found"`
}

// Get returns the records for endpoint, serving from the cache under
// cacheKey when possible. Zero records is reported as a NotFound error.
func (c *Client) Get(ctx context.Context, cacheKey, endpoint string, decode DecodeFunc) ([]book.Record, error) {
	result, fromCache, err := cache.GetOrFetch(c.cache, cacheKey, func() (cachedResult, error) {
		return c.fetchRemote(ctx, endpoint, decode)
	}, cache.SelectNegativeCacheTTL(func(r cachedResult) bool {
		return r.NotFound
	}, c.positiveTTL, c.negativeTTL))

	if c.cache != nil {
		c.observer.ObserveCache(string(c.tag), fromCache)
	}
	if err != nil {
		return nil, err
	}
	if result.NotFound {
		return nil, errors.NewProviderError(string(c.tag), errors.KindNotFound, errors.ErrNotFound)
	}

	for i := range result.Records {
		if result.Records[i].Provider == "" {
			result.Records[i].Provider = c.tag
		}
	}
	return result.Records, nil
}

func (c *Client) fetchRemote(ctx context.Context, endpoint string, decode DecodeFunc) (cachedResult, error) {
	start := c.now()
	result, err := backoff.Do(ctx, c.policy, func(ctx context.Context) (cachedResult, error) {
		return c.attempt(ctx, endpoint, decode)
	})

	outcome := "ok"
	switch {
	case err != nil:
		var exhausted *backoff.ExhaustedError
		if stdErrors.As(err, &exhausted) {
			err = errors.NewProviderError(string(c.tag), errors.KindExhaustedRetries, err)
		} else if _, ok := errors.AsProviderError(err); !ok {
			err = ClassifyTransport(string(c.tag), err)
		}
		outcome = errors.KindOf(err).String()
		if stdErrors.Is(err, ratelimit.ErrQuotaExhausted) {
			outcome = OutcomeQuotaExhausted
		}
		c.logger.Debug("Provider request failed", "provider", c.tag, "error", err)
	case result.NotFound:
		outcome = errors.KindNotFound.String()
	}
	c.observer.ObserveRequest(string(c.tag), outcome, c.now().Sub(start))

	return result, err
}

func (c *Client) attempt(ctx context.Context, endpoint string, decode DecodeFunc) (cachedResult, error) {
	provider := string(c.tag)

	if err := c.admit(ctx); err != nil {
		return cachedResult{}, err
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return cachedResult{}, ClassifyTransport(provider, err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return cachedResult{}, errors.NewProviderError(provider, errors.KindGeneric, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return cachedResult{}, ClassifyTransport(provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := ClassifyStatus(provider, resp, c.now()); err != nil {
		if errors.IsNotFound(err) {
			return cachedResult{NotFound: true}, nil
		}
		return cachedResult{}, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return cachedResult{}, ClassifyTransport(provider, err)
	}

	records, err := decode(body)
	if err != nil {
		return cachedResult{}, errors.NewProviderError(provider, errors.KindMalformedResponse, fmt.Errorf("decoding response: %w", err))
	}

	return cachedResult{Records: records, NotFound: len(records) == 0}, nil
}

// admit blocks until the limiter accepts the request. Waits longer than
// maxQuotaWait fail immediately with a non-retryable rate-limited error.
func (c *Client) admit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}

	for !c.limiter.TryAdmit() {
		c.observer.ObserveRateLimited(string(c.tag))

		wait := c.limiter.NextSlotIn()
		if wait > c.maxQuotaWait {
			pe := errors.NewProviderError(string(c.tag), errors.KindRateLimited,
				fmt.Errorf("%w: next slot in %s", ratelimit.ErrQuotaExhausted, wait.Round(time.Second)))
			pe.RetryAfter = wait
			return pe
		}

		c.logger.Debug("Waiting for rate limit slot", "provider", c.tag, "wait", wait)
		if err := c.limiter.AwaitSlot(ctx); err != nil {
			return errors.NewProviderError(string(c.tag), errors.KindRateLimited, err)
		}
	}
	return nil
}

// endpoint joins path onto the base URL.
func (c *Client) endpoint(path string) string {
	return c.baseURL + path
}
