// Package fetch downloads media bytes outside the browser.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/config"
)

// ErrExhausted is returned once every retry attempt has failed.
var ErrExhausted = errors.New("fetch: attempts exhausted")

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Client is a rate limited HTTP fetcher. It implements schemas.Fetcher.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	headers map[string]string
	logger  *zap.Logger
}

var _ schemas.Fetcher = (*Client)(nil)

// New builds a Client from the fetch configuration.
func New(cfg config.FetchConfig, logger *zap.Logger) *Client {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	httpClient := resty.New().
		SetRetryCount(0).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)).
		SetHeader("User-Agent", defaultUserAgent).
		SetHeader("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")

	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		headers: cfg.Headers,
		logger:  logger.Named("fetch"),
	}
}

// Get downloads url. Non-2xx responses come back as *schemas.HTTPError.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string, timeout time.Duration) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req := c.http.R().SetContext(reqCtx)
	if len(c.headers) > 0 {
		req.SetHeaders(c.headers)
	}
	if len(headers) > 0 {
		req.SetHeaders(headers)
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	if !resp.IsSuccess() {
		return nil, &schemas.HTTPError{URL: url, StatusCode: resp.StatusCode()}
	}

	c.logger.Debug("Fetched media.", zap.String("url", url), zap.Int("bytes", len(resp.Body())), zap.Duration("elapsed", resp.Time()))
	return resp.Body(), nil
}

// -- Retry --

// Policy bounds a retried download. Attempt n (1-based) gets BaseTimeout*n.
type Policy struct {
	MaxAttempts int
	BaseTimeout time.Duration
	// Backoff is slept between attempts, multiplied by the attempt number.
	Backoff time.Duration
}

// PolicyFromConfig derives the retry policy from the fetch configuration.
func PolicyFromConfig(cfg config.FetchConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseTimeout: cfg.Timeout,
		Backoff:     500 * time.Millisecond,
	}
}

// Func adapts a function to schemas.Fetcher.
type Func func(ctx context.Context, url string, headers map[string]string, timeout time.Duration) ([]byte, error)

func (f Func) Get(ctx context.Context, url string, headers map[string]string, timeout time.Duration) ([]byte, error) {
	return f(ctx, url, headers, timeout)
}

// Retry calls f.Get until it succeeds, fails permanently, or runs out of
// attempts. Transient failures are network errors, per-attempt timeouts,
// and HTTP errors that report Transient.
func Retry(ctx context.Context, f schemas.Fetcher, url string, headers map[string]string, p Policy, logger *zap.Logger) ([]byte, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		timeout := p.BaseTimeout * time.Duration(attempt)
		data, err := f.Get(ctx, url, headers, timeout)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !transient(err) {
			return nil, err
		}

		logger.Debug("Download attempt failed.",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("timeout", timeout),
			zap.Error(err))

		if attempt < attempts && p.Backoff > 0 {
			t := time.NewTimer(p.Backoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

func transient(err error) bool {
	var httpErr *schemas.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Transient()
	}
	return true
}
