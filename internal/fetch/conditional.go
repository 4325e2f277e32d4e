package fetch

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"
)

const maxBackoff = 30 * time.Second

// TokenSource supplies the bearer token for each request. Invalidate is
// called after a 401 so the next Token call returns fresh credentials.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Result is the outcome of a conditional fetch. A 304 yields NotModified
// with no body.
type Result struct {
	NotModified bool
	Data        []byte
	Status      int
}

// validators holds the conditional-request headers remembered per cache key.
type validators struct {
	etag         string
	lastModified string
}

type inflightCall struct {
	done chan struct{}
	res  *Result
	err  error
}

// Conditional performs authenticated GETs with ETag/Last-Modified caching,
// retry with exponential backoff, a single 401 refresh-and-retry, and
// coalescing of identical concurrent calls.
type Conditional struct {
	client      *http.Client
	tokens      TokenSource
	limiter     *rate.Limiter
	maxRetries  int
	backoffBase time.Duration

	mu       sync.Mutex
	cache    map[string]validators
	inflight map[string]*inflightCall

	// sleep is swapped out in tests so backoff paths run instantly.
	sleep func(ctx context.Context, d time.Duration) error
}

// Options configures a Conditional fetcher. Zero values get defaults.
type Options struct {
	Timeout        time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	RequestsPerSec float64
}

// NewConditional creates a fetcher backed by the given token source.
func NewConditional(tokens TokenSource, opts Options) *Conditional {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 4
	}

	return &Conditional{
		client:      &http.Client{Timeout: opts.Timeout},
		tokens:      tokens,
		limiter:     rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 2),
		maxRetries:  opts.MaxRetries,
		backoffBase: opts.BackoffBase,
		cache:       make(map[string]validators),
		inflight:    make(map[string]*inflightCall),
		sleep:       sleepCtx,
	}
}

// Fetch GETs rawURL with params attached, sending conditional headers
// remembered under cacheKey. Identical concurrent calls (same URL+params)
// share one HTTP request; the second caller waits for the first caller's
// result instead of issuing a duplicate.
func (c *Conditional) Fetch(ctx context.Context, rawURL string, params url.Values, cacheKey string) (*Result, error) {
	fullURL := rawURL
	if len(params) > 0 {
		sep := "?"
		if u, err := url.Parse(rawURL); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		fullURL = rawURL + sep + params.Encode()
	}

	c.mu.Lock()
	if call, ok := c.inflight[fullURL]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.res, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	c.inflight[fullURL] = call
	c.mu.Unlock()

	call.res, call.err = c.fetchWithRetry(ctx, fullURL, cacheKey)

	c.mu.Lock()
	delete(c.inflight, fullURL)
	c.mu.Unlock()
	close(call.done)

	return call.res, call.err
}

// fetchWithRetry drives the attempt counter. The one token refresh after a
// 401 does not consume the retry budget.
func (c *Conditional) fetchWithRetry(ctx context.Context, fullURL, cacheKey string) (*Result, error) {
	attempt := 0
	refreshed := false

	for {
		res, err := c.fetchOnce(ctx, fullURL, cacheKey)
		if err == nil {
			return res, nil
		}

		var fe *Error
		if errors.As(err, &fe) && fe.Kind == KindUnauthorized {
			if refreshed {
				return nil, err
			}
			refreshed = true
			c.tokens.Invalidate()
			continue
		}

		if fe != nil && !fe.Retryable() {
			return nil, err
		}
		if attempt >= c.maxRetries {
			return nil, fmt.Errorf("giving up after %d retries: %w", c.maxRetries, err)
		}

		wait := c.backoff(attempt)
		if fe != nil && fe.RetryAfter > wait {
			wait = fe.RetryAfter
		}
		attempt++

		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (c *Conditional) fetchOnce(ctx context.Context, fullURL, cacheKey string) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &Error{Kind: KindTransient, URL: fullURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br")

	c.mu.Lock()
	if v, ok := c.cache[cacheKey]; ok {
		if v.etag != "" {
			req.Header.Set("If-None-Match", v.etag)
		}
		if v.lastModified != "" {
			req.Header.Set("If-Modified-Since", v.lastModified)
		}
	}
	c.mu.Unlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransient, URL: fullURL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &Result{NotModified: true, Status: resp.StatusCode}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		reader, err := decodeBody(resp)
		if err != nil {
			return nil, fmt.Errorf("decoding response body: %w", err)
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			return nil, &Error{Kind: KindTransient, URL: fullURL, Err: err}
		}

		c.mu.Lock()
		c.cache[cacheKey] = validators{
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
		}
		c.mu.Unlock()

		return &Result{Data: body, Status: resp.StatusCode}, nil

	default:
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &Error{
			Kind:       classifyStatus(resp.StatusCode),
			Status:     resp.StatusCode,
			URL:        fullURL,
			RetryAfter: parseRetryAfter(resp),
		}
	}
}

// backoff is base * 2^attempt capped at maxBackoff, plus up to 25% jitter.
func (c *Conditional) backoff(attempt int) time.Duration {
	d := c.backoffBase << uint(attempt)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

func decodeBody(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
