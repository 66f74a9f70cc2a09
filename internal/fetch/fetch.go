// Package fetch implements the bounded-concurrency HTTP fetcher with
// per-host admission control, retries, and circuit breaking.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/semaphore"

	"flashpipe/internal/core"
	"flashpipe/internal/logger"
)

const (
	retryInitialInterval = 500 * time.Millisecond
	retryMultiplier      = 2.0
	retryJitter          = 0.25
	maxAttempts          = 4
	maxRetryAfter        = 60 * time.Second
	maxBodyBytes         = 8 << 20
)

// ErrDomainBlocked is returned when the host's circuit breaker is open.
var ErrDomainBlocked = errors.New("fetch: domain circuit breaker open")

// HTTPError carries a non-success status code through the retry layer.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

// Result is the outcome of a successful fetch.
type Result struct {
	URL         string
	FinalURL    string
	Body        []byte
	StatusCode  int
	ContentType string
	Duration    time.Duration
}

// Options configures a Fetcher.
type Options struct {
	MaxConcurrent int
	PerDomain     int
	Timeout       time.Duration
	RequestDelay  time.Duration
	UserAgent     string
	// Browser, when set, handles hosts previously flagged as needing
	// JS rendering or consent dismissal.
	Browser *BrowserFetcher
}

type hostState struct {
	sem         *semaphore.Weighted
	breaker     *Breaker
	mu          sync.Mutex
	lastRelease time.Time
}

// Fetcher fetches URLs under a global and a per-host concurrency cap,
// with minimum per-host request spacing.
type Fetcher struct {
	client    *http.Client
	globalSem *semaphore.Weighted
	opts      Options

	mu          sync.Mutex
	hosts       map[string]*hostState
	browserWant map[string]bool
}

// New creates a Fetcher. The HTTP client forces HTTP/2 where the server
// supports it and shares one public-suffix-aware cookie jar.
func New(opts Options) (*Fetcher, error) {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 50
	}
	if opts.PerDomain <= 0 {
		opts.PerDomain = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	transport := &http.Transport{
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: opts.PerDomain * 2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Jar:       jar,
		},
		globalSem:   semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		opts:        opts,
		hosts:       make(map[string]*hostState),
		browserWant: make(map[string]bool),
	}, nil
}

// FlagHostForBrowser marks a host so that subsequent fetches go through
// the browser fallback (when configured). Called after the extractor
// classifies a js_required or consent_wall failure for the host.
func (f *Fetcher) FlagHostForBrowser(host string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.browserWant[host] = true
}

func (f *Fetcher) hostFlagged(host string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.browserWant[host]
}

func (f *Fetcher) host(name string) *hostState {
	f.mu.Lock()
	defer f.mu.Unlock()
	hs, ok := f.hosts[name]
	if !ok {
		hs = &hostState{
			sem:     semaphore.NewWeighted(int64(f.opts.PerDomain)),
			breaker: NewBreaker(),
		}
		f.hosts[name] = hs
	}
	return hs
}

// BreakerFor exposes the host breaker, primarily for tests and stats.
func (f *Fetcher) BreakerFor(host string) *Breaker { return f.host(host).breaker }

// Fetch retrieves rawURL under all admission controls. It returns
// ErrDomainBlocked immediately when the host breaker is open, an
// *HTTPError for terminal status failures, and a wrapped context error
// when the per-request deadline is exhausted across retries.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return nil, fmt.Errorf("fetch: invalid url %q", rawURL)
	}
	host := parsed.Hostname()
	hs := f.host(host)

	if !hs.breaker.Allow() {
		return nil, fmt.Errorf("%w: %s", ErrDomainBlocked, host)
	}

	if err := f.globalSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer f.globalSem.Release(1)

	if err := hs.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer func() {
		hs.mu.Lock()
		hs.lastRelease = time.Now()
		hs.mu.Unlock()
		hs.sem.Release(1)
	}()

	if err := f.waitHostSpacing(ctx, hs); err != nil {
		return nil, err
	}

	if f.opts.Browser != nil && f.hostFlagged(host) {
		res, err := f.opts.Browser.Fetch(ctx, rawURL)
		if err == nil {
			hs.breaker.RecordSuccess()
			return res, nil
		}
		hs.breaker.RecordFailure()
		return nil, err
	}

	start := time.Now()
	res, err := f.fetchWithRetry(ctx, rawURL)
	if err != nil {
		hs.breaker.RecordFailure()
		return nil, err
	}
	hs.breaker.RecordSuccess()
	res.Duration = time.Since(start)
	return res, nil
}

// waitHostSpacing enforces the minimum inter-request delay per host.
func (f *Fetcher) waitHostSpacing(ctx context.Context, hs *hostState) error {
	if f.opts.RequestDelay <= 0 {
		return nil
	}
	hs.mu.Lock()
	wait := f.opts.RequestDelay - time.Since(hs.lastRelease)
	hs.mu.Unlock()
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, rawURL string) (*Result, error) {
	var result *Result

	operation := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()

		res, err := f.doRequest(reqCtx, rawURL)
		if err == nil {
			result = res
			return nil
		}

		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			switch {
			case httpErr.StatusCode == http.StatusTooManyRequests,
				httpErr.StatusCode == http.StatusRequestTimeout,
				httpErr.StatusCode >= 500:
				return err
			default:
				return backoff.Permanent(err)
			}
		}
		if ctx.Err() != nil {
			// Run-level cancellation: do not keep retrying.
			return backoff.Permanent(ctx.Err())
		}
		// Connect errors and per-request timeouts are retryable.
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.Multiplier = retryMultiplier
	bo.RandomizationFactor = retryJitter
	bo.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), ctx))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *Fetcher) doRequest(ctx context.Context, rawURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		f.sleepRetryAfter(ctx, resp.Header.Get("Retry-After"))
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: rawURL}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Result{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func (f *Fetcher) sleepRetryAfter(ctx context.Context, header string) {
	wait := 5 * time.Second
	if header != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
			wait = time.Duration(secs) * time.Second
		}
	}
	if wait > maxRetryAfter {
		wait = maxRetryAfter
	}
	logger.Debug("rate limited, honouring Retry-After", "wait", wait.String())
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// ClassifyError maps a fetch error onto the persisted failure taxonomy.
func ClassifyError(err error) core.FailureReason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDomainBlocked):
		return core.ReasonDomainBlocked
	case errors.Is(err, context.DeadlineExceeded):
		return core.ReasonTimeout
	case errors.Is(err, context.Canceled):
		return core.ReasonCancelled
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 500 {
			return core.ReasonHTTP5xx
		}
		if httpErr.StatusCode >= 400 {
			return core.ReasonHTTP4xx
		}
	}
	return core.ReasonFetchError
}
