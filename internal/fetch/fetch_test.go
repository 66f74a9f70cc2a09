package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"flashpipe/internal/core"
)

func newTestFetcher(t *testing.T, opts Options) *Fetcher {
	t.Helper()
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return f
}

func TestFetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer server.Close()

	f := newTestFetcher(t, Options{MaxConcurrent: 5, PerDomain: 2, Timeout: 5 * time.Second})
	res, err := f.Fetch(context.Background(), server.URL+"/article")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if res.StatusCode != 200 {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}
	if string(res.Body) != "<html><body>hello</body></html>" {
		t.Errorf("unexpected body %q", res.Body)
	}
	if res.FinalURL == "" {
		t.Error("final URL not recorded")
	}
}

func TestFetchNonRetryable4xx(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := newTestFetcher(t, Options{MaxConcurrent: 5, PerDomain: 2, Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), server.URL)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 404 {
		t.Fatalf("expected 404 HTTPError, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("404 retried %d times, want exactly 1 request", got)
	}
}

func TestCircuitBreakerOpensAndBlocks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	f := newTestFetcher(t, Options{MaxConcurrent: 5, PerDomain: 5, Timeout: 5 * time.Second})

	for i := 0; i < breakerThreshold; i++ {
		if _, err := f.Fetch(context.Background(), server.URL); err == nil {
			t.Fatal("expected failure")
		}
	}

	_, err := f.Fetch(context.Background(), server.URL)
	if !errors.Is(err, ErrDomainBlocked) {
		t.Fatalf("expected ErrDomainBlocked after %d failures, got %v", breakerThreshold, err)
	}
	if ClassifyError(err) != core.ReasonDomainBlocked {
		t.Errorf("blocked error classified as %q", ClassifyError(err))
	}
}

func TestPerHostConcurrencyCap(t *testing.T) {
	const perDomain = 3
	var current, peak int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := newTestFetcher(t, Options{MaxConcurrent: 20, PerDomain: perDomain, Timeout: 5 * time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.Fetch(context.Background(), server.URL)
		}()
	}
	wg.Wait()

	if p := atomic.LoadInt32(&peak); p > perDomain {
		t.Errorf("peak per-host concurrency %d exceeds cap %d", p, perDomain)
	}
}

func TestFetchInvalidURL(t *testing.T) {
	f := newTestFetcher(t, Options{})
	if _, err := f.Fetch(context.Background(), "not-a-url"); err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want core.FailureReason
	}{
		{ErrDomainBlocked, core.ReasonDomainBlocked},
		{context.DeadlineExceeded, core.ReasonTimeout},
		{context.Canceled, core.ReasonCancelled},
		{&HTTPError{StatusCode: 503}, core.ReasonHTTP5xx},
		{&HTTPError{StatusCode: 404}, core.ReasonHTTP4xx},
		{errors.New("connection refused"), core.ReasonFetchError},
	}
	for _, tc := range cases {
		if got := ClassifyError(tc.err); got != tc.want {
			t.Errorf("ClassifyError(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestBreakerLifecycle(t *testing.T) {
	b := &Breaker{threshold: 3, cooldown: 50 * time.Millisecond}

	if !b.Allow() {
		t.Fatal("fresh breaker must allow")
	}
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if b.Allow() {
		t.Fatal("breaker must reject after threshold failures")
	}
	if !b.Open() {
		t.Fatal("breaker should report open")
	}

	time.Sleep(60 * time.Millisecond)

	// Half-open: exactly one probe admitted.
	if !b.Allow() {
		t.Fatal("breaker must admit a probe after cooldown")
	}
	if b.Allow() {
		t.Fatal("second probe admitted while first is in flight")
	}

	// Probe failure re-opens.
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker must reject after failed probe")
	}

	time.Sleep(60 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("breaker must admit another probe")
	}
	b.RecordSuccess()
	if !b.Allow() {
		t.Fatal("breaker must close after successful probe")
	}
	if b.Failures() != 0 {
		t.Errorf("failures = %d after success, want 0", b.Failures())
	}
}

func TestBreakerConsecutiveCounting(t *testing.T) {
	b := NewBreaker()
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	if b.Failures() != 0 {
		t.Error("success must reset the consecutive failure count")
	}
}
