package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"flashpipe/internal/logger"
)

// BrowserFetcher renders a page in headless Chrome and returns the
// post-JavaScript DOM. Used only for hosts whose plain fetches were
// classified as js_required or consent_wall. Off unless configured.
type BrowserFetcher struct {
	timeout   time.Duration
	userAgent string
}

// NewBrowserFetcher creates a headless-browser fetcher.
func NewBrowserFetcher(timeout time.Duration, userAgent string) *BrowserFetcher {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &BrowserFetcher{timeout: timeout, userAgent: userAgent}
}

// Fetch navigates to rawURL and captures the rendered document.
func (b *BrowserFetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if b.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.userAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, b.timeout)
	defer cancelRun()

	start := time.Now()
	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return nil, fmt.Errorf("browser fetch %s: %w", rawURL, err)
	}

	logger.Debug("browser fetch done", "url", rawURL, "chars", len(html))

	return &Result{
		URL:         rawURL,
		FinalURL:    rawURL,
		Body:        []byte(html),
		StatusCode:  200,
		ContentType: "text/html",
		Duration:    time.Since(start),
	}, nil
}
