package fetch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/interfaces"
)

// BrowserFetcher renders pages with headless Chrome before capturing the
// HTML. The browser is started lazily on the first fetch so deployments
// without JavaScript boards never spawn Chrome.
type BrowserFetcher struct {
	userAgent string
	wait      time.Duration
	timeout   time.Duration
	logger    arbor.ILogger

	mu            sync.Mutex
	initialized   bool
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewBrowserFetcher creates a fetcher that renders pages before capture.
// Chrome is not launched until the first Fetch call.
func NewBrowserFetcher(config *common.FetcherConfig, logger arbor.ILogger) *BrowserFetcher {
	return &BrowserFetcher{
		userAgent: config.UserAgent,
		wait:      common.Duration(config.JavaScriptWait, 3*time.Second),
		timeout:   time.Duration(config.TimeoutSeconds) * time.Second,
		logger:    logger,
	}
}

// init launches the shared browser process. Callers must hold f.mu.
func (f *BrowserFetcher) init() error {
	if f.initialized {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(f.userAgent),
	)

	f.allocCtx, f.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	f.browserCtx, f.browserCancel = chromedp.NewContext(f.allocCtx)

	// Verify Chrome actually starts before declaring the fetcher ready.
	testCtx, testCancel := context.WithTimeout(f.browserCtx, 30*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		f.browserCancel()
		f.allocCancel()
		f.allocCtx, f.allocCancel = nil, nil
		f.browserCtx, f.browserCancel = nil, nil
		return fmt.Errorf("failed to start headless browser: %w", err)
	}

	f.initialized = true
	f.logger.Info().Msg("Headless browser started")
	return nil
}

// Fetch navigates to the URL in a fresh tab, waits for scripts to settle,
// and returns the rendered outer HTML. The DevTools protocol does not
// surface the HTTP status of the navigation; a page that renders is
// reported as a 200 and navigation failures come back as errors.
func (f *BrowserFetcher) Fetch(ctx context.Context, req interfaces.FetchRequest) (*interfaces.FetchResult, error) {
	f.mu.Lock()
	err := f.init()
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	timeout := f.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	timeout += f.wait

	tabCtx, tabCancel := chromedp.NewContext(f.browserCtx)
	defer tabCancel()

	runCtx, runCancel := context.WithTimeout(tabCtx, timeout)
	defer runCancel()

	// Tie the tab to the caller's context so cancellation tears it down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			tabCancel()
		case <-done:
		}
	}()

	start := time.Now()
	var html string
	err = chromedp.Run(runCtx,
		chromedp.Navigate(req.URL),
		chromedp.Sleep(f.wait),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("render of %s failed: %w", req.URL, err)
	}
	elapsed := time.Since(start)

	f.logger.Debug().
		Str("url", req.URL).
		Int("bytes", len(html)).
		Str("elapsed", elapsed.String()).
		Msg("Rendered page")

	return &interfaces.FetchResult{
		StatusCode: http.StatusOK,
		Body:       []byte(html),
		Headers:    map[string]string{},
		Elapsed:    elapsed,
	}, nil
}

// Close shuts down the shared browser process if it was started.
func (f *BrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.initialized {
		return nil
	}
	f.browserCancel()
	f.allocCancel()
	f.initialized = false
	f.logger.Info().Msg("Headless browser stopped")
	return nil
}
