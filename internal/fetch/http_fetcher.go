package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/interfaces"
)

// HTTPFetcher retrieves pages over plain HTTP. Non-2xx responses are
// returned as results, not errors: the executor decides what a 429 or a
// 503 means for the run.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	maxBody   int64
	logger    arbor.ILogger
}

// NewHTTPFetcher creates a fetcher with the configured timeout, redirect
// cap and response size cap.
func NewHTTPFetcher(config *common.FetcherConfig, logger arbor.ILogger) *HTTPFetcher {
	maxRedirects := config.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 5
	}

	client := &http.Client{
		Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	return &HTTPFetcher{
		client:    client,
		userAgent: config.UserAgent,
		maxBody:   int64(config.MaxBodySize),
		logger:    logger,
	}
}

// Fetch performs a GET request. req.Timeout overrides the client default
// when set; board-level headers override the fetcher defaults.
func (f *HTTPFetcher) Fetch(ctx context.Context, req interfaces.FetchRequest) (*interfaces.FetchResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", req.URL, err)
	}

	httpReq.Header.Set("User-Agent", f.userAgent)
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", req.URL, err)
	}
	elapsed := time.Since(start)

	headers := make(map[string]string, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	f.logger.Debug().
		Str("url", req.URL).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Str("elapsed", elapsed.String()).
		Msg("Fetched page")

	return &interfaces.FetchResult{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    headers,
		Elapsed:    elapsed,
	}, nil
}

// Close releases idle connections held by the underlying client.
func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}
