package interfaces

import (
	"context"
	"time"
)

// FetchRequest describes one page retrieval.
type FetchRequest struct {
	URL     string
	Headers map[string]string
	// Timeout overrides the fetcher default when > 0.
	Timeout time.Duration
}

// FetchResult carries the outcome of a retrieval. A non-2xx status is data,
// not an error; Err is reserved for transport failures.
type FetchResult struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
	Elapsed    time.Duration
}

// Fetcher retrieves pages. Implementations exist for plain HTTP and for
// headless-browser rendering; the executor picks per board.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error)
	Close() error
}

// RateLimiter gates outbound requests per registrable domain and reacts to
// observed responses.
type RateLimiter interface {
	// Acquire blocks until the domain's limiter and the global concurrency
	// gate both admit the request, or ctx is done. baseDelay is the board's
	// configured floor for the domain; zero keeps the configured default.
	Acquire(ctx context.Context, rawURL string, baseDelay time.Duration) (release func(), err error)

	// Observe feeds a response status back into the domain's adaptive delay.
	Observe(rawURL string, statusCode int)

	// Delay reports the current effective delay for a domain.
	Delay(rawURL string) time.Duration

	// Delays snapshots every tracked domain's effective delay, for metrics.
	Delays() map[string]time.Duration
}
