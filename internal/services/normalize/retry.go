package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// llmRetryConfig defines retry behavior for provider rate limits. Cloud
// quota windows reset on the order of a minute, so backoffs are long by
// HTTP-client standards.
type llmRetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

func newLLMRetryConfig() *llmRetryConfig {
	return &llmRetryConfig{
		MaxRetries:        3,
		InitialBackoff:    15 * time.Second,
		MaxBackoff:        90 * time.Second,
		BackoffMultiplier: 1.5,
	}
}

// isRateLimitError matches 429 status codes and RESOURCE_EXHAUSTED errors.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "quota")
}

// retryDelayPattern matches "Please retry in Xs" or "retryDelay:Xs" patterns
// in provider error messages.
var retryDelayPattern = regexp.MustCompile(`(?i)(?:Please retry in |retryDelay[:\s]+)(\d+(?:\.\d+)?)\s*s`)

// extractRetryDelay parses the API-suggested retry delay out of a provider
// error. Returns 0 when the message carries none.
func extractRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}
	matches := retryDelayPattern.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}
	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// calculateBackoff computes the wait before the given retry attempt. An
// API-provided delay overrides the initial backoff, with a small buffer on
// top. The result is capped at MaxBackoff.
func (c *llmRetryConfig) calculateBackoff(attempt int, apiDelay time.Duration) time.Duration {
	base := c.InitialBackoff
	if apiDelay > 0 {
		base = apiDelay + 5*time.Second
	}

	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= c.BackoffMultiplier
	}

	backoff := time.Duration(float64(base) * multiplier)
	if backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}
	return backoff
}
