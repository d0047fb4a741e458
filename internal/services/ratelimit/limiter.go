// -----------------------------------------------------------------------
// Rate Limiter - per-domain adaptive pacing with a global in-flight cap
// -----------------------------------------------------------------------

package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/interfaces"
)

// domainState holds one registrable domain's bucket and adaptive delay.
type domainState struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	baseDelay   time.Duration
	delay       time.Duration
	lastHalving time.Time
}

// Limiter paces outbound requests. Each registrable domain gets its own
// token bucket; a shared semaphore caps total in-flight requests across
// all domains. 429 and 5xx responses widen the domain's delay, sustained
// 2xx traffic narrows it back toward the base.
type Limiter struct {
	defaultDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	recovery     time.Duration
	minInterval  time.Duration // floor derived from requests_per_minute

	mu      sync.Mutex
	domains map[string]*domainState
	sem     chan struct{}
	logger  arbor.ILogger
}

// NewLimiter builds the limiter from config. The requests_per_minute
// setting translates into a hard floor on the per-domain interval so a
// small board delay cannot exceed the domain budget.
func NewLimiter(config *common.RateLimitConfig, logger arbor.ILogger) *Limiter {
	maxConcurrent := config.MaxConcurrentRequests
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	var minInterval time.Duration
	if config.RequestsPerMinute > 0 {
		minInterval = time.Minute / time.Duration(config.RequestsPerMinute)
	}

	multiplier := config.BackoffMultiplier
	if multiplier < 1.0 {
		multiplier = 2.0
	}

	return &Limiter{
		defaultDelay: common.SecondsDuration(config.DefaultDelaySeconds),
		maxDelay:     common.SecondsDuration(config.MaxDelaySeconds),
		multiplier:   multiplier,
		recovery:     common.SecondsDuration(config.RecoverySeconds),
		minInterval:  minInterval,
		domains:      make(map[string]*domainState),
		sem:          make(chan struct{}, maxConcurrent),
		logger:       logger,
	}
}

// Acquire blocks until the global gate and the domain bucket both admit
// the request. The returned release function must be called when the
// request finishes; it frees the global slot only.
func (l *Limiter) Acquire(ctx context.Context, rawURL string, baseDelay time.Duration) (func(), error) {
	domain, err := common.RegistrableDomain(rawURL)
	if err != nil {
		return nil, err
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	state := l.domain(domain, baseDelay)
	if err := state.limiter.Wait(ctx); err != nil {
		<-l.sem
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-l.sem })
	}, nil
}

// Observe feeds a response status into the domain's adaptive delay.
// 429 and 5xx widen the delay; 2xx narrows it after the recovery interval.
func (l *Limiter) Observe(rawURL string, statusCode int) {
	domain, err := common.RegistrableDomain(rawURL)
	if err != nil {
		return
	}

	state := l.domain(domain, 0)
	state.mu.Lock()
	defer state.mu.Unlock()

	switch {
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		widened := time.Duration(float64(state.delay) * l.multiplier)
		if widened > l.maxDelay {
			widened = l.maxDelay
		}
		if widened != state.delay {
			state.delay = widened
			state.limiter.SetLimit(intervalLimit(widened))
			// Backing off restarts the recovery clock.
			state.lastHalving = time.Now()
			l.logger.Warn().
				Str("domain", domain).
				Int("status", statusCode).
				Str("delay", widened.String()).
				Msg("Rate limit backoff widened")
		}

	case statusCode >= 200 && statusCode < 300:
		if state.delay <= state.baseDelay {
			return
		}
		if time.Since(state.lastHalving) < l.recovery {
			return
		}
		narrowed := state.delay / 2
		if narrowed < state.baseDelay {
			narrowed = state.baseDelay
		}
		state.delay = narrowed
		state.limiter.SetLimit(intervalLimit(narrowed))
		state.lastHalving = time.Now()
		l.logger.Info().
			Str("domain", domain).
			Str("delay", narrowed.String()).
			Msg("Rate limit backoff narrowed")
	}
}

// Delay reports the current effective delay for the URL's domain.
func (l *Limiter) Delay(rawURL string) time.Duration {
	domain, err := common.RegistrableDomain(rawURL)
	if err != nil {
		return l.defaultDelay
	}

	l.mu.Lock()
	state, ok := l.domains[domain]
	l.mu.Unlock()
	if !ok {
		return l.defaultDelay
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return state.delay
}

// Delays snapshots every tracked domain's effective delay.
func (l *Limiter) Delays() map[string]time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapshot := make(map[string]time.Duration, len(l.domains))
	for domain, state := range l.domains {
		state.mu.Lock()
		snapshot[domain] = state.delay
		state.mu.Unlock()
	}
	return snapshot
}

// domain returns the state for a registrable domain, creating it on first
// use. A changed board base delay re-floors the bucket without discarding
// accumulated backoff above the new base.
func (l *Limiter) domain(domain string, baseDelay time.Duration) *domainState {
	base := l.effectiveBase(baseDelay)

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.domains[domain]
	if !ok {
		state = &domainState{
			limiter:   rate.NewLimiter(intervalLimit(base), 1),
			baseDelay: base,
			delay:     base,
		}
		l.domains[domain] = state
		return state
	}

	if baseDelay > 0 {
		state.mu.Lock()
		if state.baseDelay != base {
			state.baseDelay = base
			if state.delay < base {
				state.delay = base
				state.limiter.SetLimit(intervalLimit(base))
			}
		}
		state.mu.Unlock()
	}
	return state
}

// effectiveBase applies the configured default and the per-minute floor.
func (l *Limiter) effectiveBase(baseDelay time.Duration) time.Duration {
	base := baseDelay
	if base <= 0 {
		base = l.defaultDelay
	}
	if base < l.minInterval {
		base = l.minInterval
	}
	if base > l.maxDelay {
		base = l.maxDelay
	}
	return base
}

// intervalLimit converts a delay between requests into a rate. A zero
// delay means unlimited, which keeps test configs with no pacing fast.
func intervalLimit(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(delay)
}

// Interface guard.
var _ interfaces.RateLimiter = (*Limiter)(nil)
