package http

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultRPS is the per-host request rate when no custom rate is set.
	DefaultRPS = 5.0

	InitialBackoff    = 1 * time.Second
	MaxBackoff        = 60 * time.Second
	BackoffMultiplier = 2.0

	// BackoffCooldownPeriod is how long after the last rate limit error a
	// host gets its original rate back.
	BackoffCooldownPeriod = 5 * time.Minute

	// MinRPSMultiplier is the floor for rate reduction.
	MinRPSMultiplier = 0.25
)

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	// DefaultRPS applies to hosts without a custom rate. 0 disables limiting.
	DefaultRPS float64
	// CustomRates maps host names to requests per second.
	CustomRates map[string]float64
	// EnableDynamicBackoff lowers a host's rate after rate limit errors.
	EnableDynamicBackoff bool
}

// DefaultRateLimiterConfig returns the default configuration.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		DefaultRPS:           DefaultRPS,
		CustomRates:          make(map[string]float64),
		EnableDynamicBackoff: true,
	}
}

// BackoffState is the rate limit history of one host.
type BackoffState struct {
	CurrentBackoff    time.Duration
	LastError         time.Time
	ConsecutiveErrors int
	OriginalRPS       float64
	ReducedRPS        float64
}

// RateLimiter is a per-host token bucket with backoff after rate limit
// responses.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	backoff  map[string]*BackoffState
	config   RateLimiterConfig
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.CustomRates == nil {
		cfg.CustomRates = make(map[string]float64)
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		backoff:  make(map[string]*BackoffState),
		config:   cfg,
	}
}

// hostOf returns the host name of rawURL without the port.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

func (rl *RateLimiter) rps(host string) float64 {
	if rps, ok := rl.config.CustomRates[host]; ok {
		return rps
	}
	return rl.config.DefaultRPS
}

// must hold rl.mu
func (rl *RateLimiter) limiter(host string) *rate.Limiter {
	if l, ok := rl.limiters[host]; ok {
		return l
	}
	rps := rl.rps(host)
	if rps <= 0 {
		return nil
	}
	l := rate.NewLimiter(rate.Limit(rps), 1)
	rl.limiters[host] = l
	return l
}

// Wait blocks until a request to rawURL is allowed, first sitting out any
// backoff left over from earlier rate limit errors.
func (rl *RateLimiter) Wait(ctx context.Context, rawURL string) error {
	if rl == nil {
		return nil
	}
	host := hostOf(rawURL)

	rl.mu.Lock()
	var remaining time.Duration
	if st, ok := rl.backoff[host]; ok {
		remaining = st.CurrentBackoff - time.Since(st.LastError)
	}
	l := rl.limiter(host)
	rl.mu.Unlock()

	if remaining > 0 {
		t := time.NewTimer(remaining)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}

	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// RecordRateLimitError registers a rate limit response from rawURL's host
// and returns how long to wait before the next attempt.
func (rl *RateLimiter) RecordRateLimitError(rawURL string, retryAfter time.Duration) time.Duration {
	if rl == nil || !rl.config.EnableDynamicBackoff {
		if retryAfter > 0 {
			return retryAfter
		}
		return InitialBackoff
	}
	host := hostOf(rawURL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	st, ok := rl.backoff[host]
	if !ok {
		st = &BackoffState{CurrentBackoff: InitialBackoff, OriginalRPS: rl.rps(host)}
		rl.backoff[host] = st
	}
	st.LastError = time.Now()
	st.ConsecutiveErrors++

	// 1s, 2s, 4s, ... up to MaxBackoff
	if st.ConsecutiveErrors > 1 {
		st.CurrentBackoff = min(time.Duration(float64(st.CurrentBackoff)*BackoffMultiplier), MaxBackoff)
	}
	if retryAfter > st.CurrentBackoff {
		st.CurrentBackoff = retryAfter
	}

	factor := 0.75
	switch {
	case st.ConsecutiveErrors >= 3:
		factor = MinRPSMultiplier
	case st.ConsecutiveErrors == 2:
		factor = 0.5
	}
	st.ReducedRPS = st.OriginalRPS * factor
	if l, ok := rl.limiters[host]; ok && st.ReducedRPS > 0 {
		l.SetLimit(rate.Limit(st.ReducedRPS))
	}

	return st.CurrentBackoff
}

// RecordSuccess lets a host recover from earlier rate limit errors.
func (rl *RateLimiter) RecordSuccess(rawURL string) {
	if rl == nil || !rl.config.EnableDynamicBackoff {
		return
	}
	host := hostOf(rawURL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	st, ok := rl.backoff[host]
	if !ok {
		return
	}

	if time.Since(st.LastError) > BackoffCooldownPeriod {
		if l, ok := rl.limiters[host]; ok && st.OriginalRPS > 0 {
			l.SetLimit(rate.Limit(st.OriginalRPS))
		}
		delete(rl.backoff, host)
		return
	}

	if st.ConsecutiveErrors > 0 {
		st.ConsecutiveErrors--
		if st.ConsecutiveErrors == 0 {
			// half rate until the cooldown passes
			if half := st.OriginalRPS * 0.5; half > st.ReducedRPS {
				st.ReducedRPS = half
				if l, ok := rl.limiters[host]; ok {
					l.SetLimit(rate.Limit(half))
				}
			}
		}
	}
}

// Backoff returns a copy of host's backoff state, or nil.
func (rl *RateLimiter) Backoff(rawURL string) *BackoffState {
	if rl == nil {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	st, ok := rl.backoff[hostOf(rawURL)]
	if !ok {
		return nil
	}
	cp := *st
	return &cp
}
