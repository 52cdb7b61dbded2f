package warehouse

import (
	"context"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy controls how transient delivery failures are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of POSTs, including the first
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Jitter spreads each delay by up to ±Jitter of its value
	Jitter float64

	// Sleep waits for d or until ctx is done
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand returns a value in [0, 1)
	Rand func() float64
}

// DefaultRetryPolicy returns the production policy: three attempts, 500ms doubling up to 10s, 20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2,
		Jitter:      0.2,
		Sleep:       SleepContext,
		Rand:        rand.Float64,
	}
}

// withDefaults fills unset fields from DefaultRetryPolicy
func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Sleep == nil {
		p.Sleep = d.Sleep
	}
	if p.Rand == nil {
		p.Rand = d.Rand
	}
	return p
}

// Backoff returns the delay before retrying after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 && p.Rand != nil {
		delay *= 1 + p.Jitter*(2*p.Rand()-1)
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

// capped limits a server-provided delay to MaxDelay
func (p RetryPolicy) capped(d time.Duration) time.Duration {
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// SleepContext waits for d, returning early with ctx.Err() when ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
// It returns zero when the header is absent or unparseable.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
