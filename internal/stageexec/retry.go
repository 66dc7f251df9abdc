package stageexec

import (
	"math"
	"time"

	"comicforge/internal/config"
)

// RetryPolicy bounds how often and how quickly a failing stage is retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts. Zero disables retries.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Factor         float64
	// Jitter spreads each delay by a fraction in [0,1].
	Jitter float64
}

// DefaultRetryPolicy returns the policy used when nothing is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Factor:         2,
		Jitter:         0.2,
	}
}

// PolicyFromConfig builds the retry policy from the pipeline section.
func PolicyFromConfig(cfg *config.Config) RetryPolicy {
	if cfg == nil {
		return DefaultRetryPolicy()
	}
	p := cfg.Pipeline
	return RetryPolicy{
		MaxAttempts:    p.MaxAttempts,
		InitialBackoff: time.Duration(p.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(p.MaxBackoffMS) * time.Millisecond,
		Factor:         p.BackoffFactor,
		Jitter:         p.Jitter,
	}
}

// Attempts returns the number of attempts a stage invocation gets.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the delay before the attempt following the given 1-based
// attempt. random yields values in [0,1); nil disables jitter.
func (p RetryPolicy) Backoff(attempt int, random func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	base := float64(p.InitialBackoff) * math.Pow(factor, float64(attempt-1))
	if p.Jitter > 0 && random != nil {
		base *= 1 + p.Jitter*(2*random()-1)
	}
	if base < 0 {
		base = 0
	}
	if ceiling := float64(p.MaxBackoff); base > ceiling {
		base = ceiling
	}
	return time.Duration(base)
}
