package runner

import (
	"math"
	"math/rand"
	"time"
)

// Policy configures per-step timeout, retry and backoff behavior.
//
// Retries apply only to transient failures (timeouts, rate limits,
// transient network errors). Validation failures are not retried unless
// RetryOnValidation is set; invalid requests are never retried.
type Policy struct {
	// Timeout bounds each individual attempt. Zero disables the
	// per-attempt timeout (the caller's context still applies).
	Timeout time.Duration

	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// InitialBackoff is the base delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration

	// Multiplier is the exponential backoff multiplier.
	Multiplier float64

	// Jitter adds randomness to prevent thundering herd. The delay is
	// multiplied by (1 + random(-Jitter, +Jitter)).
	Jitter float64

	// RetryOnValidation treats schema-validation failures as transient.
	// Used by the refinement loop for its evaluator step, where a
	// malformed response is worth another attempt before escalating.
	RetryOnValidation bool
}

// DefaultPolicy returns a baseline policy: 30s per attempt, 2 retries,
// 1s initial backoff doubling up to 10s with 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:        30 * time.Second,
		MaxRetries:     2,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

// NoRetry returns a policy that performs a single attempt.
func NoRetry(timeout time.Duration) Policy {
	return Policy{Timeout: timeout}
}

// Backoff calculates the delay before retry number attempt (0-indexed).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := p.InitialBackoff
	if base <= 0 {
		base = time.Second
	}
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(base) * math.Pow(multiplier, float64(attempt))
	if p.MaxBackoff > 0 && delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}
	if p.Jitter > 0 {
		delay *= 1.0 + (rand.Float64()*2-1)*p.Jitter
	}

	return time.Duration(delay)
}
