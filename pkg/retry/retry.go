// Package retry runs calls against flaky remote services with jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// Policy controls how many times and how slowly a call is repeated.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0
}

// DefaultPolicy is tuned for LLM provider calls: 2 retries, 500ms doubling to 8s, 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// WithMaxRetries returns a copy of p with the retry count replaced.
func (p Policy) WithMaxRetries(n int) Policy {
	if n < 0 {
		n = 0
	}
	p.MaxRetries = n
	return p
}

func (p Policy) next(delay time.Duration) time.Duration {
	d := time.Duration(float64(delay) * p.Multiplier)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func jitter(delay time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return delay
	}
	return time.Duration(float64(delay) + float64(delay)*factor*(rand.Float64()*2-1))
}

// Do calls fn until it succeeds, returns a permanent error, or the policy is
// exhausted. Only errors IsTransient accepts are retried. Context cancellation
// during a wait returns ctx.Err().
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	delay := p.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == p.MaxRetries {
			break
		}

		timer := time.NewTimer(jitter(delay, p.JitterFactor))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		delay = p.next(delay)
	}
	return zero, lastErr
}

// Retryable is implemented by errors that know whether repeating the call can help.
type Retryable interface {
	error
	IsRetryable() bool
}

var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"timed out",
	"timeout",
	"temporary failure",
	"network is unreachable",
	"rate limit",
	"too many requests",
	"service unavailable",
	"overloaded",
	"429",
	"502",
	"503",
	"504",
}

// IsTransient reports whether err is worth retrying. A Retryable anywhere in
// the chain decides; otherwise the message is matched against known
// transient failures. Context errors are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var r Retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
