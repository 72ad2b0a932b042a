package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	goopenai "github.com/meguminnnnnnnnn/go-openai"
	"github.com/openai/openai-go"
	"github.com/rs/zerolog/log"
)

// RetryPolicy retries a model call with exponential backoff. Delay n is
// BaseDelay*2^(n-1), capped at MaxDelay, then spread by ±Jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	// Retryable reports whether a failed call may succeed when repeated.
	// Nil means IsTransient.
	Retryable func(error) bool

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    8 * time.Second,
	Jitter:      0.2,
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := (rand.Float64()*2 - 1) * p.Jitter
		d = time.Duration(float64(d) * (1 + spread))
	}
	return d
}

// IsTransient treats rate limits, timeouts and server errors as transient.
// Errors without an HTTP status (network failures, empty responses) are
// transient too; any other 4xx is permanent.
func IsTransient(err error) bool {
	switch status := statusCode(err); {
	case status == 0:
		return true
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	default:
		return status >= http.StatusInternalServerError
	}
}

func statusCode(err error) int {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var sdkErr *openai.Error
	if errors.As(err, &sdkErr) {
		return sdkErr.StatusCode
	}
	return 0
}

// Do runs op until it succeeds, the attempts run out, a permanent error
// comes back or ctx ends. Context errors are never retried.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var lastErr error
	n := p.attempts()
	for attempt := 1; attempt <= n; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		if !retryable(lastErr) {
			return fmt.Errorf("attempt %d, not retryable: %w", attempt, lastErr)
		}
		if attempt == n {
			break
		}

		wait := p.Delay(attempt)
		log.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Int("max_attempts", n).
			Dur("backoff", wait).
			Msg("model call failed, retrying")
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", n, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
