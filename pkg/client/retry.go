package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	etlRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"class"})

	etlRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "etl_retry_backoff_seconds",
		Help:    "Backoff delay before each retry attempt",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
	}, []string{"class"})

	etlRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_retry_exhausted_total",
		Help: "Total number of requests that exhausted all retry attempts",
	}, []string{"class"})
)

// retryWithBackoff runs fn up to cfg.MaxRetries+1 times, sleeping between
// attempts with exponential backoff and jitter. fn receives the 1-based
// attempt number. Terminal errors (non-retryable API errors) abort
// immediately; retryable errors are retried until attempts run out, at which
// point an ExhaustedError wrapping the last error is returned.
func retryWithBackoff(ctx context.Context, cfg Config, logger zerolog.Logger, fn func(attempt int) error) error {
	maxAttempts := cfg.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}

		if !isRetryable(lastErr) {
			return lastErr
		}

		class := ClassOf(lastErr)

		if attempt == maxAttempts {
			etlRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
			logger.Warn().
				Int("attempts", maxAttempts).
				Str("error_class", string(class)).
				Err(lastErr).
				Msg("retry attempts exhausted")
			return &ExhaustedError{Attempts: maxAttempts, Err: lastErr}
		}

		delay := backoffDelay(cfg.BackoffBase, cfg.BackoffCap, attempt)

		etlRetriesTotal.WithLabelValues(string(class)).Inc()
		etlRetryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

		logger.Warn().
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Dur("delay", delay).
			Str("error_class", string(class)).
			Err(lastErr).
			Msg("request failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(delay):
		}
	}

	return &ExhaustedError{Attempts: maxAttempts, Err: lastErr}
}

// backoffDelay computes the sleep before the retry following the given
// 1-based attempt: exponential growth capped at cap, plus a uniform random
// jitter of up to one base interval so synchronized clients spread out.
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if cap <= 0 {
		cap = 4 * time.Second
	}

	backoff := base
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= cap {
			backoff = cap
			break
		}
	}
	if backoff > cap {
		backoff = cap
	}

	jitter := time.Duration(rand.Float64() * float64(base))
	return backoff + jitter
}

// isRetryable reports whether err is worth another attempt. API errors carry
// their own classification; anything else (transport failures, timeouts)
// is retryable by default.
func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}
