package client

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskflow_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryPolicy controls transient-failure retries for one request.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// Multiplier is the multiplier for exponential backoff.
	Multiplier float64

	// RetryIf decides whether an error is retried (default: DefaultRetryIf).
	RetryIf func(error) bool

	// RetryMutations allows retrying POST and PATCH.
	RetryMutations bool
}

// DefaultRetryPolicy retries network errors and 5xx up to three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

// NoRetry makes a single attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// DefaultRetryIf retries network errors and 5xx responses.
func DefaultRetryIf(err error) bool {
	e, ok := AsError(err)
	return ok && e.Retryable()
}

// attemptsFor returns how many attempts method may make under p.
func (p RetryPolicy) attemptsFor(method string) int {
	if p.MaxAttempts < 1 {
		return 1
	}
	if !p.RetryMutations && (method == http.MethodPost || method == http.MethodPatch) {
		return 1
	}
	return p.MaxAttempts
}

// retryWithBackoff executes fn with exponential backoff retry logic.
// It respects context cancellation and adds ±20% jitter.
func retryWithBackoff(ctx context.Context, p RetryPolicy, attempts int, logger zerolog.Logger, fn func() error) error {
	retryIf := p.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	var lastErr error
	backoff := p.InitialBackoff

	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		if !retryIf(err) {
			return err
		}
		if attempt >= attempts {
			break
		}

		class := string(classify(err))
		retriesTotal.WithLabelValues(class).Inc()

		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(class).Observe(jitter.Seconds())

		logger.Warn().
			Err(err).
			Str("error_class", class).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &Error{Kind: KindNetwork, Message: "request cancelled", Err: ctx.Err()}
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * multiplier)
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}

	if attempts <= 1 {
		return lastErr
	}

	class := string(classify(lastErr))
	retryExhaustedTotal.WithLabelValues(class).Inc()
	logger.Warn().
		Str("error_class", class).
		Int("max_attempts", attempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, lastErr)
}
