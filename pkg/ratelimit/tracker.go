package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/taskflow-client/pkg/storage"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskflow_rate_limit_remaining",
		Help: "Requests remaining in the current server rate limit window",
	})

	rateLimitCooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskflow_rate_limit_cooldowns_total",
		Help: "Total number of cooldowns started by 429 responses or exhausted quota",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskflow_rate_limit_blocks_total",
		Help: "Total number of requests refused locally during a cooldown",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskflow_rate_limit_throttles_total",
		Help: "Total number of requests delayed because remaining quota is low",
	})
)

// CooldownError is returned by Allow while the server asked us to back off.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter.Round(time.Second))
}

// Tracker records rate limit responses and gates requests.
type Tracker struct {
	st            storage.Storage
	logger        zerolog.Logger
	now           func() time.Time
	throttleDelay time.Duration

	mu sync.Mutex
}

// NewTracker creates a tracker over st. A nil st keeps state in memory.
func NewTracker(st storage.Storage, logger zerolog.Logger) *Tracker {
	if st == nil {
		st = storage.NewMemory(0)
	}
	return &Tracker{
		st:            st,
		logger:        logger,
		now:           time.Now,
		throttleDelay: 250 * time.Millisecond,
	}
}

// GetState reads the current state. Missing keys yield an unknown quota and
// no cooldown.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	state := &State{Remaining: -1}

	remaining, ok, err := t.st.Get(ctx, KeyRemaining)
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}
	if ok {
		if state.Remaining, err = strconv.Atoi(remaining); err != nil {
			return nil, fmt.Errorf("parse remaining: %w", err)
		}
	}

	if state.CooldownUntil, err = t.getTime(ctx, KeyCooldownUntil); err != nil {
		return nil, err
	}
	if state.LastUpdate, err = t.getTime(ctx, KeyLastUpdate); err != nil {
		return nil, err
	}
	return state, nil
}

func (t *Tracker) getTime(ctx context.Context, key string) (time.Time, error) {
	raw, ok, err := t.st.Get(ctx, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok || raw == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", key, err)
	}
	return time.UnixMilli(ms), nil
}

func (t *Tracker) setTime(ctx context.Context, key string, v time.Time) error {
	return t.st.Set(ctx, key, strconv.FormatInt(v.UnixMilli(), 10))
}

// UpdateFromResponse records the rate limit information of a response.
func (t *Tracker) UpdateFromResponse(ctx context.Context, status int, headers http.Header) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var cooldown time.Duration

	if v := headers.Get(HeaderRemaining); v != "" {
		remaining, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
		}
		if err := t.st.Set(ctx, KeyRemaining, strconv.Itoa(remaining)); err != nil {
			return fmt.Errorf("store remaining: %w", err)
		}
		rateLimitRemaining.Set(float64(remaining))

		if remaining == 0 {
			if reset := headers.Get(HeaderReset); reset != "" {
				secs, err := strconv.Atoi(reset)
				if err != nil {
					return fmt.Errorf("parse %s header: %w", HeaderReset, err)
				}
				cooldown = time.Duration(secs) * time.Second
			}
		}
	}

	if status == http.StatusTooManyRequests {
		cooldown = parseRetryAfter(headers.Get(HeaderRetryAfter), now)
		if cooldown <= 0 {
			cooldown = DefaultCooldown
		}
	}

	if cooldown > 0 {
		if err := t.setTime(ctx, KeyCooldownUntil, now.Add(cooldown)); err != nil {
			return fmt.Errorf("store cooldown: %w", err)
		}
		rateLimitCooldownsTotal.Inc()
		t.logger.Warn().
			Int("status", status).
			Dur("cooldown", cooldown).
			Msg("Server rate limit hit - pausing requests")
	}

	if err := t.setTime(ctx, KeyLastUpdate, now); err != nil {
		return fmt.Errorf("store last update: %w", err)
	}
	return nil
}

// Allow gates a request. It returns a *CooldownError during a cooldown and
// delays briefly when the remaining quota is low.
func (t *Tracker) Allow(ctx context.Context) error {
	state, err := t.GetState(ctx)
	if err != nil {
		// Rate limit bookkeeping never blocks a request on its own failure.
		t.logger.Warn().Err(err).Msg("Reading rate limit state failed")
		return nil
	}

	now := t.now()
	if state.CoolingDown(now) {
		wait := state.TimeUntilReset(now)
		rateLimitBlocksTotal.Inc()
		t.logger.Warn().Dur("wait_duration", wait).Msg("Rate limit cooldown active - refusing request")
		return &CooldownError{RetryAfter: wait}
	}

	if state.NeedsThrottling() && t.throttleDelay > 0 {
		rateLimitThrottlesTotal.Inc()
		t.logger.Debug().Int("remaining", state.Remaining).Msg("Rate limit quota low - throttling request")

		timer := time.NewTimer(t.throttleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return at.Sub(now)
	}
	return 0
}
