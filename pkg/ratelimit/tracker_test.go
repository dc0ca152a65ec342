package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestTracker(now time.Time) *Tracker {
	tr := NewTracker(nil, zerolog.Nop())
	tr.now = func() time.Time { return now }
	tr.throttleDelay = 0
	return tr
}

func TestTracker_DefaultState(t *testing.T) {
	tr := newTestTracker(time.Now())

	state, err := tr.GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != -1 || !state.CooldownUntil.IsZero() {
		t.Errorf("GetState() = %+v, want unknown quota and no cooldown", state)
	}
	if err := tr.Allow(context.Background()); err != nil {
		t.Errorf("Allow() error = %v", err)
	}
}

func TestTracker_UpdateFromResponse(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		status       int
		headers      map[string]string
		wantCooldown time.Duration
		wantRemain   int
		wantErr      bool
	}{
		{
			name:       "ok response without headers",
			status:     http.StatusOK,
			wantRemain: -1,
		},
		{
			name:       "remaining header",
			status:     http.StatusOK,
			headers:    map[string]string{HeaderRemaining: "42"},
			wantRemain: 42,
		},
		{
			name:         "429 with retry-after seconds",
			status:       http.StatusTooManyRequests,
			headers:      map[string]string{HeaderRetryAfter: "30"},
			wantCooldown: 30 * time.Second,
			wantRemain:   -1,
		},
		{
			name:         "429 with retry-after date",
			status:       http.StatusTooManyRequests,
			headers:      map[string]string{HeaderRetryAfter: now.Add(time.Minute).Format(http.TimeFormat)},
			wantCooldown: time.Minute,
			wantRemain:   -1,
		},
		{
			name:         "429 without retry-after",
			status:       http.StatusTooManyRequests,
			wantCooldown: DefaultCooldown,
			wantRemain:   -1,
		},
		{
			name:         "exhausted quota with reset",
			status:       http.StatusOK,
			headers:      map[string]string{HeaderRemaining: "0", HeaderReset: "12"},
			wantCooldown: 12 * time.Second,
			wantRemain:   0,
		},
		{
			name:    "invalid remaining header",
			status:  http.StatusOK,
			headers: map[string]string{HeaderRemaining: "many"},
			wantErr: true,
		},
		{
			name:    "invalid reset header",
			status:  http.StatusOK,
			headers: map[string]string{HeaderRemaining: "0", HeaderReset: "soon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			tr := newTestTracker(now)

			headers := http.Header{}
			for k, v := range tt.headers {
				headers.Set(k, v)
			}

			err := tr.UpdateFromResponse(ctx, tt.status, headers)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("UpdateFromResponse() error = %v", err)
			}

			state, err := tr.GetState(ctx)
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			if state.Remaining != tt.wantRemain {
				t.Errorf("Remaining = %d, want %d", state.Remaining, tt.wantRemain)
			}
			if got := state.TimeUntilReset(now); got != tt.wantCooldown {
				t.Errorf("TimeUntilReset() = %v, want %v", got, tt.wantCooldown)
			}
			if !state.LastUpdate.Equal(now) {
				t.Errorf("LastUpdate = %v, want %v", state.LastUpdate, now)
			}
		})
	}
}

func TestTracker_AllowDuringCooldown(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	tr := newTestTracker(now)

	headers := http.Header{}
	headers.Set(HeaderRetryAfter, "10")
	if err := tr.UpdateFromResponse(ctx, http.StatusTooManyRequests, headers); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	err := tr.Allow(ctx)
	var cd *CooldownError
	if !errors.As(err, &cd) {
		t.Fatalf("Allow() error = %v, want *CooldownError", err)
	}
	if cd.RetryAfter != 10*time.Second {
		t.Errorf("RetryAfter = %v, want 10s", cd.RetryAfter)
	}

	// Cooldown over.
	tr.now = func() time.Time { return now.Add(11 * time.Second) }
	if err := tr.Allow(ctx); err != nil {
		t.Errorf("Allow() after cooldown error = %v", err)
	}
}

func TestTracker_ThrottleHonorsContext(t *testing.T) {
	tr := newTestTracker(time.Now())
	tr.throttleDelay = time.Hour

	headers := http.Header{}
	headers.Set(HeaderRemaining, "1")
	if err := tr.UpdateFromResponse(context.Background(), http.StatusOK, headers); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := tr.Allow(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Allow() error = %v, want deadline exceeded", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"garbage", 0},
		{now.Add(2 * time.Minute).Format(http.TimeFormat), 2 * time.Minute},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCooldownError_Error(t *testing.T) {
	err := &CooldownError{RetryAfter: 2500 * time.Millisecond}
	if got := err.Error(); got != "rate limited: retry after 3s" {
		t.Errorf("Error() = %q", got)
	}
}
