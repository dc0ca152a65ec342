//go:build integration

package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/taskflow-client/internal/testutil"
	"github.com/Sternrassler/taskflow-client/pkg/storage"
)

// Two trackers over the same Redis see one cooldown.
func TestTracker_Integration_SharedCooldown(t *testing.T) {
	redisClient := testutil.StartRedis(t)

	ctx := context.Background()
	st := storage.NewRedis(redisClient, "")
	first := NewTracker(st, zerolog.Nop())
	second := NewTracker(st, zerolog.Nop())

	headers := http.Header{}
	headers.Set(HeaderRetryAfter, "60")
	headers.Set(HeaderRemaining, "0")
	if err := first.UpdateFromResponse(ctx, http.StatusTooManyRequests, headers); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	state, err := second.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", state.Remaining)
	}

	var cd *CooldownError
	if err := second.Allow(ctx); !errors.As(err, &cd) {
		t.Errorf("Allow() error = %v, want *CooldownError", err)
	}
}
