package ratelimit

import (
	"testing"
	"time"
)

func TestState_CoolingDown(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		state    *State
		cooling  bool
		untilMax time.Duration
	}{
		{
			name:    "no cooldown",
			state:   &State{Remaining: -1},
			cooling: false,
		},
		{
			name:     "active cooldown",
			state:    &State{CooldownUntil: now.Add(10 * time.Second)},
			cooling:  true,
			untilMax: 10 * time.Second,
		},
		{
			name:    "past cooldown",
			state:   &State{CooldownUntil: now.Add(-time.Second)},
			cooling: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.CoolingDown(now); got != tt.cooling {
				t.Errorf("CoolingDown() = %v, want %v", got, tt.cooling)
			}
			if got := tt.state.TimeUntilReset(now); got != tt.untilMax {
				t.Errorf("TimeUntilReset() = %v, want %v", got, tt.untilMax)
			}
		})
	}
}

func TestState_NeedsThrottling(t *testing.T) {
	tests := []struct {
		remaining int
		want      bool
	}{
		{-1, false},
		{0, true},
		{ThresholdWarning - 1, true},
		{ThresholdWarning, false},
		{100, false},
	}

	for _, tt := range tests {
		s := &State{Remaining: tt.remaining}
		if got := s.NeedsThrottling(); got != tt.want {
			t.Errorf("NeedsThrottling() with remaining=%d = %v, want %v", tt.remaining, got, tt.want)
		}
	}
}

func TestState_IsStale(t *testing.T) {
	now := time.Now()
	fresh := &State{LastUpdate: now.Add(-4 * time.Minute)}
	stale := &State{LastUpdate: now.Add(-10 * time.Minute)}

	if fresh.IsStale(now, 5*time.Minute) {
		t.Error("fresh state reported stale")
	}
	if !stale.IsStale(now, 5*time.Minute) {
		t.Error("stale state reported fresh")
	}
}
