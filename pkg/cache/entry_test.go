package cache

import (
	"errors"
	"testing"
	"time"
)

func TestEntry_IsExpired(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)

	tests := []struct {
		name    string
		age     time.Duration
		ttl     time.Duration
		expired bool
	}{
		{name: "fresh", age: time.Minute, ttl: 5 * time.Minute, expired: false},
		{name: "exactly at ttl", age: 5 * time.Minute, ttl: 5 * time.Minute, expired: false},
		{name: "one ms past ttl", age: 5*time.Minute + time.Millisecond, ttl: 5 * time.Minute, expired: true},
		{name: "zero ttl aged", age: time.Millisecond, ttl: 0, expired: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEntry("k", []byte(`1`), base, tt.ttl)
			if got := e.IsExpired(base.Add(tt.age)); got != tt.expired {
				t.Errorf("IsExpired() = %v, want %v", got, tt.expired)
			}
		})
	}
}

func TestEntry_TTL(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	e := newEntry("k", []byte(`1`), base, time.Minute)

	if got := e.TTL(base.Add(20 * time.Second)); got != 40*time.Second {
		t.Errorf("TTL() = %v, want 40s", got)
	}
	if got := e.TTL(base.Add(2 * time.Minute)); got != 0 {
		t.Errorf("TTL() after expiry = %v, want 0", got)
	}
	if !e.CachedAt().Equal(base) {
		t.Errorf("CachedAt() = %v, want %v", e.CachedAt(), base)
	}
}

func TestDecodeEntry(t *testing.T) {
	e, err := decodeEntry(`{"key":"ltf_tasks_a","data":{"x":1},"timestamp":1700000000000,"expiry":300000}`)
	if err != nil {
		t.Fatalf("decodeEntry() error = %v", err)
	}
	if e.Key != "ltf_tasks_a" || e.Expiry != 300000 || string(e.Data) != `{"x":1}` {
		t.Errorf("decodeEntry() = %+v", e)
	}

	for _, raw := range []string{`not json`, `{"key":"a"}`, `[]`} {
		if _, err := decodeEntry(raw); !errors.Is(err, ErrInvalidEntry) {
			t.Errorf("decodeEntry(%q) error = %v, want ErrInvalidEntry", raw, err)
		}
	}
}
