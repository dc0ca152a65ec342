package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is a cached payload as persisted in a backend.
type Entry struct {
	// Key is the full key (prefix + key).
	Key string `json:"key"`

	// Data is the cached payload.
	Data json.RawMessage `json:"data"`

	// Timestamp is the write time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// Expiry is the TTL in milliseconds.
	Expiry int64 `json:"expiry"`
}

func newEntry(fullKey string, data json.RawMessage, now time.Time, ttl time.Duration) Entry {
	return Entry{
		Key:       fullKey,
		Data:      data,
		Timestamp: now.UnixMilli(),
		Expiry:    ttl.Milliseconds(),
	}
}

// IsExpired reports whether the entry is stale at now.
// An entry is fresh while now - timestamp <= expiry.
func (e Entry) IsExpired(now time.Time) bool {
	return now.UnixMilli()-e.Timestamp > e.Expiry
}

// CachedAt returns the write time.
func (e Entry) CachedAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e Entry) TTL(now time.Time) time.Duration {
	remaining := time.Duration(e.Timestamp+e.Expiry-now.UnixMilli()) * time.Millisecond
	if remaining < 0 {
		return 0
	}
	return remaining
}

func decodeEntry(raw string) (Entry, error) {
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if e.Timestamp <= 0 {
		return Entry{}, fmt.Errorf("%w: missing timestamp", ErrInvalidEntry)
	}
	return e, nil
}
