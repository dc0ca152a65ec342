// Package storage provides the durable key/value backends used by the cache
// store and the credential store.
//
// The interface mirrors the browser Web Storage API: string keys, string
// values, prefix enumeration. Three implementations ship with the package:
//
//   - Memory: process memory with an optional byte quota.
//   - SQLite: a single-file database, used as the session-durable backend.
//   - Redis: shared by every client of an origin, used as the origin-durable
//     backend.
//
// Backends are selected once at startup after a Probe; see cache.NewStore.
package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded is returned when a write would exceed the backend's capacity.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrUnavailable is returned when the backend cannot be reached.
	ErrUnavailable = errors.New("storage unavailable")
)

// Storage is a string key/value store.
//
// Contract:
//   - Get returns ("", false, nil) on a missing key.
//   - Delete is idempotent.
//   - Keys returns every key starting with prefix, in no particular order.
//   - Implementations must be safe for concurrent use.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

const probeKey = "__taskflow_probe__"

// Probe checks that s accepts a write, returns it, and deletes it.
// It is run once per backend at startup.
func Probe(ctx context.Context, s Storage) error {
	if s == nil {
		return ErrUnavailable
	}

	if err := s.Set(ctx, probeKey, "1"); err != nil {
		return fmt.Errorf("probe write: %w", err)
	}
	v, ok, err := s.Get(ctx, probeKey)
	if err != nil {
		return fmt.Errorf("probe read: %w", err)
	}
	if !ok || v != "1" {
		return fmt.Errorf("%w: probe value not returned", ErrUnavailable)
	}
	if err := s.Delete(ctx, probeKey); err != nil {
		return fmt.Errorf("probe delete: %w", err)
	}
	return nil
}
