package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/taskflow-client/pkg/storage"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// StoreConfig configures NewStore.
type StoreConfig struct {
	// Session backs BackendSession. Nil or failing the probe means memory.
	Session storage.Storage

	// Local backs BackendLocal. Nil or failing the probe means memory.
	Local storage.Storage

	// MemoryMaxBytes caps the memory backend. <= 0 disables the cap.
	MemoryMaxBytes int

	// Logger receives cache diagnostics.
	Logger zerolog.Logger

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Store is a TTL cache over pluggable storage backends.
type Store struct {
	memory  *storage.Memory
	session storage.Storage
	local   storage.Storage
	logger  zerolog.Logger
	now     func() time.Time
}

// NewStore creates a Store. Each durable backend is probed once; a backend
// that is nil or fails the probe is served from memory for the Store's lifetime.
func NewStore(ctx context.Context, cfg StoreConfig) *Store {
	s := &Store{
		memory: storage.NewMemory(cfg.MemoryMaxBytes),
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.session = s.resolve(ctx, BackendSession, cfg.Session)
	s.local = s.resolve(ctx, BackendLocal, cfg.Local)
	return s
}

func (s *Store) resolve(ctx context.Context, b Backend, st storage.Storage) storage.Storage {
	if st == nil {
		s.logger.Debug().Str("backend", b.String()).Msg("No durable storage configured, using memory")
		return s.memory
	}
	if err := storage.Probe(ctx, st); err != nil {
		s.logger.Warn().Err(err).Str("backend", b.String()).Msg("Durable storage unavailable, using memory")
		return s.memory
	}
	return st
}

// Durable reports whether backend b is served by durable storage.
func (s *Store) Durable(b Backend) bool {
	return s.storageFor(b) != storage.Storage(s.memory)
}

func (s *Store) storageFor(b Backend) storage.Storage {
	switch b {
	case BackendSession:
		return s.session
	case BackendLocal:
		return s.local
	default:
		return s.memory
	}
}

// Set stores data under key. It never fails: a durable write error moves the
// entry to memory, and a payload that cannot be encoded is dropped and logged.
func (s *Store) Set(ctx context.Context, key string, data any, opts Options) {
	opts = opts.normalize()
	fullKey := opts.Prefix + key

	raw, err := encodeData(data)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		s.logger.Warn().Err(err).Str("cache_key", fullKey).Msg("Cache payload not serializable, skipping")
		return
	}

	encoded, err := json.Marshal(newEntry(fullKey, raw, s.now(), opts.TTL))
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		s.logger.Warn().Err(err).Str("cache_key", fullKey).Msg("Cache entry not serializable, skipping")
		return
	}

	st := s.storageFor(opts.Backend)
	if err := st.Set(ctx, fullKey, string(encoded)); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		if st == storage.Storage(s.memory) {
			s.logger.Warn().Err(err).Str("cache_key", fullKey).Msg("Memory cache write failed")
			return
		}

		CacheFallbackWrites.WithLabelValues(opts.Backend.String()).Inc()
		s.logger.Warn().Err(err).
			Str("cache_key", fullKey).
			Str("backend", opts.Backend.String()).
			Msg("Durable cache write failed, falling back to memory")

		// An older durable copy must not outlive the fallback entry.
		if err := st.Delete(ctx, fullKey); err != nil {
			s.logger.Debug().Err(err).Str("cache_key", fullKey).Msg("Durable cache delete failed")
		}
		if err := s.memory.Set(ctx, fullKey, string(encoded)); err != nil {
			s.logger.Warn().Err(err).Str("cache_key", fullKey).Msg("Memory fallback write failed")
		}
		return
	}
	if st != storage.Storage(s.memory) {
		_ = s.memory.Delete(ctx, fullKey)
	}

	s.logger.Debug().
		Str("cache_key", fullKey).
		Str("backend", opts.Backend.String()).
		Dur("ttl", opts.TTL).
		Msg("Cache set")
}

// Get returns the payload stored under key if it is fresh. An expired entry
// is evicted on read.
func (s *Store) Get(ctx context.Context, key string, opts Options) (json.RawMessage, bool) {
	opts = opts.normalize()
	fullKey := opts.Prefix + key
	label := opts.Backend.String()

	e, err := s.read(ctx, fullKey, opts.Backend)
	if err != nil {
		CacheMisses.WithLabelValues(label).Inc()
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Debug().Err(err).Str("cache_key", fullKey).Msg("Cache read failed")
		}
		return nil, false
	}

	if e.IsExpired(s.now()) {
		s.Delete(ctx, key, opts)
		CacheEvictions.WithLabelValues("expired").Inc()
		CacheMisses.WithLabelValues(label).Inc()
		s.logger.Debug().Str("cache_key", fullKey).Msg("Cache entry expired")
		return nil, false
	}

	CacheHits.WithLabelValues(label).Inc()
	s.logger.Debug().Str("cache_key", fullKey).Str("backend", label).Msg("Cache hit")
	return e.Data, true
}

// GetInto decodes a fresh payload into v. It reports false on miss or
// decode failure.
func (s *Store) GetInto(ctx context.Context, key string, opts Options, v any) bool {
	raw, ok := s.Get(ctx, key, opts)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		s.logger.Debug().Err(err).Str("cache_key", opts.normalize().Prefix+key).Msg("Cached payload does not decode")
		return false
	}
	return true
}

// Lookup returns the stored entry regardless of freshness and never evicts.
func (s *Store) Lookup(ctx context.Context, key string, opts Options) (Entry, bool) {
	opts = opts.normalize()
	e, err := s.read(ctx, opts.Prefix+key, opts.Backend)
	if err != nil {
		return Entry{}, false
	}
	return e, true
}

// read loads fullKey. For durable backends a memory fallback entry holds the
// latest write and is consulted first.
func (s *Store) read(ctx context.Context, fullKey string, b Backend) (Entry, error) {
	st := s.storageFor(b)

	if st != storage.Storage(s.memory) {
		if raw, ok, err := s.memory.Get(ctx, fullKey); err == nil && ok {
			return decodeEntry(raw)
		}
	}

	raw, ok, err := st.Get(ctx, fullKey)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
	}
	if err != nil {
		return Entry{}, fmt.Errorf("read %q: %w", fullKey, err)
	}
	if !ok {
		return Entry{}, ErrCacheMiss
	}
	return decodeEntry(raw)
}

// Delete removes key from its backend and from the memory fallback.
func (s *Store) Delete(ctx context.Context, key string, opts Options) {
	opts = opts.normalize()
	s.deleteFull(ctx, opts.Prefix+key, opts.Backend)
}

func (s *Store) deleteFull(ctx context.Context, fullKey string, b Backend) {
	st := s.storageFor(b)
	if err := st.Delete(ctx, fullKey); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		s.logger.Warn().Err(err).Str("cache_key", fullKey).Msg("Cache delete failed")
	}
	if st != storage.Storage(s.memory) {
		_ = s.memory.Delete(ctx, fullKey)
	}
}

// Clear removes every entry whose full key starts with opts.Prefix.
func (s *Store) Clear(ctx context.Context, opts Options) {
	opts = opts.normalize()
	keys := s.keys(ctx, opts)
	for _, k := range keys {
		s.deleteFull(ctx, k, opts.Backend)
	}
	s.logger.Debug().
		Str("prefix", opts.Prefix).
		Int("removed", len(keys)).
		Msg("Cache cleared")
}

// CleanExpired removes expired and undecodable entries under opts.Prefix and
// returns how many were removed.
func (s *Store) CleanExpired(ctx context.Context, opts Options) int {
	opts = opts.normalize()
	now := s.now()
	removed := 0

	for _, k := range s.keys(ctx, opts) {
		e, err := s.read(ctx, k, opts.Backend)
		switch {
		case errors.Is(err, ErrCacheMiss):
			continue
		case errors.Is(err, ErrInvalidEntry):
			CacheEvictions.WithLabelValues("invalid").Inc()
		case err != nil:
			continue
		case e.IsExpired(now):
			CacheEvictions.WithLabelValues("expired").Inc()
		default:
			continue
		}
		s.deleteFull(ctx, k, opts.Backend)
		removed++
	}

	if removed > 0 {
		s.logger.Debug().Str("prefix", opts.Prefix).Int("removed", removed).Msg("Expired cache entries cleaned")
	}
	return removed
}

// keys lists full keys under opts.Prefix in the backend and the memory
// fallback, without duplicates.
func (s *Store) keys(ctx context.Context, opts Options) []string {
	st := s.storageFor(opts.Backend)

	keys, err := st.Keys(ctx, opts.Prefix)
	if err != nil {
		CacheErrors.WithLabelValues("keys").Inc()
		s.logger.Warn().Err(err).Str("prefix", opts.Prefix).Msg("Listing cache keys failed")
		keys = nil
	}
	if st == storage.Storage(s.memory) {
		return keys
	}

	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	fallback, _ := s.memory.Keys(ctx, opts.Prefix)
	for _, k := range fallback {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// Stats summarizes the entries under a prefix.
type Stats struct {
	Total     int `json:"total"`
	Expired   int `json:"expired"`
	Valid     int `json:"valid"`
	SizeBytes int `json:"size_bytes"`
}

// Size returns SizeBytes in human-readable form (e.g. "1.5 KB").
func (st Stats) Size() string {
	return FormatBytes(st.SizeBytes)
}

// Stats counts the entries under opts.Prefix.
func (s *Store) Stats(ctx context.Context, opts Options) Stats {
	opts = opts.normalize()
	st := s.storageFor(opts.Backend)
	now := s.now()

	var stats Stats
	for _, k := range s.keys(ctx, opts) {
		raw, ok, err := st.Get(ctx, k)
		if (!ok || err != nil) && st != storage.Storage(s.memory) {
			raw, ok, err = s.memory.Get(ctx, k)
		}
		if !ok || err != nil {
			continue
		}

		stats.Total++
		stats.SizeBytes += len(raw)

		e, err := decodeEntry(raw)
		if err != nil || e.IsExpired(now) {
			stats.Expired++
		} else {
			stats.Valid++
		}
	}
	return stats
}

// FormatBytes renders n bytes with a binary unit (B, KB, MB, GB).
func FormatBytes(n int) string {
	if n <= 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB"}
	i := int(math.Floor(math.Log(float64(n)) / math.Log(1024)))
	if i >= len(units) {
		i = len(units) - 1
	}
	v := float64(n) / math.Pow(1024, float64(i))
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + units[i]
}

func encodeData(data any) (json.RawMessage, error) {
	switch d := data.(type) {
	case json.RawMessage:
		if !json.Valid(d) {
			return nil, fmt.Errorf("invalid raw json payload")
		}
		return d, nil
	case []byte:
		if !json.Valid(d) {
			return nil, fmt.Errorf("invalid raw json payload")
		}
		return d, nil
	default:
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal cache payload: %w", err)
		}
		return raw, nil
	}
}
