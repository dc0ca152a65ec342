// Package cache provides the TTL key/value store behind the cached request
// façade.
//
// Entries are written as JSON documents of the form
//
//	{"key": "ltf_tasks_...", "data": <payload>, "timestamp": <unix ms>, "expiry": <ttl ms>}
//
// to one of three backends selected per call:
//
//   - BackendMemory: process memory, lost on exit.
//   - BackendSession: session-durable storage (SQLite in the CLI).
//   - BackendLocal: origin-durable storage shared by every client (Redis in the CLI).
//
// A durable write that fails (quota, serialization, backend down) lands in the
// memory backend under the same full key, and durable reads consult that
// memory copy on a miss. Set never returns an error.
//
// # Basic Usage
//
//	store := cache.NewStore(ctx, cache.StoreConfig{
//		Session: sqliteStorage,
//		Local:   redisStorage,
//		Logger:  logging.NewLogger("cache"),
//	})
//
//	store.Set(ctx, "profile", profile, cache.User)
//
//	var p auth.UserProfile
//	if store.GetInto(ctx, "profile", cache.User, &p) {
//		// fresh hit
//	}
//
// # Categories
//
// The predefined Options mirror the cache categories of the web client:
//
//   - Tasks          5m   memory   ltf_tasks_
//   - Statistics     10m  memory   ltf_stats_
//   - User           30m  local    ltf_user_
//   - SearchHistory  24h  local    ltf_search_
//   - Temp           1m   session  ltf_temp_
//
// A Sweeper evicts expired entries of every category on an interval and
// clears Temp on Close.
//
// # Metrics
//
//   - taskflow_cache_hits_total{backend}
//   - taskflow_cache_misses_total{backend}
//   - taskflow_cache_fallback_writes_total{backend}
//   - taskflow_cache_evictions_total{reason}
//   - taskflow_cache_errors_total{operation}
package cache
