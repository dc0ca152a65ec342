package cache

import (
	"fmt"
	"time"
)

// Backend selects where an entry is persisted.
type Backend int

const (
	// BackendMemory keeps entries in process memory.
	BackendMemory Backend = iota

	// BackendSession keeps entries for the lifetime of the session.
	BackendSession

	// BackendLocal keeps entries across sessions, shared by the origin.
	BackendLocal
)

// String returns the backend name used in logs and metric labels.
func (b Backend) String() string {
	switch b {
	case BackendMemory:
		return "memory"
	case BackendSession:
		return "session"
	case BackendLocal:
		return "local"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// Options configures a cache call.
type Options struct {
	// TTL is how long an entry stays fresh. Zero means DefaultOptions.TTL.
	TTL time.Duration

	// Backend is where the entry lives.
	Backend Backend

	// Prefix is prepended to every key. Empty means DefaultOptions.Prefix.
	Prefix string
}

// DefaultOptions applies to calls that do not name a category.
var DefaultOptions = Options{
	TTL:     5 * time.Minute,
	Backend: BackendMemory,
	Prefix:  "ltf_cache_",
}

// Predefined categories.
var (
	// Tasks caches task lists and task detail.
	Tasks = Options{TTL: 5 * time.Minute, Backend: BackendMemory, Prefix: "ltf_tasks_"}

	// Statistics caches the dashboard statistics.
	Statistics = Options{TTL: 10 * time.Minute, Backend: BackendMemory, Prefix: "ltf_stats_"}

	// User caches the current user's profile.
	User = Options{TTL: 30 * time.Minute, Backend: BackendLocal, Prefix: "ltf_user_"}

	// SearchHistory caches recent search queries.
	SearchHistory = Options{TTL: 24 * time.Hour, Backend: BackendLocal, Prefix: "ltf_search_"}

	// Temp caches short-lived values cleared when the session closes.
	Temp = Options{TTL: time.Minute, Backend: BackendSession, Prefix: "ltf_temp_"}
)

// Category is a named set of Options.
type Category struct {
	Name    string
	Options Options
}

// Categories lists the predefined categories in a stable order.
func Categories() []Category {
	return []Category{
		{Name: "tasks", Options: Tasks},
		{Name: "stats", Options: Statistics},
		{Name: "user", Options: User},
		{Name: "search_history", Options: SearchHistory},
		{Name: "temp", Options: Temp},
	}
}

// WithPrefix returns a copy of o whose prefix is extended by suffix.
func (o Options) WithPrefix(suffix string) Options {
	o = o.normalize()
	o.Prefix += suffix
	return o
}

func (o Options) normalize() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultOptions.TTL
	}
	if o.Prefix == "" {
		o.Prefix = DefaultOptions.Prefix
	}
	return o
}
