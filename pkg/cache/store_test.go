package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Sternrassler/taskflow-client/pkg/storage"
)

// testClock is a settable time source.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(t *testing.T, cfg StoreConfig) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	cfg.Now = clock.Now
	return NewStore(context.Background(), cfg), clock
}

func TestStore_SetGet(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, StoreConfig{})

	store.Set(ctx, "list", map[string]int{"count": 3}, Tasks)

	raw, ok := store.Get(ctx, "list", Tasks)
	if !ok {
		t.Fatal("Get() miss, want hit")
	}
	if string(raw) != `{"count":3}` {
		t.Errorf("Get() = %s", raw)
	}

	var out struct{ Count int }
	if !store.GetInto(ctx, "list", Tasks, &out) || out.Count != 3 {
		t.Errorf("GetInto() = %+v", out)
	}

	// Same key under another category is a different entry.
	if _, ok := store.Get(ctx, "list", Statistics); ok {
		t.Error("Get() with Statistics prefix hit a Tasks entry")
	}
}

func TestStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t, StoreConfig{})

	store.Set(ctx, "s", 1, Statistics)

	clock.Advance(10 * time.Minute)
	if _, ok := store.Get(ctx, "s", Statistics); !ok {
		t.Fatal("entry expired at exactly its TTL")
	}

	clock.Advance(time.Millisecond)
	if _, ok := store.Get(ctx, "s", Statistics); ok {
		t.Fatal("Get() returned an expired entry")
	}

	// Expired reads evict.
	if _, ok := store.Lookup(ctx, "s", Statistics); ok {
		t.Error("expired entry still present after Get")
	}
}

func TestStore_LookupDoesNotEvict(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t, StoreConfig{})

	store.Set(ctx, "p", "profile", User)
	clock.Advance(time.Hour)

	e, ok := store.Lookup(ctx, "p", User)
	if !ok {
		t.Fatal("Lookup() miss for expired entry")
	}
	if !e.IsExpired(clock.Now()) {
		t.Error("entry should be expired")
	}
	if _, ok := store.Lookup(ctx, "p", User); !ok {
		t.Error("Lookup() evicted the entry")
	}
}

func TestStore_DefaultOptions(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory(0)
	store, _ := newTestStore(t, StoreConfig{})
	store.memory = mem

	store.Set(ctx, "x", true, Options{})

	if _, ok, _ := mem.Get(ctx, "ltf_cache_x"); !ok {
		t.Error("zero Options did not use the default prefix")
	}
}

func TestStore_DurableBackends(t *testing.T) {
	ctx := context.Background()
	session := storage.NewMemory(0)
	local := storage.NewMemory(0)
	store, _ := newTestStore(t, StoreConfig{Session: session, Local: local})

	if !store.Durable(BackendSession) || !store.Durable(BackendLocal) || store.Durable(BackendMemory) {
		t.Fatal("Durable() does not reflect configured backends")
	}

	store.Set(ctx, "t", 1, Temp)
	store.Set(ctx, "u", 2, User)

	if _, ok, _ := session.Get(ctx, "ltf_temp_t"); !ok {
		t.Error("Temp entry not written to session storage")
	}
	if _, ok, _ := local.Get(ctx, "ltf_user_u"); !ok {
		t.Error("User entry not written to local storage")
	}
}

func TestStore_UnavailableBackendResolvesToMemory(t *testing.T) {
	ctx := context.Background()
	// Quota too small for the probe.
	store, _ := newTestStore(t, StoreConfig{Local: storage.NewMemory(1)})

	if store.Durable(BackendLocal) {
		t.Fatal("backend that failed the probe is still durable")
	}

	store.Set(ctx, "u", "x", User)
	if _, ok := store.Get(ctx, "u", User); !ok {
		t.Error("Get() miss after Set on memory-resolved backend")
	}
}

func TestStore_QuotaFallback(t *testing.T) {
	ctx := context.Background()
	// Large enough for the probe, too small for an entry.
	session := storage.NewMemory(40)
	store, _ := newTestStore(t, StoreConfig{Session: session})

	if !store.Durable(BackendSession) {
		t.Fatal("session backend should pass the probe")
	}

	store.Set(ctx, "big", "some payload that will not fit", Temp)

	if _, ok, _ := session.Get(ctx, "ltf_temp_big"); ok {
		t.Fatal("entry unexpectedly written to session storage")
	}
	if _, ok, _ := store.memory.Get(ctx, "ltf_temp_big"); !ok {
		t.Fatal("entry not written to memory fallback")
	}

	raw, ok := store.Get(ctx, "big", Temp)
	if !ok {
		t.Fatal("Get() did not consult memory fallback")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s != "some payload that will not fit" {
		t.Errorf("Get() = %s", raw)
	}

	store.Delete(ctx, "big", Temp)
	if _, ok := store.Get(ctx, "big", Temp); ok {
		t.Error("Delete() left the memory fallback entry")
	}
}

// flakyStorage fails writes on demand.
type flakyStorage struct {
	*storage.Memory
	failSet bool
}

func (f *flakyStorage) Set(ctx context.Context, key, value string) error {
	if f.failSet {
		return storage.ErrQuotaExceeded
	}
	return f.Memory.Set(ctx, key, value)
}

func TestStore_FallbackOverwriteWins(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
	}{
		{"older entry fresh", 0},
		{"older entry expired", User.TTL + time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			local := &flakyStorage{Memory: storage.NewMemory(0)}
			store, clock := newTestStore(t, StoreConfig{Local: local})

			store.Set(ctx, "profile", "v1", User)
			clock.Advance(tt.advance)

			local.failSet = true
			store.Set(ctx, "profile", "v2", User)

			var got string
			if !store.GetInto(ctx, "profile", User, &got) {
				t.Fatal("GetInto() miss after fallback overwrite")
			}
			if got != "v2" {
				t.Errorf("GetInto() = %q, want v2", got)
			}
			if _, ok, _ := local.Get(ctx, "ltf_user_profile"); ok {
				t.Error("older durable entry kept after fallback overwrite")
			}

			// A later durable write replaces the fallback entry.
			local.failSet = false
			store.Set(ctx, "profile", "v3", User)
			if !store.GetInto(ctx, "profile", User, &got) || got != "v3" {
				t.Errorf("GetInto() = %q, want v3", got)
			}
			if _, ok, _ := store.memory.Get(ctx, "ltf_user_profile"); ok {
				t.Error("memory fallback entry kept after durable write")
			}
		})
	}
}

func TestStore_SetUnserializable(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, StoreConfig{})

	// Must not panic or error.
	store.Set(ctx, "ch", make(chan int), Tasks)
	store.Set(ctx, "raw", json.RawMessage(`{broken`), Tasks)

	if _, ok := store.Get(ctx, "ch", Tasks); ok {
		t.Error("unserializable value was cached")
	}
	if _, ok := store.Get(ctx, "raw", Tasks); ok {
		t.Error("invalid raw json was cached")
	}
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	local := storage.NewMemory(0)
	store, _ := newTestStore(t, StoreConfig{Local: local})

	store.Set(ctx, "tasks_/tasks/_page=1", 1, Tasks)
	store.Set(ctx, "tasks_/tasks/_page=2", 2, Tasks)
	store.Set(ctx, "stats_/tasks/stats/_", 3, Tasks)
	store.Set(ctx, "profile", 4, User)

	store.Clear(ctx, Tasks.WithPrefix("tasks"))

	if _, ok := store.Get(ctx, "tasks_/tasks/_page=1", Tasks); ok {
		t.Error("page=1 survived Clear")
	}
	if _, ok := store.Get(ctx, "tasks_/tasks/_page=2", Tasks); ok {
		t.Error("page=2 survived Clear")
	}
	if _, ok := store.Get(ctx, "stats_/tasks/stats/_", Tasks); !ok {
		t.Error("entry outside the prefix was cleared")
	}
	if _, ok := store.Get(ctx, "profile", User); !ok {
		t.Error("entry in another category was cleared")
	}

	store.Clear(ctx, User)
	if keys, _ := local.Keys(ctx, ""); len(keys) != 0 {
		t.Errorf("local storage keys after Clear = %v", keys)
	}
}

func TestStore_CleanExpired(t *testing.T) {
	ctx := context.Background()
	local := storage.NewMemory(0)
	store, clock := newTestStore(t, StoreConfig{Local: local})

	store.Set(ctx, "old", 1, User)
	clock.Advance(31 * time.Minute)
	store.Set(ctx, "new", 2, User)
	_ = local.Set(ctx, "ltf_user_garbage", "{not json")
	_ = local.Set(ctx, "unrelated", "{not json")

	if got := store.CleanExpired(ctx, User); got != 2 {
		t.Errorf("CleanExpired() = %d, want 2", got)
	}
	if _, ok := store.Get(ctx, "new", User); !ok {
		t.Error("fresh entry removed")
	}
	if _, ok, _ := local.Get(ctx, "unrelated"); !ok {
		t.Error("key outside the prefix removed")
	}
}

func TestStore_Stats(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t, StoreConfig{})

	store.Set(ctx, "a", 1, Tasks)
	store.Set(ctx, "b", 2, Tasks)
	clock.Advance(6 * time.Minute)
	store.Set(ctx, "c", 3, Tasks)

	stats := store.Stats(ctx, Tasks)
	if stats.Total != 3 || stats.Expired != 2 || stats.Valid != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.SizeBytes <= 0 {
		t.Errorf("SizeBytes = %d, want > 0", stats.SizeBytes)
	}

	if empty := store.Stats(ctx, Statistics); empty != (Stats{}) {
		t.Errorf("Stats() on empty category = %+v", empty)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{1048576, "1 MB"},
		{5 * 1024 * 1024 * 1024, "5 GB"},
		{3 * 1024 * 1024 * 1024 * 1024, "3072 GB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestBackend_String(t *testing.T) {
	if BackendMemory.String() != "memory" || BackendSession.String() != "session" || BackendLocal.String() != "local" {
		t.Error("unexpected backend names")
	}
}
