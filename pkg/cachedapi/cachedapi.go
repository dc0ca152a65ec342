// Package cachedapi composes the transport and the cache store: read-through
// caching for GET, prefix invalidation after mutations, and a last-known-good
// fallback when the transport fails.
//
// Usage:
//
//	api := cachedapi.New(transport, store, logger)
//	res, err := api.Get(ctx, "/tasks/stats/", nil, &cachedapi.Spec{
//		Key:      "stats",
//		Category: cache.Statistics,
//	})
package cachedapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/taskflow-client/pkg/cache"
	"github.com/Sternrassler/taskflow-client/pkg/client"
	"github.com/Sternrassler/taskflow-client/pkg/envelope"
)

var (
	staleServesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskflow_cache_stale_serves_total",
		Help: "Total reads answered from an expired cache entry after a transport failure",
	})

	invalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_cache_invalidations_total",
		Help: "Total prefix invalidations after successful mutations by method",
	}, []string{"method"})
)

// Requester sends one API request. *client.Client implements it.
type Requester interface {
	Do(ctx context.Context, req client.Request) (*client.Response, error)
}

// Spec enables caching for one call.
type Spec struct {
	// Key names the cached resource; it is also the invalidation prefix.
	Key string

	// Category supplies TTL, backend and prefix.
	Category cache.Options

	// ForceRefresh skips the cache read but still stores the fresh result.
	ForceRefresh bool
}

// Result is a read result, possibly served from cache.
type Result struct {
	Data    json.RawMessage
	Meta    envelope.Meta
	Message string

	// FromCache is set when the transport was not consulted or failed.
	FromCache bool

	// Stale is set when the last cached entry, possibly expired, was served
	// after a transport failure.
	Stale bool
}

// cachedPayload is what a GET stores: the data plus its side channel.
type cachedPayload struct {
	Data    json.RawMessage `json:"data"`
	Meta    envelope.Meta   `json:"meta,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Client is the cached request façade.
type Client struct {
	requester Requester
	store     *cache.Store
	logger    zerolog.Logger
}

// New creates a façade over requester and store.
func New(requester Requester, store *cache.Store, logger zerolog.Logger) *Client {
	if requester == nil {
		panic("requester cannot be nil")
	}
	if store == nil {
		panic("cache store cannot be nil")
	}
	return &Client{requester: requester, store: store, logger: logger}
}

// Store returns the underlying cache store.
func (c *Client) Store() *cache.Store {
	return c.store
}

// Get performs a GET. With a spec, a fresh cached result is returned without
// a request; on transport failure the last cached result is served even if
// expired. Without a spec the call goes straight to the transport.
func (c *Client) Get(ctx context.Context, path string, query url.Values, spec *Spec) (*Result, error) {
	req := client.Request{Method: http.MethodGet, Path: path, Query: query}
	if spec == nil {
		resp, err := c.requester.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		return resultFrom(resp), nil
	}

	key := cache.Key{Name: spec.Key, Path: path, Query: query}.String()

	// Held before the fresh read, which evicts an expired entry.
	last, hasLast := c.store.Lookup(ctx, key, spec.Category)

	if !spec.ForceRefresh {
		var payload cachedPayload
		if c.store.GetInto(ctx, key, spec.Category, &payload) {
			return payload.result(false), nil
		}
	}

	resp, err := c.requester.Do(ctx, req)
	if err != nil {
		if !hasLast {
			return nil, err
		}
		return c.fallback(key, last, err)
	}

	c.store.Set(ctx, key, cachedPayload{Data: resp.Data, Meta: resp.Meta, Message: resp.Message}, spec.Category)
	return resultFrom(resp), nil
}

// fallback serves entry, the last cached payload for key, or returns cause.
func (c *Client) fallback(key string, entry cache.Entry, cause error) (*Result, error) {
	var payload cachedPayload
	if err := json.Unmarshal(entry.Data, &payload); err != nil {
		c.logger.Debug().Err(err).Str("cache_key", key).Msg("Cached payload unusable for fallback")
		return nil, cause
	}

	staleServesTotal.Inc()
	c.logger.Warn().
		Err(cause).
		Str("cache_key", key).
		Time("cached_at", entry.CachedAt()).
		Msg("API request failed, serving cached data")
	return payload.result(true), nil
}

func (p cachedPayload) result(stale bool) *Result {
	return &Result{
		Data:      p.Data,
		Meta:      p.Meta,
		Message:   p.Message,
		FromCache: true,
		Stale:     stale,
	}
}

func resultFrom(resp *client.Response) *Result {
	return &Result{Data: resp.Data, Meta: resp.Meta, Message: resp.Message}
}

// Post performs a POST and invalidates spec's prefix on success.
func (c *Client) Post(ctx context.Context, path string, body any, spec *Spec) (*client.Response, error) {
	return c.mutate(ctx, http.MethodPost, path, body, spec)
}

// Put performs a PUT and invalidates spec's prefix on success.
func (c *Client) Put(ctx context.Context, path string, body any, spec *Spec) (*client.Response, error) {
	return c.mutate(ctx, http.MethodPut, path, body, spec)
}

// Patch performs a PATCH and invalidates spec's prefix on success.
func (c *Client) Patch(ctx context.Context, path string, body any, spec *Spec) (*client.Response, error) {
	return c.mutate(ctx, http.MethodPatch, path, body, spec)
}

// Delete performs a DELETE and invalidates spec's prefix on success.
func (c *Client) Delete(ctx context.Context, path string, spec *Spec) (*client.Response, error) {
	return c.mutate(ctx, http.MethodDelete, path, nil, spec)
}

func (c *Client) mutate(ctx context.Context, method, path string, body any, spec *Spec) (*client.Response, error) {
	resp, err := c.requester.Do(ctx, client.Request{Method: method, Path: path, Body: body})
	if err != nil {
		return nil, err
	}
	if spec != nil {
		invalidationsTotal.WithLabelValues(method).Inc()
		c.InvalidateCache(ctx, spec.Key, spec.Category)
	}
	return resp, nil
}

// InvalidateCache removes every entry whose key starts with the category
// prefix followed by key.
func (c *Client) InvalidateCache(ctx context.Context, key string, category cache.Options) {
	c.store.Clear(ctx, category.WithPrefix(key))
}

// ClearAllCache clears every predefined category.
func (c *Client) ClearAllCache(ctx context.Context) {
	for _, cat := range cache.Categories() {
		c.store.Clear(ctx, cat.Options)
	}
	c.logger.Info().Msg("All caches cleared")
}

// CacheStats returns per-category statistics keyed by category name.
func (c *Client) CacheStats(ctx context.Context) map[string]cache.Stats {
	out := make(map[string]cache.Stats)
	for _, cat := range cache.Categories() {
		out[cat.Name] = c.store.Stats(ctx, cat.Options)
	}
	return out
}

// WarmupTarget is one resource preloaded by Warmup.
type WarmupTarget struct {
	Path string
	Spec Spec
}

// DefaultWarmupTargets are the current user's profile and task statistics.
func DefaultWarmupTargets() []WarmupTarget {
	return []WarmupTarget{
		{Path: "/auth/profile/", Spec: Spec{Key: "profile", Category: cache.User}},
		{Path: "/tasks/stats/", Spec: Spec{Key: "stats", Category: cache.Statistics}},
	}
}

// Warmup concurrently preloads targets (DefaultWarmupTargets when none are
// given). Failures are logged and otherwise ignored; it returns the number of
// targets loaded.
func (c *Client) Warmup(ctx context.Context, targets ...WarmupTarget) int {
	if len(targets) == 0 {
		targets = DefaultWarmupTargets()
	}

	loaded := make([]bool, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			spec := t.Spec
			if _, err := c.Get(ctx, t.Path, nil, &spec); err != nil {
				c.logger.Warn().Err(err).Str("path", t.Path).Msg("Cache warmup failed")
				return nil
			}
			loaded[i] = true
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range loaded {
		if ok {
			n++
		}
	}
	c.logger.Info().Int("loaded", n).Int("targets", len(targets)).Msg("Cache warmup finished")
	return n
}

// DecodeResult decodes the result payload into T. An empty payload yields
// the zero value.
func DecodeResult[T any](res *Result) (T, error) {
	var v T
	if res == nil || len(res.Data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(res.Data, &v); err != nil {
		return v, fmt.Errorf("decode result: %w", err)
	}
	return v, nil
}
