// Package metrics provides the Prometheus registry reference for the
// TaskFlow client. All metrics are defined in their respective packages
// (client, cache, cachedapi, auth, ratelimit, errhandler) to maintain
// modularity and avoid circular dependencies.
//
// This package documents the available metrics and reads them back as a
// Snapshot for callers without a Prometheus scraper, such as the CLI.
package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Prefix is the common prefix of every client metric.
const Prefix = "taskflow_"

// Registry is the default Prometheus registry used by the client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back what Registry collected.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

// Sample is one metric series.
type Sample struct {
	Name   string
	Type   string
	Labels map[string]string

	// Value is the counter or gauge value; for histograms the observation sum.
	Value float64

	// Count is the number of observations for histograms, 0 otherwise.
	Count uint64
}

// Series renders the name with its labels, e.g. taskflow_requests_total{method="GET"}.
func (s Sample) Series() string {
	if len(s.Labels) == 0 {
		return s.Name
	}
	names := make([]string, 0, len(s.Labels))
	for k := range s.Labels {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s=%q", k, s.Labels[k])
	}
	return s.Name + "{" + strings.Join(parts, ",") + "}"
}

// Snapshot gathers every client metric series from g, sorted by series.
func Snapshot(g prometheus.Gatherer) ([]Sample, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}

	var out []Sample
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), Prefix) {
			continue
		}
		for _, m := range mf.GetMetric() {
			out = append(out, sampleOf(mf, m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Series() < out[j].Series() })
	return out, nil
}

func sampleOf(mf *dto.MetricFamily, m *dto.Metric) Sample {
	s := Sample{
		Name:   mf.GetName(),
		Type:   strings.ToLower(mf.GetType().String()),
		Labels: make(map[string]string, len(m.GetLabel())),
	}
	for _, lp := range m.GetLabel() {
		s.Labels[lp.GetName()] = lp.GetValue()
	}

	switch mf.GetType() {
	case dto.MetricType_COUNTER:
		s.Value = m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		s.Value = m.GetGauge().GetValue()
	case dto.MetricType_HISTOGRAM:
		s.Value = m.GetHistogram().GetSampleSum()
		s.Count = m.GetHistogram().GetSampleCount()
	case dto.MetricType_SUMMARY:
		s.Value = m.GetSummary().GetSampleSum()
		s.Count = m.GetSummary().GetSampleCount()
	default:
		s.Value = m.GetUntyped().GetValue()
	}
	return s
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - taskflow_requests_total{method, status} (Counter): Requests by method and HTTP status
//   - taskflow_request_duration_seconds{method} (Histogram): Request duration by method
//   - taskflow_errors_total{class} (Counter): Failures by error kind
//   - taskflow_auth_replays_total{result} (Counter): Requests replayed after a token refresh
//
// Retry Metrics (pkg/client):
//   - taskflow_retries_total{error_class} (Counter): Retry attempts by error class
//   - taskflow_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - taskflow_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Cache Metrics (pkg/cache):
//   - taskflow_cache_hits_total{backend} (Counter): Fresh reads by backend
//   - taskflow_cache_misses_total{backend} (Counter): Absent, expired or undecodable reads
//   - taskflow_cache_fallback_writes_total{backend} (Counter): Durable writes redirected to memory
//   - taskflow_cache_evictions_total{reason} (Counter): Evicted entries (expired, invalid)
//   - taskflow_cache_errors_total{operation} (Counter): Backend operation errors
//
// Cached Request Metrics (pkg/cachedapi):
//   - taskflow_cache_stale_serves_total (Counter): Expired entries served after a transport failure
//   - taskflow_cache_invalidations_total{method} (Counter): Prefix invalidations after mutations
//
// Token Refresh Metrics (pkg/auth):
//   - taskflow_token_refreshes_total{result} (Counter): Refresh exchanges (success, failure, no_token)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - taskflow_rate_limit_remaining (Gauge): Requests remaining in the server window
//   - taskflow_rate_limit_cooldowns_total (Counter): Cooldowns started by 429 or exhausted quota
//   - taskflow_rate_limit_blocks_total (Counter): Requests refused locally during a cooldown
//   - taskflow_rate_limit_throttles_total (Counter): Requests delayed because quota is low
//
// Error Handling Metrics (pkg/errhandler):
//   - taskflow_errors_handled_total{code} (Counter): Classified errors handled by code
//   - taskflow_error_auto_retries_total{code} (Counter): Automatic retries by code
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(taskflow_cache_hits_total[5m])) /
//   (sum(rate(taskflow_cache_hits_total[5m])) + sum(rate(taskflow_cache_misses_total[5m])))
//
//   # Requests served stale while the API was down
//   rate(taskflow_cache_stale_serves_total[5m])
//
//   # Refresh failure rate
//   rate(taskflow_token_refreshes_total{result="failure"}[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(taskflow_request_duration_seconds_bucket[5m]))
