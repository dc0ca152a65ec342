package cache

import (
	"net/url"
	"strings"
)

// Key identifies a cached API response.
type Key struct {
	// Name is the caller-chosen cache key (e.g. "tasks", "profile").
	Name string

	// Path is the request path relative to the API base (e.g. "/tasks/").
	Path string

	// Query are the request query parameters.
	Query url.Values
}

// String generates a deterministic key string.
// Format: name_path_query, with query parameters sorted by name.
//
// Example:
//
//	tasks_/tasks/_page=1&status=pending
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Name)
	b.WriteByte('_')
	b.WriteString(k.Path)
	b.WriteByte('_')
	// Encode sorts by parameter name.
	b.WriteString(k.Query.Encode())
	return b.String()
}
