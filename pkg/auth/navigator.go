package auth

import "sync"

// LoginPath is where a failed refresh sends the user.
const LoginPath = "/login"

// Navigator moves the user between application locations.
type Navigator interface {
	// Location returns the current path.
	Location() string

	// Navigate moves to path.
	Navigate(path string)
}

// HistoryNavigator is an in-process Navigator that records every move.
type HistoryNavigator struct {
	mu       sync.Mutex
	location string
	history  []string
	onChange func(path string)
}

// NewHistoryNavigator starts at location. onChange, if set, is called after
// every Navigate.
func NewHistoryNavigator(location string, onChange func(path string)) *HistoryNavigator {
	return &HistoryNavigator{location: location, onChange: onChange}
}

// Location returns the current path.
func (n *HistoryNavigator) Location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.location
}

// Navigate moves to path.
func (n *HistoryNavigator) Navigate(path string) {
	n.mu.Lock()
	n.location = path
	n.history = append(n.history, path)
	cb := n.onChange
	n.mu.Unlock()

	if cb != nil {
		cb(path)
	}
}

// History returns every path navigated to, oldest first.
func (n *HistoryNavigator) History() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.history...)
}

var _ Navigator = (*HistoryNavigator)(nil)
