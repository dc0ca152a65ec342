package errhandler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryReporter sends handled errors to Sentry.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter creates a reporter with its own Sentry client, leaving
// the global hub untouched.
func NewSentryReporter(opts sentry.ClientOptions) (*SentryReporter, error) {
	if opts.Dsn == "" {
		return nil, fmt.Errorf("sentry DSN is required")
	}
	c, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("create sentry client: %w", err)
	}
	return &SentryReporter{hub: sentry.NewHub(c, sentry.NewScope())}, nil
}

// Report captures err with the classification as tags and context.
func (r *SentryReporter) Report(ctx context.Context, ce ClassifiedError, err error) {
	if err == nil {
		err = ce
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_code", ce.Code)
		scope.SetTag("http_status", strconv.Itoa(ce.Status))
		scope.SetContext("api_error", sentry.Context{
			"status":    ce.Status,
			"code":      ce.Code,
			"message":   ce.Message,
			"details":   ce.Details,
			"timestamp": ce.Timestamp,
		})
		if ce.Status == 0 || ce.Status >= 500 {
			scope.SetLevel(sentry.LevelError)
		} else {
			scope.SetLevel(sentry.LevelWarning)
		}
		r.hub.CaptureException(err)
	})
}

// Flush waits up to timeout for queued events to be sent.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

var _ Reporter = (*SentryReporter)(nil)
