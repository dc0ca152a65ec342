package errhandler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/taskflow-client/pkg/auth"
)

var (
	handledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_errors_handled_total",
		Help: "Total errors handled by code",
	}, []string{"code"})

	autoRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_error_auto_retries_total",
		Help: "Total automatic retries by code",
	}, []string{"code"})
)

// Level is the severity of a notification.
type Level string

const (
	LevelNegative Level = "negative"
	LevelWarning  Level = "warning"
)

// Action is a button offered with a notification.
type Action string

const (
	// ActionReload asks the user to reload and try again.
	ActionReload Action = "reload"

	// ActionDismiss closes the notification.
	ActionDismiss Action = "dismiss"
)

// Notification is a transient message shown to the user.
type Notification struct {
	Level   Level
	Message string
	Icon    string

	// Timeout is how long the notification stays; 0 means until dismissed.
	Timeout time.Duration

	Actions []Action
}

// Dialog is a modal message that requires acknowledgement.
type Dialog struct {
	Title      string
	Message    string
	OK         string
	Persistent bool
}

// Notifier presents notifications and dialogs.
type Notifier interface {
	Notify(n Notification)
	Dialog(d Dialog)
}

// Purger removes local credentials. *auth.Store implements it.
type Purger interface {
	Purge(ctx context.Context) error
}

// Reporter forwards errors to a monitoring service.
type Reporter interface {
	Report(ctx context.Context, ce ClassifiedError, err error)
}

// Config configures New.
type Config struct {
	// Notifier receives notifications. Nil disables presentation.
	Notifier Notifier

	// Navigator is sent to auth.LoginPath on 401. Optional.
	Navigator auth.Navigator

	// Credentials are purged on 401. Optional.
	Credentials Purger

	// Reporter receives network, 5xx and unknown errors. Optional.
	Reporter Reporter

	Logger zerolog.Logger
}

// Default auto-retry settings.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

type options struct {
	notify     bool
	dialog     bool
	maxRetries int
	retryDelay time.Duration
}

// Option adjusts one Handle or Retry call.
type Option func(*options)

// WithoutNotification suppresses notifications (401 is still announced).
func WithoutNotification() Option {
	return func(o *options) { o.notify = false }
}

// WithDialog presents 403 as a dialog instead of a notification.
func WithDialog() Option {
	return func(o *options) { o.dialog = true }
}

// WithAutoRetry sets the Retry budget: at most max retries, the n-th after
// n*delay.
func WithAutoRetry(max int, delay time.Duration) Option {
	return func(o *options) {
		o.maxRetries = max
		o.retryDelay = delay
	}
}

func buildOptions(opts []Option) options {
	o := options{
		notify:     true,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Handler applies the presentation policy to classified errors.
type Handler struct {
	notifier  Notifier
	navigator auth.Navigator
	creds     Purger
	reporter  Reporter
	logger    zerolog.Logger

	mu      sync.Mutex
	retries map[string]int
}

// New creates a Handler.
func New(cfg Config) *Handler {
	return &Handler{
		notifier:  cfg.Notifier,
		navigator: cfg.Navigator,
		creds:     cfg.Credentials,
		reporter:  cfg.Reporter,
		logger:    cfg.Logger,
		retries:   make(map[string]int),
	}
}

// Handle classifies err, logs it, reports it and dispatches it by status.
// It never panics.
func (h *Handler) Handle(ctx context.Context, err error, opts ...Option) ClassifiedError {
	ce := Classify(err)
	o := buildOptions(opts)

	h.log(ce, err)
	handledTotal.WithLabelValues(ce.Code).Inc()

	if h.reporter != nil && (ce.Status == 0 || ce.Status >= 500 || ce.Code == CodeUnknownError) {
		h.safely("report", func() { h.reporter.Report(ctx, ce, err) })
	}

	h.dispatch(ctx, ce, o)
	return ce
}

func (h *Handler) log(ce ClassifiedError, err error) {
	ev := h.logger.Warn()
	if ce.Status == 0 || ce.Status >= 500 {
		ev = h.logger.Error()
	}
	ev.Err(err).
		Int("status", ce.Status).
		Str("code", ce.Code).
		Str("error_message", ce.Message).
		Str("timestamp", ce.Timestamp).
		Msg("API error")
}

func (h *Handler) dispatch(ctx context.Context, ce ClassifiedError, o options) {
	switch ce.Status {
	case 0:
		h.notify(o, Notification{
			Level:   LevelNegative,
			Message: ce.Message,
			Icon:    "wifi_off",
			Timeout: 0,
			Actions: []Action{ActionReload, ActionDismiss},
		})

	case http.StatusBadRequest:
		h.notify(o, Notification{Level: LevelWarning, Message: ce.Message, Icon: "warning", Timeout: 4 * time.Second})

	case http.StatusUnauthorized:
		h.unauthorized(ctx)

	case http.StatusForbidden:
		if o.dialog {
			h.dialog(Dialog{Title: "Permission denied", Message: ce.Message, OK: "OK", Persistent: true})
			return
		}
		h.notify(o, Notification{Level: LevelNegative, Message: ce.Message, Icon: "lock", Timeout: 4 * time.Second})

	case http.StatusNotFound:
		h.notify(o, Notification{Level: LevelWarning, Message: DefaultMessage(http.StatusNotFound), Icon: "search_off", Timeout: 4 * time.Second})

	case http.StatusUnprocessableEntity:
		msgs := ce.FieldMessages()
		if len(msgs) == 0 {
			msgs = []string{ce.Message}
		}
		for _, m := range msgs {
			h.notify(o, Notification{Level: LevelWarning, Message: m, Icon: "warning", Timeout: 4 * time.Second})
		}

	case http.StatusTooManyRequests:
		h.notify(o, Notification{Level: LevelWarning, Message: "Too many requests, please try again later", Icon: "hourglass_empty", Timeout: 5 * time.Second})

	case http.StatusInternalServerError:
		h.notify(o, Notification{
			Level:   LevelNegative,
			Message: "The server encountered an error, please try again later",
			Icon:    "cloud_off",
			Timeout: 5 * time.Second,
			Actions: []Action{ActionReload},
		})

	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		h.notify(o, Notification{
			Level:   LevelNegative,
			Message: "The service is temporarily unavailable, please try again later",
			Icon:    "cloud_off",
			Timeout: 8 * time.Second,
			Actions: []Action{ActionReload},
		})

	default:
		h.notify(o, Notification{Level: LevelNegative, Message: ce.Message, Icon: "error", Timeout: 4 * time.Second})
	}
}

// unauthorized announces the expired session, purges credentials and
// redirects to login.
func (h *Handler) unauthorized(ctx context.Context) {
	if h.notifier != nil {
		h.safely("notify", func() {
			h.notifier.Notify(Notification{
				Level:   LevelNegative,
				Message: "Your session has expired, please log in again",
				Icon:    "login",
				Timeout: 3 * time.Second,
			})
		})
	}
	if h.creds != nil {
		h.safely("purge", func() {
			if err := h.creds.Purge(ctx); err != nil {
				h.logger.Warn().Err(err).Msg("Purging credentials failed")
			}
		})
	}
	if h.navigator != nil && h.navigator.Location() != auth.LoginPath {
		h.safely("navigate", func() { h.navigator.Navigate(auth.LoginPath) })
	}
}

func (h *Handler) notify(o options, n Notification) {
	if !o.notify || h.notifier == nil {
		return
	}
	h.safely("notify", func() { h.notifier.Notify(n) })
}

func (h *Handler) dialog(d Dialog) {
	if h.notifier == nil {
		return
	}
	h.safely("dialog", func() { h.notifier.Dialog(d) })
}

// safely runs a presentation callback, recovering and logging panics.
func (h *Handler) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Str("callback", what).Str("panic", fmt.Sprint(r)).Msg("Error presentation callback panicked")
		}
	}()
	fn()
}

// Retry runs op, retrying network, 429 and 5xx failures. Retries for id are
// counted across concurrent calls; the n-th retry waits n times the retry
// delay. When the budget is spent or the failure is not retryable, the last
// error is passed to Handle and returned.
func (h *Handler) Retry(ctx context.Context, id string, op func(context.Context) error, opts ...Option) error {
	o := buildOptions(opts)
	defer h.resetRetries(id)

	for {
		err := op(ctx)
		if err == nil {
			return nil
		}

		ce := Classify(err)
		if !ce.Retryable() || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			h.Handle(ctx, err, opts...)
			return err
		}

		n := h.nextRetry(id)
		if n > o.maxRetries {
			h.Handle(ctx, err, opts...)
			return err
		}

		autoRetriesTotal.WithLabelValues(ce.Code).Inc()
		delay := time.Duration(n) * o.retryDelay
		h.logger.Warn().
			Str("request_id", id).
			Str("code", ce.Code).
			Int("retry", n).
			Dur("delay", delay).
			Msg("Retrying failed request")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

func (h *Handler) nextRetry(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retries[id]++
	return h.retries[id]
}

func (h *Handler) resetRetries(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.retries, id)
}

// RetryCount returns the retries recorded for id by an in-flight Retry.
func (h *Handler) RetryCount(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.retries[id]
}
