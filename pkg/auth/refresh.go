package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/taskflow-client/pkg/envelope"
)

var (
	// ErrNoRefreshToken indicates there is no refresh token to exchange.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrRefreshFailed indicates the refresh exchange did not yield an access token.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// RefreshPath is the token refresh endpoint relative to the API base.
const RefreshPath = "/auth/token/refresh/"

// RequestIDHeader carries a fresh UUID on every refresh exchange.
const RequestIDHeader = "X-Request-ID"

var tokenRefreshes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskflow_token_refreshes_total",
		Help: "Total number of token refresh exchanges by result",
	},
	[]string{"result"}, // "success", "failure", "no_token"
)

// State is the refresh coordinator state.
type State int

const (
	// StateIdle means no exchange has run yet.
	StateIdle State = iota

	// StateRefreshing means an exchange is in flight.
	StateRefreshing

	// StateSucceeded means the last exchange stored a new access token.
	StateSucceeded

	// StateFailed means the last exchange failed and credentials were purged.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RefresherConfig configures NewRefresher.
type RefresherConfig struct {
	// BaseURL is the API base (e.g. http://127.0.0.1:8000/api).
	BaseURL string

	// Store holds the credentials.
	Store *Store

	// Navigator receives the redirect to LoginPath on failure. Optional.
	Navigator Navigator

	// HTTPClient performs the exchange (default: 10s timeout client).
	HTTPClient *http.Client

	// Logger for refresh events.
	Logger zerolog.Logger
}

// Refresher exchanges the refresh token for a new access token. Concurrent
// callers share one in-flight exchange.
type Refresher struct {
	baseURL    string
	store      *Store
	navigator  Navigator
	httpClient *http.Client
	logger     zerolog.Logger

	group singleflight.Group

	mu    sync.RWMutex
	state State
}

// NewRefresher creates a Refresher.
func NewRefresher(cfg RefresherConfig) (*Refresher, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Refresher{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		store:      cfg.Store,
		navigator:  cfg.Navigator,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}, nil
}

// State returns the current coordinator state.
func (r *Refresher) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Refresher) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Refresh returns a usable access token after staleAccess was rejected.
//
// If the stored access token already differs from staleAccess, another
// caller has refreshed and that token is returned without an exchange.
// Otherwise one exchange runs and every concurrent caller receives its
// result. On failure credentials are purged and the navigator is sent to
// LoginPath unless it is already there.
func (r *Refresher) Refresh(ctx context.Context, staleAccess string) (string, error) {
	if current := r.store.AccessToken(ctx); current != "" && current != staleAccess {
		return current, nil
	}

	v, err, shared := r.group.Do("refresh", func() (any, error) {
		// The exchange outlives any single caller's cancellation.
		return r.exchange(context.WithoutCancel(ctx), staleAccess)
	})
	if err != nil {
		return "", err
	}

	r.logger.Debug().Bool("shared", shared).Msg("Refresh result delivered")
	return v.(string), nil
}

func (r *Refresher) exchange(ctx context.Context, staleAccess string) (string, error) {
	// A caller that queued behind a completed exchange sees the new token.
	if current := r.store.AccessToken(ctx); current != "" && current != staleAccess {
		return current, nil
	}

	r.setState(StateRefreshing)

	creds, err := r.store.Credentials(ctx)
	if err != nil {
		return "", r.fail(ctx, err)
	}
	if creds.Refresh == "" {
		tokenRefreshes.WithLabelValues("no_token").Inc()
		return "", r.fail(ctx, ErrNoRefreshToken)
	}

	access, err := r.post(ctx, creds.Refresh)
	if err != nil {
		tokenRefreshes.WithLabelValues("failure").Inc()
		return "", r.fail(ctx, err)
	}

	if err := r.store.SetAccess(ctx, access); err != nil {
		tokenRefreshes.WithLabelValues("failure").Inc()
		return "", r.fail(ctx, err)
	}

	tokenRefreshes.WithLabelValues("success").Inc()
	r.setState(StateSucceeded)
	r.logger.Info().Msg("Access token refreshed")
	return access, nil
}

func (r *Refresher) post(ctx context.Context, refresh string) (string, error) {
	body, err := json.Marshal(map[string]string{"refresh": refresh})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrRefreshFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+RefreshPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", ErrRefreshFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrRefreshFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrRefreshFailed, resp.StatusCode)
	}

	access, err := parseAccess(raw)
	if err != nil {
		return "", err
	}
	return access, nil
}

// parseAccess accepts the enveloped shape {success, data: {access}} and the
// legacy bare shape {access}.
func parseAccess(raw []byte) (string, error) {
	decoded, err := envelope.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	var payload struct {
		Access string `json:"access"`
	}
	switch decoded.Kind {
	case envelope.KindEnvelope:
		if !decoded.Envelope.Success || len(decoded.Envelope.Data) == 0 {
			return "", fmt.Errorf("%w: %s", ErrRefreshFailed, decoded.Envelope.Message)
		}
		if err := json.Unmarshal(decoded.Envelope.Data, &payload); err != nil {
			return "", fmt.Errorf("%w: decode data: %v", ErrRefreshFailed, err)
		}
	case envelope.KindRaw:
		if err := json.Unmarshal(decoded.Raw, &payload); err != nil {
			return "", fmt.Errorf("%w: decode body: %v", ErrRefreshFailed, err)
		}
	default:
		return "", fmt.Errorf("%w: empty response", ErrRefreshFailed)
	}

	if payload.Access == "" {
		return "", fmt.Errorf("%w: response has no access token", ErrRefreshFailed)
	}
	return payload.Access, nil
}

// fail purges credentials, redirects to login and returns cause.
func (r *Refresher) fail(ctx context.Context, cause error) error {
	r.setState(StateFailed)
	r.logger.Error().Err(cause).Msg("Token refresh failed, clearing credentials")

	if err := r.store.Purge(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Purging credentials failed")
	}
	if r.navigator != nil && r.navigator.Location() != LoginPath {
		r.navigator.Navigate(LoginPath)
	}
	return cause
}
