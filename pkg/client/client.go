// Package client provides the single outbound HTTP transport for the
// TaskFlow API: bearer authentication, request IDs, envelope unwrapping,
// a uniform failure type, retry, and 401 refresh-and-replay.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sternrassler/taskflow-client/pkg/auth"
	"github.com/Sternrassler/taskflow-client/pkg/envelope"
	"github.com/Sternrassler/taskflow-client/pkg/ratelimit"
)

// Prometheus metrics for transport operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_requests_total",
		Help: "Total API requests by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskflow_request_duration_seconds",
		Help:    "API request duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})

	authReplaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_auth_replays_total",
		Help: "Total requests replayed after a 401 by refresh result",
	}, []string{"result"})
)

const tracerName = "github.com/Sternrassler/taskflow-client/pkg/client"

// DefaultBaseURL is the API base used when none is configured.
const DefaultBaseURL = "http://127.0.0.1:8000/api"

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API base, e.g. http://127.0.0.1:8000/api.
	BaseURL string

	// Timeout bounds each attempt (default 10s). Ignored when HTTPClient is set.
	Timeout time.Duration

	// HTTPClient overrides the underlying client.
	HTTPClient *http.Client

	// Credentials supplies the bearer token (REQUIRED).
	Credentials *auth.Store

	// Refresher handles 401 responses. Nil disables refresh-and-replay.
	Refresher *auth.Refresher

	// Retry is the default retry policy for every request.
	Retry RetryPolicy

	// RateLimiter gates requests during server cooldowns. Optional.
	RateLimiter *ratelimit.Tracker

	// RequestIDHeader carries the per-request UUID (default X-Request-ID).
	RequestIDHeader string

	// UserAgent is sent on every request.
	UserAgent string

	// Logger for transport events.
	Logger zerolog.Logger
}

// DefaultConfig returns a configuration with the standard defaults.
func DefaultConfig(creds *auth.Store) Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		Timeout:         10 * time.Second,
		Credentials:     creds,
		Retry:           DefaultRetryPolicy(),
		RequestIDHeader: auth.RequestIDHeader,
		UserAgent:       "taskflow-client/1.0",
	}
}

// Client is the API transport.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	creds       *auth.Store
	refresher   *auth.Refresher
	retry       RetryPolicy
	rateLimiter *ratelimit.Tracker
	requestID   string
	userAgent   string
	tracer      trace.Tracer
	logger      zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %s)", cfg.Timeout)
	}
	if cfg.Retry.MaxAttempts < 0 {
		return nil, fmt.Errorf("retry max attempts must be >= 0 (got %d)", cfg.Retry.MaxAttempts)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	requestID := cfg.RequestIDHeader
	if requestID == "" {
		requestID = "X-Request-ID"
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  httpClient,
		creds:       cfg.Credentials,
		refresher:   cfg.Refresher,
		retry:       cfg.Retry,
		rateLimiter: cfg.RateLimiter,
		requestID:   requestID,
		userAgent:   cfg.UserAgent,
		tracer:      otel.Tracer(tracerName),
		logger:      cfg.Logger,
	}, nil
}

// BaseURL returns the configured API base.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request describes one API call.
type Request struct {
	Method string

	// Path is relative to the base URL, e.g. "/tasks/".
	Path string

	Query url.Values

	// Body is JSON-encoded. json.RawMessage and []byte are sent as is.
	Body any

	// Header adds request headers.
	Header http.Header

	// Retry overrides the client's retry policy.
	Retry *RetryPolicy

	// SkipRefresh returns a 401 as is instead of refreshing.
	SkipRefresh bool
}

// Response is a successful API response.
type Response struct {
	Status int

	// Data is the envelope data, or the whole body for non-enveloped JSON.
	Data json.RawMessage

	// Meta and Message are the envelope side channel.
	Meta    envelope.Meta
	Message string

	Timestamp string
	Header    http.Header
	RequestID string
}

// Do sends req. A 401 triggers one token refresh and one replay.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Message: "request body not serializable", Err: err}
	}

	resp, sentAccess, err := c.sendWithRetry(ctx, req, body)
	if err == nil {
		return resp, nil
	}

	e, ok := AsError(err)
	if !ok || e.Status != http.StatusUnauthorized || req.SkipRefresh || c.refresher == nil {
		return nil, err
	}

	c.logger.Debug().Str("method", req.Method).Str("path", req.Path).Msg("Access token rejected, refreshing")

	if _, rerr := c.refresher.Refresh(ctx, sentAccess); rerr != nil {
		authReplaysTotal.WithLabelValues("refresh_failed").Inc()
		e.Err = rerr
		return nil, e
	}

	// Replay exactly once; a second 401 is returned as is.
	authReplaysTotal.WithLabelValues("replayed").Inc()
	resp, _, err = c.sendWithRetry(ctx, req, body)
	return resp, err
}

func (c *Client) sendWithRetry(ctx context.Context, req Request, body []byte) (*Response, string, error) {
	policy := c.retry
	if req.Retry != nil {
		policy = *req.Retry
	}

	var (
		resp       *Response
		sentAccess string
	)
	err := retryWithBackoff(ctx, policy, policy.attemptsFor(req.Method), c.logger, func() error {
		var err error
		resp, sentAccess, err = c.send(ctx, req, body)
		return err
	})
	if err != nil {
		return nil, sentAccess, err
	}
	return resp, sentAccess, nil
}

// send performs one attempt and returns the access token it carried.
func (c *Client) send(ctx context.Context, req Request, body []byte) (*Response, string, error) {
	requestID := uuid.NewString()

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Allow(ctx); err != nil {
			var cd *ratelimit.CooldownError
			if errors.As(err, &cd) {
				requestsTotal.WithLabelValues(req.Method, "rate_limited").Inc()
				return nil, "", &Error{
					Kind:      KindAPI,
					Status:    http.StatusTooManyRequests,
					Message:   cd.Error(),
					RequestID: requestID,
					Err:       err,
				}
			}
			return nil, "", &Error{Kind: KindNetwork, Message: "request cancelled", RequestID: requestID, Err: err}
		}
	}

	ctx, span := c.tracer.Start(ctx, "taskflow.request", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.route", req.Path),
		attribute.String("request.id", requestID),
	))
	defer span.End()

	httpReq, err := c.newHTTPRequest(ctx, req, body)
	if err != nil {
		return nil, "", &Error{Kind: KindNetwork, Message: "invalid request", RequestID: requestID, Err: err}
	}

	access := c.creds.AccessToken(ctx)
	if access != "" {
		httpReq.Header.Set("Authorization", "Bearer "+access)
	}
	httpReq.Header.Set(c.requestID, requestID)

	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.Path).
		Str("request_id", requestID).
		Msg("Executing API request")

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	requestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())

	if err != nil {
		e := &Error{Kind: KindNetwork, Message: "network error", RequestID: requestID, Err: err}
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(req.Method, "network_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "network error")
		c.logger.Warn().Err(err).Str("path", req.Path).Str("request_id", requestID).Msg("HTTP request failed")
		return nil, access, e
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		requestsTotal.WithLabelValues(req.Method, "network_error").Inc()
		return nil, access, &Error{Kind: KindNetwork, Status: 0, Message: "reading response failed", RequestID: requestID, Err: err}
	}

	status := httpResp.StatusCode
	span.SetAttributes(attribute.Int("http.status_code", status))
	requestsTotal.WithLabelValues(req.Method, strconv.Itoa(status)).Inc()

	if c.rateLimiter != nil {
		if err := c.rateLimiter.UpdateFromResponse(ctx, status, httpResp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	resp, err := decodeResponse(status, httpResp.Header, raw)
	if err != nil {
		e := err.(*Error)
		e.RequestID = requestID
		class := classify(e)
		errorsTotal.WithLabelValues(string(class)).Inc()
		span.SetStatus(codes.Error, e.Message)

		c.logger.Warn().
			Str("method", req.Method).
			Str("path", req.Path).
			Int("status", status).
			Str("code", e.Code).
			Str("error_class", string(class)).
			Str("request_id", requestID).
			Msg("API request error")
		return nil, access, e
	}

	resp.RequestID = requestID
	return resp, access, nil
}

func (c *Client) newHTTPRequest(ctx context.Context, req Request, body []byte) (*http.Request, error) {
	target := req.Path
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		if !strings.HasPrefix(target, "/") {
			target = "/" + target
		}
		target = c.baseURL + target
	}
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, err
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	return httpReq, nil
}

// decodeResponse turns a status and body into a Response or an *Error.
func decodeResponse(status int, header http.Header, raw []byte) (*Response, error) {
	decoded, derr := envelope.Decode(raw)

	if status >= 200 && status < 300 {
		if derr != nil {
			return nil, &Error{Kind: KindMalformed, Status: status, Message: "malformed response", Body: string(raw), Err: derr}
		}
		switch decoded.Kind {
		case envelope.KindEmpty:
			return &Response{Status: status, Header: header}, nil
		case envelope.KindRaw:
			return &Response{Status: status, Data: decoded.Raw, Header: header}, nil
		}

		env := decoded.Envelope
		if !env.Success {
			return nil, &Error{
				Kind:      KindBusiness,
				Status:    status,
				Code:      env.Code(),
				Message:   nonEmpty(env.Message, "operation failed"),
				Details:   env.Details(),
				Timestamp: env.Timestamp,
			}
		}
		return &Response{
			Status:    status,
			Data:      env.Data,
			Meta:      env.Meta,
			Message:   env.Message,
			Timestamp: env.Timestamp,
			Header:    header,
		}, nil
	}

	e := &Error{
		Kind:    kindForStatus(status),
		Status:  status,
		Message: nonEmpty(http.StatusText(status), "request failed"),
	}

	if derr != nil {
		text := strings.TrimSpace(string(raw))
		e.Body = text
		if text != "" && !strings.HasPrefix(text, "<") {
			e.Message = text
		}
		return nil, e
	}

	switch decoded.Kind {
	case envelope.KindEnvelope:
		env := decoded.Envelope
		e.Message = nonEmpty(env.Message, e.Message)
		e.Code = env.Code()
		e.Details = env.Details()
		e.Timestamp = env.Timestamp
	case envelope.KindRaw:
		applyRawError(e, decoded.Raw)
	}
	return nil, e
}

// applyRawError reads legacy error bodies: a JSON string, {"detail": ...},
// or a field map such as {"title": ["required"]}.
func applyRawError(e *Error, raw json.RawMessage) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		e.Message = nonEmpty(text, e.Message)
		return
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		e.Body = string(raw)
		return
	}
	if detail, ok := fields["detail"].(string); ok && detail != "" {
		e.Message = detail
		if code, ok := fields["code"].(string); ok {
			e.Code = code
		}
		return
	}
	if len(fields) > 0 {
		e.Details = fields
	}
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	default:
		return json.Marshal(body)
	}
}

func nonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body})
}

// Patch performs a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path})
}

// DecodeData decodes the response payload into T. An empty payload yields
// the zero value.
func DecodeData[T any](resp *Response) (T, error) {
	var v T
	if resp == nil || len(resp.Data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(resp.Data, &v); err != nil {
		return v, &Error{Kind: KindMalformed, Status: resp.Status, Message: "unexpected response data", RequestID: resp.RequestID, Err: err}
	}
	return v, nil
}

// GetJSON performs a GET and decodes the payload into T.
func GetJSON[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	resp, err := c.Get(ctx, path, query)
	if err != nil {
		var zero T
		return zero, err
	}
	return DecodeData[T](resp)
}
