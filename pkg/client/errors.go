package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// Kind identifies how a request failed.
type Kind string

const (
	// KindNetwork means no response was received (connection, timeout, cancel).
	KindNetwork Kind = "network"

	// KindBusiness means a 2xx response carried success=false.
	KindBusiness Kind = "business"

	// KindAPI means a non-2xx response.
	KindAPI Kind = "api"

	// KindValidation means a 422 response with field-level details.
	KindValidation Kind = "validation"

	// KindAuth means a 401 or 403 response.
	KindAuth Kind = "auth"

	// KindMalformed means the response body could not be decoded.
	KindMalformed Kind = "malformed"
)

// Error is the single failure type returned by the transport.
type Error struct {
	Kind Kind

	// Status is the HTTP status, 0 when no response was received.
	Status int

	// Code is the server error code (error.code), if any.
	Code string

	// Message is the server message, or a default for the status.
	Message string

	// Details carries error.details, or the field map of a bare error body.
	Details map[string]any

	// Body is the raw response text when it was not JSON.
	Body string

	// Timestamp is the server timestamp of an enveloped failure.
	Timestamp string

	// RequestID is the X-Request-ID sent with the request.
	RequestID string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (status %d): %s: %v", e.Kind, e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.Status, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient: no response or a 5xx.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || (e.Kind == KindAPI && e.Status >= 500)
}

// AsError returns the *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusOf returns the HTTP status of err, 0 when it carries none.
func StatusOf(err error) int {
	if e, ok := AsError(err); ok {
		return e.Status
	}
	return 0
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusUnprocessableEntity:
		return KindValidation
	default:
		return KindAPI
	}
}

// ErrorClass groups failures for metrics and retry logs.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and local cooldowns.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassBusiness represents success=false envelopes.
	ErrorClassBusiness ErrorClass = "business"

	// ErrorClassMalformed represents undecodable bodies.
	ErrorClassMalformed ErrorClass = "malformed"
)

// classify categorizes an error for observability.
func classify(err error) ErrorClass {
	e, ok := AsError(err)
	if !ok {
		return ErrorClassNetwork
	}
	switch {
	case e.Kind == KindNetwork:
		return ErrorClassNetwork
	case e.Kind == KindBusiness:
		return ErrorClassBusiness
	case e.Kind == KindMalformed:
		return ErrorClassMalformed
	case e.Status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case e.Status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}
