// Package errhandler maps transport failures into a closed taxonomy and
// applies a presentation policy per category.
//
// Classify is pure and usable without a Handler. A Handler is the terminal
// sink for errors the caller decided not to handle itself: it logs, reports,
// notifies, and on 401 tears down the session.
package errhandler

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/Sternrassler/taskflow-client/pkg/client"
)

// Error codes.
const (
	CodeNetworkError       = "NETWORK_ERROR"
	CodeBadRequest         = "BAD_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeRateLimit          = "RATE_LIMIT"
	CodeServerError        = "SERVER_ERROR"
	CodeBadGateway         = "BAD_GATEWAY"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeGatewayTimeout     = "GATEWAY_TIMEOUT"
	CodeUnknownError       = "UNKNOWN_ERROR"
)

type statusDefault struct {
	code    string
	message string
}

var defaults = map[int]statusDefault{
	0:                              {CodeNetworkError, "Network connection failed, please check your network settings"},
	http.StatusBadRequest:          {CodeBadRequest, "Invalid request parameters"},
	http.StatusUnauthorized:        {CodeUnauthorized, "Not logged in or session expired"},
	http.StatusForbidden:           {CodeForbidden, "Permission denied"},
	http.StatusNotFound:            {CodeNotFound, "The requested resource does not exist"},
	http.StatusUnprocessableEntity: {CodeValidationError, "Data validation failed"},
	http.StatusTooManyRequests:     {CodeRateLimit, "Too many requests"},
	http.StatusInternalServerError: {CodeServerError, "Internal server error"},
	http.StatusBadGateway:          {CodeBadGateway, "Bad gateway"},
	http.StatusServiceUnavailable:  {CodeServiceUnavailable, "Service temporarily unavailable"},
	http.StatusGatewayTimeout:      {CodeGatewayTimeout, "Gateway timeout"},
}

var unknown = statusDefault{CodeUnknownError, "Unknown error"}

// DefaultCode returns the table code for status.
func DefaultCode(status int) string {
	if d, ok := defaults[status]; ok {
		return d.code
	}
	return unknown.code
}

// DefaultMessage returns the table message for status.
func DefaultMessage(status int) string {
	if d, ok := defaults[status]; ok {
		return d.message
	}
	return unknown.message
}

// ClassifiedError is the normalized form of a transport failure.
type ClassifiedError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`

	// Details is a field map (map[string]any), the raw response text
	// (string), or nil.
	Details any `json:"details"`

	Timestamp string `json:"timestamp"`
}

// Error implements the error interface.
func (e ClassifiedError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// FieldMessages flattens a field map in Details into its messages, ordered by
// field name. It returns nil when Details is not a field map.
func (e ClassifiedError) FieldMessages() []string {
	fields, ok := e.Details.(map[string]any)
	if !ok || len(fields) == 0 {
		return nil
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		switch v := fields[name].(type) {
		case string:
			out = append(out, v)
		case []string:
			out = append(out, v...)
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

// Retryable reports whether the category is worth an automatic retry:
// network failures, 429 and 5xx.
func (e ClassifiedError) Retryable() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Classify maps err into a ClassifiedError.
//
//   - No response (network failure, cancellation, or any error that is not a
//     *client.Error): status 0, NETWORK_ERROR.
//   - Business failure (success=false in a 2xx): status 400, the server code
//     or BAD_REQUEST.
//   - Otherwise the HTTP status, with the server code and message preferred
//     over the table defaults. Unlisted statuses get UNKNOWN_ERROR.
func Classify(err error) ClassifiedError {
	now := time.Now().UTC().Format(time.RFC3339)

	var e *client.Error
	if !errors.As(err, &e) || e.Kind == client.KindNetwork || e.Status == 0 {
		ce := ClassifiedError{
			Status:    0,
			Code:      CodeNetworkError,
			Message:   DefaultMessage(0),
			Timestamp: now,
		}
		if err != nil {
			ce.Details = rootCause(err).Error()
		}
		return ce
	}

	status := e.Status
	if e.Kind == client.KindBusiness {
		status = http.StatusBadRequest
	}

	ce := ClassifiedError{
		Status:    status,
		Code:      e.Code,
		Message:   e.Message,
		Timestamp: e.Timestamp,
	}
	if ce.Code == "" {
		ce.Code = DefaultCode(status)
	}
	// The transport falls back to the HTTP status text when the server sent
	// no message; that is not a server message.
	if ce.Message == "" || (e.Kind != client.KindBusiness && ce.Message == http.StatusText(e.Status)) {
		ce.Message = DefaultMessage(status)
	}
	if ce.Timestamp == "" {
		ce.Timestamp = now
	}

	switch {
	case len(e.Details) > 0:
		ce.Details = e.Details
	case e.Body != "":
		ce.Details = e.Body
	}
	return ce
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
