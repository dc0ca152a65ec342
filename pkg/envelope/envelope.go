// Package envelope implements the standardized response wrapper returned by
// every LingTaskFlow API endpoint.
//
// Wire shape:
//
//	{
//	  "success":   true,
//	  "message":   "OK",
//	  "data":      {...},
//	  "error":     {"code": "VALIDATION_ERROR", "details": {"title": ["required"]}},
//	  "meta":      {"pagination": {...}},
//	  "timestamp": "2024-01-01T00:00:00Z"
//	}
//
// Decode is the single place where a response body is inspected. It yields a
// tagged result (empty, envelope, raw JSON) or ErrMalformedEnvelope, so call
// sites never guess at the body's structure.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedEnvelope indicates a body that claims to be an envelope (or is
// not JSON at all) but cannot be decoded as one.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is the wire-level wrapper for every backend response.
type Envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Error     *ErrorBody      `json:"error"`
	Meta      Meta            `json:"meta"`
	Timestamp string          `json:"timestamp"`
}

// ErrorBody carries the machine-readable part of a failed envelope.
type ErrorBody struct {
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Kind tags the outcome of Decode.
type Kind int

const (
	// KindEmpty is an empty body (e.g. 204 No Content).
	KindEmpty Kind = iota
	// KindEnvelope is a standardized envelope.
	KindEnvelope
	// KindRaw is valid JSON that is not an envelope (legacy endpoints).
	KindRaw
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindEnvelope:
		return "envelope"
	case KindRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Decoded is the tagged result of Decode. Exactly one of Envelope or Raw is
// set, depending on Kind.
type Decoded struct {
	Kind     Kind
	Envelope *Envelope
	Raw      json.RawMessage
}

// Decode inspects a response body and classifies it.
func Decode(body []byte) (Decoded, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Decoded{Kind: KindEmpty}, nil
	}

	if !json.Valid(trimmed) {
		return Decoded{}, fmt.Errorf("%w: body is not valid JSON", ErrMalformedEnvelope)
	}

	if trimmed[0] != '{' {
		return Decoded{Kind: KindRaw, Raw: json.RawMessage(trimmed)}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	successRaw, ok := fields["success"]
	if !ok {
		return Decoded{Kind: KindRaw, Raw: json.RawMessage(trimmed)}, nil
	}

	var env Envelope
	if err := json.Unmarshal(successRaw, &env.Success); err != nil {
		return Decoded{}, fmt.Errorf("%w: success is not a boolean", ErrMalformedEnvelope)
	}
	if raw, ok := fields["message"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &env.Message); err != nil {
			return Decoded{}, fmt.Errorf("%w: message is not a string", ErrMalformedEnvelope)
		}
	}
	if raw, ok := fields["meta"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &env.Meta); err != nil {
			return Decoded{}, fmt.Errorf("%w: meta is not an object", ErrMalformedEnvelope)
		}
	}
	if raw, ok := fields["error"]; ok && !isNull(raw) {
		env.Error = &ErrorBody{}
		if err := json.Unmarshal(raw, env.Error); err != nil {
			return Decoded{}, fmt.Errorf("%w: error is not an object", ErrMalformedEnvelope)
		}
	}
	if raw, ok := fields["timestamp"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &env.Timestamp); err != nil {
			return Decoded{}, fmt.Errorf("%w: timestamp is not a string", ErrMalformedEnvelope)
		}
	}
	if raw, ok := fields["data"]; ok && !isNull(raw) {
		env.Data = raw
	}

	return Decoded{Kind: KindEnvelope, Envelope: &env}, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Details returns the field-level details of a failed envelope, or nil.
func (e *Envelope) Details() map[string]any {
	if e == nil || e.Error == nil {
		return nil
	}
	return e.Error.Details
}

// Code returns the error code of a failed envelope, or "".
func (e *Envelope) Code() string {
	if e == nil || e.Error == nil {
		return ""
	}
	return e.Error.Code
}

// OK builds a successful envelope around data.
func OK(data any, message string, meta Meta) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal envelope data: %w", err)
	}
	if meta == nil {
		meta = Meta{}
	}
	return Envelope{
		Success:   true,
		Message:   message,
		Data:      raw,
		Meta:      meta,
		Timestamp: now(),
	}, nil
}

// Fail builds a failed envelope.
func Fail(message, code string, details map[string]any) Envelope {
	return Envelope{
		Success:   false,
		Message:   message,
		Error:     &ErrorBody{Code: code, Details: details},
		Meta:      Meta{},
		Timestamp: now(),
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
