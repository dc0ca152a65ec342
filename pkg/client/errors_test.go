package client

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_Retryable(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want bool
	}{
		{"network", &Error{Kind: KindNetwork}, true},
		{"500", &Error{Kind: KindAPI, Status: 500}, true},
		{"503", &Error{Kind: KindAPI, Status: 503}, true},
		{"404", &Error{Kind: KindAPI, Status: 404}, false},
		{"429", &Error{Kind: KindAPI, Status: 429}, false},
		{"401", &Error{Kind: KindAuth, Status: 401}, false},
		{"422", &Error{Kind: KindValidation, Status: 422}, false},
		{"business", &Error{Kind: KindBusiness, Status: 200}, false},
		{"malformed", &Error{Kind: KindMalformed, Status: 200}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  &Error{Kind: KindAPI, Status: 404, Message: "Task not found"},
			want: "api error (status 404): Task not found",
		},
		{
			name: "with cause",
			err:  &Error{Kind: KindNetwork, Message: "network error", Err: errors.New("connection refused")},
			want: "network error (status 0): network error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &Error{Kind: KindNetwork, Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if (&Error{}).Unwrap() != nil {
		t.Error("Unwrap() of an Error without cause should be nil")
	}
}

func TestAsError_ThroughWrapping(t *testing.T) {
	inner := &Error{Kind: KindAPI, Status: http.StatusBadGateway}
	wrapped := fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, 3, inner)

	e, ok := AsError(wrapped)
	if !ok || e != inner {
		t.Fatalf("AsError() = %v, %v", e, ok)
	}
	if StatusOf(wrapped) != http.StatusBadGateway {
		t.Errorf("StatusOf() = %d, want 502", StatusOf(wrapped))
	}
	if StatusOf(errors.New("plain")) != 0 {
		t.Error("StatusOf() of a plain error should be 0")
	}
}

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{401, KindAuth},
		{403, KindAuth},
		{422, KindValidation},
		{400, KindAPI},
		{404, KindAPI},
		{500, KindAPI},
	}
	for _, tt := range tests {
		if got := kindForStatus(tt.status); got != tt.want {
			t.Errorf("kindForStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"plain error", errors.New("x"), ErrorClassNetwork},
		{"network", &Error{Kind: KindNetwork}, ErrorClassNetwork},
		{"business", &Error{Kind: KindBusiness, Status: 200}, ErrorClassBusiness},
		{"malformed", &Error{Kind: KindMalformed, Status: 200}, ErrorClassMalformed},
		{"rate limit", &Error{Kind: KindAPI, Status: 429}, ErrorClassRateLimit},
		{"server", &Error{Kind: KindAPI, Status: 502}, ErrorClassServer},
		{"client", &Error{Kind: KindAPI, Status: 404}, ErrorClassClient},
		{"auth", &Error{Kind: KindAuth, Status: 401}, ErrorClassClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify() = %q, want %q", got, tt.want)
			}
		})
	}
}
