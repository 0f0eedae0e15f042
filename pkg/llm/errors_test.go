package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
)

func TestError_Error_WithStatusCode(t *testing.T) {
	err := &Error{
		Type:       ErrorTypeEndpoint,
		Message:    "server error",
		StatusCode: 503,
	}

	result := err.Error()
	if !strings.Contains(result, "HTTP 503") {
		t.Errorf("expected error message to contain 'HTTP 503', got: %s", result)
	}
	if !strings.Contains(result, "server error") {
		t.Errorf("expected error message to contain 'server error', got: %s", result)
	}
}

func TestClassifyError_APIErrorStatusCodes(t *testing.T) {
	tests := []struct {
		status    int
		wantType  ErrorType
		retryable bool
	}{
		{http.StatusNotFound, ErrorTypeNotFound, false},
		{http.StatusUnauthorized, ErrorTypeAuth, false},
		{http.StatusTooManyRequests, ErrorTypeRateLimit, true},
		{http.StatusBadGateway, ErrorTypeEndpoint, true},
		{http.StatusBadRequest, ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("HTTP %d", tt.status), func(t *testing.T) {
			apiErr := &openai.APIError{HTTPStatusCode: tt.status, Message: "boom"}

			got := ClassifyError(fmt.Errorf("wrapped: %w", apiErr))

			if got.Type != tt.wantType {
				t.Errorf("expected type %s, got %s", tt.wantType, got.Type)
			}
			if got.Retryable != tt.retryable {
				t.Errorf("expected retryable=%v, got %v", tt.retryable, got.Retryable)
			}
			if got.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, got.StatusCode)
			}
		})
	}
}

func TestClassifyError_RequestError(t *testing.T) {
	reqErr := &openai.RequestError{HTTPStatusCode: http.StatusNotFound, Err: errors.New("not found")}

	if !IsResourceGone(ClassifyError(reqErr)) {
		t.Error("expected RequestError with 404 to be classified as resource gone")
	}
}

func TestIsResourceGone_OnlyForNotFound(t *testing.T) {
	notFound := fmt.Errorf("retrieve assistant: %w", ClassifyError(&openai.APIError{HTTPStatusCode: 404}))
	serverErr := fmt.Errorf("retrieve assistant: %w", ClassifyError(&openai.APIError{HTTPStatusCode: 500}))

	if !IsResourceGone(notFound) {
		t.Error("expected wrapped 404 to match ErrResourceGone")
	}
	if IsResourceGone(serverErr) {
		t.Error("expected 500 not to match ErrResourceGone")
	}
	if IsResourceGone(errors.New("dial tcp: connection refused")) {
		t.Error("expected unclassified error not to match ErrResourceGone")
	}
}

func TestClassifyError_MessageFallback(t *testing.T) {
	tests := []struct {
		msg      string
		wantType ErrorType
	}{
		{"Incorrect API key provided: invalid api key", ErrorTypeAuth},
		{"dial tcp 127.0.0.1:443: connection refused", ErrorTypeEndpoint},
		{"context deadline exceeded", ErrorTypeEndpoint},
		{"Rate limit reached for requests", ErrorTypeRateLimit},
		{"something odd", ErrorTypeUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyError(errors.New(tt.msg)); got.Type != tt.wantType {
			t.Errorf("ClassifyError(%q).Type = %s, want %s", tt.msg, got.Type, tt.wantType)
		}
	}
}

func TestClassifyError_PassesThroughClassified(t *testing.T) {
	original := NewError(ErrorTypeAuth, "bad key", false, nil)

	if got := ClassifyError(fmt.Errorf("op: %w", original)); got != original {
		t.Error("expected an already classified error to be returned unchanged")
	}
	if ClassifyError(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewError(ErrorTypeRateLimit, "rate limited", true, nil)) {
		t.Error("expected rate limit error to be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("expected plain error to not be retryable")
	}
}
