package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// TestResult reports whether a credential can reach the assistant model.
type TestResult struct {
	Success        bool      `json:"success"`
	Message        string    `json:"message"`
	Model          string    `json:"model"`
	ErrorType      ErrorType `json:"error_type,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms"`
}

// CredentialTester checks an API key before it is relied on.
// This interface enables mocking in tests.
type CredentialTester interface {
	Test(ctx context.Context, apiKey string) *TestResult
}

type credentialTester struct {
	baseURL string
	model   string
	timeout time.Duration
}

var _ CredentialTester = (*credentialTester)(nil)

// NewCredentialTester creates a tester that looks up model with the key.
// The lookup is free and fails the same way an assistant call would for a
// bad key or an unavailable model.
func NewCredentialTester(baseURL, model string) CredentialTester {
	return &credentialTester{baseURL: baseURL, model: model, timeout: 15 * time.Second}
}

func (t *credentialTester) Test(ctx context.Context, apiKey string) *TestResult {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cfg := openai.DefaultConfig(apiKey)
	if t.baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(t.baseURL, "/")
	}
	client := openai.NewClientWithConfig(cfg)

	start := time.Now()
	_, err := client.GetModel(ctx, t.model)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		classified := ClassifyError(err)
		return &TestResult{
			Message:        testFailureMessage(classified, t.model),
			Model:          t.model,
			ErrorType:      classified.Type,
			ResponseTimeMs: elapsed,
		}
	}

	return &TestResult{
		Success:        true,
		Message:        fmt.Sprintf("API key works with %s (%dms)", t.model, elapsed),
		Model:          t.model,
		ResponseTimeMs: elapsed,
	}
}

func testFailureMessage(err *Error, model string) string {
	switch err.Type {
	case ErrorTypeAuth:
		return "Invalid API key"
	case ErrorTypeNotFound:
		return fmt.Sprintf("Model %s is not available for this API key", model)
	case ErrorTypeEndpoint:
		return "Connection failed - check the provider base URL"
	case ErrorTypeRateLimit:
		return "Rate limited by the provider - try again shortly"
	default:
		return "Provider error: " + err.Message
	}
}
