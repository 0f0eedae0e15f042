package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestTester(t *testing.T, handler http.HandlerFunc) CredentialTester {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCredentialTester(srv.URL+"/", "gpt-4o")
}

func TestCredentialTester_Success(t *testing.T) {
	tester := newTestTester(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gpt-4o", r.URL.Path)
		assert.Equal(t, "Bearer sk-good", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{"id": "gpt-4o", "object": "model", "owned_by": "openai"})
	})

	result := tester.Test(context.Background(), "sk-good")

	assert.True(t, result.Success)
	assert.Equal(t, "gpt-4o", result.Model)
	assert.Empty(t, result.ErrorType)
}

func TestCredentialTester_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantType ErrorType
		wantMsg  string
	}{
		{"bad key", http.StatusUnauthorized, ErrorTypeAuth, "Invalid API key"},
		{"model unavailable", http.StatusNotFound, ErrorTypeNotFound, "Model gpt-4o is not available for this API key"},
		{"rate limited", http.StatusTooManyRequests, ErrorTypeRateLimit, "Rate limited by the provider - try again shortly"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tester := newTestTester(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, notFoundBody("nope"))
			})

			result := tester.Test(context.Background(), "sk-bad-key-000000000000")

			assert.False(t, result.Success)
			assert.Equal(t, tt.wantType, result.ErrorType)
			assert.Equal(t, tt.wantMsg, result.Message)
			assert.NotContains(t, result.Message, "sk-bad-key")
		})
	}
}
