package llm

import (
	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/metrics"
)

// OpenAIProviderFactory builds OpenAI-backed providers that share one circuit breaker.
type OpenAIProviderFactory struct {
	baseURL string
	breaker *CircuitBreaker
	logger  *zap.Logger
}

var _ ProviderFactory = (*OpenAIProviderFactory)(nil)

// NewOpenAIProviderFactory creates a factory. An empty baseURL uses the public
// OpenAI endpoint. Breaker transitions are logged and exported as metrics.
func NewOpenAIProviderFactory(baseURL string, breakerCfg CircuitBreakerConfig, logger *zap.Logger) *OpenAIProviderFactory {
	logger = logger.Named("llm")
	breakerCfg.OnStateChange = func(from, to CircuitState) {
		metrics.RecordCircuitTransition(to.String())
		logger.Warn("Provider circuit breaker changed state",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
	return &OpenAIProviderFactory{
		baseURL: baseURL,
		breaker: NewCircuitBreaker(breakerCfg),
		logger:  logger,
	}
}

// ForCredential returns a provider bound to apiKey. The value is never
// mutated afterwards, so a key rotation only affects providers built later.
func (f *OpenAIProviderFactory) ForCredential(apiKey string) AssistantsProvider {
	return NewOpenAIProvider(apiKey, f.baseURL, f.breaker, f.logger)
}

// Breaker exposes the shared circuit breaker for health reporting.
func (f *OpenAIProviderFactory) Breaker() *CircuitBreaker {
	return f.breaker
}
