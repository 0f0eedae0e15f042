package llm

import (
	"context"
	"sync"

	"github.com/tiktoken-go/tokenizer"
	"go.uber.org/zap"
)

// UsageSource records where a usage figure came from.
type UsageSource string

const (
	UsageFromRun     UsageSource = "run"
	UsageEstimated   UsageSource = "estimated"
	UsageUnavailable UsageSource = "unavailable"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

// EstimateTokens counts cl100k tokens in text. It falls back to a
// four-characters-per-token approximation if the codec cannot load.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	if codecErr != nil {
		return (len(text) + 3) / 4
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(ids)
}

// ResolveUsage returns the run's own usage when present. Otherwise it looks
// for the message the run created and estimates its completion tokens.
// Failures along the fallback path yield zero usage, never an error.
func ResolveUsage(ctx context.Context, provider AssistantsProvider, run *Run, logger *zap.Logger) (Usage, UsageSource) {
	if run == nil {
		return Usage{}, UsageUnavailable
	}
	if !run.Usage.IsZero() {
		return run.Usage, UsageFromRun
	}

	steps, err := provider.ListRunSteps(ctx, run.ThreadID, run.ID)
	if err != nil {
		logger.Debug("Run steps unavailable for usage fallback",
			zap.String("run_id", run.ID),
			zap.Error(err))
		return Usage{}, UsageUnavailable
	}

	for _, step := range steps {
		if step.Type != RunStepTypeMessageCreation || step.MessageID == "" {
			continue
		}
		msg, err := provider.RetrieveMessage(ctx, run.ThreadID, step.MessageID)
		if err != nil {
			logger.Debug("Created message unavailable for usage fallback",
				zap.String("run_id", run.ID),
				zap.String("message_id", step.MessageID),
				zap.Error(err))
			return Usage{}, UsageUnavailable
		}
		completion := EstimateTokens(msg.Text)
		return Usage{CompletionTokens: completion, TotalTokens: completion}, UsageEstimated
	}

	return Usage{}, UsageUnavailable
}
