package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/logging"
	"github.com/testdeck/testdeck-engine/pkg/metrics"
)

// teardownStep is one step of an ordered teardown plan. A failed non-fatal step
// is recorded and the plan continues; a failed fatal step stops it.
type teardownStep struct {
	name  string
	fatal bool
	run   func(ctx context.Context) error
}

// TeardownStepResult is the outcome of one executed step.
type TeardownStepResult struct {
	Step  string `json:"step"`
	Fatal bool   `json:"fatal"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// TeardownReport describes what an assistant deletion did.
type TeardownReport struct {
	ProjectID   string               `json:"project_id"`
	AssistantID string               `json:"assistant_id,omitempty"`
	Deleted     bool                 `json:"deleted"`
	Steps       []TeardownStepResult `json:"steps"`
}

// NonFatalErrors returns the messages of failed non-fatal steps.
func (r *TeardownReport) NonFatalErrors() []string {
	var out []string
	for _, s := range r.Steps {
		if !s.OK && !s.Fatal {
			out = append(out, s.Step+": "+s.Error)
		}
	}
	return out
}

// runTeardown executes steps in order, appending results to report.
func runTeardown(ctx context.Context, steps []teardownStep, report *TeardownReport, logger *zap.Logger) error {
	for _, step := range steps {
		err := step.run(ctx)
		result := TeardownStepResult{Step: step.name, Fatal: step.fatal, OK: err == nil}
		if err != nil {
			result.Error = logging.SanitizeError(err)
		}
		report.Steps = append(report.Steps, result)

		if err == nil {
			continue
		}

		metrics.RecordTeardownFailure(step.name)
		if step.fatal {
			logger.Error("Teardown step failed",
				zap.String("step", step.name),
				zap.String("error", result.Error))
			return fmt.Errorf("%s: %w", step.name, err)
		}
		logger.Warn("Teardown step failed, continuing",
			zap.String("step", step.name),
			zap.String("error", result.Error))
	}
	return nil
}
