package llm

import (
	"context"
	"fmt"
	"time"
)

// PollConfig bounds WaitForRun.
type PollConfig struct {
	Interval time.Duration
	MaxWait  time.Duration
}

// DefaultPollConfig polls every second for up to two minutes.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval: time.Second,
		MaxWait:  120 * time.Second,
	}
}

// RunOutcomeKind tags how a run finished.
type RunOutcomeKind string

const (
	RunCompleted RunOutcomeKind = "completed"
	RunFailed    RunOutcomeKind = "failed"
	RunCancelled RunOutcomeKind = "cancelled"
	RunTimedOut  RunOutcomeKind = "timed_out"
)

// RunOutcome is the result of waiting for a run. Run holds the last observed state.
type RunOutcome struct {
	Kind   RunOutcomeKind
	Run    *Run
	Reason string
	Waited time.Duration
}

// Err converts a non-completed outcome into ErrRunFailed or ErrRunTimedOut.
func (o RunOutcome) Err() error {
	switch o.Kind {
	case RunCompleted:
		return nil
	case RunTimedOut:
		return fmt.Errorf("%w after %s", ErrRunTimedOut, o.Waited.Round(time.Millisecond))
	default:
		return fmt.Errorf("%w: %s", ErrRunFailed, o.Reason)
	}
}

// RunRetriever is the slice of AssistantsProvider that WaitForRun needs.
type RunRetriever interface {
	RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error)
}

// WaitForRun polls a run at a fixed interval until it reaches a terminal
// state or MaxWait elapses. Timeouts are reported as RunTimedOut, not as an
// error; the error return is reserved for retrieval failures and ctx cancellation.
func WaitForRun(ctx context.Context, runs RunRetriever, threadID, runID string, cfg PollConfig) (RunOutcome, error) {
	if cfg.Interval <= 0 || cfg.MaxWait <= 0 {
		cfg = DefaultPollConfig()
	}

	start := time.Now()
	for {
		run, err := runs.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			return RunOutcome{}, fmt.Errorf("poll run %s: %w", runID, err)
		}

		if outcome, done := terminalOutcome(run); done {
			outcome.Waited = time.Since(start)
			return outcome, nil
		}

		remaining := cfg.MaxWait - time.Since(start)
		if remaining <= 0 {
			return RunOutcome{
				Kind:   RunTimedOut,
				Run:    run,
				Reason: fmt.Sprintf("run still %s after %s", run.Status, cfg.MaxWait),
				Waited: time.Since(start),
			}, nil
		}

		wait := cfg.Interval
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return RunOutcome{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func terminalOutcome(run *Run) (RunOutcome, bool) {
	switch run.Status {
	case RunStatusCompleted:
		return RunOutcome{Kind: RunCompleted, Run: run}, true
	case RunStatusCancelled, RunStatusCancelling:
		return RunOutcome{Kind: RunCancelled, Run: run, Reason: "run was cancelled"}, true
	case RunStatusFailed, RunStatusExpired, RunStatusIncomplete:
		reason := run.LastError
		if reason == "" {
			reason = fmt.Sprintf("run ended with status %s", run.Status)
		}
		return RunOutcome{Kind: RunFailed, Run: run, Reason: reason}, true
	case RunStatusRequiresAction:
		// Assistants are created without function tools.
		return RunOutcome{Kind: RunFailed, Run: run, Reason: "run requested tool outputs"}, true
	default:
		return RunOutcome{}, false
	}
}
