package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/credentials"
	"github.com/testdeck/testdeck-engine/pkg/llm"
	"github.com/testdeck/testdeck-engine/pkg/logging"
	"github.com/testdeck/testdeck-engine/pkg/metrics"
	"github.com/testdeck/testdeck-engine/pkg/prompts"
	"github.com/testdeck/testdeck-engine/pkg/repositories"
	"github.com/testdeck/testdeck-engine/pkg/retry"
)

const (
	reconcilePageSize    = 100
	reconcileConcurrency = 4
)

// ReconcileReport summarizes one reconciliation sweep.
type ReconcileReport struct {
	DryRun   bool     `json:"dry_run"`
	Scanned  int      `json:"scanned"`
	TooYoung int      `json:"too_young"`
	Orphans  []string `json:"orphans"`
	Deleted  []string `json:"deleted"`
	Errors   []string `json:"errors,omitempty"`
}

// AssistantReconciler removes remote assistants that have no local record,
// such as those left behind when saving a new assistant failed.
type AssistantReconciler interface {
	// Sweep deletes orphans older than grace. ctx must carry an unscoped
	// database connection so every project's assistants are visible.
	Sweep(ctx context.Context, grace time.Duration, dryRun bool) (*ReconcileReport, error)
}

type assistantReconciler struct {
	assistantRepo repositories.AIAssistantRepository
	resolver      providerResolver
	retryCfg      *retry.Config
	now           func() time.Time
	logger        *zap.Logger
}

func NewAssistantReconciler(
	assistantRepo repositories.AIAssistantRepository,
	creds credentials.Store,
	factory llm.ProviderFactory,
	logger *zap.Logger,
) AssistantReconciler {
	return &assistantReconciler{
		assistantRepo: assistantRepo,
		resolver:      providerResolver{creds: creds, factory: factory},
		retryCfg:      retry.DefaultConfig(),
		now:           time.Now,
		logger:        logger.Named("ai-reconciler"),
	}
}

var _ AssistantReconciler = (*assistantReconciler)(nil)

func (r *assistantReconciler) Sweep(ctx context.Context, grace time.Duration, dryRun bool) (*ReconcileReport, error) {
	provider, err := r.resolver.provider(ctx)
	if err != nil {
		return nil, err
	}

	known, err := r.assistantRepo.ListAssistantIDs(ctx)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{DryRun: dryRun, Orphans: []string{}, Deleted: []string{}}
	cutoff := r.now().Add(-grace)

	after := ""
	for {
		page, err := provider.ListAssistants(ctx, after, reconcilePageSize)
		if err != nil {
			return report, fmt.Errorf("failed to list remote assistants: %w", err)
		}

		for _, a := range page.Assistants {
			report.Scanned++
			if !strings.HasPrefix(a.Name, prompts.AssistantNamePrefix) {
				continue
			}
			if _, ok := known[a.ID]; ok {
				continue
			}
			if time.Unix(a.CreatedAt, 0).After(cutoff) {
				report.TooYoung++
				continue
			}
			report.Orphans = append(report.Orphans, a.ID)
		}

		if !page.HasMore || page.LastID == "" {
			break
		}
		after = page.LastID
	}

	r.logger.Info("Reconciliation scan finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("orphans", len(report.Orphans)),
		zap.Int("too_young", report.TooYoung),
		zap.Bool("dry_run", dryRun))

	if dryRun || len(report.Orphans) == 0 {
		return report, nil
	}

	pool := llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: reconcileConcurrency}, r.logger)
	items := make([]llm.WorkItem[struct{}], 0, len(report.Orphans))
	for _, id := range report.Orphans {
		items = append(items, llm.WorkItem[struct{}]{
			ID: id,
			Execute: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, retry.DoIfRetryable(ctx, r.retryCfg, func() error {
					err := provider.DeleteAssistant(ctx, id)
					if llm.IsResourceGone(err) {
						return nil
					}
					return err
				})
			},
		})
	}

	for _, res := range llm.Process(ctx, pool, items) {
		if res.Err != nil {
			msg := logging.SanitizeError(res.Err)
			report.Errors = append(report.Errors, res.ID+": "+msg)
			r.logger.Warn("Failed to delete orphaned assistant",
				zap.String("assistant_id", res.ID),
				zap.String("error", msg))
			continue
		}
		report.Deleted = append(report.Deleted, res.ID)
		metrics.RecordOrphanDeleted()
	}

	r.logger.Info("Reconciliation sweep finished",
		zap.Int("deleted", len(report.Deleted)),
		zap.Int("errors", len(report.Errors)))

	return report, nil
}
