package llm

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorkerPoolConfig bounds concurrent provider calls.
type WorkerPoolConfig struct {
	MaxConcurrent int // default: 4
}

// DefaultWorkerPoolConfig returns a limit that stays well under provider rate limits.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{MaxConcurrent: 4}
}

// WorkerPool fans independent provider calls out with bounded parallelism.
// Work must only touch the provider: request-scoped database connections are
// not safe for concurrent use.
type WorkerPool struct {
	config WorkerPoolConfig
	logger *zap.Logger
}

// NewWorkerPool creates a pool.
func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = DefaultWorkerPoolConfig().MaxConcurrent
	}
	return &WorkerPool{
		config: config,
		logger: logger.Named("provider-worker-pool"),
	}
}

// WorkItem is one unit of work.
type WorkItem[T any] struct {
	ID      string // remote resource id, for logging
	Execute func(ctx context.Context) (T, error)
}

// WorkResult is the outcome of one WorkItem.
type WorkResult[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process runs every item and returns results in submission order. A failing
// item does not cancel the others; items not started before ctx is done report
// ctx.Err().
func Process[T any](ctx context.Context, pool *WorkerPool, items []WorkItem[T]) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]WorkResult[T], len(items))
	var g errgroup.Group
	g.SetLimit(pool.config.MaxConcurrent)

	for i, item := range items {
		results[i].ID = item.ID
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			results[i].Result, results[i].Err = item.Execute(ctx)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		pool.logger.Debug("Work finished with failures",
			zap.Int("total", len(items)),
			zap.Int("failed", failed))
	}
	return results
}
