package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/apperrors"
	"github.com/testdeck/testdeck-engine/pkg/credentials"
	"github.com/testdeck/testdeck-engine/pkg/llm"
	"github.com/testdeck/testdeck-engine/pkg/metrics"
	"github.com/testdeck/testdeck-engine/pkg/models"
	"github.com/testdeck/testdeck-engine/pkg/repositories"
)

// AIThreadService owns the remote conversation threads of a (project, assistant) pair.
// At most one thread per pair is active at a time.
type AIThreadService interface {
	// CreateThread deletes every existing thread of the pair, remote first, then
	// creates a fresh active thread.
	CreateThread(ctx context.Context, projectID uuid.UUID, assistantID string) (*models.AIThread, error)

	// GetThread returns the most recently used live thread with room for another
	// message, or nil if there is none. Threads gone remotely are purged and
	// threads at their ceiling are deactivated along the way.
	GetThread(ctx context.Context, projectID uuid.UUID, assistantID string) (*models.AIThread, error)

	// IncrementMessageCount records one delivered message. Unknown threads are ignored.
	IncrementMessageCount(ctx context.Context, threadID string) error

	DeactivateThread(ctx context.Context, threadID string) error

	// ReactivateThread swaps the record onto a new remote thread with an empty
	// history and a zero message count. Other active threads of the pair are deactivated.
	ReactivateThread(ctx context.Context, threadID string) (*models.AIThread, error)

	// CleanupOldThreads keeps the most recently used threads of the pair and deletes the rest.
	CleanupOldThreads(ctx context.Context, projectID uuid.UUID, assistantID string) (int, error)

	// DeleteAllProjectThreads deletes every thread of the project. Each deletion is
	// attempted independently; the joined failures are returned.
	DeleteAllProjectThreads(ctx context.Context, projectID uuid.UUID) error
}

// ThreadSettings bounds thread usage.
type ThreadSettings struct {
	MaxMessages   int
	ThreadsToKeep int
}

type aiThreadService struct {
	repo     repositories.AIThreadRepository
	resolver providerResolver
	settings ThreadSettings
	pool     *llm.WorkerPool
	logger   *zap.Logger
}

// NewAIThreadService creates a thread registry.
func NewAIThreadService(
	repo repositories.AIThreadRepository,
	creds credentials.Store,
	factory llm.ProviderFactory,
	settings ThreadSettings,
	logger *zap.Logger,
) AIThreadService {
	if settings.MaxMessages <= 0 {
		settings.MaxMessages = models.DefaultMaxMessagesPerThread
	}
	if settings.ThreadsToKeep <= 0 {
		settings.ThreadsToKeep = 3
	}
	return &aiThreadService{
		repo:     repo,
		resolver: providerResolver{creds: creds, factory: factory},
		settings: settings,
		pool:     llm.NewWorkerPool(llm.DefaultWorkerPoolConfig(), logger),
		logger:   logger.Named("ai-threads"),
	}
}

var _ AIThreadService = (*aiThreadService)(nil)

func (s *aiThreadService) CreateThread(ctx context.Context, projectID uuid.UUID, assistantID string) (*models.AIThread, error) {
	provider, err := s.resolver.provider(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.ListByPair(ctx, projectID, assistantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	for _, t := range existing {
		if err := s.deleteThread(ctx, provider, t); err != nil {
			return nil, fmt.Errorf("failed to rotate thread %s: %w", t.ThreadID, err)
		}
		metrics.RecordThreadRotation()
	}

	remote, err := provider.CreateThread(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote thread: %w", err)
	}

	thread := &models.AIThread{
		ProjectID:    projectID,
		ThreadID:     remote.ID,
		AssistantID:  assistantID,
		Status:       models.ThreadStatusActive,
		MessageCount: 0,
		MaxMessages:  s.settings.MaxMessages,
		LastUsedAt:   time.Now(),
	}
	if err := s.repo.Create(ctx, thread); err != nil {
		s.rollbackRemoteThread(ctx, provider, remote.ID)
		return nil, err
	}

	s.logger.Info("Created thread",
		zap.String("project_id", projectID.String()),
		zap.String("assistant_id", assistantID),
		zap.String("thread_id", thread.ThreadID),
		zap.Int("rotated", len(existing)))

	return thread, nil
}

func (s *aiThreadService) GetThread(ctx context.Context, projectID uuid.UUID, assistantID string) (*models.AIThread, error) {
	candidates, err := s.repo.ListActiveByPair(ctx, projectID, assistantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active threads: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	provider, err := s.resolver.provider(ctx)
	if err != nil {
		return nil, err
	}

	for _, t := range candidates {
		if _, err := provider.RetrieveThread(ctx, t.ThreadID); err != nil {
			if !llm.IsResourceGone(err) {
				return nil, fmt.Errorf("failed to verify thread %s: %w", t.ThreadID, err)
			}
			s.logger.Warn("Thread no longer exists remotely, purging local record",
				zap.String("project_id", projectID.String()),
				zap.String("thread_id", t.ThreadID))
			if err := s.repo.Delete(ctx, t.ThreadID); err != nil {
				return nil, err
			}
			metrics.RecordStalePurge("thread")
			continue
		}

		if t.HasCapacity() {
			return t, nil
		}

		t.Status = models.ThreadStatusInactive
		if err := s.repo.Update(ctx, t); err != nil {
			return nil, err
		}
		metrics.RecordThreadDeactivated()
	}

	return nil, nil
}

func (s *aiThreadService) IncrementMessageCount(ctx context.Context, threadID string) error {
	t, err := s.repo.GetByThreadID(ctx, threadID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Debug("Increment for unknown thread ignored", zap.String("thread_id", threadID))
			return nil
		}
		return err
	}

	if t.MessageCount >= t.MaxMessages {
		// Already at the ceiling; the count never exceeds it.
		if t.IsActive() {
			t.Status = models.ThreadStatusInactive
			return s.repo.Update(ctx, t)
		}
		return nil
	}

	t.MessageCount++
	t.LastUsedAt = time.Now()
	if t.MessageCount >= t.MaxMessages && t.IsActive() {
		t.Status = models.ThreadStatusInactive
		metrics.RecordThreadDeactivated()
		s.logger.Info("Thread reached message ceiling",
			zap.String("thread_id", threadID),
			zap.Int("max_messages", t.MaxMessages))
	}

	return s.repo.Update(ctx, t)
}

func (s *aiThreadService) DeactivateThread(ctx context.Context, threadID string) error {
	t, err := s.repo.GetByThreadID(ctx, threadID)
	if err != nil {
		return err
	}
	if !t.IsActive() {
		return nil
	}
	t.Status = models.ThreadStatusInactive
	return s.repo.Update(ctx, t)
}

func (s *aiThreadService) ReactivateThread(ctx context.Context, threadID string) (*models.AIThread, error) {
	old, err := s.repo.GetByThreadID(ctx, threadID)
	if err != nil {
		return nil, err
	}

	provider, err := s.resolver.provider(ctx)
	if err != nil {
		return nil, err
	}

	active, err := s.repo.ListActiveByPair(ctx, old.ProjectID, old.AssistantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active threads: %w", err)
	}
	for _, t := range active {
		if t.ThreadID == old.ThreadID {
			continue
		}
		t.Status = models.ThreadStatusInactive
		if err := s.repo.Update(ctx, t); err != nil {
			return nil, err
		}
	}

	remote, err := provider.CreateThread(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote thread: %w", err)
	}

	fresh := &models.AIThread{
		ProjectID:    old.ProjectID,
		ThreadID:     remote.ID,
		AssistantID:  old.AssistantID,
		Status:       models.ThreadStatusActive,
		MessageCount: 0,
		MaxMessages:  old.MaxMessages,
		LastUsedAt:   time.Now(),
	}
	if err := s.repo.Create(ctx, fresh); err != nil {
		s.rollbackRemoteThread(ctx, provider, remote.ID)
		return nil, err
	}

	if err := s.deleteThread(ctx, provider, old); err != nil {
		s.logger.Warn("Failed to delete replaced thread",
			zap.String("thread_id", old.ThreadID),
			zap.Error(err))
	}

	s.logger.Info("Reactivated thread on a fresh remote thread",
		zap.String("old_thread_id", old.ThreadID),
		zap.String("thread_id", fresh.ThreadID))

	return fresh, nil
}

func (s *aiThreadService) CleanupOldThreads(ctx context.Context, projectID uuid.UUID, assistantID string) (int, error) {
	threads, err := s.repo.ListByPair(ctx, projectID, assistantID)
	if err != nil {
		return 0, fmt.Errorf("failed to list threads: %w", err)
	}
	if len(threads) <= s.settings.ThreadsToKeep {
		return 0, nil
	}

	provider, err := s.resolver.provider(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	deleted := 0
	for _, t := range threads[s.settings.ThreadsToKeep:] {
		if err := s.deleteThread(ctx, provider, t); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}

	s.logger.Info("Cleaned up old threads",
		zap.String("project_id", projectID.String()),
		zap.Int("deleted", deleted),
		zap.Int("kept", s.settings.ThreadsToKeep))

	return deleted, errors.Join(errs...)
}

func (s *aiThreadService) DeleteAllProjectThreads(ctx context.Context, projectID uuid.UUID) error {
	threads, err := s.repo.ListByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to list threads: %w", err)
	}
	if len(threads) == 0 {
		return nil
	}

	// Without a credential the remote threads cannot be reached; local rows still go.
	provider, providerErr := s.resolver.provider(ctx)

	var errs []error
	if providerErr != nil {
		errs = append(errs, fmt.Errorf("remote threads not deleted: %w", providerErr))
	}
	if provider != nil {
		s.deleteRemoteThreads(ctx, provider, threads)
	}
	// Local rows share the request's connection and are deleted serially.
	for _, t := range threads {
		if err := s.repo.Delete(ctx, t.ThreadID); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// deleteThread removes the remote thread (best-effort) and then the local row.
func (s *aiThreadService) deleteThread(ctx context.Context, provider llm.AssistantsProvider, t *models.AIThread) error {
	s.deleteRemoteThread(ctx, provider, t.ThreadID)
	return s.repo.Delete(ctx, t.ThreadID)
}

// deleteRemoteThreads deletes remote threads concurrently, best-effort.
func (s *aiThreadService) deleteRemoteThreads(ctx context.Context, provider llm.AssistantsProvider, threads []*models.AIThread) {
	items := make([]llm.WorkItem[struct{}], 0, len(threads))
	for _, t := range threads {
		items = append(items, llm.WorkItem[struct{}]{
			ID: t.ThreadID,
			Execute: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, provider.DeleteThread(ctx, t.ThreadID)
			},
		})
	}
	for _, res := range llm.Process(ctx, s.pool, items) {
		if res.Err != nil && !llm.IsResourceGone(res.Err) {
			s.logger.Warn("Failed to delete remote thread",
				zap.String("thread_id", res.ID),
				zap.Error(res.Err))
		}
	}
}

func (s *aiThreadService) deleteRemoteThread(ctx context.Context, provider llm.AssistantsProvider, threadID string) {
	if err := provider.DeleteThread(ctx, threadID); err != nil && !llm.IsResourceGone(err) {
		s.logger.Warn("Failed to delete remote thread",
			zap.String("thread_id", threadID),
			zap.Error(err))
	}
}

func (s *aiThreadService) rollbackRemoteThread(ctx context.Context, provider llm.AssistantsProvider, threadID string) {
	if err := provider.DeleteThread(ctx, threadID); err != nil && !llm.IsResourceGone(err) {
		s.logger.Error("Failed to roll back remote thread after local save failed",
			zap.String("thread_id", threadID),
			zap.Error(err))
	}
}
