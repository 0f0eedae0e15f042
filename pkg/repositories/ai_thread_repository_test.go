//go:build integration

package repositories

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testdeck/testdeck-engine/pkg/apperrors"
	"github.com/testdeck/testdeck-engine/pkg/models"
)

func createTestAssistant(tc *repoTestContext, assistantID string) *models.AIAssistant {
	tc.t.Helper()
	a := &models.AIAssistant{
		ProjectID:    tc.projectID,
		AssistantID:  assistantID,
		Name:         "Test Assistant",
		Instructions: "write tests",
		Model:        "gpt-4o",
		Tools:        []string{},
		Status:       models.AssistantStatusActive,
	}
	require.NoError(tc.t, NewAIAssistantRepository().Create(tc.ctx, a))
	return a
}

func TestAIAssistantRepository_OnePerProject(t *testing.T) {
	tc := setupRepoTest(t)
	repo := NewAIAssistantRepository()

	createTestAssistant(tc, "asst_one_"+tc.projectID.String())

	err := repo.Create(tc.ctx, &models.AIAssistant{
		ProjectID:   tc.projectID,
		AssistantID: "asst_two_" + tc.projectID.String(),
		Status:      models.AssistantStatusActive,
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	found, err := repo.GetByProject(tc.ctx, tc.projectID)
	require.NoError(t, err)
	assert.Equal(t, "asst_one_"+tc.projectID.String(), found.AssistantID)

	require.NoError(t, repo.DeleteByProject(tc.ctx, tc.projectID))
	assert.ErrorIs(t, repo.DeleteByProject(tc.ctx, tc.projectID), apperrors.ErrNotFound)

	_, err = repo.GetByProject(tc.ctx, tc.projectID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAIThreadRepository_ListOrderAndCascade(t *testing.T) {
	tc := setupRepoTest(t)
	assistant := createTestAssistant(tc, "asst_threads_"+tc.projectID.String())
	repo := NewAIThreadRepository()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"thread_a", "thread_b", "thread_c"} {
		status := models.ThreadStatusActive
		if id == "thread_b" {
			status = models.ThreadStatusInactive
		}
		require.NoError(t, repo.Create(tc.ctx, &models.AIThread{
			ProjectID:   tc.projectID,
			ThreadID:    id + "_" + tc.projectID.String(),
			AssistantID: assistant.AssistantID,
			Status:      status,
			MaxMessages: models.DefaultMaxMessagesPerThread,
			LastUsedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := repo.ListByPair(tc.ctx, tc.projectID, assistant.AssistantID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "thread_c_"+tc.projectID.String(), all[0].ThreadID)

	active, err := repo.ListActiveByPair(tc.ctx, tc.projectID, assistant.AssistantID)
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, th := range active {
		assert.True(t, th.IsActive())
	}

	thread := active[1]
	thread.MessageCount = 7
	thread.Status = models.ThreadStatusInactive
	require.NoError(t, repo.Update(tc.ctx, thread))

	reloaded, err := repo.GetByThreadID(tc.ctx, thread.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, 7, reloaded.MessageCount)
	assert.Equal(t, models.ThreadStatusInactive, reloaded.Status)

	// Removing the assistant record removes its threads.
	require.NoError(t, NewAIAssistantRepository().DeleteByProject(tc.ctx, tc.projectID))
	remaining, err := repo.ListByProject(tc.ctx, tc.projectID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
