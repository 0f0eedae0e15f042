package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testdeck/testdeck-engine/pkg/apperrors"
	"github.com/testdeck/testdeck-engine/pkg/llm"
	"github.com/testdeck/testdeck-engine/pkg/models"
)

func TestAIAssistantService_CreateAssistant(t *testing.T) {
	f := newAIFixture(t)
	ctx := context.Background()

	a, err := f.assistants.CreateAssistant(ctx, f.projectID)
	require.NoError(t, err)
	require.NotNil(t, a)

	assert.Equal(t, f.projectID, a.ProjectID)
	assert.Equal(t, "TestDeck - Shop API", a.Name)
	assert.Equal(t, "gpt-4o", a.Model)
	assert.Equal(t, models.AssistantStatusActive, a.Status)
	assert.Contains(t, a.Instructions, "Shop API")
	assert.True(t, f.provider.HasAssistant(a.AssistantID))

	project, err := f.projects.Get(ctx, f.projectID)
	require.NoError(t, err)
	require.NotNil(t, project.AssistantID)
	assert.Equal(t, a.AssistantID, *project.AssistantID)
	assert.NotNil(t, project.AssistantCreatedAt)

	assert.Equal(t, []string{"sk-test-key-0123456789"}, f.factory.Keys[len(f.factory.Keys)-1:])
}

func TestAIAssistantService_CreateAssistant_Conflict(t *testing.T) {
	f := newAIFixture(t)
	first := f.initAssistant(t)

	_, err := f.assistants.CreateAssistant(context.Background(), f.projectID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	assert.Equal(t, 1, f.provider.CallCount("CreateAssistant"))
	got, err := f.assistants.GetAssistant(context.Background(), f.projectID)
	require.NoError(t, err)
	assert.Equal(t, first.AssistantID, got.AssistantID)
}

func TestAIAssistantService_CreateAssistant_ProjectMissing(t *testing.T) {
	f := newAIFixture(t)

	_, err := f.assistants.CreateAssistant(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 0, f.provider.CallCount("CreateAssistant"))
}

func TestAIAssistantService_CreateAssistant_CredentialMissing(t *testing.T) {
	f := newAIFixture(t)
	f.creds.key = ""

	_, err := f.assistants.CreateAssistant(context.Background(), f.projectID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCredentialMissing)
	assert.Empty(t, f.provider.Calls)
}

func TestAIAssistantService_CreateAssistant_RollsBackRemoteOnSaveFailure(t *testing.T) {
	f := newAIFixture(t)
	f.assistantRepo.createErr = errors.New("connection reset")

	_, err := f.assistants.CreateAssistant(context.Background(), f.projectID)
	require.Error(t, err)

	assert.Equal(t, 1, f.provider.CallCount("CreateAssistant"))
	assert.Equal(t, 1, f.provider.CallCount("DeleteAssistant"))
	assert.False(t, f.provider.HasAssistant("asst_1"))

	project, err := f.projects.Get(context.Background(), f.projectID)
	require.NoError(t, err)
	assert.Nil(t, project.AssistantID)
}

func TestAIAssistantService_GetAssistant_None(t *testing.T) {
	f := newAIFixture(t)

	a, err := f.assistants.GetAssistant(context.Background(), f.projectID)
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.Empty(t, f.provider.Calls)
}

func TestAIAssistantService_GetAssistant_PurgesWhenRemoteGone(t *testing.T) {
	f := newAIFixture(t)
	ctx := context.Background()
	created := f.initAssistant(t)

	f.provider.RemoveAssistant(created.AssistantID)

	a, err := f.assistants.GetAssistant(ctx, f.projectID)
	require.NoError(t, err)
	assert.Nil(t, a)

	_, err = f.assistantRepo.GetByProject(ctx, f.projectID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	project, err := f.projects.Get(ctx, f.projectID)
	require.NoError(t, err)
	assert.Nil(t, project.AssistantID)
	assert.Nil(t, project.AssistantCreatedAt)

	// A new assistant can be created once the stale record is gone.
	recreated, err := f.assistants.CreateAssistant(ctx, f.projectID)
	require.NoError(t, err)
	assert.NotEqual(t, created.AssistantID, recreated.AssistantID)
}

func TestAIAssistantService_GetAssistant_OtherErrorsPropagate(t *testing.T) {
	f := newAIFixture(t)
	ctx := context.Background()
	f.initAssistant(t)

	f.provider.RetrieveAssistantFunc = func(ctx context.Context, id string) (*llm.Assistant, error) {
		return nil, llm.NewError(llm.ErrorTypeUnavailable, "service unavailable", true, nil)
	}

	a, err := f.assistants.GetAssistant(ctx, f.projectID)
	require.Error(t, err)
	assert.Nil(t, a)
	assert.False(t, llm.IsResourceGone(err))

	_, err = f.assistantRepo.GetByProject(ctx, f.projectID)
	assert.NoError(t, err, "record must survive a transient provider failure")
}

func TestAIAssistantService_DeleteAssistant_NoAssistant(t *testing.T) {
	f := newAIFixture(t)

	report, err := f.assistants.DeleteAssistant(context.Background(), f.projectID)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.False(t, report.Deleted)
	assert.Empty(t, report.Steps)
	assert.Empty(t, f.provider.Calls)
}

func TestAIAssistantService_DeleteAssistant_CascadesInOrder(t *testing.T) {
	f := newAIFixture(t)
	ctx := context.Background()
	a := f.initAssistant(t)

	active, err := f.threads.CreateThread(ctx, f.projectID, a.AssistantID)
	require.NoError(t, err)

	// An older inactive thread from a previous rotation.
	f.provider.SeedThread("thread_old")
	require.NoError(t, f.threadRepo.Create(ctx, &models.AIThread{
		ProjectID:   f.projectID,
		ThreadID:    "thread_old",
		AssistantID: a.AssistantID,
		Status:      models.ThreadStatusInactive,
		MaxMessages: models.DefaultMaxMessagesPerThread,
	}))

	report, err := f.assistants.DeleteAssistant(ctx, f.projectID)
	require.NoError(t, err)
	assert.True(t, report.Deleted)
	assert.Equal(t, a.AssistantID, report.AssistantID)
	assert.Empty(t, report.NonFatalErrors())

	var steps []string
	for _, s := range report.Steps {
		steps = append(steps, s.Step)
	}
	assert.Equal(t, []string{StepDeleteThreads, StepClearProjectReference, StepDeleteRemoteAssistant, StepDeleteLocalRecord}, steps)

	// Threads were gone before the assistant row was removed.
	assert.Equal(t, 0, f.assistantRepo.threadsAtDelete)
	assert.False(t, f.provider.HasThread(active.ThreadID))
	assert.False(t, f.provider.HasThread("thread_old"))
	assert.False(t, f.provider.HasAssistant(a.AssistantID))

	lastThreadDelete, assistantDelete := -1, -1
	for i, c := range f.provider.Calls {
		switch {
		case strings.HasPrefix(c, "DeleteThread:"):
			lastThreadDelete = i
		case strings.HasPrefix(c, "DeleteAssistant:"):
			assistantDelete = i
		}
	}
	require.NotEqual(t, -1, assistantDelete)
	assert.Less(t, lastThreadDelete, assistantDelete)

	project, err := f.projects.Get(ctx, f.projectID)
	require.NoError(t, err)
	assert.Nil(t, project.AssistantID)

	got, err := f.assistants.GetAssistant(ctx, f.projectID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAIAssistantService_DeleteAssistant_NonFatalFailuresReported(t *testing.T) {
	f := newAIFixture(t)
	ctx := context.Background()
	f.initAssistant(t)

	f.provider.DeleteAssistantFunc = func(ctx context.Context, id string) error {
		return llm.NewError(llm.ErrorTypeUnavailable, "service unavailable", true, nil)
	}
	f.projects.updateRefErr = errors.New("write failed")

	report, err := f.assistants.DeleteAssistant(ctx, f.projectID)
	require.NoError(t, err)
	assert.True(t, report.Deleted)
	assert.Len(t, report.NonFatalErrors(), 2)

	_, err = f.assistantRepo.GetByProject(ctx, f.projectID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAIAssistantService_DeleteAssistant_RemoteAlreadyGone(t *testing.T) {
	f := newAIFixture(t)
	a := f.initAssistant(t)
	f.provider.RemoveAssistant(a.AssistantID)

	report, err := f.assistants.DeleteAssistant(context.Background(), f.projectID)
	require.NoError(t, err)
	assert.True(t, report.Deleted)
	assert.Empty(t, report.NonFatalErrors())
}

func TestAIAssistantService_DeleteAssistant_LocalDeleteIsFatal(t *testing.T) {
	f := newAIFixture(t)
	f.initAssistant(t)
	f.assistantRepo.deleteErr = errors.New("connection reset")

	report, err := f.assistants.DeleteAssistant(context.Background(), f.projectID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), StepDeleteLocalRecord)
	require.NotNil(t, report)
	assert.False(t, report.Deleted)

	last := report.Steps[len(report.Steps)-1]
	assert.Equal(t, StepDeleteLocalRecord, last.Step)
	assert.True(t, last.Fatal)
	assert.False(t, last.OK)
}
