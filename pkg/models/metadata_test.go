package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadata_MergeIsShallowAndNonDestructive(t *testing.T) {
	base := Metadata{
		"model_used": "gpt-4o",
		"timing":     map[string]any{"start": 1},
	}

	merged := base.Merge(Metadata{
		"tokens_used": 42,
		"timing":      map[string]any{"end": 2},
	})

	assert.Equal(t, "gpt-4o", merged["model_used"])
	assert.Equal(t, 42, merged["tokens_used"])
	assert.Equal(t, map[string]any{"end": 2}, merged["timing"], "nested maps are replaced, not merged")
	assert.NotContains(t, base, "tokens_used", "merge must not mutate the receiver")
}

func TestMetadata_MergeNil(t *testing.T) {
	var base Metadata

	merged := base.Merge(nil)

	require.NotNil(t, merged)
	assert.Empty(t, merged)
}

func TestMetadata_IntAcceptsJSONNumbers(t *testing.T) {
	var m Metadata
	require.NoError(t, json.Unmarshal([]byte(`{"tokens_used": 120, "name": "x"}`), &m))

	assert.Equal(t, 120, m.Int("tokens_used"))
	assert.Equal(t, 0, m.Int("missing"))
	assert.Equal(t, "x", m.String("name"))
}

func TestMetadata_ScanAndValue(t *testing.T) {
	var m Metadata
	require.NoError(t, m.Scan([]byte(`{"thread_id":"thread_1"}`)))
	assert.Equal(t, "thread_1", m.String("thread_id"))

	require.NoError(t, m.Scan(nil))
	assert.Empty(t, m)

	assert.Error(t, m.Scan(42))

	var empty Metadata
	v, err := empty.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), v)
}

func TestGenerationStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to GenerationStatus
		ok       bool
	}{
		{GenerationStatusPending, GenerationStatusProcessing, true},
		{GenerationStatusPending, GenerationStatusFailed, true},
		{GenerationStatusPending, GenerationStatusCompleted, false},
		{GenerationStatusProcessing, GenerationStatusCompleted, true},
		{GenerationStatusProcessing, GenerationStatusFailed, true},
		{GenerationStatusProcessing, GenerationStatusPending, false},
		{GenerationStatusCompleted, GenerationStatusFailed, false},
		{GenerationStatusFailed, GenerationStatusProcessing, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestAIThread_Capacity(t *testing.T) {
	thread := &AIThread{Status: ThreadStatusActive, MessageCount: 999, MaxMessages: 1000}
	assert.True(t, thread.HasCapacity())
	assert.True(t, thread.IsActive())

	thread.MessageCount = 1000
	assert.False(t, thread.HasCapacity())
}
