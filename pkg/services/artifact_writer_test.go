package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/config"
	"github.com/testdeck/testdeck-engine/pkg/models"
)

func newTestArtifactWriter(t *testing.T) (ArtifactWriter, *mockEndpointRepo, ArtifactTarget, string) {
	t.Helper()
	root := t.TempDir()
	endpoints := &mockEndpointRepo{}
	project := &models.Project{ID: uuid.New(), Name: "Shop API", Path: "shop"}
	target := ArtifactTarget{
		Project: project,
		Key:     models.EndpointKey{ProjectID: project.ID, Section: "Catalog", EntityName: "products"},
	}
	w := NewArtifactWriter(config.WorkspaceConfig{Root: root}, endpoints, zap.NewNop())
	return w, endpoints, target, filepath.Join(root, "shop")
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestArtifactWriter_AppendCreatesDefaultFiles(t *testing.T) {
	w, _, target, projectDir := newTestArtifactWriter(t)

	files, err := w.Append(context.Background(), target, ParseGenerationResponse(sampleGenerationReply))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("features", "catalog", "products.feature"),
		filepath.Join("steps", "catalog", "products.steps.ts"),
	}, files)

	feature := readFile(t, filepath.Join(projectDir, files[0]))
	assert.True(t, strings.HasPrefix(feature, "Feature: Product API"))
	assert.Contains(t, feature, "Scenario: Create product with negative price")

	steps := readFile(t, filepath.Join(projectDir, files[1]))
	assert.Contains(t, steps, "When('I POST /products'")
}

func TestArtifactWriter_AppendMergesIntoRecordedFiles(t *testing.T) {
	w, endpoints, target, projectDir := newTestArtifactWriter(t)
	ctx := context.Background()

	endpoint := &models.Endpoint{ProjectID: target.Project.ID, Section: "Catalog", EntityName: "products"}
	require.NoError(t, endpoints.Upsert(ctx, endpoint))
	require.NoError(t, endpoints.SetArtifact(ctx, endpoint.ID, models.ArtifactFeature, "features/products.feature"))
	target.Endpoint, _ = endpoints.FindByKey(ctx, target.Key)

	existing := "Feature: Product API\n\n  Scenario: List products\n    When I GET /products\n"
	require.NoError(t, os.MkdirAll(filepath.Join(projectDir, "features"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "features", "products.feature"), []byte(existing), 0o644))

	read, err := w.ReadExisting(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, existing, read.Feature)
	assert.Empty(t, read.Steps)

	files, err := w.Append(ctx, target, ParseGenerationResponse(sampleGenerationReply))
	require.NoError(t, err)
	assert.Contains(t, files, "features/products.feature")

	feature := readFile(t, filepath.Join(projectDir, "features", "products.feature"))
	assert.Equal(t, 1, strings.Count(feature, "Feature:"))
	assert.Contains(t, feature, "Scenario: List products")
	assert.Contains(t, feature, "Scenario: Create product with negative price")
	assert.Less(t, strings.Index(feature, "List products"), strings.Index(feature, "negative price"))

	// The default steps path was recorded on the endpoint.
	updated, err := endpoints.FindByKey(ctx, target.Key)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("steps", "catalog", "products.steps.ts"), updated.GeneratedArtifacts[models.ArtifactSteps])
}

func TestArtifactWriter_AddsFeatureHeaderWhenMissing(t *testing.T) {
	w, _, target, projectDir := newTestArtifactWriter(t)

	parsed := &ParsedGeneration{Feature: "Scenario: Delete product\n  When I DELETE /products/1"}
	files, err := w.Append(context.Background(), target, parsed)
	require.NoError(t, err)
	require.Len(t, files, 1)

	feature := readFile(t, filepath.Join(projectDir, files[0]))
	assert.True(t, strings.HasPrefix(feature, "Feature: Product"), feature)
}

func TestArtifactWriter_RejectsEscapingPaths(t *testing.T) {
	w, endpoints, target, _ := newTestArtifactWriter(t)
	ctx := context.Background()

	endpoint := &models.Endpoint{ProjectID: target.Project.ID, Section: "Catalog", EntityName: "products"}
	require.NoError(t, endpoints.Upsert(ctx, endpoint))
	require.NoError(t, endpoints.SetArtifact(ctx, endpoint.ID, models.ArtifactFeature, "../../etc/passwd"))
	target.Endpoint, _ = endpoints.FindByKey(ctx, target.Key)

	_, err := w.ReadExisting(ctx, target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")

	files, err := w.Append(ctx, target, &ParsedGeneration{Feature: "Feature: X\n  Scenario: Y"})
	require.Error(t, err)
	assert.Empty(t, files)
}

func TestArtifactWriter_NothingToWrite(t *testing.T) {
	w, _, target, projectDir := newTestArtifactWriter(t)

	files, err := w.Append(context.Background(), target, &ParsedGeneration{})
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = os.Stat(projectDir)
	assert.True(t, os.IsNotExist(err))
}
