package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/config"
	"github.com/testdeck/testdeck-engine/pkg/models"
	"github.com/testdeck/testdeck-engine/pkg/prompts"
	"github.com/testdeck/testdeck-engine/pkg/repositories"
)

// ExistingArtifacts holds the current contents of an entity's generated files.
type ExistingArtifacts struct {
	Feature string
	Steps   string
}

// ArtifactTarget is the entity whose artifacts are read or extended.
// Endpoint is nil when no endpoint row exists for the key.
type ArtifactTarget struct {
	Project  *models.Project
	Key      models.EndpointKey
	Endpoint *models.Endpoint
}

// ArtifactWriter reads and extends generated test artifacts on disk.
type ArtifactWriter interface {
	ReadExisting(ctx context.Context, target ArtifactTarget) (ExistingArtifacts, error)
	// Append adds generated content to the entity's files, creating them when
	// absent, and returns the project-relative paths it modified.
	Append(ctx context.Context, target ArtifactTarget, parsed *ParsedGeneration) ([]string, error)
}

type fsArtifactWriter struct {
	workspace config.WorkspaceConfig
	endpoints repositories.EndpointRepository
	logger    *zap.Logger
}

// NewArtifactWriter creates a writer rooted at the workspace.
func NewArtifactWriter(workspace config.WorkspaceConfig, endpoints repositories.EndpointRepository, logger *zap.Logger) ArtifactWriter {
	return &fsArtifactWriter{
		workspace: workspace,
		endpoints: endpoints,
		logger:    logger.Named("artifacts"),
	}
}

var _ ArtifactWriter = (*fsArtifactWriter)(nil)

var pathSegmentCleaner = regexp.MustCompile(`[^a-z0-9]+`)

func (w *fsArtifactWriter) ReadExisting(ctx context.Context, target ArtifactTarget) (ExistingArtifacts, error) {
	var out ExistingArtifacts
	if target.Endpoint == nil {
		return out, nil
	}

	root := w.workspace.ResolveProjectPath(target.Project.Path)
	for kind, dest := range map[string]*string{models.ArtifactFeature: &out.Feature, models.ArtifactSteps: &out.Steps} {
		rel, ok := target.Endpoint.GeneratedArtifacts[kind]
		if !ok || rel == "" {
			continue
		}
		content, err := readIfExists(root, rel)
		if err != nil {
			return out, err
		}
		*dest = content
	}
	return out, nil
}

func (w *fsArtifactWriter) Append(ctx context.Context, target ArtifactTarget, parsed *ParsedGeneration) ([]string, error) {
	if parsed == nil {
		return nil, nil
	}

	root := w.workspace.ResolveProjectPath(target.Project.Path)
	var modified []string
	var errs []error

	write := func(kind, generated string, merge func(existing, generated string) string) {
		if strings.TrimSpace(generated) == "" {
			return
		}
		rel, recorded := w.artifactPath(target, kind)
		existing, err := readIfExists(root, rel)
		if err != nil {
			errs = append(errs, err)
			return
		}
		if err := writeArtifact(root, rel, merge(existing, generated)); err != nil {
			errs = append(errs, err)
			return
		}
		modified = append(modified, rel)

		if !recorded && target.Endpoint != nil {
			if err := w.endpoints.SetArtifact(ctx, target.Endpoint.ID, kind, rel); err != nil {
				errs = append(errs, fmt.Errorf("record %s artifact path: %w", kind, err))
			}
		}
	}

	write(models.ArtifactFeature, parsed.Feature, func(existing, generated string) string {
		return mergeFeature(existing, generated, target.Key.EntityName)
	})
	write(models.ArtifactSteps, parsed.Steps, appendBlock)

	if len(modified) > 0 {
		w.logger.Debug("Wrote generated artifacts",
			zap.String("project_id", target.Project.ID.String()),
			zap.Strings("files", modified))
	}

	return modified, errors.Join(errs...)
}

// artifactPath returns the recorded path for kind, or the default location.
// The bool reports whether the path was already recorded on the endpoint.
func (w *fsArtifactWriter) artifactPath(target ArtifactTarget, kind string) (string, bool) {
	if target.Endpoint != nil {
		if rel, ok := target.Endpoint.GeneratedArtifacts[kind]; ok && rel != "" {
			return rel, true
		}
	}

	section := cleanSegment(target.Key.Section, "default")
	entity := cleanSegment(target.Key.EntityName, "entity")
	if kind == models.ArtifactFeature {
		return filepath.Join("features", section, entity+".feature"), false
	}
	return filepath.Join("steps", section, entity+".steps.ts"), false
}

func cleanSegment(s, fallback string) string {
	s = strings.Trim(pathSegmentCleaner.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if s == "" {
		return fallback
	}
	return s
}

// mergeFeature appends generated scenarios to an existing feature file,
// dropping the generated Feature header so the file keeps a single one.
func mergeFeature(existing, generated, entityName string) string {
	if strings.TrimSpace(existing) == "" {
		if !strings.HasPrefix(strings.TrimSpace(generated), "Feature:") {
			generated = "Feature: " + prompts.FeatureTitle(entityName) + "\n\n" + generated
		}
		return strings.TrimRight(generated, "\n") + "\n"
	}
	return appendBlock(existing, stripFeatureHeader(generated))
}

// stripFeatureHeader removes everything before the first scenario-level keyword or tag.
func stripFeatureHeader(feature string) string {
	lines := strings.Split(feature, "\n")
	if len(lines) == 0 || !strings.HasPrefix(strings.TrimSpace(lines[0]), "Feature:") {
		return feature
	}
	for i, line := range lines[1:] {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "Scenario") || strings.HasPrefix(t, "Background:") ||
			strings.HasPrefix(t, "Rule:") || strings.HasPrefix(t, "@") {
			return strings.Join(lines[i+1:], "\n")
		}
	}
	return ""
}

func appendBlock(existing, addition string) string {
	addition = strings.TrimRight(addition, "\n")
	if strings.TrimSpace(addition) == "" {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return addition + "\n"
	}
	return strings.TrimRight(existing, "\n") + "\n\n" + addition + "\n"
}

// resolveWithin joins rel onto root, rejecting paths that escape root.
func resolveWithin(root, rel string) (string, error) {
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("artifact path %q escapes the project directory", rel)
	}
	return filepath.Join(root, rel), nil
}

func readIfExists(root, rel string) (string, error) {
	path, err := resolveWithin(root, rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

func writeArtifact(root, rel, content string) error {
	path, err := resolveWithin(root, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}
