package models

import (
	"time"

	"github.com/google/uuid"
)

// Artifact kinds stored in Endpoint.GeneratedArtifacts.
const (
	ArtifactFeature = "feature"
	ArtifactSteps   = "steps"
)

// Endpoint is an API endpoint under test, grouped by section and entity.
// GeneratedArtifacts maps artifact kind to a path relative to the project root.
type Endpoint struct {
	ID                 uuid.UUID         `json:"id"`
	ProjectID          uuid.UUID         `json:"project_id"`
	Section            string            `json:"section"`
	EntityName         string            `json:"entity_name"`
	Method             string            `json:"method"`
	Path               string            `json:"path"`
	GeneratedArtifacts map[string]string `json:"generated_artifacts"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// EndpointKey identifies an endpoint by its natural key.
type EndpointKey struct {
	ProjectID  uuid.UUID
	Section    string
	EntityName string
}
