package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/models"
	"github.com/testdeck/testdeck-engine/pkg/services"
)

func setupProjectsHandler(svc *mockProjectService) *http.ServeMux {
	mux := http.NewServeMux()
	NewProjectsHandler(svc, zap.NewNop()).RegisterRoutes(mux, passthrough, passthrough)
	return mux
}

func TestProjectsHandler_Create(t *testing.T) {
	svc := newMockProjectService()

	rec := serve(t, setupProjectsHandler(svc), http.MethodPost, "/api/projects", map[string]string{
		"name": "Shop API",
		"path": "shop",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var got models.Project
	decodeEnvelope(t, rec, &got)
	assert.NotEqual(t, uuid.Nil, got.ID)
	assert.Equal(t, "Shop API", got.Name)
	assert.Len(t, svc.projects, 1)
}

func TestProjectsHandler_Create_RequiresName(t *testing.T) {
	svc := newMockProjectService()

	rec := serve(t, setupProjectsHandler(svc), http.MethodPost, "/api/projects", map[string]string{"name": " "})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.projects)
}

func TestProjectsHandler_Get(t *testing.T) {
	svc := newMockProjectService()
	id := uuid.New()
	svc.projects[id] = &models.Project{ID: id, Name: "Shop API"}
	mux := setupProjectsHandler(svc)

	rec := serve(t, mux, http.MethodGet, "/api/projects/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, mux, http.MethodGet, "/api/projects/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProjectsHandler_Delete(t *testing.T) {
	svc := newMockProjectService()
	id := uuid.New()
	svc.projects[id] = &models.Project{ID: id, Name: "Shop API"}
	svc.report = &services.TeardownReport{ProjectID: id.String(), AssistantID: "asst_1", Deleted: true}

	rec := serve(t, setupProjectsHandler(svc), http.MethodDelete, "/api/projects/"+id.String(), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var report services.TeardownReport
	decodeEnvelope(t, rec, &report)
	assert.True(t, report.Deleted)
	assert.Empty(t, svc.projects)
}

func TestProjectsHandler_Delete_TeardownFailure(t *testing.T) {
	svc := newMockProjectService()
	id := uuid.New()
	svc.projects[id] = &models.Project{ID: id}
	svc.report = &services.TeardownReport{AssistantID: "asst_1"}
	svc.err = errors.New("delete_local_record: connection reset")

	rec := serve(t, setupProjectsHandler(svc), http.MethodDelete, "/api/projects/"+id.String(), nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeEnvelope(t, rec, nil)
	assert.Equal(t, "teardown_failed", resp.Error)
	assert.Len(t, svc.projects, 1)
}

func TestProjectsHandler_RegisterEndpoint(t *testing.T) {
	svc := newMockProjectService()
	id := uuid.New()
	svc.projects[id] = &models.Project{ID: id}
	mux := setupProjectsHandler(svc)
	path := fmt.Sprintf("/api/projects/%s/endpoints", id)

	rec := serve(t, mux, http.MethodPut, path, map[string]string{
		"section":     "catalog",
		"entity_name": "Product",
		"method":      "post",
		"path":        "/products",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.endpoints, 1)
	assert.Equal(t, id, svc.endpoints[0].ProjectID)
	assert.Equal(t, "POST", svc.endpoints[0].Method)

	rec = serve(t, mux, http.MethodPut, path, map[string]string{"section": "catalog"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, mux, http.MethodPut, fmt.Sprintf("/api/projects/%s/endpoints", uuid.New()), map[string]string{
		"section": "catalog", "entity_name": "Product",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
