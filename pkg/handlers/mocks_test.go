package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/testdeck/testdeck-engine/pkg/apperrors"
	"github.com/testdeck/testdeck-engine/pkg/models"
	"github.com/testdeck/testdeck-engine/pkg/services"
)

// passthrough stands in for the tenant middleware.
func passthrough(next http.HandlerFunc) http.HandlerFunc {
	return next
}

// serve routes a request through mux and returns the recorder.
func serve(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			raw = string(b)
		}
		reader = bytes.NewBufferString(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// decodeEnvelope decodes an ApiResponse, re-marshalling Data into dataOut when given.
func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, dataOut any) ApiResponse {
	t.Helper()
	var resp ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	if dataOut != nil {
		raw, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, dataOut))
	}
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

type mockAssistantService struct {
	assistant *models.AIAssistant
	report    *services.TeardownReport
	err       error
	calls     []string
}

var _ services.AIAssistantService = (*mockAssistantService)(nil)

func (m *mockAssistantService) GetAssistant(ctx context.Context, projectID uuid.UUID) (*models.AIAssistant, error) {
	m.calls = append(m.calls, "get")
	return m.assistant, m.err
}

func (m *mockAssistantService) CreateAssistant(ctx context.Context, projectID uuid.UUID) (*models.AIAssistant, error) {
	m.calls = append(m.calls, "create")
	if m.err != nil {
		return nil, m.err
	}
	return m.assistant, nil
}

func (m *mockAssistantService) DeleteAssistant(ctx context.Context, projectID uuid.UUID) (*services.TeardownReport, error) {
	m.calls = append(m.calls, "delete")
	return m.report, m.err
}

type mockGenerationService struct {
	result      *services.GenerationResult
	lastGen     services.GenerateRequest
	lastSuggest services.SuggestionRequest
}

var _ services.AIGenerationService = (*mockGenerationService)(nil)

func (m *mockGenerationService) GenerateTestCases(ctx context.Context, req services.GenerateRequest) *services.GenerationResult {
	m.lastGen = req
	return m.result
}

func (m *mockGenerationService) GenerateSuggestions(ctx context.Context, req services.SuggestionRequest) *services.GenerationResult {
	m.lastSuggest = req
	return m.result
}

type mockLedgerService struct {
	kind      models.LedgerKind
	records   map[string]*models.AIGenerationRecord
	stats     *models.SuggestionStats
	lastLimit int
	err       error
}

var _ services.AILedgerService = (*mockLedgerService)(nil)

func newMockLedger(kind models.LedgerKind) *mockLedgerService {
	return &mockLedgerService{kind: kind, records: map[string]*models.AIGenerationRecord{}}
}

func (m *mockLedgerService) Kind() models.LedgerKind { return m.kind }

func (m *mockLedgerService) Create(ctx context.Context, record *models.AIGenerationRecord) (*models.AIGenerationRecord, error) {
	m.records[record.GenerationID] = record
	return record, m.err
}

func (m *mockLedgerService) UpdateStatus(ctx context.Context, id string, status models.GenerationStatus, patch models.Metadata) (*models.AIGenerationRecord, error) {
	return m.FindByID(ctx, id)
}

func (m *mockLedgerService) MarkCompleted(ctx context.Context, id string, result json.RawMessage, patch models.Metadata) (*models.AIGenerationRecord, error) {
	return m.FindByID(ctx, id)
}

func (m *mockLedgerService) MarkFailed(ctx context.Context, id string, msg string, patch models.Metadata) (*models.AIGenerationRecord, error) {
	return m.FindByID(ctx, id)
}

func (m *mockLedgerService) FindByID(ctx context.Context, id string) (*models.AIGenerationRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return rec, nil
}

func (m *mockLedgerService) FindByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.AIGenerationRecord, error) {
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.AIGenerationRecord
	for _, rec := range m.records {
		if rec.ProjectID == projectID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *mockLedgerService) Stats(ctx context.Context, projectID uuid.UUID) (*models.SuggestionStats, error) {
	return m.stats, m.err
}

type mockProjectService struct {
	projects  map[uuid.UUID]*models.Project
	endpoints []*models.Endpoint
	report    *services.TeardownReport
	err       error
}

var _ services.ProjectService = (*mockProjectService)(nil)

func newMockProjectService() *mockProjectService {
	return &mockProjectService{projects: map[uuid.UUID]*models.Project{}}
}

func (m *mockProjectService) Create(ctx context.Context, project *models.Project) (*models.Project, error) {
	if m.err != nil {
		return nil, m.err
	}
	project.ID = uuid.New()
	m.projects[project.ID] = project
	return project, nil
}

func (m *mockProjectService) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.projects[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return p, nil
}

func (m *mockProjectService) Delete(ctx context.Context, id uuid.UUID) (*services.TeardownReport, error) {
	if m.err != nil {
		return m.report, m.err
	}
	delete(m.projects, id)
	return m.report, nil
}

func (m *mockProjectService) RegisterEndpoint(ctx context.Context, endpoint *models.Endpoint) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.projects[endpoint.ProjectID]; !ok {
		return apperrors.ErrNotFound
	}
	m.endpoints = append(m.endpoints, endpoint)
	return nil
}

type mockCredentialStore struct {
	key    string
	setErr error
}

func (m *mockCredentialStore) Get(ctx context.Context) (string, bool, error) {
	return m.key, m.key != "", nil
}

func (m *mockCredentialStore) Set(ctx context.Context, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.key = value
	return nil
}

func (m *mockCredentialStore) IsConfigured(ctx context.Context) bool {
	return m.key != ""
}

func jsonDecode(rec *httptest.ResponseRecorder, v any) error {
	return json.Unmarshal(rec.Body.Bytes(), v)
}
