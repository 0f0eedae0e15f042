package services

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/apperrors"
	"github.com/testdeck/testdeck-engine/pkg/llm"
	"github.com/testdeck/testdeck-engine/pkg/models"
	"github.com/testdeck/testdeck-engine/pkg/repositories"
)

// stubCredentials is an in-memory credentials.Store.
type stubCredentials struct {
	mu  sync.Mutex
	key string
	err error
}

func (s *stubCredentials) Get(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", false, s.err
	}
	return s.key, s.key != "", nil
}

func (s *stubCredentials) Set(ctx context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = value
	return nil
}

func (s *stubCredentials) IsConfigured(ctx context.Context) bool {
	_, ok, _ := s.Get(ctx)
	return ok
}

// mockProjectRepo stores projects in memory.
type mockProjectRepo struct {
	mu       sync.Mutex
	projects map[uuid.UUID]*models.Project

	updateRefErr error
}

func newMockProjectRepo(projects ...*models.Project) *mockProjectRepo {
	m := &mockProjectRepo{projects: make(map[uuid.UUID]*models.Project)}
	for _, p := range projects {
		m.projects[p.ID] = p
	}
	return m
}

func (m *mockProjectRepo) Create(ctx context.Context, p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.projects[p.ID] = p
	return nil
}

func (m *mockProjectRepo) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (m *mockProjectRepo) UpdateAssistantReference(ctx context.Context, id uuid.UUID, patch models.ProjectAssistantPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateRefErr != nil {
		return m.updateRefErr
	}
	p, ok := m.projects[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if patch.AssistantID == nil {
		p.AssistantID = nil
		p.AssistantCreatedAt = nil
		return nil
	}
	p.AssistantID = patch.AssistantID
	p.AssistantCreatedAt = patch.AssistantCreatedAt
	return nil
}

func (m *mockProjectRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, id)
	return nil
}

// mockEndpointRepo stores endpoints in memory.
type mockEndpointRepo struct {
	mu        sync.Mutex
	endpoints []*models.Endpoint
}

func (m *mockEndpointRepo) Upsert(ctx context.Context, e *models.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.GeneratedArtifacts == nil {
		e.GeneratedArtifacts = map[string]string{}
	}
	m.endpoints = append(m.endpoints, e)
	return nil
}

func (m *mockEndpointRepo) FindByKey(ctx context.Context, key models.EndpointKey) (*models.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.endpoints {
		if e.ProjectID == key.ProjectID && e.Section == key.Section && e.EntityName == key.EntityName {
			out := *e
			out.GeneratedArtifacts = make(map[string]string, len(e.GeneratedArtifacts))
			for k, v := range e.GeneratedArtifacts {
				out.GeneratedArtifacts[k] = v
			}
			return &out, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockEndpointRepo) SetArtifact(ctx context.Context, id uuid.UUID, kind, relPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.endpoints {
		if e.ID == id {
			e.GeneratedArtifacts[kind] = relPath
			return nil
		}
	}
	return apperrors.ErrNotFound
}

// mockTestCaseRepo records inserted rows.
type mockTestCaseRepo struct {
	mu   sync.Mutex
	rows []*models.TestCase
	err  error
}

func (m *mockTestCaseRepo) CreateBatch(ctx context.Context, rows []*models.TestCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, rows...)
	return nil
}

func (m *mockTestCaseRepo) ListByGeneration(ctx context.Context, generationID string) ([]*models.TestCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TestCase
	for _, r := range m.rows {
		if r.GenerationID == generationID {
			out = append(out, r)
		}
	}
	return out, nil
}

// mockAssistantRepo stores assistant records in memory. Deleting a record
// removes the project's threads from threads, like the foreign key cascade.
type mockAssistantRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.AIAssistant
	threads *mockThreadRepo

	createErr error
	deleteErr error
	// threadsAtDelete is the number of project threads left when DeleteByProject ran.
	threadsAtDelete int
}

func newMockAssistantRepo(threads *mockThreadRepo) *mockAssistantRepo {
	return &mockAssistantRepo{records: make(map[uuid.UUID]*models.AIAssistant), threads: threads, threadsAtDelete: -1}
}

func (m *mockAssistantRepo) Create(ctx context.Context, a *models.AIAssistant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.records[a.ProjectID]; ok {
		return apperrors.ErrConflict
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	out := *a
	m.records[a.ProjectID] = &out
	return nil
}

func (m *mockAssistantRepo) GetByProject(ctx context.Context, projectID uuid.UUID) (*models.AIAssistant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.records[projectID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (m *mockAssistantRepo) DeleteByProject(ctx context.Context, projectID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.records[projectID]; !ok {
		return apperrors.ErrNotFound
	}
	if m.threads != nil {
		m.threadsAtDelete = m.threads.countProject(projectID)
		m.threads.deleteProject(projectID)
	}
	delete(m.records, projectID)
	return nil
}

func (m *mockAssistantRepo) ListAssistantIDs(ctx context.Context) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{}, len(m.records))
	for _, a := range m.records {
		out[a.AssistantID] = struct{}{}
	}
	return out, nil
}

// mockThreadRepo stores thread records in memory.
type mockThreadRepo struct {
	mu      sync.Mutex
	threads map[string]*models.AIThread

	deleteErr error
}

func newMockThreadRepo() *mockThreadRepo {
	return &mockThreadRepo{threads: make(map[string]*models.AIThread)}
}

func (m *mockThreadRepo) Create(ctx context.Context, t *models.AIThread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.LastUsedAt.IsZero() {
		t.LastUsedAt = time.Now()
	}
	t.CreatedAt = time.Now()
	out := *t
	m.threads[t.ThreadID] = &out
	return nil
}

func (m *mockThreadRepo) GetByThreadID(ctx context.Context, threadID string) (*models.AIThread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := *t
	return &out, nil
}

func (m *mockThreadRepo) list(keep func(*models.AIThread) bool) []*models.AIThread {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AIThread
	for _, t := range m.threads {
		if keep(t) {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.After(out[j].LastUsedAt) })
	return out
}

func (m *mockThreadRepo) ListByPair(ctx context.Context, projectID uuid.UUID, assistantID string) ([]*models.AIThread, error) {
	return m.list(func(t *models.AIThread) bool { return t.ProjectID == projectID && t.AssistantID == assistantID }), nil
}

func (m *mockThreadRepo) ListActiveByPair(ctx context.Context, projectID uuid.UUID, assistantID string) ([]*models.AIThread, error) {
	return m.list(func(t *models.AIThread) bool {
		return t.ProjectID == projectID && t.AssistantID == assistantID && t.IsActive()
	}), nil
}

func (m *mockThreadRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.AIThread, error) {
	return m.list(func(t *models.AIThread) bool { return t.ProjectID == projectID }), nil
}

func (m *mockThreadRepo) Update(ctx context.Context, t *models.AIThread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.threads[t.ThreadID]
	if !ok {
		return apperrors.ErrNotFound
	}
	existing.Status = t.Status
	existing.MessageCount = t.MessageCount
	existing.LastUsedAt = t.LastUsedAt
	return nil
}

func (m *mockThreadRepo) Delete(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.threads, threadID)
	return nil
}

func (m *mockThreadRepo) countProject(projectID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.threads {
		if t.ProjectID == projectID {
			n++
		}
	}
	return n
}

func (m *mockThreadRepo) deleteProject(projectID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.threads {
		if t.ProjectID == projectID {
			delete(m.threads, id)
		}
	}
}

func (m *mockThreadRepo) get(threadID string) *models.AIThread {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok {
		return nil
	}
	out := *t
	return &out
}

// mockLedgerRepo is an in-memory ledger enforcing the same transition rules as SQL.
type mockLedgerRepo struct {
	mu      sync.Mutex
	kind    models.LedgerKind
	records map[string]*models.AIGenerationRecord
	order   []string

	createErr error
}

func newMockLedgerRepo(kind models.LedgerKind) *mockLedgerRepo {
	return &mockLedgerRepo{kind: kind, records: make(map[string]*models.AIGenerationRecord)}
}

func (m *mockLedgerRepo) Kind() models.LedgerKind { return m.kind }

func (m *mockLedgerRepo) Create(ctx context.Context, rec *models.AIGenerationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.records[rec.GenerationID]; ok {
		return apperrors.ErrConflict
	}
	rec.ID = uuid.New()
	if rec.Metadata == nil {
		rec.Metadata = models.Metadata{}
	}
	c := *rec
	c.Metadata = rec.Metadata.Merge(nil)
	m.records[rec.GenerationID] = &c
	m.order = append(m.order, rec.GenerationID)
	return nil
}

func (m *mockLedgerRepo) GetByGenerationID(ctx context.Context, generationID string) (*models.AIGenerationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[generationID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (m *mockLedgerRepo) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.AIGenerationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AIGenerationRecord
	for i := len(m.order) - 1; i >= 0; i-- {
		rec := m.records[m.order[i]]
		if rec.ProjectID == projectID {
			c := *rec
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *mockLedgerRepo) Update(ctx context.Context, generationID string, u repositories.LedgerUpdate) (*models.AIGenerationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[generationID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	allowed := false
	for _, s := range u.From {
		if rec.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return nil, apperrors.ErrInvalidTransition
	}

	// Round-trip the patch through JSON like the jsonb column does.
	raw, err := json.Marshal(u.MetadataPatch)
	if err != nil {
		return nil, err
	}
	var patch models.Metadata
	if err := json.Unmarshal(raw, &patch); err != nil {
		return nil, err
	}

	rec.Status = u.Status
	if u.Result != nil {
		rec.Result = u.Result
	}
	if u.ErrorMessage != nil {
		msg := *u.ErrorMessage
		rec.ErrorMessage = &msg
	}
	rec.Metadata = rec.Metadata.Merge(patch)
	rec.UpdatedAt = time.Now()
	c := *rec
	return &c, nil
}

func (m *mockLedgerRepo) Stats(ctx context.Context, projectID uuid.UUID) (*models.SuggestionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.SuggestionStats{ByStatus: map[models.GenerationStatus]int{}}
	for _, rec := range m.records {
		if rec.ProjectID != projectID {
			continue
		}
		stats.Total++
		stats.ByStatus[rec.Status]++
		stats.TotalTokens += rec.Metadata.Int("tokens_used")
	}
	return stats, nil
}

func (m *mockLedgerRepo) only() *models.AIGenerationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) != 1 {
		return nil
	}
	c := *m.records[m.order[0]]
	return &c
}

func (m *mockLedgerRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// mockArtifactWriter records appends and can be told to fail.
type mockArtifactWriter struct {
	mu       sync.Mutex
	existing ExistingArtifacts
	appended []*ParsedGeneration

	AppendFunc func(ctx context.Context, target ArtifactTarget, parsed *ParsedGeneration) ([]string, error)
}

func (m *mockArtifactWriter) ReadExisting(ctx context.Context, target ArtifactTarget) (ExistingArtifacts, error) {
	return m.existing, nil
}

func (m *mockArtifactWriter) Append(ctx context.Context, target ArtifactTarget, parsed *ParsedGeneration) ([]string, error) {
	m.mu.Lock()
	m.appended = append(m.appended, parsed)
	m.mu.Unlock()
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, target, parsed)
	}
	return []string{"features/catalog/products.feature"}, nil
}

// aiFixture wires the AI services over in-memory collaborators.
type aiFixture struct {
	projectID uuid.UUID
	provider  *llm.MockAssistantsProvider
	factory   *llm.MockProviderFactory
	creds     *stubCredentials

	projects      *mockProjectRepo
	endpoints     *mockEndpointRepo
	testCases     *mockTestCaseRepo
	assistantRepo *mockAssistantRepo
	threadRepo    *mockThreadRepo
	generations   *mockLedgerRepo
	suggestions   *mockLedgerRepo
	artifacts     *mockArtifactWriter

	locks      *ProjectLocks
	threads    AIThreadService
	assistants AIAssistantService
	generator  AIGenerationService
}

func newAIFixture(t *testing.T) *aiFixture {
	t.Helper()

	projectID := uuid.New()
	f := &aiFixture{
		projectID:   projectID,
		provider:    llm.NewMockAssistantsProvider(),
		creds:       &stubCredentials{key: "sk-test-key-0123456789"},
		projects:    newMockProjectRepo(&models.Project{ID: projectID, Name: "Shop API", Path: "shop"}),
		endpoints:   &mockEndpointRepo{},
		testCases:   &mockTestCaseRepo{},
		threadRepo:  newMockThreadRepo(),
		generations: newMockLedgerRepo(models.LedgerGenerations),
		suggestions: newMockLedgerRepo(models.LedgerSuggestions),
		artifacts:   &mockArtifactWriter{},
		locks:       NewProjectLocks(),
	}
	f.factory = &llm.MockProviderFactory{Provider: f.provider}
	f.assistantRepo = newMockAssistantRepo(f.threadRepo)

	logger := zap.NewNop()
	f.threads = NewAIThreadService(f.threadRepo, f.creds, f.factory, ThreadSettings{}, logger)
	f.assistants = NewAIAssistantService(f.assistantRepo, f.projects, f.threads, f.creds, f.factory, f.locks, "gpt-4o", logger)
	f.generator = NewAIGenerationService(&AIGenerationServiceDeps{
		ProjectRepo:     f.projects,
		EndpointRepo:    f.endpoints,
		TestCaseRepo:    f.testCases,
		Assistants:      f.assistants,
		Threads:         f.threads,
		GenerationLog:   NewAILedgerService(f.generations, logger),
		SuggestionLog:   NewAILedgerService(f.suggestions, logger),
		Artifacts:       f.artifacts,
		Credentials:     f.creds,
		ProviderFactory: f.factory,
		Locks:           f.locks,
		Model:           "gpt-4o",
		Poll:            llm.PollConfig{Interval: time.Millisecond, MaxWait: 50 * time.Millisecond},
		Logger:          logger,
	})
	return f
}

// initAssistant creates the project's assistant and fails the test on error.
func (f *aiFixture) initAssistant(t *testing.T) *models.AIAssistant {
	t.Helper()
	a, err := f.assistants.CreateAssistant(context.Background(), f.projectID)
	if err != nil {
		t.Fatalf("CreateAssistant failed: %v", err)
	}
	return a
}
