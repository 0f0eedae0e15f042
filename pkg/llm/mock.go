package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MockAssistantsProvider is an in-memory AssistantsProvider for tests.
// By default it behaves like a healthy provider: CreateRun completes
// immediately and appends an assistant message containing Reply.
// Set the function fields to override individual calls.
type MockAssistantsProvider struct {
	mu sync.Mutex

	// Reply is the assistant text produced by each completed run.
	Reply string
	// FinalRunStatus is the status CreateRun reports. Defaults to completed.
	FinalRunStatus RunStatus
	// RunUsage is reported on completed runs.
	RunUsage Usage

	CreateAssistantFunc   func(ctx context.Context, spec AssistantSpec) (*Assistant, error)
	RetrieveAssistantFunc func(ctx context.Context, assistantID string) (*Assistant, error)
	DeleteAssistantFunc   func(ctx context.Context, assistantID string) error
	CreateThreadFunc      func(ctx context.Context) (*Thread, error)
	RetrieveThreadFunc    func(ctx context.Context, threadID string) (*Thread, error)
	DeleteThreadFunc      func(ctx context.Context, threadID string) error
	CreateMessageFunc     func(ctx context.Context, threadID, content string) (*Message, error)
	CreateRunFunc         func(ctx context.Context, threadID, assistantID string) (*Run, error)
	RetrieveRunFunc       func(ctx context.Context, threadID, runID string) (*Run, error)

	assistants map[string]*Assistant
	threads    map[string]*Thread
	messages   map[string][]*Message
	runs       map[string]*Run
	steps      map[string][]RunStep
	nextID     int

	// Calls records every invocation as "Method:arg" in order.
	Calls []string
}

var _ AssistantsProvider = (*MockAssistantsProvider)(nil)

// NewMockAssistantsProvider creates a mock with an empty remote state.
func NewMockAssistantsProvider() *MockAssistantsProvider {
	return &MockAssistantsProvider{
		Reply:          "ok",
		FinalRunStatus: RunStatusCompleted,
		assistants:     make(map[string]*Assistant),
		threads:        make(map[string]*Thread),
		messages:       make(map[string][]*Message),
		runs:           make(map[string]*Run),
		steps:          make(map[string][]RunStep),
	}
}

func (m *MockAssistantsProvider) record(method, arg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, method+":"+arg)
}

func (m *MockAssistantsProvider) newID(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s_%d", prefix, m.nextID)
}

func gone(kind, id string) error {
	return NewError(ErrorTypeNotFound, fmt.Sprintf("no %s found with id '%s'", kind, id), false, nil)
}

// CallCount returns how many recorded calls start with method.
func (m *MockAssistantsProvider) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if strings.HasPrefix(c, method+":") {
			n++
		}
	}
	return n
}

// HasAssistant reports whether the remote assistant exists.
func (m *MockAssistantsProvider) HasAssistant(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.assistants[id]
	return ok
}

// HasThread reports whether the remote thread exists.
func (m *MockAssistantsProvider) HasThread(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.threads[id]
	return ok
}

// SeedAssistant adds a remote assistant without recording a call.
func (m *MockAssistantsProvider) SeedAssistant(a Assistant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assistants[a.ID] = &a
}

// SeedThread adds a remote thread without recording a call.
func (m *MockAssistantsProvider) SeedThread(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[id] = &Thread{ID: id}
}

// RemoveAssistant deletes a remote assistant out-of-band.
func (m *MockAssistantsProvider) RemoveAssistant(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assistants, id)
}

// RemoveThread deletes a remote thread out-of-band.
func (m *MockAssistantsProvider) RemoveThread(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, id)
}

// LastPrompt returns the most recent user message sent to any thread.
func (m *MockAssistantsProvider) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *Message
	for _, msgs := range m.messages {
		for _, msg := range msgs {
			if msg.Role == "user" && (last == nil || msg.CreatedAt > last.CreatedAt) {
				last = msg
			}
		}
	}
	if last == nil {
		return ""
	}
	return last.Text
}

func (m *MockAssistantsProvider) CreateAssistant(ctx context.Context, spec AssistantSpec) (*Assistant, error) {
	m.record("CreateAssistant", spec.Name)
	if m.CreateAssistantFunc != nil {
		return m.CreateAssistantFunc(ctx, spec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &Assistant{ID: m.newID("asst"), Name: spec.Name, Model: spec.Model, Instructions: spec.Instructions}
	m.assistants[a.ID] = a
	out := *a
	return &out, nil
}

func (m *MockAssistantsProvider) RetrieveAssistant(ctx context.Context, assistantID string) (*Assistant, error) {
	m.record("RetrieveAssistant", assistantID)
	if m.RetrieveAssistantFunc != nil {
		return m.RetrieveAssistantFunc(ctx, assistantID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assistants[assistantID]
	if !ok {
		return nil, gone("assistant", assistantID)
	}
	out := *a
	return &out, nil
}

func (m *MockAssistantsProvider) DeleteAssistant(ctx context.Context, assistantID string) error {
	m.record("DeleteAssistant", assistantID)
	if m.DeleteAssistantFunc != nil {
		return m.DeleteAssistantFunc(ctx, assistantID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assistants[assistantID]; !ok {
		return gone("assistant", assistantID)
	}
	delete(m.assistants, assistantID)
	return nil
}

// ListAssistants pages through assistants in id order.
func (m *MockAssistantsProvider) ListAssistants(ctx context.Context, after string, limit int) (*AssistantPage, error) {
	m.record("ListAssistants", after)
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.assistants))
	for id := range m.assistants {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	page := &AssistantPage{}
	for _, id := range ids {
		if after != "" && id <= after {
			continue
		}
		if limit > 0 && len(page.Assistants) == limit {
			page.HasMore = true
			break
		}
		page.Assistants = append(page.Assistants, *m.assistants[id])
		page.LastID = id
	}
	return page, nil
}

func (m *MockAssistantsProvider) CreateThread(ctx context.Context) (*Thread, error) {
	m.record("CreateThread", "")
	if m.CreateThreadFunc != nil {
		return m.CreateThreadFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &Thread{ID: m.newID("thread")}
	m.threads[t.ID] = t
	out := *t
	return &out, nil
}

func (m *MockAssistantsProvider) RetrieveThread(ctx context.Context, threadID string) (*Thread, error) {
	m.record("RetrieveThread", threadID)
	if m.RetrieveThreadFunc != nil {
		return m.RetrieveThreadFunc(ctx, threadID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok {
		return nil, gone("thread", threadID)
	}
	out := *t
	return &out, nil
}

func (m *MockAssistantsProvider) DeleteThread(ctx context.Context, threadID string) error {
	m.record("DeleteThread", threadID)
	if m.DeleteThreadFunc != nil {
		return m.DeleteThreadFunc(ctx, threadID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[threadID]; !ok {
		return gone("thread", threadID)
	}
	delete(m.threads, threadID)
	delete(m.messages, threadID)
	return nil
}

func (m *MockAssistantsProvider) CreateMessage(ctx context.Context, threadID, content string) (*Message, error) {
	m.record("CreateMessage", threadID)
	if m.CreateMessageFunc != nil {
		return m.CreateMessageFunc(ctx, threadID, content)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[threadID]; !ok {
		return nil, gone("thread", threadID)
	}
	msg := &Message{ID: m.newID("msg"), ThreadID: threadID, Role: "user", Text: content, CreatedAt: int64(m.nextID)}
	m.messages[threadID] = append(m.messages[threadID], msg)
	out := *msg
	return &out, nil
}

func (m *MockAssistantsProvider) LatestMessage(ctx context.Context, threadID string) (*Message, error) {
	m.record("LatestMessage", threadID)
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[threadID]
	if len(msgs) == 0 {
		return nil, ErrEmptyResponse
	}
	out := *msgs[len(msgs)-1]
	return &out, nil
}

func (m *MockAssistantsProvider) RetrieveMessage(ctx context.Context, threadID, messageID string) (*Message, error) {
	m.record("RetrieveMessage", messageID)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages[threadID] {
		if msg.ID == messageID {
			out := *msg
			return &out, nil
		}
	}
	return nil, gone("message", messageID)
}

// CreateRun finishes the run immediately with FinalRunStatus.
// A completed run appends the Reply message and a message_creation step.
func (m *MockAssistantsProvider) CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error) {
	m.record("CreateRun", threadID)
	if m.CreateRunFunc != nil {
		return m.CreateRunFunc(ctx, threadID, assistantID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[threadID]; !ok {
		return nil, gone("thread", threadID)
	}

	status := m.FinalRunStatus
	if status == "" {
		status = RunStatusCompleted
	}
	run := &Run{ID: m.newID("run"), ThreadID: threadID, AssistantID: assistantID, Status: status, Model: "mock-model"}

	switch status {
	case RunStatusCompleted:
		run.Usage = m.RunUsage
		reply := &Message{ID: m.newID("msg"), ThreadID: threadID, Role: "assistant", RunID: run.ID, Text: m.Reply, CreatedAt: int64(m.nextID)}
		m.messages[threadID] = append(m.messages[threadID], reply)
		m.steps[run.ID] = []RunStep{{ID: m.newID("step"), Type: RunStepTypeMessageCreation, MessageID: reply.ID}}
	case RunStatusFailed:
		run.LastError = "The model encountered an error"
	}

	m.runs[run.ID] = run
	out := *run
	return &out, nil
}

func (m *MockAssistantsProvider) RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error) {
	m.record("RetrieveRun", runID)
	if m.RetrieveRunFunc != nil {
		return m.RetrieveRunFunc(ctx, threadID, runID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, gone("run", runID)
	}
	out := *run
	return &out, nil
}

func (m *MockAssistantsProvider) ListRunSteps(ctx context.Context, threadID, runID string) ([]RunStep, error) {
	m.record("ListRunSteps", runID)
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunStep(nil), m.steps[runID]...), nil
}

// MockProviderFactory hands out a fixed provider and records the keys it was asked for.
type MockProviderFactory struct {
	Provider AssistantsProvider
	Keys     []string
	mu       sync.Mutex
}

var _ ProviderFactory = (*MockProviderFactory)(nil)

func (f *MockProviderFactory) ForCredential(apiKey string) AssistantsProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Keys = append(f.Keys, apiKey)
	return f.Provider
}
