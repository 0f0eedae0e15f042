// Package llm wraps the remote Assistants API behind a small, testable surface.
package llm

import "context"

// Assistant is a remote assistant persona.
type Assistant struct {
	ID           string
	Name         string
	Model        string
	Instructions string
	CreatedAt    int64
}

// AssistantSpec describes an assistant to create.
type AssistantSpec struct {
	Name         string
	Instructions string
	Model        string
	Tools        []string
	Metadata     map[string]string
}

// AssistantPage is one page of ListAssistants results.
type AssistantPage struct {
	Assistants []Assistant
	LastID     string
	HasMore    bool
}

// Thread is a remote conversation thread.
type Thread struct {
	ID        string
	CreatedAt int64
}

// Message is a thread message with its text content flattened.
type Message struct {
	ID        string
	ThreadID  string
	Role      string
	RunID     string
	Text      string
	CreatedAt int64
}

// RunStatus mirrors the provider's run lifecycle states.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusIncomplete     RunStatus = "incomplete"
	RunStatusExpired        RunStatus = "expired"
)

// Usage is token accounting for a run.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// IsZero reports whether no usage was recorded.
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// Run is an asynchronous execution of an assistant against a thread.
type Run struct {
	ID          string
	ThreadID    string
	AssistantID string
	Status      RunStatus
	Model       string
	LastError   string
	Usage       Usage
}

// RunStepTypeMessageCreation marks a run step that produced a message.
const RunStepTypeMessageCreation = "message_creation"

// RunStep is one execution step of a run.
type RunStep struct {
	ID        string
	Type      string
	MessageID string
}

// AssistantsProvider is the remote surface the session lifecycle depends on.
// Retrieval of a resource that no longer exists returns an error matching ErrResourceGone.
type AssistantsProvider interface {
	CreateAssistant(ctx context.Context, spec AssistantSpec) (*Assistant, error)
	RetrieveAssistant(ctx context.Context, assistantID string) (*Assistant, error)
	DeleteAssistant(ctx context.Context, assistantID string) error
	ListAssistants(ctx context.Context, after string, limit int) (*AssistantPage, error)

	CreateThread(ctx context.Context) (*Thread, error)
	RetrieveThread(ctx context.Context, threadID string) (*Thread, error)
	DeleteThread(ctx context.Context, threadID string) error

	CreateMessage(ctx context.Context, threadID, content string) (*Message, error)
	// LatestMessage returns the newest message in the thread, or ErrEmptyResponse when there is none.
	LatestMessage(ctx context.Context, threadID string) (*Message, error)
	RetrieveMessage(ctx context.Context, threadID, messageID string) (*Message, error)

	CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error)
	ListRunSteps(ctx context.Context, threadID, runID string) ([]RunStep, error)
}

// ProviderFactory builds a provider bound to one credential.
// Callers resolve the credential at the start of each operation and ask for a fresh value.
type ProviderFactory interface {
	ForCredential(apiKey string) AssistantsProvider
}
