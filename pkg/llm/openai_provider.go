package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIProvider implements AssistantsProvider on the OpenAI Assistants v2 API.
// Every call passes through the shared circuit breaker. Not-found answers are
// treated as healthy responses so liveness checks on stale ids never trip it.
type OpenAIProvider struct {
	client  *openai.Client
	breaker *CircuitBreaker
	logger  *zap.Logger
}

var _ AssistantsProvider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider for one API key.
func NewOpenAIProvider(apiKey, baseURL string, breaker *CircuitBreaker, logger *zap.Logger) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultCircuitBreakerConfig())
	}
	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(cfg),
		breaker: breaker,
		logger:  logger.Named("assistants-provider"),
	}
}

// call runs fn behind the circuit breaker and classifies its error.
func (p *OpenAIProvider) call(ctx context.Context, op string, fn func() error) error {
	if allowed, err := p.breaker.Allow(); !allowed {
		return fmt.Errorf("%s: %w", op, NewError(ErrorTypeUnavailable, "provider unavailable", true, err))
	}

	err := fn()
	if err == nil {
		p.breaker.RecordSuccess()
		return nil
	}

	classified := ClassifyError(err)
	if classified.Type == ErrorTypeNotFound {
		p.breaker.RecordSuccess()
	} else {
		p.breaker.RecordFailure()
		fields := append([]zap.Field{
			zap.String("op", op),
			zap.String("error_type", string(classified.Type)),
			zap.Int("status_code", classified.StatusCode),
		}, LogFields(ctx)...)
		p.logger.Warn("Provider call failed", fields...)
	}
	return fmt.Errorf("%s: %w", op, classified)
}

func (p *OpenAIProvider) CreateAssistant(ctx context.Context, spec AssistantSpec) (*Assistant, error) {
	req := openai.AssistantRequest{
		Model:        spec.Model,
		Name:         &spec.Name,
		Instructions: &spec.Instructions,
	}
	for _, tool := range spec.Tools {
		req.Tools = append(req.Tools, openai.AssistantTool{Type: openai.AssistantToolType(tool)})
	}
	if len(spec.Metadata) > 0 {
		req.Metadata = make(map[string]any, len(spec.Metadata))
		for k, v := range spec.Metadata {
			req.Metadata[k] = v
		}
	}

	var resp openai.Assistant
	err := p.call(ctx, "create assistant", func() (err error) {
		resp, err = p.client.CreateAssistant(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toAssistant(resp), nil
}

func (p *OpenAIProvider) RetrieveAssistant(ctx context.Context, assistantID string) (*Assistant, error) {
	var resp openai.Assistant
	err := p.call(ctx, "retrieve assistant", func() (err error) {
		resp, err = p.client.RetrieveAssistant(ctx, assistantID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toAssistant(resp), nil
}

func (p *OpenAIProvider) DeleteAssistant(ctx context.Context, assistantID string) error {
	return p.call(ctx, "delete assistant", func() error {
		_, err := p.client.DeleteAssistant(ctx, assistantID)
		return err
	})
}

func (p *OpenAIProvider) ListAssistants(ctx context.Context, after string, limit int) (*AssistantPage, error) {
	order := "asc"
	var afterPtr *string
	if after != "" {
		afterPtr = &after
	}

	var resp openai.AssistantsList
	err := p.call(ctx, "list assistants", func() (err error) {
		resp, err = p.client.ListAssistants(ctx, &limit, &order, afterPtr, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	page := &AssistantPage{HasMore: resp.HasMore}
	for _, a := range resp.Assistants {
		page.Assistants = append(page.Assistants, *toAssistant(a))
	}
	if resp.LastID != nil {
		page.LastID = *resp.LastID
	}
	return page, nil
}

func (p *OpenAIProvider) CreateThread(ctx context.Context) (*Thread, error) {
	var resp openai.Thread
	err := p.call(ctx, "create thread", func() (err error) {
		resp, err = p.client.CreateThread(ctx, openai.ThreadRequest{})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Thread{ID: resp.ID, CreatedAt: resp.CreatedAt}, nil
}

func (p *OpenAIProvider) RetrieveThread(ctx context.Context, threadID string) (*Thread, error) {
	var resp openai.Thread
	err := p.call(ctx, "retrieve thread", func() (err error) {
		resp, err = p.client.RetrieveThread(ctx, threadID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Thread{ID: resp.ID, CreatedAt: resp.CreatedAt}, nil
}

func (p *OpenAIProvider) DeleteThread(ctx context.Context, threadID string) error {
	return p.call(ctx, "delete thread", func() error {
		_, err := p.client.DeleteThread(ctx, threadID)
		return err
	})
}

func (p *OpenAIProvider) CreateMessage(ctx context.Context, threadID, content string) (*Message, error) {
	var resp openai.Message
	err := p.call(ctx, "create message", func() (err error) {
		resp, err = p.client.CreateMessage(ctx, threadID, openai.MessageRequest{
			Role:    string(openai.ThreadMessageRoleUser),
			Content: content,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return toMessage(resp), nil
}

func (p *OpenAIProvider) LatestMessage(ctx context.Context, threadID string) (*Message, error) {
	limit := 1
	order := "desc"

	var resp openai.MessagesList
	err := p.call(ctx, "list messages", func() (err error) {
		resp, err = p.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, ErrEmptyResponse
	}
	return toMessage(resp.Messages[0]), nil
}

func (p *OpenAIProvider) RetrieveMessage(ctx context.Context, threadID, messageID string) (*Message, error) {
	var resp openai.Message
	err := p.call(ctx, "retrieve message", func() (err error) {
		resp, err = p.client.RetrieveMessage(ctx, threadID, messageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toMessage(resp), nil
}

func (p *OpenAIProvider) CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error) {
	var resp openai.Run
	err := p.call(ctx, "create run", func() (err error) {
		resp, err = p.client.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: assistantID})
		return err
	})
	if err != nil {
		return nil, err
	}
	return toRun(resp), nil
}

func (p *OpenAIProvider) RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error) {
	var resp openai.Run
	err := p.call(ctx, "retrieve run", func() (err error) {
		resp, err = p.client.RetrieveRun(ctx, threadID, runID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toRun(resp), nil
}

func (p *OpenAIProvider) ListRunSteps(ctx context.Context, threadID, runID string) ([]RunStep, error) {
	var resp openai.RunStepList
	err := p.call(ctx, "list run steps", func() (err error) {
		resp, err = p.client.ListRunSteps(ctx, threadID, runID, openai.Pagination{})
		return err
	})
	if err != nil {
		return nil, err
	}

	steps := make([]RunStep, 0, len(resp.RunSteps))
	for _, s := range resp.RunSteps {
		step := RunStep{ID: s.ID, Type: string(s.Type)}
		if s.StepDetails.MessageCreation != nil {
			step.MessageID = s.StepDetails.MessageCreation.MessageID
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func toAssistant(a openai.Assistant) *Assistant {
	out := &Assistant{
		ID:        a.ID,
		Model:     a.Model,
		CreatedAt: a.CreatedAt,
	}
	if a.Name != nil {
		out.Name = *a.Name
	}
	if a.Instructions != nil {
		out.Instructions = *a.Instructions
	}
	return out
}

// toMessage joins all text content parts; image parts are ignored.
func toMessage(m openai.Message) *Message {
	var text strings.Builder
	for _, c := range m.Content {
		if c.Text == nil {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(c.Text.Value)
	}

	out := &Message{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		Role:      m.Role,
		Text:      text.String(),
		CreatedAt: int64(m.CreatedAt),
	}
	if m.RunID != nil {
		out.RunID = *m.RunID
	}
	return out
}

func toRun(r openai.Run) *Run {
	out := &Run{
		ID:          r.ID,
		ThreadID:    r.ThreadID,
		AssistantID: r.AssistantID,
		Status:      RunStatus(r.Status),
		Model:       r.Model,
		Usage: Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		},
	}
	if r.LastError != nil {
		out.LastError = r.LastError.Message
	}
	return out
}
