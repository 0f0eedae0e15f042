package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/apperrors"
	"github.com/testdeck/testdeck-engine/pkg/credentials"
	"github.com/testdeck/testdeck-engine/pkg/llm"
	"github.com/testdeck/testdeck-engine/pkg/logging"
	"github.com/testdeck/testdeck-engine/pkg/metrics"
	"github.com/testdeck/testdeck-engine/pkg/models"
	"github.com/testdeck/testdeck-engine/pkg/prompts"
	"github.com/testdeck/testdeck-engine/pkg/repositories"
)

// GenerateRequest asks for new test cases for one entity.
type GenerateRequest struct {
	ProjectID    uuid.UUID `json:"-"`
	Section      string    `json:"section"`
	EntityName   string    `json:"entity_name"`
	Operation    string    `json:"operation"`
	Requirements string    `json:"requirements,omitempty"`
}

// SuggestionRequest asks for test ideas for one entity.
type SuggestionRequest struct {
	ProjectID    uuid.UUID `json:"-"`
	Section      string    `json:"section"`
	EntityName   string    `json:"entity_name"`
	Requirements string    `json:"requirements,omitempty"`
}

// GenerationMetadata is reported on every result and merged into the audit record.
type GenerationMetadata struct {
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	TokensUsed       int      `json:"tokens_used"`
	ModelUsed        string   `json:"model_used,omitempty"`
	GenerationID     string   `json:"generation_id"`
	AssistantID      string   `json:"assistant_id,omitempty"`
	ThreadID         string   `json:"thread_id,omitempty"`
	UsageSource      string   `json:"usage_source,omitempty"`
	ModifiedFiles    []string `json:"modified_files,omitempty"`
	SecondaryErrors  []string `json:"secondary_errors,omitempty"`
}

func (m *GenerationMetadata) patch() models.Metadata {
	p := models.Metadata{
		"processing_time_ms": m.ProcessingTimeMs,
		"tokens_used":        m.TokensUsed,
		"generation_id":      m.GenerationID,
	}
	if m.ModelUsed != "" {
		p["model_used"] = m.ModelUsed
	}
	if m.AssistantID != "" {
		p["assistant_id"] = m.AssistantID
	}
	if m.ThreadID != "" {
		p["thread_id"] = m.ThreadID
	}
	if m.UsageSource != "" {
		p["usage_source"] = m.UsageSource
	}
	if len(m.ModifiedFiles) > 0 {
		p["modified_files"] = m.ModifiedFiles
	}
	if len(m.SecondaryErrors) > 0 {
		p["secondary_errors"] = m.SecondaryErrors
	}
	return p
}

// GenerationResult is the outcome of one orchestration. Primary-path failures
// are reported here with Success=false rather than as a Go error.
type GenerationResult struct {
	Success  bool               `json:"success"`
	Data     any                `json:"data,omitempty"`
	Error    string             `json:"error,omitempty"`
	Metadata GenerationMetadata `json:"metadata"`

	err error
}

// Err returns the primary-path failure, or nil on success.
func (r *GenerationResult) Err() error {
	return r.err
}

// FailedResult builds an unsuccessful result carrying cause.
func FailedResult(message string, meta GenerationMetadata, cause error) *GenerationResult {
	return &GenerationResult{Success: false, Error: message, Metadata: meta, err: cause}
}

// GeneratedTests is the data of a successful test-case generation.
type GeneratedTests struct {
	Feature          string   `json:"feature,omitempty"`
	Steps            string   `json:"steps,omitempty"`
	Scenarios        []string `json:"scenarios"`
	TestCasesCreated int      `json:"test_cases_created"`
	ModifiedFiles    []string `json:"modified_files"`
}

// GeneratedSuggestions is the data of a successful suggestion generation.
type GeneratedSuggestions struct {
	Suggestions []Suggestion `json:"suggestions"`
}

// AIGenerationService drives generation and suggestion requests end to end.
type AIGenerationService interface {
	GenerateTestCases(ctx context.Context, req GenerateRequest) *GenerationResult
	GenerateSuggestions(ctx context.Context, req SuggestionRequest) *GenerationResult
}

// AIGenerationServiceDeps contains dependencies for AIGenerationService.
type AIGenerationServiceDeps struct {
	ProjectRepo     repositories.ProjectRepository
	EndpointRepo    repositories.EndpointRepository
	TestCaseRepo    repositories.TestCaseRepository
	Assistants      AIAssistantService
	Threads         AIThreadService
	GenerationLog   AILedgerService
	SuggestionLog   AILedgerService
	Artifacts       ArtifactWriter
	Credentials     credentials.Store
	ProviderFactory llm.ProviderFactory
	Locks           ProjectLocker
	Model           string
	Poll            llm.PollConfig
	Logger          *zap.Logger
}

type aiGenerationService struct {
	projectRepo   repositories.ProjectRepository
	endpointRepo  repositories.EndpointRepository
	testCaseRepo  repositories.TestCaseRepository
	assistants    AIAssistantService
	threads       AIThreadService
	generationLog AILedgerService
	suggestionLog AILedgerService
	artifacts     ArtifactWriter
	resolver      providerResolver
	locks         ProjectLocker
	model         string
	poll          llm.PollConfig
	logger        *zap.Logger
}

// NewAIGenerationService creates the generation orchestrator.
func NewAIGenerationService(deps *AIGenerationServiceDeps) AIGenerationService {
	locks := deps.Locks
	if locks == nil {
		locks = NewProjectLocks()
	}
	return &aiGenerationService{
		projectRepo:   deps.ProjectRepo,
		endpointRepo:  deps.EndpointRepo,
		testCaseRepo:  deps.TestCaseRepo,
		assistants:    deps.Assistants,
		threads:       deps.Threads,
		generationLog: deps.GenerationLog,
		suggestionLog: deps.SuggestionLog,
		artifacts:     deps.Artifacts,
		resolver:      providerResolver{creds: deps.Credentials, factory: deps.ProviderFactory},
		locks:         locks,
		model:         deps.Model,
		poll:          deps.Poll,
		logger:        deps.Logger.Named("ai-generation"),
	}
}

var _ AIGenerationService = (*aiGenerationService)(nil)

// flowInput is the part of a request shared by both flows.
type flowInput struct {
	projectID    uuid.UUID
	section      string
	entityName   string
	operation    string
	requirements string
	payload      any
}

// generationFlow captures what differs between test generation and suggestions.
type generationFlow struct {
	name   string
	idTag  string
	ledger AILedgerService
	prompt func(in flowInput, entity prompts.EntityContext) string
	// handle parses the reply and runs secondary effects. It never fails the
	// orchestration; secondary failures are returned for the metadata.
	handle func(ctx context.Context, in flowInput, target ArtifactTarget, meta *GenerationMetadata, text string) (any, json.RawMessage, []error)
}

func (s *aiGenerationService) GenerateTestCases(ctx context.Context, req GenerateRequest) *GenerationResult {
	flow := generationFlow{
		name:   string(models.LedgerGenerations),
		idTag:  "gen",
		ledger: s.generationLog,
		prompt: func(in flowInput, entity prompts.EntityContext) string {
			return prompts.BuildGenerationPrompt(prompts.GenerationInput{
				EntityContext: entity,
				Operation:     in.operation,
				Requirements:  in.requirements,
			})
		},
		handle: s.handleGeneratedTests,
	}
	return s.execute(ctx, flow, flowInput{
		projectID:    req.ProjectID,
		section:      req.Section,
		entityName:   req.EntityName,
		operation:    req.Operation,
		requirements: req.Requirements,
		payload:      req,
	})
}

func (s *aiGenerationService) GenerateSuggestions(ctx context.Context, req SuggestionRequest) *GenerationResult {
	flow := generationFlow{
		name:   string(models.LedgerSuggestions),
		idTag:  "sug",
		ledger: s.suggestionLog,
		prompt: func(in flowInput, entity prompts.EntityContext) string {
			return prompts.BuildSuggestionPrompt(entity, in.requirements)
		},
		handle: s.handleSuggestions,
	}
	return s.execute(ctx, flow, flowInput{
		projectID:    req.ProjectID,
		section:      req.Section,
		entityName:   req.EntityName,
		operation:    "suggest",
		requirements: req.Requirements,
		payload:      req,
	})
}

// execute runs the shared pipeline. The audit record is created before any
// remote call and always ends completed or failed.
func (s *aiGenerationService) execute(ctx context.Context, flow generationFlow, in flowInput) *GenerationResult {
	start := time.Now()
	meta := &GenerationMetadata{
		GenerationID: newGenerationID(flow.idTag, start),
		ModelUsed:    s.model,
	}
	ctx = llm.WithGenerationContext(ctx, in.projectID, meta.GenerationID, flow.name)
	logger := s.logger.With(
		zap.String("flow", flow.name),
		zap.String("generation_id", meta.GenerationID),
		zap.String("project_id", in.projectID.String()))

	payload, err := json.Marshal(in.payload)
	if err != nil {
		payload = nil
	}
	record := &models.AIGenerationRecord{
		GenerationID:   meta.GenerationID,
		ProjectID:      in.projectID,
		EntityName:     in.entityName,
		Section:        in.section,
		Operation:      in.operation,
		Requirements:   in.requirements,
		RequestPayload: payload,
		Metadata:       models.Metadata{"model_used": s.model},
	}
	if _, err := flow.ledger.Create(ctx, record); err != nil {
		logger.Error("Failed to create audit record", zap.String("error", logging.SanitizeError(err)))
		meta.ProcessingTimeMs = time.Since(start).Milliseconds()
		metrics.RecordGeneration(flow.name, string(models.GenerationStatusFailed), time.Since(start))
		return FailedResult("failed to record generation attempt", *meta, err)
	}

	fail := func(err error) *GenerationResult {
		return s.fail(ctx, flow, meta, start, err, logger)
	}

	provider, err := s.resolver.provider(ctx)
	if err != nil {
		return fail(err)
	}

	if _, err := flow.ledger.UpdateStatus(ctx, meta.GenerationID, models.GenerationStatusProcessing, nil); err != nil {
		return fail(fmt.Errorf("failed to mark generation processing: %w", err))
	}

	project, err := s.projectRepo.Get(ctx, in.projectID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return fail(fmt.Errorf("project %s: %w", in.projectID, apperrors.ErrNotFound))
		}
		return fail(err)
	}

	// Assistant lookup, thread rotation and the run form one critical section
	// per project so a concurrent request cannot rotate our thread away.
	unlock, err := s.locks.Lock(ctx, in.projectID)
	if err != nil {
		return fail(err)
	}
	defer unlock()

	assistant, err := s.assistants.GetAssistant(ctx, in.projectID)
	if err != nil {
		return fail(err)
	}
	if assistant == nil {
		return fail(apperrors.ErrAssistantNotInitialized)
	}
	meta.AssistantID = assistant.AssistantID
	if assistant.Model != "" {
		meta.ModelUsed = assistant.Model
	}

	thread, err := s.threads.CreateThread(ctx, in.projectID, assistant.AssistantID)
	if err != nil {
		return fail(err)
	}
	meta.ThreadID = thread.ThreadID

	target := ArtifactTarget{
		Project: project,
		Key:     models.EndpointKey{ProjectID: in.projectID, Section: in.section, EntityName: in.entityName},
	}
	endpoint, err := s.endpointRepo.FindByKey(ctx, target.Key)
	switch {
	case err == nil:
		target.Endpoint = endpoint
	case errors.Is(err, apperrors.ErrNotFound):
		logger.Debug("No endpoint row for entity, generating without existing artifacts",
			zap.String("section", in.section),
			zap.String("entity_name", in.entityName))
	default:
		return fail(err)
	}

	existing, err := s.artifacts.ReadExisting(ctx, target)
	if err != nil {
		return fail(fmt.Errorf("failed to read existing artifacts: %w", err))
	}

	prompt := flow.prompt(in, prompts.EntityContext{
		ProjectName:     project.Name,
		Section:         in.section,
		EntityName:      in.entityName,
		ExistingFeature: existing.Feature,
		ExistingSteps:   existing.Steps,
	})
	logger.Debug("Sending prompt", zap.String("prompt", logging.Preview(prompt)))

	if _, err := provider.CreateMessage(ctx, thread.ThreadID, prompt); err != nil {
		return fail(fmt.Errorf("failed to send message: %w", err))
	}

	run, err := provider.CreateRun(ctx, thread.ThreadID, assistant.AssistantID)
	if err != nil {
		return fail(fmt.Errorf("failed to start run: %w", err))
	}

	outcome, err := llm.WaitForRun(ctx, provider, thread.ThreadID, run.ID, s.poll)
	if err != nil {
		return fail(err)
	}
	metrics.RecordRunWait(string(outcome.Kind), outcome.Waited)
	if outcome.Run != nil {
		if outcome.Run.Model != "" {
			meta.ModelUsed = outcome.Run.Model
		}
		if !outcome.Run.Usage.IsZero() {
			meta.TokensUsed = outcome.Run.Usage.TotalTokens
			meta.UsageSource = string(llm.UsageFromRun)
		}
	}
	if err := outcome.Err(); err != nil {
		return fail(err)
	}

	reply, err := provider.LatestMessage(ctx, thread.ThreadID)
	if err != nil {
		return fail(err)
	}
	text := strings.TrimSpace(reply.Text)
	if reply.Role != "assistant" || text == "" {
		return fail(llm.ErrEmptyResponse)
	}

	if err := s.threads.IncrementMessageCount(ctx, thread.ThreadID); err != nil {
		logger.Warn("Failed to increment thread message count",
			zap.String("thread_id", thread.ThreadID),
			zap.Error(err))
	}

	usage, source := llm.ResolveUsage(ctx, provider, outcome.Run, logger)
	meta.TokensUsed = usage.TotalTokens
	meta.UsageSource = string(source)

	unlock()

	data, result, secondary := flow.handle(ctx, in, target, meta, text)
	for _, serr := range secondary {
		msg := logging.SanitizeError(serr)
		meta.SecondaryErrors = append(meta.SecondaryErrors, msg)
		logger.Warn("Secondary effect failed", zap.String("error", msg))
	}

	meta.ProcessingTimeMs = time.Since(start).Milliseconds()
	if _, err := flow.ledger.MarkCompleted(context.WithoutCancel(ctx), meta.GenerationID, result, meta.patch()); err != nil {
		logger.Error("Failed to mark generation completed", zap.String("error", logging.SanitizeError(err)))
		meta.SecondaryErrors = append(meta.SecondaryErrors, "audit update failed: "+logging.SanitizeError(err))
	}

	metrics.RecordGeneration(flow.name, string(models.GenerationStatusCompleted), time.Since(start))
	metrics.RecordTokens(flow.name, meta.UsageSource, meta.TokensUsed)

	logger.Info("Generation completed",
		zap.Int64("processing_time_ms", meta.ProcessingTimeMs),
		zap.Int("tokens_used", meta.TokensUsed),
		zap.String("usage_source", meta.UsageSource),
		zap.Int("secondary_errors", len(meta.SecondaryErrors)))

	return &GenerationResult{Success: true, Data: data, Metadata: *meta}
}

// fail records a primary-path failure on the audit record and builds the result.
func (s *aiGenerationService) fail(ctx context.Context, flow generationFlow, meta *GenerationMetadata, start time.Time, cause error, logger *zap.Logger) *GenerationResult {
	meta.ProcessingTimeMs = time.Since(start).Milliseconds()
	message := userMessage(cause)

	logger.Warn("Generation failed", zap.String("error", logging.SanitizeError(cause)))

	if _, err := flow.ledger.MarkFailed(context.WithoutCancel(ctx), meta.GenerationID, message, meta.patch()); err != nil {
		logger.Error("Failed to mark generation failed", zap.String("error", logging.SanitizeError(err)))
	}

	metrics.RecordGeneration(flow.name, string(models.GenerationStatusFailed), time.Since(start))
	metrics.RecordTokens(flow.name, meta.UsageSource, meta.TokensUsed)

	return FailedResult(message, *meta, cause)
}

// userMessage turns a failure into a caller-facing message without provider internals.
func userMessage(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrCredentialMissing):
		return "OpenAI API key is not configured. Add it in settings first."
	case errors.Is(err, apperrors.ErrAssistantNotInitialized):
		return "No assistant created for the project. Initialize the AI context first."
	case errors.Is(err, llm.ErrEmptyResponse):
		return "The assistant returned an empty response."
	case errors.Is(err, llm.ErrRunTimedOut):
		return "The assistant did not finish in time. Try again later."
	case errors.Is(err, llm.ErrRunFailed), errors.Is(err, apperrors.ErrNotFound):
		return logging.SanitizeError(err)
	}

	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		switch llmErr.Type {
		case llm.ErrorTypeAuth:
			return "The AI provider rejected the API key."
		case llm.ErrorTypeRateLimit:
			return "The AI provider is rate limiting requests. Try again later."
		case llm.ErrorTypeUnavailable:
			return "The AI provider is unavailable. Try again later."
		}
	}
	return logging.SanitizeError(err)
}

func (s *aiGenerationService) handleGeneratedTests(ctx context.Context, in flowInput, target ArtifactTarget, meta *GenerationMetadata, text string) (any, json.RawMessage, []error) {
	parsed := ParseGenerationResponse(text)
	var secondary []error

	files, err := s.artifacts.Append(ctx, target, parsed)
	if err != nil {
		secondary = append(secondary, fmt.Errorf("insert generated code: %w", err))
	}
	meta.ModifiedFiles = files

	rows := make([]*models.TestCase, 0, len(parsed.Scenarios))
	for _, name := range parsed.Scenarios {
		rows = append(rows, &models.TestCase{
			ProjectID:    in.projectID,
			Name:         name,
			Section:      in.section,
			EntityName:   in.entityName,
			Source:       models.TestCaseSourceAI,
			GenerationID: meta.GenerationID,
		})
	}
	created := 0
	if err := s.testCaseRepo.CreateBatch(ctx, rows); err != nil {
		secondary = append(secondary, fmt.Errorf("persist test cases: %w", err))
	} else {
		created = len(rows)
	}

	result, err := json.Marshal(parsed)
	if err != nil {
		result = nil
	}

	if files == nil {
		files = []string{}
	}
	return &GeneratedTests{
		Feature:          parsed.Feature,
		Steps:            parsed.Steps,
		Scenarios:        parsed.Scenarios,
		TestCasesCreated: created,
		ModifiedFiles:    files,
	}, result, secondary
}

func (s *aiGenerationService) handleSuggestions(ctx context.Context, in flowInput, target ArtifactTarget, meta *GenerationMetadata, text string) (any, json.RawMessage, []error) {
	data := &GeneratedSuggestions{Suggestions: ParseSuggestions(text, prompts.SuggestionCount)}

	result, err := json.Marshal(data)
	if err != nil {
		return data, nil, []error{fmt.Errorf("encode suggestions: %w", err)}
	}
	return data, result, nil
}

// newGenerationID returns a sortable, time-derived identifier.
func newGenerationID(tag string, now time.Time) string {
	return fmt.Sprintf("%s_%d_%s", tag, now.UnixMilli(), uuid.NewString()[:8])
}
