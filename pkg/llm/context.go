package llm

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const (
	logContextKey contextKey = "llm_log_context"
)

// WithContext returns a context carrying values that provider calls attach to
// their log entries. The map is merged with any existing values.
func WithContext(ctx context.Context, values map[string]any) context.Context {
	existing := GetContext(ctx)
	if existing == nil {
		existing = make(map[string]any)
	}
	for k, v := range values {
		existing[k] = v
	}
	return context.WithValue(ctx, logContextKey, existing)
}

// GetContext returns a copy of the attached values, or nil.
func GetContext(ctx context.Context) map[string]any {
	if c, ok := ctx.Value(logContextKey).(map[string]any); ok {
		out := make(map[string]any, len(c))
		for k, v := range c {
			out[k] = v
		}
		return out
	}
	return nil
}

// WithGenerationContext tags provider calls made for one orchestration.
func WithGenerationContext(ctx context.Context, projectID uuid.UUID, generationID, flow string) context.Context {
	values := map[string]any{
		"project_id": projectID.String(),
	}
	if generationID != "" {
		values["generation_id"] = generationID
	}
	if flow != "" {
		values["flow"] = flow
	}
	return WithContext(ctx, values)
}

// LogFields converts the attached values to zap fields in key order.
func LogFields(ctx context.Context) []zap.Field {
	values := GetContext(ctx)
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.Any(k, values[k]))
	}
	return fields
}
