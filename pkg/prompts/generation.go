package prompts

import (
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"
)

// SuggestionCount is the number of suggestions requested per call.
const SuggestionCount = 5

// EntityContext identifies the endpoint group a prompt is about and carries
// the artifacts already generated for it.
type EntityContext struct {
	ProjectName     string
	Section         string
	EntityName      string
	ExistingFeature string
	ExistingSteps   string
}

// GenerationInput is the request-specific part of a generation prompt.
type GenerationInput struct {
	EntityContext
	Operation    string
	Requirements string
}

// BuildGenerationPrompt frames a test-case generation request.
func BuildGenerationPrompt(in GenerationInput) string {
	var b strings.Builder

	b.WriteString("# Test case generation\n\n")
	fmt.Fprintf(&b, "Write new scenarios for the %s endpoints (section %q).\n\n", describeEntity(in.EntityName), in.Section)

	if in.Operation != "" {
		fmt.Fprintf(&b, "Operation under test: %s\n", in.Operation)
	}
	if in.Requirements != "" {
		fmt.Fprintf(&b, "Requirements:\n%s\n", strings.TrimSpace(in.Requirements))
	}
	b.WriteString("\n")

	writeExisting(&b, in.EntityContext)

	b.WriteString("Return only the new scenarios and the step definitions they need.\n")
	return b.String()
}

// BuildSuggestionPrompt frames a request for test ideas on an entity.
func BuildSuggestionPrompt(ctx EntityContext, requirements string) string {
	var b strings.Builder

	b.WriteString("# Test suggestions\n\n")
	fmt.Fprintf(&b, "Suggest %d additional test scenarios for the %s endpoints (section %q) that are not covered yet.\n\n",
		SuggestionCount, describeEntity(ctx.EntityName), ctx.Section)

	if requirements != "" {
		fmt.Fprintf(&b, "Focus:\n%s\n\n", strings.TrimSpace(requirements))
	}

	writeExisting(&b, ctx)

	fmt.Fprintf(&b, "Answer with a numbered list of exactly %d items, one line each, formatted as \"<scenario name>: <what it verifies>\". ", SuggestionCount)
	b.WriteString("Do not include code blocks in this answer.\n")
	return b.String()
}

// FeatureTitle derives the Feature line title for a new feature file.
func FeatureTitle(entityName string) string {
	singular := inflection.Singular(strings.TrimSpace(entityName))
	if singular == "" {
		return "API"
	}
	return strings.ToUpper(singular[:1]) + singular[1:] + " API"
}

func describeEntity(entityName string) string {
	name := strings.TrimSpace(entityName)
	if name == "" {
		return "unnamed"
	}
	return inflection.Plural(name)
}

func writeExisting(b *strings.Builder, ctx EntityContext) {
	if ctx.ExistingFeature == "" && ctx.ExistingSteps == "" {
		b.WriteString("There are no existing tests for this entity yet.\n\n")
		return
	}

	if ctx.ExistingFeature != "" {
		b.WriteString("## Existing feature file\n\n```gherkin\n")
		b.WriteString(strings.TrimRight(ctx.ExistingFeature, "\n"))
		b.WriteString("\n```\n\n")
	}
	if ctx.ExistingSteps != "" {
		b.WriteString("## Existing step definitions\n\n```typescript\n")
		b.WriteString(strings.TrimRight(ctx.ExistingSteps, "\n"))
		b.WriteString("\n```\n\n")
	}
}
