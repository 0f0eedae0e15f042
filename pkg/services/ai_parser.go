package services

import (
	"regexp"
	"strings"

	"github.com/testdeck/testdeck-engine/pkg/llm"
)

// ParsedGeneration is what could be extracted from a generation response.
// Missing sections are left empty.
type ParsedGeneration struct {
	Feature   string   `json:"feature,omitempty"`
	Steps     string   `json:"steps,omitempty"`
	Scenarios []string `json:"scenarios"`
}

// IsEmpty reports whether nothing usable was found.
func (p *ParsedGeneration) IsEmpty() bool {
	return p.Feature == "" && p.Steps == "" && len(p.Scenarios) == 0
}

// Suggestion is one item of a suggestion response.
type Suggestion struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

var (
	fencePattern      = regexp.MustCompile("(?s)```[ \\t]*([A-Za-z]*)[^\\n]*\\n(.*?)```")
	scenarioPattern   = regexp.MustCompile(`(?m)^[ \t]*Scenario(?: Outline)?:[ \t]*(.+?)[ \t]*$`)
	listItemPattern   = regexp.MustCompile(`(?m)^[ \t]*(?:\d+[.)]|[-*])[ \t]+(.+?)[ \t]*$`)
	emphasisStripper  = strings.NewReplacer("**", "", "__", "", "`", "")
	featureFenceNames = map[string]bool{"gherkin": true, "feature": true, "cucumber": true}
	stepsFenceNames   = map[string]bool{"typescript": true, "ts": true, "javascript": true, "js": true}
)

// ParseGenerationResponse extracts the feature block, step definitions and
// scenario names. Only the first block of each kind is used. An unlabeled
// block that starts with "Feature:" counts as the feature block.
func ParseGenerationResponse(text string) *ParsedGeneration {
	out := &ParsedGeneration{Scenarios: []string{}}

	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		lang := strings.ToLower(m[1])
		body := strings.TrimSpace(m[2])
		if body == "" {
			continue
		}
		switch {
		case featureFenceNames[lang] && out.Feature == "":
			out.Feature = body
		case stepsFenceNames[lang] && out.Steps == "":
			out.Steps = body
		case lang == "" && out.Feature == "" && strings.HasPrefix(body, "Feature:"):
			out.Feature = body
		}
	}

	source := out.Feature
	if source == "" {
		source = text
	}
	seen := map[string]bool{}
	for _, m := range scenarioPattern.FindAllStringSubmatch(source, -1) {
		name := m[1]
		if !seen[name] {
			seen[name] = true
			out.Scenarios = append(out.Scenarios, name)
		}
	}

	return out
}

// ParseSuggestions extracts suggestions from a reply. A JSON array of
// {"title","description"} objects is preferred; otherwise list items formatted
// as "title: description" are used. At most limit items are returned when
// limit is positive.
func ParseSuggestions(text string, limit int) []Suggestion {
	if items, err := llm.ParseJSONReply[[]Suggestion](text); err == nil {
		out := []Suggestion{}
		for _, item := range items {
			item.Title = strings.TrimSpace(item.Title)
			item.Description = strings.TrimSpace(item.Description)
			if item.Title == "" {
				continue
			}
			out = append(out, item)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	out := []Suggestion{}
	for _, m := range listItemPattern.FindAllStringSubmatch(text, -1) {
		item := strings.TrimSpace(emphasisStripper.Replace(m[1]))
		if item == "" {
			continue
		}

		s := Suggestion{Title: item}
		if title, desc, ok := strings.Cut(item, ":"); ok && strings.TrimSpace(title) != "" {
			s.Title = strings.TrimSpace(title)
			s.Description = strings.TrimSpace(desc)
		}
		out = append(out, s)

		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
