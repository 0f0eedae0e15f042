// Package prompts builds the instructions and prompts sent to project assistants.
package prompts

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var rulesYAML []byte

// RuleSet is the fixed output contract embedded in every assistant's instructions.
type RuleSet struct {
	Version int             `yaml:"version"`
	Output  []OutputSection `yaml:"output"`
	Rules   []string        `yaml:"rules"`
}

// OutputSection describes one fenced block the assistant must produce.
type OutputSection struct {
	Name        string `yaml:"name"`
	Fence       string `yaml:"fence"`
	Description string `yaml:"description"`
}

var (
	ruleSetOnce sync.Once
	ruleSet     *RuleSet
	ruleSetErr  error
)

// LoadRuleSet parses the embedded rule-set once per process.
func LoadRuleSet() (*RuleSet, error) {
	ruleSetOnce.Do(func() {
		var rs RuleSet
		if err := yaml.Unmarshal(rulesYAML, &rs); err != nil {
			ruleSetErr = fmt.Errorf("failed to parse embedded rules: %w", err)
			return
		}
		if len(rs.Output) == 0 {
			ruleSetErr = fmt.Errorf("embedded rules declare no output sections")
			return
		}
		ruleSet = &rs
	})
	return ruleSet, ruleSetErr
}

// AssistantNamePrefix starts the name of every assistant this service creates.
const AssistantNamePrefix = "TestDeck - "

// AssistantName returns the display name used for a project's assistant.
func AssistantName(projectName string) string {
	return AssistantNamePrefix + projectName
}

// BuildAssistantInstructions creates the system instructions for a project assistant.
func BuildAssistantInstructions(projectName string) (string, error) {
	rs, err := LoadRuleSet()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a senior QA engineer writing BDD API tests for the project %q.\n\n", projectName)
	b.WriteString("You receive one endpoint group at a time, together with the feature file and step definitions that already exist for it. ")
	b.WriteString("Extend them with new coverage; never rewrite what is already there.\n\n")

	b.WriteString("## Output format\n\n")
	for _, section := range rs.Output {
		fmt.Fprintf(&b, "- A ```%s block (%s): %s\n", section.Fence, section.Name, section.Description)
	}

	b.WriteString("\n## Rules\n\n")
	for i, rule := range rs.Rules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rule)
	}

	return b.String(), nil
}
