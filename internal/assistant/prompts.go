package assistant

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// PromptPair is a system prompt plus the instruction appended after history.
type PromptPair struct {
	System string `yaml:"system"`
	Affix  string `yaml:"affix,omitempty"`
	User   string `yaml:"user,omitempty"`
}

// Prompts is the full prompt set used by the Service.
type Prompts struct {
	Persona       string     `yaml:"persona"`
	ResearchNote  string     `yaml:"research_note"`
	Classify      PromptPair `yaml:"classify"`
	SearchQuery   PromptPair `yaml:"search_query"`
	Followup      PromptPair `yaml:"followup"`
	DescribeImage PromptPair `yaml:"describe_image"`
	SummarizeText PromptPair `yaml:"summarize_text"`
	SummarizeLink PromptPair `yaml:"summarize_link"`
}

// DefaultPrompts returns the compiled-in prompt set.
func DefaultPrompts() *Prompts {
	p := &Prompts{}
	if err := yaml.Unmarshal(defaultPromptsYAML, p); err != nil {
		panic(fmt.Sprintf("assistant: embedded prompts are invalid: %v", err))
	}
	return p
}

// LoadPrompts reads a YAML override file on top of the defaults. An empty
// path returns the defaults.
func LoadPrompts(path string) (*Prompts, error) {
	p := DefaultPrompts()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse prompts %s: %w", path, err)
	}
	return p, nil
}

func fill(tmpl string, pairs ...string) string {
	return strings.TrimSpace(strings.NewReplacer(pairs...).Replace(tmpl))
}
