package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompts holds the provider prompt templates used by the domain call sites.
type Prompts struct {
	SystemPreamble string `yaml:"system_preamble"`
	Scoring        string `yaml:"scoring"`
	Assessment     string `yaml:"assessment"`
}

// LoadPrompts returns the embedded templates, overlaid with any non-empty
// fields from path when path is set.
func LoadPrompts(path string) (Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(defaultPrompts, &p); err != nil {
		return Prompts{}, fmt.Errorf("op=config.LoadPrompts: embedded: %w", err)
	}
	if path == "" {
		return p, nil
	}
	// #nosec G304 -- operator supplied prompt file
	content, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, fmt.Errorf("op=config.LoadPrompts: %w", err)
	}
	var override Prompts
	if err := yaml.Unmarshal(content, &override); err != nil {
		return Prompts{}, fmt.Errorf("op=config.LoadPrompts: failed to parse YAML: %w", err)
	}
	if strings.TrimSpace(override.SystemPreamble) != "" {
		p.SystemPreamble = override.SystemPreamble
	}
	if strings.TrimSpace(override.Scoring) != "" {
		p.Scoring = override.Scoring
	}
	if strings.TrimSpace(override.Assessment) != "" {
		p.Assessment = override.Assessment
	}
	return p, nil
}

// ScoringPrompt renders the scoring template for text.
func (p Prompts) ScoringPrompt(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(p.Scoring, "{text}", text))
}

// AssessmentPrompt renders the assessment template.
func (p Prompts) AssessmentPrompt(theme string, count int) string {
	clause := ""
	if strings.TrimSpace(theme) != "" {
		clause = " about " + strings.TrimSpace(theme)
	}
	r := strings.NewReplacer("{theme_clause}", clause, "{count}", strconv.Itoa(count))
	return strings.TrimSpace(r.Replace(p.Assessment))
}
