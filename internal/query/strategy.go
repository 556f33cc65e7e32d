package query

import (
	"fmt"
	"os"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy holds every tunable of the question-answering flow.
type Strategy struct {
	TopK int `yaml:"top_k"`
	// RelevanceThreshold is the largest best-match distance still considered
	// on topic. Zero or less disables the distance check; an empty retrieval
	// is always off topic.
	RelevanceThreshold float64       `yaml:"relevance_threshold"`
	GenerationTimeout  time.Duration `yaml:"generation_timeout"`
	Greetings          []string      `yaml:"greetings"`
	GreetingReply      string        `yaml:"greeting_reply"`
	PromptTemplate     string        `yaml:"prompt_template"`
	OutOfScopeTemplate string        `yaml:"out_of_scope_template"`
}

func DefaultStrategy() Strategy {
	return Strategy{
		TopK:               5,
		RelevanceThreshold: 0.8,
		GenerationTimeout:  60 * time.Second,
		Greetings: []string{
			"hello", "hi", "hey", "hii", "hiii", "greetings",
			"good morning", "good afternoon", "good evening",
		},
		GreetingReply:      defaultGreetingReply,
		PromptTemplate:     defaultPromptTemplate,
		OutOfScopeTemplate: defaultOutOfScopeTemplate,
	}
}

// LoadStrategy overlays the YAML file at path onto base. Keys missing from
// the file keep their base value.
func LoadStrategy(path string, base Strategy) (Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read strategy file: %w", err)
	}
	s := base
	if err := yaml.Unmarshal(data, &s); err != nil {
		return base, fmt.Errorf("parse strategy file: %w", err)
	}
	if err := s.Validate(); err != nil {
		return base, err
	}
	return s, nil
}

func (s Strategy) Validate() error {
	if s.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", s.TopK)
	}
	if s.GenerationTimeout <= 0 {
		return fmt.Errorf("generation_timeout must be positive, got %s", s.GenerationTimeout)
	}
	if s.GreetingReply == "" {
		return fmt.Errorf("greeting_reply is required")
	}
	if _, err := parseTemplates(s); err != nil {
		return err
	}
	return nil
}

type templates struct {
	prompt     *template.Template
	outOfScope *template.Template
}

func parseTemplates(s Strategy) (templates, error) {
	var t templates
	var err error
	if t.prompt, err = template.New("prompt").Option("missingkey=error").Parse(s.PromptTemplate); err != nil {
		return t, fmt.Errorf("parse prompt_template: %w", err)
	}
	if t.outOfScope, err = template.New("out_of_scope").Option("missingkey=error").Parse(s.OutOfScopeTemplate); err != nil {
		return t, fmt.Errorf("parse out_of_scope_template: %w", err)
	}
	return t, nil
}
