// Package prompts holds the chat prompt templates and the prompt builders
// used when the engine itself asks a model about a dataset.
package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Template IDs shipped with the engine.
const (
	TemplateDefault = "default"
	TemplateAnalyst = "analyst"
	TemplateCoder   = "coder"
)

const messagePlaceholder = "{message}"

// ErrUnknownTemplate is returned for a template id that is not loaded.
var ErrUnknownTemplate = errors.New("prompt template not found")

//go:embed templates.yaml
var builtinTemplates []byte

// Template is a named prompt with a single {message} placeholder.
type Template struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description" json:"description"`
	Template    string `yaml:"template" json:"template"`
}

type templateFile struct {
	Templates []Template `yaml:"templates"`
}

// Library is a concurrency-safe set of templates.
type Library struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// Load parses the built-in templates.
func Load() (*Library, error) {
	return Parse(builtinTemplates)
}

// Parse builds a library from YAML.
func Parse(data []byte) (*Library, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}

	lib := &Library{templates: make(map[string]Template, len(f.Templates))}
	for _, t := range f.Templates {
		if err := lib.Save(t); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

// Save adds or replaces a template.
func (l *Library) Save(t Template) error {
	if t.ID == "" {
		return errors.New("prompt template id is required")
	}
	if !strings.Contains(t.Template, messagePlaceholder) {
		return fmt.Errorf("prompt template %q has no %s placeholder", t.ID, messagePlaceholder)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.templates[t.ID] = t
	return nil
}

// Get returns the template with id.
func (l *Library) Get(id string) (Template, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, id)
	}
	return t, nil
}

// List returns all templates sorted by id.
func (l *Library) List() []Template {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Template, 0, len(l.templates))
	for _, t := range l.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Render substitutes message into the template with id.
func (l *Library) Render(id, message string) (string, error) {
	t, err := l.Get(id)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(t.Template, messagePlaceholder, message), nil
}
