package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/intelforge/intelforge/pkg/models"
)

// ErrTemplateNotFound means the catalog has no template for the requested
// phase. The engine cannot proceed without one, so the phase fails hard.
var ErrTemplateNotFound = errors.New("prompt template not found")

// Catalog loads per-phase prompt templates, caches the parsed forms, and
// renders them with variable substitution plus an optional lossy compression
// pass. Safe for concurrent Render/Reload.
type Catalog struct {
	path     string // YAML file; empty = embedded defaults
	compress bool
	logger   *slog.Logger

	mu     sync.RWMutex
	raw    map[models.PhaseID]string
	parsed map[models.PhaseID]*template.Template
}

// catalogFile is the on-disk YAML shape: phase id -> template text.
type catalogFile struct {
	Templates map[string]string `yaml:"templates"`
}

// NewCatalog creates a catalog backed by the YAML file at path, or the
// embedded defaults when path is empty. Templates are loaded once and cached.
func NewCatalog(path string, compress bool, logger *slog.Logger) (*Catalog, error) {
	c := &Catalog{
		path:     path,
		compress: compress,
		logger:   logger.With("component", "prompt"),
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) load() error {
	raw := defaultTemplates()

	if c.path != "" {
		data, err := os.ReadFile(c.path)
		if err != nil {
			return fmt.Errorf("failed to read prompt catalog: %w", err)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("failed to parse prompt catalog: %w", err)
		}
		// File entries override embedded defaults per phase.
		for id, tmpl := range file.Templates {
			raw[models.PhaseID(id)] = tmpl
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw = raw
	c.parsed = make(map[models.PhaseID]*template.Template, len(raw))

	c.logger.Debug("Prompt catalog loaded", "templates", len(raw), "path", c.path)
	return nil
}

// Reload clears the cache and re-reads the catalog file. Used for
// hot-reloading templates during development.
func (c *Catalog) Reload() error {
	return c.load()
}

// Template returns the raw template text for a phase.
func (c *Catalog) Template(phase models.PhaseID) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tmpl, ok := c.raw[phase]
	if !ok {
		return "", fmt.Errorf("%w: phase %s", ErrTemplateNotFound, phase)
	}
	return tmpl, nil
}

// Render looks up the phase template, substitutes variables, and applies the
// compression pass when enabled.
func (c *Catalog) Render(phase models.PhaseID, vars map[string]any) (string, error) {
	t, err := c.parsedTemplate(phase)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to execute template for phase %s: %w", phase, err)
	}

	text := buf.String()
	if c.compress {
		before := len(text)
		text = Compress(text)
		c.logger.Debug("Compressed prompt", "phase", phase, "before", before, "after", len(text))
	}
	return text, nil
}

func (c *Catalog) parsedTemplate(phase models.PhaseID) (*template.Template, error) {
	c.mu.RLock()
	t, ok := c.parsed[phase]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.parsed[phase]; ok {
		return t, nil
	}

	raw, ok := c.raw[phase]
	if !ok {
		return nil, fmt.Errorf("%w: phase %s", ErrTemplateNotFound, phase)
	}

	// Block directives that could be exploited through template injection.
	for _, directive := range []string{"{{call", "{{define", "{{template", "{{block"} {
		if strings.Contains(raw, directive) {
			return nil, fmt.Errorf("template for phase %s contains forbidden directive: %s", phase, directive)
		}
	}

	t, err := template.New(string(phase)).
		Option("missingkey=error").
		Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template for phase %s: %w", phase, err)
	}
	c.parsed[phase] = t
	return t, nil
}

// EstimateTokens is a cheap length-based approximation (~4 chars per token),
// not an exact tokenizer. Callers must treat it as advisory.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
