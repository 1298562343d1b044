package swarm

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"persona/internal/domain"

	"gopkg.in/yaml.v3"
)

// Ability kinds declared in YAML sources.
const (
	KindStatic   = "static"
	KindTemplate = "template"
	KindHTTP     = "http"
)

// Spec is one ability declared in a YAML file.
type Spec struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Kind        string           `yaml:"kind"`
	Text        string           `yaml:"text,omitempty"`
	Template    string           `yaml:"template,omitempty"`
	URL         string           `yaml:"url,omitempty"`
	Params      map[string]Param `yaml:"parameters,omitempty"`
	Required    []string         `yaml:"required,omitempty"`
}

type fileSpec struct {
	Abilities []Spec `yaml:"abilities"`
}

// FileSource is a set of abilities loaded from YAML.
type FileSource struct {
	Path      string
	abilities []domain.Ability
}

func (f *FileSource) Abilities() []domain.Ability { return f.abilities }

// LoadFile parses a YAML ability file. Every declared ability must be valid
// or the whole file is rejected.
func LoadFile(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ability file: %w", err)
	}
	var fs fileSpec
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("parse ability file %s: %w", path, err)
	}
	src := &FileSource{Path: path}
	for i, spec := range fs.Abilities {
		a, err := Build(spec)
		if err != nil {
			return nil, fmt.Errorf("%s: ability #%d: %w", path, i+1, err)
		}
		src.abilities = append(src.abilities, a)
	}
	return src, nil
}

// LoadDirectory loads every .yaml/.yml file in dir. Unreadable files are
// logged and skipped; a missing directory yields no sources.
func LoadDirectory(dir string, logger *slog.Logger) ([]*FileSource, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("abilities directory does not exist, skipping", "dir", dir)
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read abilities dir: %w", err)
	}
	var sources []*FileSource
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		path := filepath.Join(dir, name)
		src, err := LoadFile(path)
		if err != nil {
			logger.Warn("cannot load ability file", "path", path, "err", err)
			continue
		}
		logger.Info("loaded ability file", "path", path, "abilities", len(src.abilities))
		sources = append(sources, src)
	}
	return sources, nil
}

// Build turns a declaration into an ability.
func Build(s Spec) (domain.Ability, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	base := declared{name: s.Name, description: s.Description, params: Parameters(s.Params, s.Required)}
	switch s.Kind {
	case KindStatic, "":
		return &staticAbility{declared: base, text: s.Text}, nil
	case KindTemplate:
		tmpl, err := template.New(s.Name).Option("missingkey=zero").Parse(s.Template)
		if err != nil {
			return nil, fmt.Errorf("ability %s: %w", s.Name, err)
		}
		return &templateAbility{declared: base, tmpl: tmpl}, nil
	case KindHTTP:
		tmpl, err := template.New(s.Name).Option("missingkey=zero").Parse(s.URL)
		if err != nil {
			return nil, fmt.Errorf("ability %s: %w", s.Name, err)
		}
		return &httpAbility{declared: base, url: tmpl, client: &http.Client{Timeout: httpTimeout}}, nil
	}
	return nil, fmt.Errorf("ability %s: unknown kind %q", s.Name, s.Kind)
}

type declared struct {
	name        string
	description string
	params      map[string]any
}

func (d declared) Name() string               { return d.name }
func (d declared) Description() string        { return d.description }
func (d declared) Parameters() map[string]any { return d.params }

type staticAbility struct {
	declared
	text string
}

func (a *staticAbility) Execute(context.Context, map[string]any) (string, error) {
	return a.text, nil
}

type templateAbility struct {
	declared
	tmpl *template.Template
}

func (a *templateAbility) Execute(_ context.Context, args map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := a.tmpl.Execute(&buf, args); err != nil {
		return "", fmt.Errorf("render %s: %w", a.name, err)
	}
	return buf.String(), nil
}

type httpAbility struct {
	declared
	url    *template.Template
	client *http.Client
}

func (a *httpAbility) Execute(ctx context.Context, args map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := a.url.Execute(&buf, args); err != nil {
		return "", fmt.Errorf("render %s url: %w", a.name, err)
	}
	body, err := get(ctx, a.client, buf.String(), fetchMaxBytes)
	if err != nil {
		return "", err
	}
	text := StripHTML(string(body))
	if len(text) > fetchMaxOutput {
		text = text[:fetchMaxOutput]
	}
	return text, nil
}
