package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// ExampleSet is the list of confirmed conversation examples shown to the
// generator. With a path it is persisted as a JSON document whose
// "examples" array holds the entries; other top-level fields are kept.
type ExampleSet struct {
	mu       sync.Mutex
	path     string
	examples []string
}

func NewExampleSet(path string) *ExampleSet {
	return &ExampleSet{path: path}
}

func (e *ExampleSet) Path() string { return e.path }

// Load replaces the in-memory examples with the persisted ones. A missing
// file is an empty set.
func (e *ExampleSet) Load() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.path == "" {
		return nil
	}
	doc, err := readExampleDoc(e.path)
	if err != nil {
		return err
	}
	examples, err := decodeExamples(doc)
	if err != nil {
		return fmt.Errorf("examples in %s: %w", e.path, err)
	}
	e.examples = examples
	return nil
}

// All returns a copy of the current examples.
func (e *ExampleSet) All() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.examples)
}

func (e *ExampleSet) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.examples)
}

// Add appends examples in memory only.
func (e *ExampleSet) Add(examples ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.examples = append(e.examples, examples...)
}

// Append adds interaction to the set and to the persisted document. The
// file is rewritten whole, through a temp file and rename.
func (e *ExampleSet) Append(ctx context.Context, interaction string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.path == "" {
		e.examples = append(e.examples, interaction)
		return nil
	}

	doc, err := readExampleDoc(e.path)
	if err != nil {
		return err
	}
	persisted, err := decodeExamples(doc)
	if err != nil {
		return fmt.Errorf("examples in %s: %w", e.path, err)
	}
	persisted = append(persisted, interaction)
	raw, err := json.Marshal(persisted)
	if err != nil {
		return err
	}
	doc["examples"] = raw

	if err := writeExampleDoc(e.path, doc); err != nil {
		return err
	}
	e.examples = append(e.examples, interaction)
	return nil
}

func readExampleDoc(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{"examples": json.RawMessage("[]")}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read examples: %w", err)
	}
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("cannot parse examples %s: %w", path, err)
	}
	return doc, nil
}

func decodeExamples(doc map[string]json.RawMessage) ([]string, error) {
	raw, ok := doc["examples"]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var examples []string
	if err := json.Unmarshal(raw, &examples); err != nil {
		return nil, err
	}
	return examples, nil
}

func writeExampleDoc(path string, doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "   ")
	if err != nil {
		return fmt.Errorf("cannot encode examples: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create examples directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".examples-*.json")
	if err != nil {
		return fmt.Errorf("cannot write examples: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot write examples: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot sync examples: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("cannot replace examples: %w", err)
	}
	return nil
}
