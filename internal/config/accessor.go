package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Paths are the JSON field names joined by dots; list elements are addressed
// by index, as in "activators.0.condition".

func toTree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func fromTree(tree map[string]any, cfg *Config) error {
	data, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// step descends one path segment.
func step(node any, key string) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[key]
		if !ok {
			return nil, fmt.Errorf("unknown key %q", key)
		}
		return v, nil
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(n) {
			return nil, fmt.Errorf("index %q out of range", key)
		}
		return n[i], nil
	}
	return nil, fmt.Errorf("%q: %T has no fields", key, node)
}

// GetByPath returns the value at a dotted path such as "agent.name".
func GetByPath(cfg *Config, path string) (any, error) {
	tree, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	var node any = tree
	for _, key := range strings.Split(path, ".") {
		if node, err = step(node, key); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return node, nil
}

// SetByPath assigns value at a dotted path. A string value keeps the type of
// the field it lands in: "true" sets a bool, "3" an int, and "1234" stays a
// string on string fields such as platform ids. Missing map keys are created
// so fields left out of the file can be set.
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return errors.New("empty path")
	}
	var lastErr error
	for _, v := range candidates(value) {
		next, err := withValue(cfg, path, v)
		if err == nil {
			*cfg = *next
			return nil
		}
		lastErr = err
		var te *json.UnmarshalTypeError
		if !errors.As(err, &te) {
			break
		}
	}
	return fmt.Errorf("%s: %w", path, lastErr)
}

// candidates lists the decodings of value to try, most specific first.
func candidates(value any) []any {
	s, ok := value.(string)
	if !ok {
		return []any{value}
	}
	if c := coerce(s); c != any(s) {
		return []any{c, s}
	}
	return []any{s}
}

// withValue returns a copy of cfg with v stored at path.
func withValue(cfg *Config, path string, v any) (*Config, error) {
	tree, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	keys := strings.Split(path, ".")
	var node any = tree
	for _, key := range keys[:len(keys)-1] {
		if m, ok := node.(map[string]any); ok && m[key] == nil {
			m[key] = map[string]any{}
		}
		if node, err = step(node, key); err != nil {
			return nil, err
		}
	}

	last := keys[len(keys)-1]
	switch n := node.(type) {
	case map[string]any:
		n[last] = v
	case []any:
		i, err := strconv.Atoi(last)
		if err != nil || i < 0 || i >= len(n) {
			return nil, fmt.Errorf("index %q out of range", last)
		}
		n[i] = v
	default:
		return nil, fmt.Errorf("%T has no fields", node)
	}
	next := &Config{}
	if err := fromTree(tree, next); err != nil {
		return nil, err
	}
	return next, nil
}

func coerce(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a deep copy with tokens and API keys masked.
func Sanitize(cfg *Config) *Config {
	tree, err := toTree(cfg)
	if err != nil {
		return cfg
	}
	out := &Config{}
	if err := fromTree(tree, out); err != nil {
		return cfg
	}

	out.Transport.Discord.Token = mask(out.Transport.Discord.Token)
	out.Transport.Slack.BotToken = mask(out.Transport.Slack.BotToken)
	out.Transport.Slack.AppToken = mask(out.Transport.Slack.AppToken)
	out.Knowledge.APIKey = mask(out.Knowledge.APIKey)
	maskGenerator(&out.Generator)
	return out
}

func maskGenerator(gc *GeneratorConfig) {
	gc.APIKey = mask(gc.APIKey)
	for i := range gc.Fallbacks {
		maskGenerator(&gc.Fallbacks[i])
	}
}

// mask keeps the first and last four characters. Unexpanded ${VAR}
// references are left alone.
func mask(s string) string {
	switch {
	case s == "", strings.HasPrefix(s, "${"):
		return s
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens the config into dotted paths and leaf values.
func ListPaths(cfg *Config) map[string]any {
	tree, err := toTree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	flatten("", tree, out)
	return out
}

func flatten(prefix string, node any, out map[string]any) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			flatten(join(k), v, out)
		}
	case []any:
		if len(n) == 0 {
			out[prefix] = n
		}
		for i, v := range n {
			flatten(join(strconv.Itoa(i)), v, out)
		}
	default:
		out[prefix] = n
	}
}
