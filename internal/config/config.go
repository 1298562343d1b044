package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the root configuration for a persona agent.
type Config struct {
	General     GeneralConfig     `json:"general"`
	Agent       AgentConfig       `json:"agent"`
	Transport   TransportConfig   `json:"transport"`
	Generator   GeneratorConfig   `json:"generator"`
	Knowledge   KnowledgeConfig   `json:"knowledge"`
	Memory      MemoryConfig      `json:"memory"`
	Supervisor  SupervisorConfig  `json:"supervisor"`
	Tasks       TasksConfig       `json:"tasks"`
	Activators  []ActivatorConfig `json:"activators"`
	Translators TranslatorsConfig `json:"translators"`
	Abilities   AbilitiesConfig   `json:"abilities"`
	Status      StatusConfig      `json:"status"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat,omitempty"` // "text" | "json"
	LogFile   string `json:"logFile,omitempty"`
}

type AgentConfig struct {
	Name           string `json:"name"`
	OwnerID        string `json:"ownerId,omitempty"` // discovered from the platform when empty
	Dir            string `json:"dir"`
	ExamplesPath   string `json:"examplesPath,omitempty"` // default: <dir>/examples.json
	LoadingMessage string `json:"loadingMessage"`
	ConfirmEmoji   string `json:"confirmEmoji"`
	Preamble       string `json:"preamble,omitempty"`
	// Examples are added in memory at startup, after the persisted ones.
	Examples              []string `json:"examples,omitempty"`
	SelfReplyChance       float64  `json:"selfReplyChance,omitempty"`
	SelfReplyDelaySeconds int      `json:"selfReplyDelaySeconds,omitempty"`
}

type TransportConfig struct {
	Kind    string        `json:"kind"` // "discord" | "slack" | "console"
	Discord DiscordConfig `json:"discord,omitempty"`
	Slack   SlackConfig   `json:"slack,omitempty"`
}

type DiscordConfig struct {
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"`
}

type SlackConfig struct {
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
	OwnerID  string `json:"ownerId,omitempty"`
}

type GeneratorConfig struct {
	Kind           string            `json:"kind"` // "echo" | "openai" | "ollama" | "anthropic"
	Model          string            `json:"model,omitempty"`
	APIKey         string            `json:"apiKey,omitempty"`
	APIBase        string            `json:"apiBase,omitempty"`
	Temperature    float64           `json:"temperature,omitempty"`
	MaxTokens      int               `json:"maxTokens,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`
	RatePerMinute  float64           `json:"ratePerMinute,omitempty"`
	Burst          int               `json:"burst,omitempty"`
	Fallbacks      []GeneratorConfig `json:"fallbacks,omitempty"`
}

type KnowledgeConfig struct {
	Dir            string            `json:"dir,omitempty"` // default: <agent dir>/knowledge
	Sources        []KnowledgeSource `json:"sources,omitempty"`
	Embedder       string            `json:"embedder"` // "hash" | "openai"
	EmbeddingModel string            `json:"embeddingModel,omitempty"`
	APIKey         string            `json:"apiKey,omitempty"`
	TopK           int               `json:"topK"`
	MinScore       float64           `json:"minScore,omitempty"`
	ChunkSize      int               `json:"chunkSize"`
	ChunkOverlap   int               `json:"chunkOverlap"`
	Watch          bool              `json:"watch"`
}

type KnowledgeSource struct {
	Path string `json:"path"`
	Kind string `json:"kind"` // "json" | "text" | "url"
}

type MemoryConfig struct {
	DBPath string `json:"dbPath"` // default: <agent dir>/memory.db
}

type SupervisorConfig struct {
	SessionTimeoutSeconds int `json:"sessionTimeoutSeconds"`
	DocumentConcurrency   int `json:"documentConcurrency"`
}

type TasksConfig struct {
	Workers               int `json:"workers"`
	QueueSize             int `json:"queueSize"`
	EnqueueTimeoutSeconds int `json:"enqueueTimeoutSeconds"`
}

type ActivatorConfig struct {
	Name      string `json:"name"`
	Condition string `json:"condition"`
	Topic     string `json:"topic,omitempty"`
	Sides     int    `json:"sides,omitempty"`
	Mandatory bool   `json:"mandatory,omitempty"`
}

type TranslatorsConfig struct {
	TrimLimit      int  `json:"trimLimit"`
	HistoryWindow  int  `json:"historyWindow"`
	ExampleLimit   int  `json:"exampleLimit"`
	KnowledgeLimit int  `json:"knowledgeLimit"`
	StripMention   bool `json:"stripMention"`
	StripName      bool `json:"stripName"`
}

type AbilitiesConfig struct {
	Builtin []string `json:"builtin,omitempty"` // empty: all built-ins
	Dirs    []string `json:"dirs,omitempty"`
}

type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// DefaultConfigDir returns the default config directory (~/.persona).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".persona"
	}
	return filepath.Join(home, ".persona")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadEnv loads .env and .env.secret from the working directory and from
// dir. Variables already set in the environment win.
func LoadEnv(dir string) {
	for _, base := range []string{".", dir} {
		if base == "" {
			continue
		}
		envFile := filepath.Join(base, ".env")
		_ = godotenv.Load(envFile)
		_ = godotenv.Load(envFile + ".secret")
	}
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	LoadEnv(filepath.Dir(path))
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	cfg.resolvePaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// resolvePaths expands ~/ and fills paths derived from the agent directory.
func (c *Config) resolvePaths() {
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.Agent.Dir = ExpandPath(c.Agent.Dir)
	if c.Agent.ExamplesPath == "" && c.Agent.Dir != "" {
		c.Agent.ExamplesPath = filepath.Join(c.Agent.Dir, "examples.json")
	}
	c.Agent.ExamplesPath = ExpandPath(c.Agent.ExamplesPath)
	if c.Knowledge.Dir == "" && c.Agent.Dir != "" {
		c.Knowledge.Dir = filepath.Join(c.Agent.Dir, "knowledge")
	}
	c.Knowledge.Dir = ExpandPath(c.Knowledge.Dir)
	if c.Memory.DBPath == "" && c.Agent.Dir != "" {
		c.Memory.DBPath = filepath.Join(c.Agent.Dir, "memory.db")
	}
	c.Memory.DBPath = ExpandPath(c.Memory.DBPath)
	for i, d := range c.Abilities.Dirs {
		c.Abilities.Dirs[i] = ExpandPath(d)
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

var activatorConditions = map[string]bool{
	"always": true, "mention": true, "topic": true, "chance": true,
	"topic_chance": true, "question": true, "direct": true,
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be text or json")
	}

	if strings.TrimSpace(cfg.Agent.Name) == "" {
		errs = append(errs, "agent.name is required")
	}
	if cfg.Agent.SelfReplyChance < 0 || cfg.Agent.SelfReplyChance > 1 {
		errs = append(errs, "agent.selfReplyChance must be between 0 and 1")
	}

	switch cfg.Transport.Kind {
	case "console":
	case "discord":
		if cfg.Transport.Discord.Token == "" {
			errs = append(errs, "transport.discord.token is required")
		}
	case "slack":
		if cfg.Transport.Slack.BotToken == "" || cfg.Transport.Slack.AppToken == "" {
			errs = append(errs, "transport.slack.botToken and transport.slack.appToken are required")
		}
	default:
		errs = append(errs, "transport.kind must be one of: discord, slack, console")
	}

	errs = append(errs, validateGenerator("generator", cfg.Generator)...)

	switch cfg.Knowledge.Embedder {
	case "hash", "openai":
	default:
		errs = append(errs, "knowledge.embedder must be hash or openai")
	}
	if cfg.Knowledge.TopK < 0 {
		errs = append(errs, "knowledge.topK must be >= 0")
	}
	for i, src := range cfg.Knowledge.Sources {
		switch src.Kind {
		case "json", "text", "url":
		default:
			errs = append(errs, fmt.Sprintf("knowledge.sources[%d].kind must be json, text or url", i))
		}
	}

	if cfg.Supervisor.SessionTimeoutSeconds < 1 {
		errs = append(errs, "supervisor.sessionTimeoutSeconds must be >= 1")
	}
	if cfg.Tasks.Workers < 1 || cfg.Tasks.Workers > 256 {
		errs = append(errs, "tasks.workers must be between 1 and 256")
	}
	if cfg.Tasks.QueueSize < 1 {
		errs = append(errs, "tasks.queueSize must be >= 1")
	}

	seen := map[string]bool{}
	for i, a := range cfg.Activators {
		if a.Name == "" {
			errs = append(errs, fmt.Sprintf("activators[%d].name is required", i))
		} else if seen[a.Name] {
			errs = append(errs, fmt.Sprintf("activators[%d]: duplicate name %q", i, a.Name))
		}
		seen[a.Name] = true
		if !activatorConditions[a.Condition] {
			errs = append(errs, fmt.Sprintf("activators[%d].condition %q is unknown", i, a.Condition))
		}
	}

	if cfg.Translators.TrimLimit < 0 {
		errs = append(errs, "translators.trimLimit must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateGenerator(path string, gc GeneratorConfig) []string {
	var errs []string
	switch gc.Kind {
	case "echo", "openai", "anthropic":
	case "ollama":
		if gc.Model == "" {
			errs = append(errs, path+".model is required for ollama")
		}
	default:
		errs = append(errs, path+".kind must be one of: echo, openai, ollama, anthropic")
	}
	if gc.RatePerMinute < 0 {
		errs = append(errs, path+".ratePerMinute must be >= 0")
	}
	for i, fb := range gc.Fallbacks {
		errs = append(errs, validateGenerator(fmt.Sprintf("%s.fallbacks[%d]", path, i), fb)...)
	}
	return errs
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
