package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"empty name":          func(c *Config) { c.Agent.Name = " " },
		"bad log level":       func(c *Config) { c.General.LogLevel = "loud" },
		"bad transport":       func(c *Config) { c.Transport.Kind = "irc" },
		"discord no token":    func(c *Config) { c.Transport.Kind = "discord"; c.Transport.Discord.Token = "" },
		"slack no app token":  func(c *Config) { c.Transport.Kind = "slack"; c.Transport.Slack.AppToken = "" },
		"bad generator":       func(c *Config) { c.Generator.Kind = "gpt" },
		"ollama without model": func(c *Config) { c.Generator.Kind = "ollama" },
		"bad fallback": func(c *Config) {
			c.Generator.Fallbacks = []GeneratorConfig{{Kind: "nope"}}
		},
		"bad embedder":       func(c *Config) { c.Knowledge.Embedder = "bert" },
		"bad source kind":    func(c *Config) { c.Knowledge.Sources = []KnowledgeSource{{Path: "x", Kind: "pdf"}} },
		"zero timeout":       func(c *Config) { c.Supervisor.SessionTimeoutSeconds = 0 },
		"zero workers":       func(c *Config) { c.Tasks.Workers = 0 },
		"zero queue":         func(c *Config) { c.Tasks.QueueSize = 0 },
		"self reply chance":  func(c *Config) { c.Agent.SelfReplyChance = 1.5 },
		"unknown condition":  func(c *Config) { c.Activators = []ActivatorConfig{{Name: "x", Condition: "vibes"}} },
		"duplicate activator": func(c *Config) {
			c.Activators = []ActivatorConfig{{Name: "x", Condition: "always"}, {Name: "x", Condition: "mention"}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Agent.Name = "Marvin"
	original.Agent.Dir = filepath.Join(dir, "agent")
	require.NoError(t, Save(path, original))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Marvin", loaded.Agent.Name)
	assert.Equal(t, filepath.Join(dir, "agent", "examples.json"), loaded.Agent.ExamplesPath)
	assert.Equal(t, filepath.Join(dir, "agent", "knowledge"), loaded.Knowledge.Dir)
	assert.Equal(t, filepath.Join(dir, "agent", "memory.db"), loaded.Memory.DBPath)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"transport":{"kind":"carrier-pigeon"}}`), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport.kind")
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PERSONA_TEST_TOKEN", "")
	os.Unsetenv("PERSONA_TEST_TOKEN")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.secret"), []byte("PERSONA_TEST_TOKEN=from-dotenv\n"), 0o600))
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"transport": {"kind": "discord", "discord": {"token": "${PERSONA_TEST_TOKEN}"}}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Transport.Discord.Token)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("PERSONA_A", "alpha")
	t.Setenv("PERSONA_EMPTY", "")

	assert.Equal(t, "alpha", ExpandEnvVars("${PERSONA_A}"))
	assert.Equal(t, "alpha-x", ExpandEnvVars("${PERSONA_A}-${PERSONA_UNSET_1:-x}"))
	assert.Equal(t, "fallback", ExpandEnvVars("${PERSONA_EMPTY:-fallback}"))
	assert.Equal(t, "${PERSONA_UNSET_2}", ExpandEnvVars("${PERSONA_UNSET_2}"))
	assert.Equal(t, "$PERSONA_A", ExpandEnvVars("$PERSONA_A"))
	assert.Equal(t, "plain", ExpandEnvVars("plain"))
}

func TestGetSetByPath(t *testing.T) {
	cfg := Defaults()

	v, err := GetByPath(cfg, "agent.name")
	require.NoError(t, err)
	assert.Equal(t, "Persona", v)

	_, err = GetByPath(cfg, "agent.nope")
	assert.Error(t, err)

	require.NoError(t, SetByPath(cfg, "tasks.workers", "3"))
	assert.Equal(t, 3, cfg.Tasks.Workers)
	require.NoError(t, SetByPath(cfg, "status.enabled", "true"))
	assert.True(t, cfg.Status.Enabled)

	v, err = GetByPath(cfg, "activators.0.condition")
	require.NoError(t, err)
	assert.Equal(t, "mention", v)
}

func TestSanitizeMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Transport.Discord.Token = "abcd1234efgh5678"
	cfg.Generator.APIKey = "sk-verysecretkey"
	cfg.Generator.Fallbacks = []GeneratorConfig{{Kind: "anthropic", APIKey: "short"}}

	s := Sanitize(cfg)
	assert.Equal(t, "abcd****5678", s.Transport.Discord.Token)
	assert.Equal(t, "sk-v****tkey", s.Generator.APIKey)
	assert.Equal(t, "***", s.Generator.Fallbacks[0].APIKey)
	assert.Equal(t, "${SLACK_BOT_TOKEN}", s.Transport.Slack.BotToken)
	assert.Equal(t, "abcd1234efgh5678", cfg.Transport.Discord.Token)
}

func TestListPaths(t *testing.T) {
	paths := ListPaths(Defaults())
	assert.Equal(t, "console", paths["transport.kind"])
	assert.Contains(t, paths, "supervisor.sessionTimeoutSeconds")
}

func TestSetByPathCreatesOmittedFields(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, SetByPath(cfg, "agent.ownerId", "1234"))
	assert.Equal(t, "1234", cfg.Agent.OwnerID)

	require.NoError(t, SetByPath(cfg, "activators.1.mandatory", "true"))
	assert.True(t, cfg.Activators[1].Mandatory)

	assert.Error(t, SetByPath(cfg, "activators.9.name", "x"))
	assert.Error(t, SetByPath(cfg, "agent.name.first", "x"))
}

func TestSetByPathKeepsNumericIDsAsStrings(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, SetByPath(cfg, "agent.ownerId", "112233445566778899"))
	require.NoError(t, SetByPath(cfg, "transport.discord.guildId", "998877665544332211"))
	require.NoError(t, SetByPath(cfg, "agent.name", "42"))
	assert.Equal(t, "112233445566778899", cfg.Agent.OwnerID)
	assert.Equal(t, "998877665544332211", cfg.Transport.Discord.GuildID)
	assert.Equal(t, "42", cfg.Agent.Name)

	require.NoError(t, SetByPath(cfg, "knowledge.minScore", "0.25"))
	assert.InDelta(t, 0.25, cfg.Knowledge.MinScore, 1e-9)

	before := cfg.Tasks.Workers
	assert.Error(t, SetByPath(cfg, "tasks.workers", "many"))
	assert.Equal(t, before, cfg.Tasks.Workers)
}
