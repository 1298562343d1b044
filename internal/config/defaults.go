package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Agent: AgentConfig{
			Name:                  "Persona",
			Dir:                   "~/.persona/agent",
			LoadingMessage:        "Thinking...",
			ConfirmEmoji:          "✅",
			SelfReplyDelaySeconds: 30,
		},
		Transport: TransportConfig{
			Kind: "console",
			Discord: DiscordConfig{
				Token: "${DISCORD_TOKEN}",
			},
			Slack: SlackConfig{
				BotToken: "${SLACK_BOT_TOKEN}",
				AppToken: "${SLACK_APP_TOKEN}",
			},
		},
		Generator: GeneratorConfig{
			Kind:           "echo",
			Temperature:    0.8,
			MaxTokens:      512,
			TimeoutSeconds: 90,
		},
		Knowledge: KnowledgeConfig{
			Embedder:     "hash",
			TopK:         3,
			MinScore:     0.1,
			ChunkSize:    120,
			ChunkOverlap: 20,
			Watch:        true,
		},
		Supervisor: SupervisorConfig{
			SessionTimeoutSeconds: 300,
			DocumentConcurrency:   4,
		},
		Tasks: TasksConfig{
			Workers:               8,
			QueueSize:             64,
			EnqueueTimeoutSeconds: 5,
		},
		Activators: []ActivatorConfig{
			{Name: "mentioned", Condition: "mention"},
			{Name: "direct-message", Condition: "direct"},
		},
		Translators: TranslatorsConfig{
			TrimLimit:      2000,
			HistoryWindow:  12,
			ExampleLimit:   20,
			KnowledgeLimit: 3,
			StripMention:   true,
			StripName:      true,
		},
		Status: StatusConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8089",
		},
	}
}
