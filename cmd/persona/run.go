package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"persona/internal/activator"
	"persona/internal/agent"
	"persona/internal/channel"
	"persona/internal/config"
	"persona/internal/domain"
	"persona/internal/knowledge"
	"persona/internal/memory"
	"persona/internal/metrics"
	"persona/internal/provider"
	"persona/internal/status"
	"persona/internal/supervisor"
	"persona/internal/swarm"
	"persona/internal/translator"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect the agent and reply until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			l, closeLog, err := newLogger(cfg.General)
			if err != nil {
				return err
			}
			defer closeLog()
			logger = l

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, stop, cfg, l)
		},
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg *config.Config, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.Agent.Dir, 0o755); err != nil {
		return fmt.Errorf("agent directory: %w", err)
	}
	m := metrics.NewAgent(metrics.NewCollector("persona"))

	store, err := memory.Open(cfg.Memory.DBPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	examples := memory.NewExampleSet(cfg.Agent.ExamplesPath)
	if err := examples.Load(); err != nil {
		return err
	}

	abilities, err := buildAbilities(cfg.Abilities, logger)
	if err != nil {
		return err
	}
	gen, err := provider.NewFactory(logger).Build(cfg.Generator, abilities)
	if err != nil {
		return fmt.Errorf("generator: %w", err)
	}

	embedder := buildEmbedder(cfg.Knowledge)
	loader := knowledge.NewLoader(knowledge.LoaderConfig{
		Embedder:  embedder,
		DumpDir:   cfg.Knowledge.Dir,
		ChunkSize: cfg.Knowledge.ChunkSize,
		Overlap:   cfg.Knowledge.ChunkOverlap,
		Logger:    logger,
	})

	commands := agent.NewCommands(version)
	tr, err := buildTransport(cfg, commands.List(), stop, logger)
	if err != nil {
		return err
	}

	a, err := agent.New(agent.Config{
		Name:            cfg.Agent.Name,
		Preamble:        cfg.Agent.Preamble,
		LoadingMessage:  cfg.Agent.LoadingMessage,
		ConfirmEmoji:    cfg.Agent.ConfirmEmoji,
		HistoryWindow:   cfg.Translators.HistoryWindow,
		KnowledgeTopK:   cfg.Knowledge.TopK,
		SelfReplyChance: cfg.Agent.SelfReplyChance,
		SelfReplyDelay:  time.Duration(cfg.Agent.SelfReplyDelaySeconds) * time.Second,
		Transport:       tr,
		Generator:       gen,
		Store:           store,
		Examples:        examples,
		Loader:          loader,
		Ranker:          knowledge.NewCosineRanker(embedder, cfg.Knowledge.MinScore),
		Abilities:       abilities,
		Tasks: agent.TaskGroupConfig{
			Workers:        cfg.Tasks.Workers,
			QueueSize:      cfg.Tasks.QueueSize,
			EnqueueTimeout: time.Duration(cfg.Tasks.EnqueueTimeoutSeconds) * time.Second,
		},
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		return err
	}
	defer a.Shutdown()
	commands.Bind(a)

	if err := configureAgent(a, cfg); err != nil {
		return err
	}

	if cfg.Knowledge.Watch {
		w, err := knowledge.NewWatcher(knowledge.WatcherConfig{
			Dir:    cfg.Knowledge.Dir,
			Loader: loader,
			Queue:  a.Queue(),
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("knowledge watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			logger.Warn("knowledge watcher disabled", "dir", cfg.Knowledge.Dir, "err", err)
		}
		defer w.Stop()
	}

	sup := supervisor.New(supervisor.Config{
		Transport:  tr,
		Queue:      a.Queue(),
		Collection: a.Collection(),
		Listeners: []supervisor.Listener{
			{Name: "messages", Attach: func(t domain.Transport) func() { return t.OnMessage(a.HandleMessage) }},
			{Name: "reactions", Attach: func(t domain.Transport) func() { return t.OnReaction(a.HandleReaction) }},
		},
		SessionTimeout:      time.Duration(cfg.Supervisor.SessionTimeoutSeconds) * time.Second,
		DocumentConcurrency: cfg.Supervisor.DocumentConcurrency,
		Connected:           a.Connected,
		Logger:              logger,
		Metrics:             m,
	})

	if cfg.Status.Enabled {
		srv := status.New(status.Config{Addr: cfg.Status.Addr, Version: version, Agent: a, Supervisor: sup, Logger: logger})
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("status server stopped", "err", err)
			}
		}()
	}

	logger.Info("agent starting",
		"name", a.Name(),
		"transport", tr.Name(),
		"generator", gen.Name(),
		"abilities", len(abilities.Names()),
		"examples", examples.Len())
	if err := sup.Run(ctx); err != nil {
		return err
	}
	logger.Info("agent stopped")
	return nil
}

// configureAgent applies the activator, translator, example and knowledge
// settings.
func configureAgent(a *agent.Agent, cfg *config.Config) error {
	for _, ac := range cfg.Activators {
		err := a.AddActivator(activator.Check{
			Name:      ac.Name,
			Condition: ac.Condition,
			Topic:     ac.Topic,
			Sides:     ac.Sides,
			Mandatory: ac.Mandatory,
		})
		if err != nil {
			return fmt.Errorf("activator: %w", err)
		}
	}

	tc := cfg.Translators
	if tc.StripMention {
		a.AddPreTranslator(translator.MentionStripper(a.Name()))
	}
	a.AddPreTranslator(translator.HistoryWindow(tc.HistoryWindow))
	a.AddPreTranslator(translator.ExampleLimit(tc.ExampleLimit))
	a.AddPreTranslator(translator.KnowledgeLimit(tc.KnowledgeLimit))
	if tc.StripName {
		a.AddPostTranslator(translator.NameStripper(a.Name()))
	}
	a.AddPostTranslator(translator.WhitespaceNormalizer())
	a.AddPostTranslator(translator.Trimmer(tc.TrimLimit))
	a.SetFormatter(translator.Formatter{PlainLimit: tc.TrimLimit})

	a.AddExamples(cfg.Agent.Examples...)

	if cfg.Knowledge.Dir != "" {
		if err := os.MkdirAll(cfg.Knowledge.Dir, 0o755); err != nil {
			return fmt.Errorf("knowledge directory: %w", err)
		}
		if _, err := a.AddKnowledgeDirectory(cfg.Knowledge.Dir); err != nil {
			return err
		}
	}
	fetched := fetchedSources(cfg.Knowledge.Dir)
	for _, src := range cfg.Knowledge.Sources {
		// Pages fetched by an earlier run load from their saved copy.
		if src.Kind == "url" && fetched[src.Path] {
			continue
		}
		if err := a.AddKnowledge(src.Path, src.Kind); err != nil {
			return err
		}
	}
	return nil
}

// fetchedSources returns the sources of the documents saved in dir.
func fetchedSources(dir string) map[string]bool {
	out := make(map[string]bool)
	paths, _ := filepath.Glob(filepath.Join(dir, "*.json"))
	for _, p := range paths {
		doc, err := knowledge.ReadDocument(p)
		if err != nil {
			continue
		}
		out[doc.Source] = true
	}
	return out
}

func buildAbilities(ac config.AbilitiesConfig, logger *slog.Logger) (*swarm.Registry, error) {
	reg := swarm.NewRegistry(logger)
	reg.Use(swarm.Builtin{Only: ac.Builtin})
	for _, dir := range ac.Dirs {
		sources, err := swarm.LoadDirectory(dir, logger)
		if err != nil {
			return nil, fmt.Errorf("abilities in %s: %w", dir, err)
		}
		for _, src := range sources {
			reg.Use(src)
		}
	}
	return reg, nil
}

func buildEmbedder(kc config.KnowledgeConfig) domain.Embedder {
	if kc.Embedder == "openai" {
		return knowledge.NewOpenAIEmbedder(knowledge.OpenAIEmbedderConfig{
			APIKey: kc.APIKey,
			Model:  kc.EmbeddingModel,
		})
	}
	return knowledge.NewHashEmbedder(0)
}

func buildTransport(cfg *config.Config, cmds []channel.Command, quit func(), logger *slog.Logger) (domain.Transport, error) {
	switch cfg.Transport.Kind {
	case "discord":
		d, err := channel.NewDiscord(channel.DiscordConfig{
			Token:    cfg.Transport.Discord.Token,
			GuildID:  cfg.Transport.Discord.GuildID,
			OwnerID:  cfg.Agent.OwnerID,
			Commands: cmds,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("discord: %w", err)
		}
		return d, nil
	case "slack":
		owner := cfg.Transport.Slack.OwnerID
		if owner == "" {
			owner = cfg.Agent.OwnerID
		}
		return channel.NewSlack(channel.SlackConfig{
			BotToken: cfg.Transport.Slack.BotToken,
			AppToken: cfg.Transport.Slack.AppToken,
			OwnerID:  owner,
			Commands: cmds,
			Logger:   logger,
		}), nil
	case "console", "":
		return channel.NewConsole(channel.ConsoleConfig{
			AgentName:    cfg.Agent.Name,
			OwnerName:    os.Getenv("USER"),
			ConfirmEmoji: cfg.Agent.ConfirmEmoji,
			Commands:     cmds,
			OnQuit:       quit,
			Logger:       logger,
		}), nil
	}
	return nil, errors.New("unknown transport kind: " + cfg.Transport.Kind)
}
