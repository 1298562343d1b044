package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"persona/internal/config"
	"persona/internal/knowledge"
	"persona/internal/memory"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your Persona installation",
		Long: `Verifies that the configuration, agent directory, database, examples,
generator and transport are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("Persona Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r report

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'persona init' to create a default configuration.\n")
				return nil
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			if info, err := os.Stat(cfg.Agent.Dir); err != nil {
				r.fail("Agent directory", fmt.Sprintf("not found: %s", cfg.Agent.Dir))
			} else if !info.IsDir() {
				r.fail("Agent directory", fmt.Sprintf("not a directory: %s", cfg.Agent.Dir))
			} else {
				r.pass("Agent directory", cfg.Agent.Dir)
			}

			if n, version, err := checkDatabase(cmd.Context(), cfg.Memory.DBPath); err != nil {
				r.fail("Database", err.Error())
			} else {
				r.pass("Database", fmt.Sprintf("%s (schema v%d, %d records)", cfg.Memory.DBPath, version, n))
			}

			examples := memory.NewExampleSet(cfg.Agent.ExamplesPath)
			if err := examples.Load(); err != nil {
				r.fail("Examples", err.Error())
			} else if examples.Len() == 0 && len(cfg.Agent.Examples) == 0 {
				r.warn("Examples", "none yet; replies confirmed by the owner are added here")
			} else {
				r.pass("Examples", fmt.Sprintf("%d stored, %d inline", examples.Len(), len(cfg.Agent.Examples)))
			}

			loader := knowledge.NewLoader(knowledge.LoaderConfig{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
			if res, err := loader.ScanDirectory(cfg.Knowledge.Dir, knowledge.NewQueue(nil)); err != nil {
				r.warn("Knowledge", err.Error())
			} else if len(res.Skipped) > 0 {
				r.warn("Knowledge", fmt.Sprintf("%d file(s) queued, %d unsupported", res.Queued(), len(res.Skipped)))
			} else {
				r.pass("Knowledge", fmt.Sprintf("%d file(s) in %s", res.Queued(), cfg.Knowledge.Dir))
			}

			checkGenerator(&r, "Generator", cfg.Generator)
			for i, fb := range cfg.Generator.Fallbacks {
				checkGenerator(&r, fmt.Sprintf("Fallback %d", i+1), fb)
			}

			switch cfg.Transport.Kind {
			case "console":
				r.warn("Transport", "console only; set transport.kind to discord or slack to go live")
			default:
				r.pass("Transport", cfg.Transport.Kind)
			}
			if cfg.Agent.OwnerID == "" && cfg.Transport.Kind != "console" {
				r.warn("Owner", "agent.ownerId not set; the platform application owner is used")
			}

			if cfg.Status.Enabled {
				if err := checkAddr(cfg.Status.Addr); err != nil {
					r.warn("Status address", fmt.Sprintf("%s may be in use: %v", cfg.Status.Addr, err))
				} else {
					r.pass("Status address", cfg.Status.Addr+" available")
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			return r.summary()
		},
	}
}

type report struct {
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *report) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running Persona.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nPersona should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! Persona is ready to run.\n")
	}
	return nil
}

func checkGenerator(r *report, name string, gc config.GeneratorConfig) {
	switch gc.Kind {
	case "echo":
		r.warn(name, "echo generator repeats the message back")
	case "openai", "anthropic":
		if gc.APIKey == "" && gc.APIBase == "" {
			r.fail(name, gc.Kind+" needs an API key or base URL")
			return
		}
		r.pass(name, fmt.Sprintf("%s (%s)", gc.Kind, gc.Model))
	default:
		r.pass(name, gc.Kind)
	}
}

// checkDatabase opens the store, which runs migrations, and reports the
// record count and schema version.
func checkDatabase(ctx context.Context, path string) (records, version int, err error) {
	store, err := memory.Open(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return 0, 0, err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if records, err = store.Len(ctx); err != nil {
		return 0, 0, err
	}
	if version, err = store.SchemaVersion(ctx); err != nil {
		return 0, 0, err
	}
	return records, version, nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
