package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"persona/internal/memory"
)

func examplesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "examples",
		Short: "Inspect and extend the agent's example interactions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print every stored example",
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := openExamples()
			if err != nil {
				return err
			}
			for i, ex := range set.All() {
				fmt.Printf("%3d  %s\n", i+1, strings.ReplaceAll(ex, "\n", "\n     "))
			}
			fmt.Printf("\n%d example(s) in %s\n", set.Len(), set.Path())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add [text]",
		Short: "Append an example to the examples file",
		Long:  "Appends an example interaction such as \"Alice: hi\\nPersona: hello\".",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := openExamples()
			if err != nil {
				return err
			}
			text := strings.ReplaceAll(strings.Join(args, " "), `\n`, "\n")
			if err := set.Append(context.Background(), text); err != nil {
				return err
			}
			logger.Info("example added", "file", set.Path(), "examples", set.Len())
			return nil
		},
	})

	return cmd
}

func openExamples() (*memory.ExampleSet, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	set := memory.NewExampleSet(cfg.Agent.ExamplesPath)
	if err := set.Load(); err != nil {
		return nil, err
	}
	return set, nil
}
