package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"persona/internal/config"
	"persona/internal/knowledge"
)

func knowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Load, fetch and query knowledge documents",
	}

	var query string
	var topK int
	scan := &cobra.Command{
		Use:   "scan",
		Short: "Load the knowledge directory and report what it holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			loader := newKnowledgeLoader(cfg)
			q := knowledge.NewQueue(logger)
			res, err := loader.ScanDirectory(cfg.Knowledge.Dir, q)
			if err != nil {
				return err
			}
			for _, src := range cfg.Knowledge.Sources {
				if src.Kind == "text" || src.Kind == "json" {
					loader.Enqueue(src.Path, q)
				}
			}

			ctx := cmd.Context()
			docs, err := q.Drain(ctx, cfg.Supervisor.DocumentConcurrency)
			if err != nil {
				return err
			}
			coll := knowledge.NewCollection()
			if err := coll.Extend(docs...); err != nil {
				return err
			}
			for _, d := range coll.Documents() {
				fmt.Printf("  %-16s %4d chunk(s)  %s\n", d.ID, len(d.Chunks), d.Source)
			}
			fmt.Printf("\n%d document(s), %d chunk(s), %d skipped\n", coll.Len(), coll.Chunks(), len(res.Skipped))

			if query == "" {
				return nil
			}
			ranker := knowledge.NewCosineRanker(loader.Embedder(), cfg.Knowledge.MinScore)
			snippets, err := ranker.Rank(ctx, query, coll.Documents(), topK)
			if err != nil {
				return err
			}
			fmt.Printf("\nTop matches for %q:\n", query)
			for _, s := range snippets {
				fmt.Printf("  %.3f  %s  %s\n", s.Score, s.Source, strings.Join(strings.Fields(s.Text), " "))
			}
			return nil
		},
	}
	scan.Flags().StringVarP(&query, "query", "q", "", "rank chunks against this query")
	scan.Flags().IntVarP(&topK, "top", "k", 3, "number of matches to print")
	cmd.AddCommand(scan)

	cmd.AddCommand(&cobra.Command{
		Use:   "fetch [url]",
		Short: "Fetch a page, embed it and save it to the knowledge directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Knowledge.Dir, 0o755); err != nil {
				return err
			}
			doc, err := newKnowledgeLoader(cfg).URL(args[0])(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info("document saved", "source", doc.Source, "id", doc.ID, "chunks", len(doc.Chunks), "dir", cfg.Knowledge.Dir)
			return nil
		},
	})

	return cmd
}

func newKnowledgeLoader(cfg *config.Config) *knowledge.Loader {
	return knowledge.NewLoader(knowledge.LoaderConfig{
		Embedder:  buildEmbedder(cfg.Knowledge),
		DumpDir:   cfg.Knowledge.Dir,
		ChunkSize: cfg.Knowledge.ChunkSize,
		Overlap:   cfg.Knowledge.ChunkOverlap,
		Logger:    logger,
	})
}
