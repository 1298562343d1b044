package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"persona/internal/config"
)

// backupSet maps archive names to where they live on disk.
type backupSet struct {
	config   string
	database string
	examples string
}

func newBackupSet(cfgPath string, cfg *config.Config) backupSet {
	return backupSet{config: cfgPath, database: cfg.Memory.DBPath, examples: cfg.Agent.ExamplesPath}
}

// files lists the paths that exist, keyed by archive name.
func (b backupSet) files() map[string]string {
	out := make(map[string]string)
	add := func(name, path string) {
		if _, err := os.Stat(path); err == nil {
			out[name] = path
		}
	}
	add("config.json", b.config)
	add("memory.db", b.database)
	add("memory.db-wal", b.database+"-wal")
	add("memory.db-shm", b.database+"-shm")
	add("examples.json", b.examples)
	return out
}

// target returns where an archived file is restored to.
func (b backupSet) target(name string) (string, bool) {
	switch name {
	case "config.json":
		return b.config, true
	case "memory.db":
		return b.database, true
	case "memory.db-wal":
		return b.database + "-wal", true
	case "memory.db-shm":
		return b.database + "-shm", true
	case "examples.json":
		return b.examples, true
	}
	return "", false
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of the agent's data (database, examples, config)",
		Long: `Creates a compressed .tar.gz archive containing the SQLite database,
the examples file and the configuration file. The backup is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("persona-backup-%s.tar.gz", ts))
			}

			files := newBackupSet(cfgPath, cfg).files()
			if len(files) == 0 {
				return errors.New("no files to back up")
			}
			if err := createTarGz(outputPath, files); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Files included: %d\n", len(files))
			for name, path := range files {
				var size int64
				if info, err := os.Stat(path); err == nil {
					size = info.Size()
				}
				fmt.Printf("  - %s (%s)\n", name, humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.persona/backups/persona-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [file.tar.gz]",
		Short: "Restore the agent's data from a backup archive",
		Long: `Restores the database, examples and configuration from a .tar.gz
archive created by 'persona backup'. Paths come from the current config.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				// A lost config is the usual reason to restore.
				cfg = config.Defaults()
				cfg.Memory.DBPath = filepath.Join(config.ExpandPath(cfg.Agent.Dir), "memory.db")
				cfg.Agent.ExamplesPath = filepath.Join(config.ExpandPath(cfg.Agent.Dir), "examples.json")
			}
			set := newBackupSet(cfgPath, cfg)

			if existing := set.files(); len(existing) > 0 && !force {
				fmt.Printf("WARNING: This will overwrite existing data:\n")
				for name, path := range existing {
					fmt.Printf("  %-14s %s\n", name, path)
				}
				fmt.Printf("Use --force to skip this warning.\n")
				return errors.New("restore aborted (use --force to proceed)")
			}

			restored, err := extractTarGz(args[0], set)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", args[0])
			fmt.Printf("Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

func createTarGz(outputPath string, files map[string]string) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	for name, path := range files {
		if err := addFileToTar(tarWriter, name, path); err != nil {
			return fmt.Errorf("add %s: %w", path, err)
		}
	}
	return nil
}

func addFileToTar(tw *tar.Writer, name, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz restores the known files of an archive; anything else is
// skipped.
func extractTarGz(archivePath string, set backupSet) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		targetPath, ok := set.target(filepath.Base(header.Name))
		if !ok {
			logger.Warn("skipping unknown archive entry", "name", header.Name)
			continue
		}
		if err := writeFile(targetPath, tarReader); err != nil {
			return nil, err
		}
		restored = append(restored, targetPath)
	}
	return restored, nil
}

func writeFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", path, err)
	}
	return out.Close()
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
