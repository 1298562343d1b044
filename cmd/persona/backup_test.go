package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"persona/internal/config"
	"persona/internal/domain"
	"persona/internal/knowledge"
)

func testBackupSet(t *testing.T, dir string) backupSet {
	t.Helper()
	cfg := config.Defaults()
	cfg.Memory.DBPath = filepath.Join(dir, "agent", "memory.db")
	cfg.Agent.ExamplesPath = filepath.Join(dir, "agent", "examples.json")
	return newBackupSet(filepath.Join(dir, "config.json"), cfg)
}

func TestBackupRestore(t *testing.T) {
	src := t.TempDir()
	set := testBackupSet(t, src)
	require.NoError(t, os.MkdirAll(filepath.Dir(set.database), 0o755))
	require.NoError(t, os.WriteFile(set.config, []byte(`{"agent":{"name":"Ada"}}`), 0o600))
	require.NoError(t, os.WriteFile(set.database, []byte("db"), 0o600))
	require.NoError(t, os.WriteFile(set.examples, []byte(`{"examples":["Bob: hi\nAda: hello"]}`), 0o600))

	files := set.files()
	assert.Len(t, files, 3)
	assert.NotContains(t, files, "memory.db-wal")

	archive := filepath.Join(src, "backup.tar.gz")
	require.NoError(t, createTarGz(archive, files))

	dst := t.TempDir()
	restoreSet := testBackupSet(t, dst)
	restored, err := extractTarGz(archive, restoreSet)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{restoreSet.config, restoreSet.database, restoreSet.examples}, restored)

	data, err := os.ReadFile(restoreSet.examples)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Ada: hello")
}

func TestRestoreRejectsNonGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("plain"), 0o600))

	_, err := extractTarGz(path, testBackupSet(t, dir))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid gzip file")
}

func TestBackupTarget(t *testing.T) {
	set := testBackupSet(t, "/data")
	path, ok := set.target("memory.db-wal")
	require.True(t, ok)
	assert.Equal(t, "/data/agent/memory.db-wal", path)

	_, ok = set.target("legacy.db")
	assert.False(t, ok)
}

func TestFetchedSources(t *testing.T) {
	dir := t.TempDir()
	doc := domain.Document{ID: "abc", Source: "https://example.com/faq", Chunks: []domain.Chunk{{Text: "hi", Embedding: []float64{1}}}}
	require.NoError(t, knowledge.WriteDocument(filepath.Join(dir, "abc.json"), doc))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o600))

	got := fetchedSources(dir)
	assert.True(t, got["https://example.com/faq"])
	assert.Len(t, got, 1)
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "1.5 KB", humanSize(1536))
	assert.Equal(t, "2.0 MB", humanSize(2<<20))
}
