package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"persona/internal/memory"
)

func TestCheckDatabaseReportsSchemaVersion(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.db")

	store, err := memory.Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "k", "agent", []byte("v")))
	require.NoError(t, store.Close())

	records, version, err := checkDatabase(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, records)
	assert.Positive(t, version)
}

func TestCheckDatabaseFailsWhenDirectoryIsAFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, _, err := checkDatabase(context.Background(), filepath.Join(blocker, "memory.db"))
	assert.Error(t, err)
}
