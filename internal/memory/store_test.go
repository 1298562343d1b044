package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"persona/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memory.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorePutGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Put(ctx, "a", "", []byte("1")))
	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStoreUpsertKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(ctx, k, "", []byte(k)))
	}
	require.NoError(t, s.Put(ctx, "a", "", []byte("updated")))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "updated", string(v))
}

func TestStoreDurableAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.db")

	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "k", "", []byte("v")))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))

	version, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, version)
}

func TestStoreScanNewestInOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, k := range []string{"1", "2", "3", "4"} {
		require.NoError(t, s.Put(ctx, k, "room", []byte(k)))
	}
	require.NoError(t, s.Put(ctx, "x", "other", []byte("x")))

	values, err := s.Scan(ctx, "room", 2)
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "3", string(values[0]))
	assert.Equal(t, "4", string(values[1]))
}
