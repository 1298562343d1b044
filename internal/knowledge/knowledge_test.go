package knowledge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"persona/internal/domain"
)

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestCollectionFreeze(t *testing.T) {
	c := NewCollection()
	require.NoError(t, c.Extend(domain.Document{ID: "a", Chunks: []domain.Chunk{{Text: "x"}, {Text: "y"}}}))
	c.Freeze()
	assert.ErrorIs(t, c.Extend(domain.Document{ID: "b"}), ErrFrozen)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 2, c.Chunks())

	c.Thaw()
	require.NoError(t, c.Extend(domain.Document{ID: "b"}))
	assert.Equal(t, 2, c.Len())
}

func TestQueueDrainKeepsOrderAndSkipsFailures(t *testing.T) {
	logger, buf := bufferLogger()
	q := NewQueue(logger)

	for i := range 5 {
		q.Push(fmt.Sprintf("doc%d", i), func(ctx context.Context) (domain.Document, error) {
			if i == 2 {
				return domain.Document{}, errors.New("broken")
			}
			time.Sleep(time.Duration(5-i) * time.Millisecond)
			return domain.Document{ID: fmt.Sprint(i)}, nil
		})
	}

	docs, err := q.Drain(context.Background(), 3)
	require.NoError(t, err)
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"0", "1", "3", "4"}, ids)
	assert.Zero(t, q.Len())
	assert.Contains(t, buf.String(), "document load failed")

	again, err := q.Drain(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestQueueDrainRespectsLimit(t *testing.T) {
	q := NewQueue(nil)
	var inFlight, peak atomic.Int32
	for range 8 {
		q.Push("d", func(ctx context.Context) (domain.Document, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			return domain.Document{}, nil
		})
	}
	_, err := q.Drain(context.Background(), 2)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestQueueDrainCancelled(t *testing.T) {
	q := NewQueue(nil)
	q.Push("d", func(ctx context.Context) (domain.Document, error) {
		<-ctx.Done()
		return domain.Document{}, ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Drain(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("The sky is blue. Grass is green."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "paper.pdf"), []byte("%PDF"), 0o644))

	logger, buf := bufferLogger()
	loader := NewLoader(LoaderConfig{Logger: logger})
	q := NewQueue(logger)

	res, err := loader.ScanDirectory(dir, q)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Queued())
	assert.Equal(t, []string{"paper.pdf"}, res.Skipped)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, strings.Count(buf.String(), "level=WARN"))

	docs, err := q.Drain(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Len(t, docs[0].Chunks, 2)
}

func TestScanDirectoryMissing(t *testing.T) {
	loader := NewLoader(LoaderConfig{})
	_, err := loader.ScanDirectory(filepath.Join(t.TempDir(), "nope"), NewQueue(nil))
	assert.Error(t, err)
}

func TestPreEmbeddedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	doc := domain.Document{ID: "d1", Source: "src", Chunks: []domain.Chunk{{Text: "hi", Embedding: []float64{1, 0}}}}
	require.NoError(t, WriteDocument(path, doc))

	loaded, err := NewLoader(LoaderConfig{}).PreEmbedded(path)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, doc, loaded)
}

func TestURLLoadDumpsDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><p>Cats purr.</p><script>x()</script></body></html>")
	}))
	defer srv.Close()

	dump := t.TempDir()
	loader := NewLoader(LoaderConfig{DumpDir: dump})
	doc, err := loader.URL(srv.URL)(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, doc.Chunks)
	assert.Contains(t, doc.Chunks[0].Text, "Cats purr.")

	path := filepath.Join(dump, doc.ID+".json")
	assert.True(t, loader.Dumped(path))
	saved, err := ReadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, saved.ID)
}

func TestChunkWordsOverlap(t *testing.T) {
	chunks := chunkWords("a b c d e f g", 3, 1)
	assert.Equal(t, []string{"a b c", "c d e", "e f g"}, chunks)
	assert.Nil(t, chunkWords("   ", 3, 1))
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), []string{"hello world", "hello world"})
	require.NoError(t, err)
	assert.Equal(t, a[0], a[1])
	assert.InDelta(t, 1.0, cosine(a[0], a[1]), 1e-9)
}

func TestCosineRankerTopK(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(0)
	loader := NewLoader(LoaderConfig{Embedder: e})

	dir := t.TempDir()
	path := filepath.Join(dir, "facts.txt")
	require.NoError(t, os.WriteFile(path,
		[]byte("Penguins live in Antarctica.\n\nThe stock market closed higher today.\n\nPenguins eat fish."), 0o644))
	doc, err := loader.Text(path)(ctx)
	require.NoError(t, err)

	ranker := NewCosineRanker(e, 0)
	snippets, err := ranker.Rank(ctx, "where do penguins live", []domain.Document{doc}, 2)
	require.NoError(t, err)
	require.Len(t, snippets, 2)
	assert.Equal(t, "Penguins live in Antarctica.", snippets[0].Text)
	assert.GreaterOrEqual(t, snippets[0].Score, snippets[1].Score)

	none, err := ranker.Rank(ctx, "penguins", nil, 2)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWatcherQueuesNewFiles(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(LoaderConfig{})
	q := NewQueue(nil)

	w, err := NewWatcher(WatcherConfig{Dir: dir, Loader: loader, Queue: q, Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("fresh knowledge"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte{0x89}, 0o644))

	require.Eventually(t, func() bool { return q.Len() == 1 }, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("fresh knowledge, edited"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, q.Len())
}
