package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"persona/internal/domain"
	"persona/internal/swarm"
)

type LoaderConfig struct {
	Embedder  domain.Embedder
	DumpDir   string // where documents fetched from URLs are saved; empty disables
	ChunkSize int    // words per chunk (default: 120)
	Overlap   int    // overlapping words between chunks (default: 20)
	Client    *http.Client
	Logger    *slog.Logger
}

// Loader builds LoadFuncs for the supported knowledge sources.
type Loader struct {
	cfg    LoaderConfig
	logger *slog.Logger
	dumped sync.Map
}

func NewLoader(cfg LoaderConfig) *Loader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 120
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = 20
	}
	if cfg.Embedder == nil {
		cfg.Embedder = NewHashEmbedder(0)
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{cfg: cfg, logger: logger}
}

// Embedder returns the embedder used for chunks; rankers must embed queries
// with the same one.
func (l *Loader) Embedder() domain.Embedder { return l.cfg.Embedder }

// PreEmbedded reads a document serialized as JSON.
func (l *Loader) PreEmbedded(path string) LoadFunc {
	return func(ctx context.Context) (domain.Document, error) {
		return ReadDocument(path)
	}
}

// Text reads a plain text file, chunks and embeds it.
func (l *Loader) Text(path string) LoadFunc {
	return func(ctx context.Context) (domain.Document, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return domain.Document{}, fmt.Errorf("read %s: %w", path, err)
		}
		return l.embed(ctx, path, string(data), true)
	}
}

// URL fetches a page, strips markup and embeds the text. The result is
// written to the dump directory so later runs can load it pre-embedded.
func (l *Loader) URL(rawURL string) LoadFunc {
	return func(ctx context.Context) (domain.Document, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return domain.Document{}, err
		}
		resp, err := l.cfg.Client.Do(req)
		if err != nil {
			return domain.Document{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return domain.Document{}, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return domain.Document{}, fmt.Errorf("read %s: %w", rawURL, err)
		}

		doc, err := l.embed(ctx, rawURL, swarm.StripHTML(string(body)), false)
		if err != nil {
			return doc, err
		}
		if l.cfg.DumpDir != "" {
			path := filepath.Join(l.cfg.DumpDir, doc.ID+".json")
			l.dumped.Store(path, struct{}{})
			if err := WriteDocument(path, doc); err != nil {
				l.logger.Warn("cannot save fetched document", "source", rawURL, "err", err)
			}
		}
		return doc, nil
	}
}

// Dumped reports whether path was written by a URL load in this process.
func (l *Loader) Dumped(path string) bool {
	_, ok := l.dumped.Load(path)
	return ok
}

// ScanResult counts what ScanDirectory queued.
type ScanResult struct {
	PreEmbedded int
	Text        int
	Skipped     []string
}

func (r ScanResult) Queued() int { return r.PreEmbedded + r.Text }

// ScanDirectory queues every .json and .txt file in dir. Other files are
// skipped with a warning.
func (l *Loader) ScanDirectory(dir string, q *Queue) (ScanResult, error) {
	var res ScanResult
	entries, err := os.ReadDir(dir)
	if err != nil {
		return res, fmt.Errorf("scan knowledge directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if l.Enqueue(filepath.Join(dir, e.Name()), q) {
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".json":
				res.PreEmbedded++
			case ".txt":
				res.Text++
			}
		} else {
			res.Skipped = append(res.Skipped, e.Name())
		}
	}
	return res, nil
}

// Enqueue pushes a load for path when its extension is supported.
func (l *Loader) Enqueue(path string, q *Queue) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		q.Push(path, l.PreEmbedded(path))
	case ".txt":
		q.Push(path, l.Text(path))
	default:
		l.logger.Warn("unrecognised knowledge file, use .txt for plain text or .json for pre-embedded documents",
			"file", path)
		return false
	}
	return true
}

func (l *Loader) embed(ctx context.Context, source, text string, sentences bool) (domain.Document, error) {
	texts := l.split(text, sentences)
	if len(texts) == 0 {
		return domain.Document{}, fmt.Errorf("%s: no text", source)
	}
	vectors, err := l.cfg.Embedder.Embed(ctx, texts)
	if err != nil {
		return domain.Document{}, fmt.Errorf("embed %s: %w", source, err)
	}
	if len(vectors) != len(texts) {
		return domain.Document{}, fmt.Errorf("embed %s: got %d vectors for %d chunks", source, len(vectors), len(texts))
	}

	hash := sha256.Sum256([]byte(text))
	doc := domain.Document{ID: fmt.Sprintf("%x", hash[:8]), Source: source}
	for i, t := range texts {
		doc.Chunks = append(doc.Chunks, domain.Chunk{Text: t, Embedding: vectors[i]})
	}
	return doc, nil
}

var (
	paragraphSep = regexp.MustCompile(`\n\s*\n`)
	sentenceEnd  = regexp.MustCompile(`([.!?])\s+`)
)

// split breaks text into paragraphs, optionally into sentences, and caps
// each piece at ChunkSize words with Overlap words carried over.
func (l *Loader) split(text string, sentences bool) []string {
	var pieces []string
	for _, para := range paragraphSep.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if !sentences {
			pieces = append(pieces, para)
			continue
		}
		for _, s := range strings.Split(sentenceEnd.ReplaceAllString(para, "$1\n"), "\n") {
			if s = strings.TrimSpace(s); s != "" {
				pieces = append(pieces, s)
			}
		}
	}

	var chunks []string
	for _, p := range pieces {
		chunks = append(chunks, chunkWords(p, l.cfg.ChunkSize, l.cfg.Overlap)...)
	}
	return chunks
}

func chunkWords(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}

	var chunks []string
	for i := 0; i < len(words); i += step {
		end := min(i+size, len(words))
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if end >= len(words) {
			break
		}
	}
	return chunks
}

// ReadDocument loads a JSON document written by WriteDocument.
func ReadDocument(path string) (domain.Document, error) {
	var doc domain.Document
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.Source == "" {
		doc.Source = path
	}
	return doc, nil
}

func WriteDocument(path string, doc domain.Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
