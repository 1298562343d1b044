package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"

	"persona/internal/domain"
)

// CosineRanker scores chunks by cosine similarity to the embedded query.
// Chunks must have been embedded by the same Embedder.
type CosineRanker struct {
	embedder domain.Embedder
	minScore float64
}

func NewCosineRanker(embedder domain.Embedder, minScore float64) *CosineRanker {
	return &CosineRanker{embedder: embedder, minScore: minScore}
}

func (r *CosineRanker) Rank(ctx context.Context, query string, docs []domain.Document, topK int) ([]domain.Snippet, error) {
	if topK <= 0 || len(docs) == 0 || query == "" {
		return nil, nil
	}
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	q := vecs[0]

	var out []domain.Snippet
	for _, d := range docs {
		for _, c := range d.Chunks {
			score := cosine(q, c.Embedding)
			if score <= r.minScore {
				continue
			}
			out = append(out, domain.Snippet{Source: d.Source, Text: c.Text, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
