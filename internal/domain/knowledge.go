package domain

import "context"

// Document is a knowledge source split into embedded chunks.
type Document struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Chunks []Chunk `json:"chunks"`
}

type Chunk struct {
	Text      string    `json:"text"`
	Embedding []float64 `json:"embedding"`
}

// Snippet is a ranked chunk handed to the generator.
type Snippet struct {
	Source string  `json:"source"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

// Embedder turns texts into vectors. Output order matches input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Ranker selects the chunks most relevant to a query.
type Ranker interface {
	Rank(ctx context.Context, query string, docs []Document, topK int) ([]Snippet, error)
}
