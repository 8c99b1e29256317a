package types

import (
	"context"

	"github.com/mtahsin/researchbot/internal/models"
)

// Core interfaces

// Embedder converts texts into fixed-dimension vectors. Empty or
// whitespace-only inputs are dropped and contribute no output vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex is the persistent chunk + embedding store.
type VectorIndex interface {
	Upsert(ctx context.Context, ids []string, texts []string, embeddings [][]float32, metas []models.ChunkMeta) error
	Query(ctx context.Context, embedding []float32, k int, sources []string) ([]models.SearchResult, error)
	GetAll(ctx context.Context) ([]models.Chunk, error)
	Count(ctx context.Context) (int, error)
}

// SessionStore is the append-only conversation log.
type SessionStore interface {
	Append(ctx context.Context, sessionID, role, content string) error
	History(ctx context.Context, sessionID string) ([]models.Message, error)
}

// Generator produces an answer for a fully assembled prompt.
type Generator interface {
	Answer(ctx context.Context, prompt string, temperature float64) (string, error)
	AnswerStream(ctx context.Context, prompt string, temperature float64) (<-chan string, error)
}

// Extractor turns a PDF byte stream into plain text.
type Extractor interface {
	Extract(data []byte) (string, error)
}

// Chunker splits a text stream into overlapping token windows.
type Chunker interface {
	Chunk(text string) ([]string, error)
}
