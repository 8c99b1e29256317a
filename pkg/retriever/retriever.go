package retriever

import (
	"context"
	"fmt"
	"sort"

	"github.com/mtahsin/researchbot/internal/types"
)

const (
	minChunks = 1
	maxChunks = 10
)

// Engine answers "which stored chunks are relevant to this question".
type Engine struct {
	embedder types.Embedder
	index    types.VectorIndex
}

func New(embedder types.Embedder, index types.VectorIndex) *Engine {
	return &Engine{
		embedder: embedder,
		index:    index,
	}
}

// Retrieve embeds the question once and returns the top-k chunk texts plus
// the distinct source filenames they came from. An empty index or a filter
// that matches nothing yields empty results, not an error.
func (e *Engine) Retrieve(ctx context.Context, question string, k int, documentNames []string) ([]string, []string, error) {
	if k < minChunks {
		k = minChunks
	}
	if k > maxChunks {
		k = maxChunks
	}

	vectors, err := e.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to embed question: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil, fmt.Errorf("question cannot be empty")
	}

	results, err := e.index.Query(ctx, vectors[0], k, documentNames)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query index: %w", err)
	}

	chunks := make([]string, 0, len(results))
	seen := make(map[string]bool)
	var sources []string

	for _, r := range results {
		chunks = append(chunks, r.Text)
		if !seen[r.Meta.Source] {
			seen[r.Meta.Source] = true
			sources = append(sources, r.Meta.Source)
		}
	}
	sort.Strings(sources)

	return chunks, sources, nil
}
