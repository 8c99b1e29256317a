package store

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/mtahsin/researchbot/internal/models"
)

type VectorStoreConfig struct {
	ConnString string
	Collection string // table holding the chunks
	VectorDim  int
}

// VectorStore is the persistent chunk + embedding store backed by pgvector.
// The collection table is created lazily on first construction and survives
// process restarts.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.Collection == "" {
		config.Collection = "research_documents"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text dimension
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %v", err)
	}

	// Create the collection table if it doesn't exist
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			source TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			embedding vector(%d)
		)`, vs.config.Collection, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	// Create vector index
	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vs.config.Collection, vs.config.Collection)

	_, err = vs.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("failed to create index: %v", err)
	}

	return nil
}

// Upsert adds chunks under caller-generated ids. Duplicate ids overwrite.
func (vs *VectorStore) Upsert(ctx context.Context, ids []string, texts []string, embeddings [][]float32, metas []models.ChunkMeta) error {
	if len(ids) != len(texts) || len(ids) != len(embeddings) || len(ids) != len(metas) {
		return fmt.Errorf("ids, texts, embeddings and metadatas must have equal length")
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, content, source, chunk_index, token_count, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			source = EXCLUDED.source,
			chunk_index = EXCLUDED.chunk_index,
			token_count = EXCLUDED.token_count,
			embedding = EXCLUDED.embedding`,
		vs.config.Collection)

	for i, id := range ids {
		_, err = tx.Exec(ctx, stmt,
			id,
			sanitizeUTF8(texts[i]),
			metas[i].Source,
			metas[i].ChunkIndex,
			metas[i].TokenCount,
			pgvector.NewVector(embeddings[i]),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %s: %v", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}

	return nil
}

// Query returns at most k nearest neighbors by cosine distance, optionally
// restricted to chunks whose source is in the given set.
func (vs *VectorStore) Query(ctx context.Context, embedding []float32, k int, sources []string) ([]models.SearchResult, error) {
	if k <= 0 {
		k = 5
	}

	query := fmt.Sprintf(`
		SELECT content, source, chunk_index, embedding <=> $1 AS distance
		FROM %s`, vs.config.Collection)

	args := []interface{}{pgvector.NewVector(embedding)}
	if len(sources) > 0 {
		query += " WHERE source = ANY($2)"
		args = append(args, sources)
	}
	query += fmt.Sprintf(" ORDER BY distance LIMIT %d", k)

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %v", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.Text, &r.Meta.Source, &r.Meta.ChunkIndex, &r.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// GetAll returns every stored chunk with its metadata, for bulk consumers
// that compare against the whole collection.
func (vs *VectorStore) GetAll(ctx context.Context) ([]models.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT content, source, chunk_index, token_count
		FROM %s
		ORDER BY source, chunk_index`, vs.config.Collection)

	rows, err := vs.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read collection: %v", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.Text, &c.Source, &c.Index, &c.TokenCount); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		chunks = append(chunks, c)
	}

	return chunks, rows.Err()
}

// Count reports how many chunks the collection holds.
func (vs *VectorStore) Count(ctx context.Context) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", vs.config.Collection)
	if err := vs.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %v", err)
	}
	return count, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
