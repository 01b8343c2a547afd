package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

// DefaultCollection is the shared knowledge-base collection queried when an
// agent has no uploads of its own.
const DefaultCollection = "docs"

// AgentCollection returns the retrieval collection name for an agent's
// private uploads.
func AgentCollection(agentID string) string {
	return "agent_" + agentID
}

// Chunk is one embedded slice of a knowledge-base document.
type Chunk struct {
	// ID is "{document_id}_{i}" where i is the chunk's position within the
	// document.
	ID string

	// Collection scopes retrieval ("docs" or "agent_<id>").
	Collection string

	// DocumentID links the chunk back to its kb_documents row.
	DocumentID string

	// Content is the chunk text.
	Content string

	// Embedding is the L2-normalized embedding vector.
	Embedding []float32
}

// ChunkResult is one nearest-neighbour hit from [Store.SearchChunks].
type ChunkResult struct {
	Chunk Chunk

	// Distance is the cosine distance to the query vector, in [0, 2].
	// Smaller is more similar.
	Distance float64
}

// IndexChunks upserts a batch of pre-embedded chunks. Chunks with an
// existing ID are replaced. The batch is sent as a single pipelined round
// trip.
func (s *Store) IndexChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	const q = `
		INSERT INTO kb_chunks (id, collection, document_id, content, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    collection  = EXCLUDED.collection,
		    document_id = EXCLUDED.document_id,
		    content     = EXCLUDED.content,
		    embedding   = EXCLUDED.embedding`

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(q, c.ID, c.Collection, c.DocumentID, c.Content, pgvector.NewVector(c.Embedding))
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("store: index chunks: %w", err)
	}
	return nil
}

// SearchChunks finds the limit chunks in collection whose embeddings are
// closest (cosine distance) to the query embedding, most similar first.
func (s *Store) SearchChunks(ctx context.Context, collection string, embedding []float32, limit int) ([]ChunkResult, error) {
	const q = `
		SELECT id, collection, document_id, content, embedding,
		       embedding <=> $1 AS distance
		FROM   kb_chunks
		WHERE  collection = $2
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), collection, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search chunks: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ChunkResult, error) {
		var (
			cr  ChunkResult
			vec pgvector.Vector
		)
		if err := row.Scan(
			&cr.Chunk.ID,
			&cr.Chunk.Collection,
			&cr.Chunk.DocumentID,
			&cr.Chunk.Content,
			&vec,
			&cr.Distance,
		); err != nil {
			return ChunkResult{}, err
		}
		cr.Chunk.Embedding = vec.Slice()
		return cr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: search chunks: scan rows: %w", err)
	}
	if results == nil {
		results = []ChunkResult{}
	}
	return results, nil
}

// CollectionSize reports how many chunks a collection holds. Retrieval uses
// it to fall back to the shared collection when an agent has no uploads.
func (s *Store) CollectionSize(ctx context.Context, collection string) (int, error) {
	const q = `SELECT count(*) FROM kb_chunks WHERE collection = $1`

	var n int
	if err := s.pool.QueryRow(ctx, q, collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: collection size: %w", err)
	}
	return n, nil
}
