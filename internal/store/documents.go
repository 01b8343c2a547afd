package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// KBDocument is one uploaded knowledge-base document. The raw content is
// retained so documents can be re-chunked if the embedding model changes.
type KBDocument struct {
	ID        string
	AgentID   string
	Content   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// CreateDocument inserts a new knowledge-base document. The chunks derived
// from it are indexed separately via [Store.IndexChunks].
func (s *Store) CreateDocument(ctx context.Context, doc KBDocument) error {
	const q = `
		INSERT INTO kb_documents (id, agent_id, content, metadata)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, q, doc.ID, doc.AgentID, doc.Content, metadataOrEmpty(doc.Metadata))
	if err != nil {
		return fmt.Errorf("store: create document: %w", err)
	}
	return nil
}

// ListDocuments returns an agent's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, agentID string) ([]KBDocument, error) {
	const q = `
		SELECT id, agent_id, content, metadata, created_at
		FROM   kb_documents
		WHERE  agent_id = $1
		ORDER  BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, agentID)
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}

	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (KBDocument, error) {
		var d KBDocument
		err := row.Scan(&d.ID, &d.AgentID, &d.Content, &d.Metadata, &d.CreatedAt)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: list documents: scan rows: %w", err)
	}
	if docs == nil {
		docs = []KBDocument{}
	}
	return docs, nil
}

// DeleteDocument removes a document and all chunks indexed from it, in a
// single transaction. Returns [ErrNotFound] when the document does not exist
// for the given agent.
func (s *Store) DeleteDocument(ctx context.Context, agentID, docID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: delete document %q: begin: %w", docID, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM kb_documents WHERE id = $1 AND agent_id = $2`, docID, agentID)
	if err != nil {
		return fmt.Errorf("store: delete document %q: %w", docID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: delete document %q: %w", docID, ErrNotFound)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM kb_chunks WHERE document_id = $1`, docID); err != nil {
		return fmt.Errorf("store: delete document %q: chunks: %w", docID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: delete document %q: commit: %w", docID, err)
	}
	return nil
}
