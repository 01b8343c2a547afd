// Package store provides PostgreSQL persistence for VoxRelay: agents,
// conversations, webhook subscriptions, phone number bindings, knowledge-base
// documents, per-agent tools, and the pgvector-backed chunk index used for
// retrieval.
//
// All entities share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	st, err := store.NewStore(ctx, dsn, 768)
//	if err != nil { … }
//	defer st.Close()
//
//	agent, err := st.GetAgent(ctx, "agent_3f2a…")
//	results, err := st.SearchChunks(ctx, "agent_3f2a…", queryVec, 6)
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// ErrNotFound is returned by lookup methods when no row matches.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint,
// e.g. registering a phone number that is already bound to an agent.
var ErrDuplicate = errors.New("store: already exists")

// Store is the PostgreSQL-backed persistence layer. All operations are safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn,
// registers pgvector types on every connection, and runs [Migrate] to ensure
// all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the configured
// embedding model (e.g. 768 for nomic-embed-text, 1536 for OpenAI
// text-embedding-3-small). Changing this value after the first migration
// requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping checks database connectivity. Suitable as a readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
