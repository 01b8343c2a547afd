package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlAgents = `
CREATE TABLE IF NOT EXISTS agents (
    id                    TEXT              PRIMARY KEY,
    name                  TEXT              NOT NULL,
    system_prompt         TEXT              NOT NULL DEFAULT '',
    greeting              TEXT              NOT NULL DEFAULT '',
    voice                 TEXT              NOT NULL DEFAULT '',
    llm_model             TEXT              NOT NULL DEFAULT '',
    language              TEXT              NOT NULL DEFAULT '',
    silence_threshold_sec DOUBLE PRECISION  NOT NULL DEFAULT 0,
    interrupt_enabled     BOOLEAN           NOT NULL DEFAULT true,
    metadata              JSONB             NOT NULL DEFAULT '{}',
    active                BOOLEAN           NOT NULL DEFAULT true,
    created_at            TIMESTAMPTZ       NOT NULL DEFAULT now(),
    updated_at            TIMESTAMPTZ       NOT NULL DEFAULT now()
);
`

const ddlConversations = `
CREATE TABLE IF NOT EXISTS conversations (
    id                TEXT         PRIMARY KEY,
    agent_id          TEXT         NOT NULL,
    phone_number      TEXT         NOT NULL DEFAULT '',
    direction         TEXT         NOT NULL DEFAULT 'inbound',
    status            TEXT         NOT NULL DEFAULT 'initiated',
    transcript        TEXT         NOT NULL DEFAULT '',
    duration_secs     DOUBLE PRECISION NOT NULL DEFAULT 0,
    ended_reason      TEXT         NOT NULL DEFAULT '',
    recording_url     TEXT         NOT NULL DEFAULT '',
    dynamic_variables JSONB        NOT NULL DEFAULT '{}',
    started_at        TIMESTAMPTZ,
    ended_at          TIMESTAMPTZ,
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversations_agent_id
    ON conversations (agent_id);

CREATE INDEX IF NOT EXISTS idx_conversations_status
    ON conversations (status);
`

const ddlWebhookConfigs = `
CREATE TABLE IF NOT EXISTS webhook_configs (
    id          TEXT         PRIMARY KEY,
    url         TEXT         NOT NULL,
    events      TEXT[]       NOT NULL DEFAULT '{}',
    agent_id    TEXT         NOT NULL DEFAULT '',
    enabled     BOOLEAN      NOT NULL DEFAULT true,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlPhoneNumbers = `
CREATE TABLE IF NOT EXISTS phone_numbers (
    id          TEXT         PRIMARY KEY,
    number      TEXT         NOT NULL UNIQUE,
    agent_id    TEXT         NOT NULL DEFAULT '',
    label       TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlKBDocuments = `
CREATE TABLE IF NOT EXISTS kb_documents (
    id          TEXT         PRIMARY KEY,
    agent_id    TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    metadata    JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_kb_documents_agent_id
    ON kb_documents (agent_id);
`

const ddlAgentTools = `
CREATE TABLE IF NOT EXISTS agent_tools (
    id          TEXT         PRIMARY KEY,
    agent_id    TEXT         NOT NULL,
    tool_name   TEXT         NOT NULL,
    description TEXT         NOT NULL DEFAULT '',
    webhook_url TEXT         NOT NULL DEFAULT '',
    parameters  JSONB        NOT NULL DEFAULT '{}',
    enabled     BOOLEAN      NOT NULL DEFAULT true,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_agent_tools_agent_id
    ON agent_tools (agent_id);
`

// ddlKBChunks returns the chunk index DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
//
// collection scopes retrieval: "docs" for the shared knowledge base,
// "agent_<id>" for per-agent uploads.
func ddlKBChunks(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS kb_chunks (
    id          TEXT         PRIMARY KEY,
    collection  TEXT         NOT NULL,
    document_id TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_kb_chunks_collection
    ON kb_chunks (collection);

CREATE INDEX IF NOT EXISTS idx_kb_chunks_document_id
    ON kb_chunks (document_id);

CREATE INDEX IF NOT EXISTS idx_kb_chunks_embedding
    ON kb_chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions
// exist. It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT
// EXISTS) and safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for your
// deployment. Changing this value after the first migration requires a manual
// schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlAgents,
		ddlConversations,
		ddlWebhookConfigs,
		ddlPhoneNumbers,
		ddlKBDocuments,
		ddlAgentTools,
		ddlKBChunks(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store migrate: %w", err)
		}
	}
	return nil
}
