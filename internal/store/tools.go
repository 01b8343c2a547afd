package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// AgentTool is a custom webhook-backed tool available to one agent. The
// Parameters map describes the tool's argument schema for the LLM prompt.
type AgentTool struct {
	ID          string
	AgentID     string
	Name        string
	Description string
	WebhookURL  string
	Parameters  map[string]any
	Enabled     bool
	CreatedAt   time.Time
}

// CreateAgentTool inserts a new tool for an agent.
func (s *Store) CreateAgentTool(ctx context.Context, t AgentTool) error {
	const q = `
		INSERT INTO agent_tools (id, agent_id, tool_name, description, webhook_url, parameters)
		VALUES ($1, $2, $3, $4, $5, $6)`

	params := t.Parameters
	if params == nil {
		params = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, q, t.ID, t.AgentID, t.Name, t.Description, t.WebhookURL, params)
	if err != nil {
		return fmt.Errorf("store: create agent tool: %w", err)
	}
	return nil
}

// ListAgentTools returns an agent's enabled tools ordered by creation time.
func (s *Store) ListAgentTools(ctx context.Context, agentID string) ([]AgentTool, error) {
	const q = `
		SELECT id, agent_id, tool_name, description, webhook_url, parameters, enabled, created_at
		FROM   agent_tools
		WHERE  agent_id = $1 AND enabled
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q, agentID)
	if err != nil {
		return nil, fmt.Errorf("store: list agent tools: %w", err)
	}

	tools, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AgentTool, error) {
		return scanAgentTool(row)
	})
	if err != nil {
		return nil, fmt.Errorf("store: list agent tools: scan rows: %w", err)
	}
	if tools == nil {
		tools = []AgentTool{}
	}
	return tools, nil
}

// GetAgentTool looks up one enabled tool by name. Used by the tool executor
// to resolve the webhook endpoint for a custom tool call. Returns
// [ErrNotFound] when no enabled tool matches.
func (s *Store) GetAgentTool(ctx context.Context, agentID, name string) (AgentTool, error) {
	const q = `
		SELECT id, agent_id, tool_name, description, webhook_url, parameters, enabled, created_at
		FROM   agent_tools
		WHERE  agent_id = $1 AND tool_name = $2 AND enabled`

	row := s.pool.QueryRow(ctx, q, agentID, name)
	t, err := scanAgentTool(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return AgentTool{}, fmt.Errorf("store: get agent tool %q/%q: %w", agentID, name, ErrNotFound)
	}
	if err != nil {
		return AgentTool{}, fmt.Errorf("store: get agent tool %q/%q: %w", agentID, name, err)
	}
	return t, nil
}

// DeleteAgentTool disables a tool. The row is retained for audit; disabled
// tools vanish from listings and executor lookups. Returns [ErrNotFound]
// when no enabled tool matches.
func (s *Store) DeleteAgentTool(ctx context.Context, agentID, toolID string) error {
	const q = `
		UPDATE agent_tools SET enabled = false
		WHERE  id = $1 AND agent_id = $2 AND enabled`

	tag, err := s.pool.Exec(ctx, q, toolID, agentID)
	if err != nil {
		return fmt.Errorf("store: delete agent tool %q: %w", toolID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: delete agent tool %q: %w", toolID, ErrNotFound)
	}
	return nil
}

// scanAgentTool scans one agent_tools row in the canonical column order.
func scanAgentTool(row pgx.Row) (AgentTool, error) {
	var t AgentTool
	err := row.Scan(
		&t.ID,
		&t.AgentID,
		&t.Name,
		&t.Description,
		&t.WebhookURL,
		&t.Parameters,
		&t.Enabled,
		&t.CreatedAt,
	)
	return t, err
}
