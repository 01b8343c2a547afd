package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/voxrelay/voxrelay/pkg/types"
)

// CreateAgent inserts a new agent. The caller assigns the id, typically via
// [NewAgentID].
func (s *Store) CreateAgent(ctx context.Context, agent types.AgentConfig) error {
	const q = `
		INSERT INTO agents
		    (id, name, system_prompt, greeting, voice, llm_model, language,
		     silence_threshold_sec, interrupt_enabled, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, q,
		agent.ID,
		agent.Name,
		agent.SystemPrompt,
		agent.Greeting,
		agent.Voice,
		agent.LLMModel,
		agent.Language,
		agent.SilenceThresholdSec,
		agent.InterruptEnabled,
		metadataOrEmpty(agent.Metadata),
	)
	if err != nil {
		return fmt.Errorf("store: create agent: %w", err)
	}
	return nil
}

// GetAgent returns the active agent with the given id, or [ErrNotFound].
func (s *Store) GetAgent(ctx context.Context, id string) (types.AgentConfig, error) {
	const q = `
		SELECT id, name, system_prompt, greeting, voice, llm_model, language,
		       silence_threshold_sec, interrupt_enabled, metadata
		FROM   agents
		WHERE  id = $1 AND active`

	row := s.pool.QueryRow(ctx, q, id)
	agent, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.AgentConfig{}, fmt.Errorf("store: get agent %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.AgentConfig{}, fmt.Errorf("store: get agent %q: %w", id, err)
	}
	return agent, nil
}

// ListAgents returns active agents ordered by creation time, newest first.
// limit <= 0 means no limit.
func (s *Store) ListAgents(ctx context.Context, limit, offset int) ([]types.AgentConfig, error) {
	q := `
		SELECT id, name, system_prompt, greeting, voice, llm_model, language,
		       silence_threshold_sec, interrupt_enabled, metadata
		FROM   agents
		WHERE  active
		ORDER  BY created_at DESC`

	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		q += fmt.Sprintf("\nOFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}

	agents, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.AgentConfig, error) {
		return scanAgent(row)
	})
	if err != nil {
		return nil, fmt.Errorf("store: list agents: scan rows: %w", err)
	}
	if agents == nil {
		agents = []types.AgentConfig{}
	}
	return agents, nil
}

// UpdateAgent replaces all mutable fields of an existing agent and bumps
// updated_at. Returns [ErrNotFound] when the agent does not exist or is
// inactive.
func (s *Store) UpdateAgent(ctx context.Context, agent types.AgentConfig) error {
	const q = `
		UPDATE agents SET
		    name                  = $2,
		    system_prompt         = $3,
		    greeting              = $4,
		    voice                 = $5,
		    llm_model             = $6,
		    language              = $7,
		    silence_threshold_sec = $8,
		    interrupt_enabled     = $9,
		    metadata              = $10,
		    updated_at            = now()
		WHERE id = $1 AND active`

	tag, err := s.pool.Exec(ctx, q,
		agent.ID,
		agent.Name,
		agent.SystemPrompt,
		agent.Greeting,
		agent.Voice,
		agent.LLMModel,
		agent.Language,
		agent.SilenceThresholdSec,
		agent.InterruptEnabled,
		metadataOrEmpty(agent.Metadata),
	)
	if err != nil {
		return fmt.Errorf("store: update agent %q: %w", agent.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: update agent %q: %w", agent.ID, ErrNotFound)
	}
	return nil
}

// DeleteAgent deactivates an agent. The row is retained so conversations keep
// a resolvable agent_id; deactivated agents no longer answer calls and
// disappear from listings. Returns [ErrNotFound] when no active agent matches.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	const q = `UPDATE agents SET active = false, updated_at = now() WHERE id = $1 AND active`

	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("store: delete agent %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: delete agent %q: %w", id, ErrNotFound)
	}
	return nil
}

// scanAgent scans one agents row in the canonical column order.
func scanAgent(row pgx.Row) (types.AgentConfig, error) {
	var a types.AgentConfig
	err := row.Scan(
		&a.ID,
		&a.Name,
		&a.SystemPrompt,
		&a.Greeting,
		&a.Voice,
		&a.LLMModel,
		&a.Language,
		&a.SilenceThresholdSec,
		&a.InterruptEnabled,
		&a.Metadata,
	)
	return a, err
}

// metadataOrEmpty normalises nil maps to empty so the JSONB column never
// stores SQL NULL.
func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
