package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// WebhookConfig is one outbound event subscription. AgentID scopes the
// subscription to a single agent; empty means all agents.
type WebhookConfig struct {
	ID        string
	URL       string
	Events    []string
	AgentID   string
	Enabled   bool
	CreatedAt time.Time
}

// CreateWebhook inserts a new webhook subscription.
func (s *Store) CreateWebhook(ctx context.Context, w WebhookConfig) error {
	const q = `
		INSERT INTO webhook_configs (id, url, events, agent_id, enabled)
		VALUES ($1, $2, $3, $4, $5)`

	events := w.Events
	if events == nil {
		events = []string{}
	}
	_, err := s.pool.Exec(ctx, q, w.ID, w.URL, events, w.AgentID, true)
	if err != nil {
		return fmt.Errorf("store: create webhook: %w", err)
	}
	return nil
}

// ListWebhooks returns enabled subscriptions. When agentID is non-empty, the
// result includes both agent-scoped and global (empty agent_id)
// subscriptions; when empty, all enabled subscriptions are returned.
func (s *Store) ListWebhooks(ctx context.Context, agentID string) ([]WebhookConfig, error) {
	q := `
		SELECT id, url, events, agent_id, enabled, created_at
		FROM   webhook_configs
		WHERE  enabled`
	args := []any{}
	if agentID != "" {
		args = append(args, agentID)
		q += "\n  AND (agent_id = $1 OR agent_id = '')"
	}
	q += "\nORDER BY created_at"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list webhooks: %w", err)
	}

	hooks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (WebhookConfig, error) {
		var w WebhookConfig
		err := row.Scan(&w.ID, &w.URL, &w.Events, &w.AgentID, &w.Enabled, &w.CreatedAt)
		return w, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: list webhooks: scan rows: %w", err)
	}
	if hooks == nil {
		hooks = []WebhookConfig{}
	}
	return hooks, nil
}

// DeleteWebhook removes a subscription. Returns [ErrNotFound] when no row
// matches.
func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	const q = `DELETE FROM webhook_configs WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("store: delete webhook %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: delete webhook %q: %w", id, ErrNotFound)
	}
	return nil
}
