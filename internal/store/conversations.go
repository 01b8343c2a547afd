package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Conversation status values. Calls move initiated → in-progress → completed.
const (
	StatusInitiated  = "initiated"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
)

// Call direction values.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Conversation is one call record. Transcript holds the finished dialogue as
// alternating "User: …" / "Assistant: …" lines.
type Conversation struct {
	ID               string
	AgentID          string
	PhoneNumber      string
	Direction        string
	Status           string
	Transcript       string
	DurationSecs     float64
	EndedReason      string
	RecordingURL     string
	DynamicVariables map[string]string
	StartedAt        *time.Time
	EndedAt          *time.Time
	CreatedAt        time.Time
}

// ConversationFilter narrows [Store.ListConversations]. Zero values mean no
// filtering; Limit <= 0 means no limit.
type ConversationFilter struct {
	AgentID string
	Status  string
	Limit   int
	Offset  int
}

// CreateConversation inserts a new call record in status "initiated".
func (s *Store) CreateConversation(ctx context.Context, c Conversation) error {
	if c.Status == "" {
		c.Status = StatusInitiated
	}
	if c.Direction == "" {
		c.Direction = DirectionInbound
	}

	const q = `
		INSERT INTO conversations
		    (id, agent_id, phone_number, direction, status, dynamic_variables)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		c.ID,
		c.AgentID,
		c.PhoneNumber,
		c.Direction,
		c.Status,
		metadataOrEmpty(c.DynamicVariables),
	)
	if err != nil {
		return fmt.Errorf("store: create conversation: %w", err)
	}
	return nil
}

// GetConversation returns the conversation with the given id, or [ErrNotFound].
func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	const q = selectConversation + `WHERE id = $1`

	row := s.pool.QueryRow(ctx, q, id)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, fmt.Errorf("store: get conversation %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("store: get conversation %q: %w", id, err)
	}
	return c, nil
}

// ListConversations returns conversations matching filter, newest first.
func (s *Store) ListConversations(ctx context.Context, filter ConversationFilter) ([]Conversation, error) {
	args := []any{}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if filter.AgentID != "" {
		conditions = append(conditions, "agent_id = "+next(filter.AgentID))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = "+next(filter.Status))
	}

	q := selectConversation
	if len(conditions) > 0 {
		q += "WHERE " + strings.Join(conditions, "\n  AND ") + "\n"
	}
	q += "ORDER BY created_at DESC"
	if filter.Limit > 0 {
		q += "\nLIMIT " + next(filter.Limit)
	}
	if filter.Offset > 0 {
		q += "\nOFFSET " + next(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}

	convs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Conversation, error) {
		return scanConversation(row)
	})
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: scan rows: %w", err)
	}
	if convs == nil {
		convs = []Conversation{}
	}
	return convs, nil
}

// MarkConversationStarted moves a conversation to "in-progress" and stamps
// started_at. Called when the media stream connects.
func (s *Store) MarkConversationStarted(ctx context.Context, id string) error {
	const q = `
		UPDATE conversations
		SET    status = $2, started_at = now()
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, StatusInProgress)
	if err != nil {
		return fmt.Errorf("store: mark conversation started %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: mark conversation started %q: %w", id, ErrNotFound)
	}
	return nil
}

// CompleteConversation finalises a call: status "completed", the full
// transcript, duration, ended_at, and the reason the call ended
// (e.g. "user_hangup", "agent_ended_call", "transferred").
func (s *Store) CompleteConversation(ctx context.Context, id, transcript string, durationSecs float64, endedReason string) error {
	const q = `
		UPDATE conversations
		SET    status        = $2,
		       transcript    = $3,
		       duration_secs = $4,
		       ended_reason  = $5,
		       ended_at      = now()
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, StatusCompleted, transcript, durationSecs, endedReason)
	if err != nil {
		return fmt.Errorf("store: complete conversation %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: complete conversation %q: %w", id, ErrNotFound)
	}
	return nil
}

// SetRecordingURL stores the recording location delivered by the telephony
// provider's status callback.
func (s *Store) SetRecordingURL(ctx context.Context, id, url string) error {
	const q = `UPDATE conversations SET recording_url = $2 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id, url)
	if err != nil {
		return fmt.Errorf("store: set recording url %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: set recording url %q: %w", id, ErrNotFound)
	}
	return nil
}

const selectConversation = `
		SELECT id, agent_id, phone_number, direction, status, transcript,
		       duration_secs, ended_reason, recording_url, dynamic_variables,
		       started_at, ended_at, created_at
		FROM   conversations
		`

// scanConversation scans one conversations row in the canonical column order.
func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(
		&c.ID,
		&c.AgentID,
		&c.PhoneNumber,
		&c.Direction,
		&c.Status,
		&c.Transcript,
		&c.DurationSecs,
		&c.EndedReason,
		&c.RecordingURL,
		&c.DynamicVariables,
		&c.StartedAt,
		&c.EndedAt,
		&c.CreatedAt,
	)
	return c, err
}
