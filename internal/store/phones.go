package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PhoneNumber binds an inbound telephone number to the agent answering it.
type PhoneNumber struct {
	ID        string
	Number    string
	AgentID   string
	Label     string
	CreatedAt time.Time
}

// uniqueViolation is the PostgreSQL error code for unique_violation.
const uniqueViolation = "23505"

// RegisterPhoneNumber inserts a new number binding. Returns [ErrDuplicate]
// when the number is already registered.
func (s *Store) RegisterPhoneNumber(ctx context.Context, p PhoneNumber) error {
	const q = `
		INSERT INTO phone_numbers (id, number, agent_id, label)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, q, p.ID, p.Number, p.AgentID, p.Label)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("store: register phone number %q: %w", p.Number, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("store: register phone number %q: %w", p.Number, err)
	}
	return nil
}

// ListPhoneNumbers returns all registered numbers ordered by creation time.
func (s *Store) ListPhoneNumbers(ctx context.Context) ([]PhoneNumber, error) {
	const q = `
		SELECT id, number, agent_id, label, created_at
		FROM   phone_numbers
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: list phone numbers: %w", err)
	}

	phones, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PhoneNumber, error) {
		var p PhoneNumber
		err := row.Scan(&p.ID, &p.Number, &p.AgentID, &p.Label, &p.CreatedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: list phone numbers: scan rows: %w", err)
	}
	if phones == nil {
		phones = []PhoneNumber{}
	}
	return phones, nil
}

// AgentForNumber resolves the agent bound to an inbound number. Used by the
// incoming-call webhook to route the call. Returns [ErrNotFound] when the
// number is unregistered or has no agent assigned.
func (s *Store) AgentForNumber(ctx context.Context, number string) (string, error) {
	const q = `SELECT agent_id FROM phone_numbers WHERE number = $1`

	var agentID string
	err := s.pool.QueryRow(ctx, q, number).Scan(&agentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("store: agent for number %q: %w", number, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("store: agent for number %q: %w", number, err)
	}
	if agentID == "" {
		return "", fmt.Errorf("store: agent for number %q: no agent assigned: %w", number, ErrNotFound)
	}
	return agentID, nil
}

// UpdatePhoneNumber reassigns a number's agent and label. Returns
// [ErrNotFound] when no row matches.
func (s *Store) UpdatePhoneNumber(ctx context.Context, id, agentID, label string) error {
	const q = `UPDATE phone_numbers SET agent_id = $2, label = $3 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id, agentID, label)
	if err != nil {
		return fmt.Errorf("store: update phone number %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: update phone number %q: %w", id, ErrNotFound)
	}
	return nil
}

// DeletePhoneNumber removes a number binding. Returns [ErrNotFound] when no
// row matches.
func (s *Store) DeletePhoneNumber(ctx context.Context, id string) error {
	const q = `DELETE FROM phone_numbers WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("store: delete phone number %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: delete phone number %q: %w", id, ErrNotFound)
	}
	return nil
}
