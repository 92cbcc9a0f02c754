package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/intake/internal/engine"
	"github.com/MikeSquared-Agency/intake/internal/intent"
)

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*engine.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, offer_id, state_id, answers, history, completed, escalated, created_at, updated_at
		FROM intake_sessions WHERE id = $1`, id)

	var (
		sess             engine.Session
		answers, history []byte
	)
	err := row.Scan(&sess.ID, &sess.OfferID, &sess.StateID, &answers, &history,
		&sess.Completed, &sess.Escalated, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if err := json.Unmarshal(answers, &sess.Answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	if err := json.Unmarshal(history, &sess.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return &sess, nil
}

// SaveSession inserts or replaces a session in a single statement.
func (s *Store) SaveSession(ctx context.Context, sess *engine.Session) error {
	answers, err := json.Marshal(sess.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	if sess.History == nil {
		sess.History = []intent.Turn{}
	}
	history, err := json.Marshal(sess.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO intake_sessions (id, offer_id, state_id, answers, history, completed, escalated, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			state_id = EXCLUDED.state_id,
			answers = EXCLUDED.answers,
			history = EXCLUDED.history,
			completed = EXCLUDED.completed,
			escalated = EXCLUDED.escalated,
			updated_at = EXCLUDED.updated_at`,
		sess.ID, sess.OfferID, sess.StateID, string(answers), string(history),
		sess.Completed, sess.Escalated, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
