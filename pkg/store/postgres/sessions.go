package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
)

// GetSession retrieves a session by token.
func (d *DB) GetSession(ctx context.Context, token string) (*store.Session, error) {
	var s store.Session
	err := d.pool.QueryRow(ctx, `
		SELECT session_token, email, created_at, expires_at
		FROM sessions WHERE session_token = $1
	`, token).Scan(&s.Token, &s.Email, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return &s, nil
}

// PutSession inserts or replaces the session row for the token.
func (d *DB) PutSession(ctx context.Context, session *store.Session) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO sessions (session_token, email, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_token) DO UPDATE
		SET email = EXCLUDED.email, created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`, session.Token, session.Email, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// DeleteSession removes the session row; deleting a missing token is not an error.
func (d *DB) DeleteSession(ctx context.Context, token string) error {
	if _, err := d.pool.Exec(ctx, `DELETE FROM sessions WHERE session_token = $1`, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions that expired before the given cutoff
// and reports how many were removed.
func (d *DB) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	tag, err := d.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
