// Package sessions validates the opaque session tokens supplied by the
// identity service. Token issuance after code verification happens upstream;
// the ledger only resolves tokens to emails and expires stale ones.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
)

// ErrInvalidSession is returned for unknown or expired tokens.
var ErrInvalidSession = errors.New("invalid or expired session")

// Manager validates and issues session tokens over the session store.
type Manager struct {
	store store.SessionStore
	ttl   time.Duration
	now   func() time.Time
}

// NewManager creates a session manager. ttl <= 0 defaults to 24 hours.
func NewManager(st store.SessionStore, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{store: st, ttl: ttl, now: time.Now}
}

// Issue creates a session token for an already-authenticated email.
func (m *Manager) Issue(ctx context.Context, email string) (*store.Session, error) {
	email = store.NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	now := m.now()
	session := &store.Session{
		Token:     uuid.New().String(),
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.PutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return session, nil
}

// Validate resolves a token to its email. Expired sessions are deleted on the
// way out, matching the read path's lazy cleanup.
func (m *Manager) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidSession
	}
	session, err := m.store.GetSession(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrInvalidSession
	}
	if err != nil {
		return "", fmt.Errorf("failed to load session: %w", err)
	}
	if m.now().After(session.ExpiresAt) {
		_ = m.store.DeleteSession(ctx, token)
		return "", ErrInvalidSession
	}
	return session.Email, nil
}

// Revoke deletes a session token.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	return m.store.DeleteSession(ctx, token)
}

// PurgeExpired removes every expired session and reports how many.
func (m *Manager) PurgeExpired(ctx context.Context) (int, error) {
	return m.store.DeleteExpiredSessions(ctx, m.now())
}
