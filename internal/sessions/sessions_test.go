package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
	"github.com/shorelinestewards/rsvp-ledger/pkg/store/memstore"
)

func TestIssueAndValidate(t *testing.T) {
	ctx := context.Background()
	m := NewManager(memstore.New(), time.Hour)

	session, err := m.Issue(ctx, "  Jordan@Example.com ")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "jordan@example.com", session.Email)
	assert.Equal(t, session.CreatedAt.Add(time.Hour), session.ExpiresAt)

	email, err := m.Validate(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, "jordan@example.com", email)
}

func TestIssueEmptyEmail(t *testing.T) {
	m := NewManager(memstore.New(), time.Hour)
	_, err := m.Issue(context.Background(), "   ")
	assert.Error(t, err)
}

func TestValidateUnknownToken(t *testing.T) {
	m := NewManager(memstore.New(), time.Hour)

	_, err := m.Validate(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = m.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestValidateExpiredTokenIsDeleted(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	m := NewManager(st, time.Hour)

	session, err := m.Issue(ctx, "a@b.com")
	require.NoError(t, err)

	// Jump the clock past the expiry.
	m.now = func() time.Time { return session.ExpiresAt.Add(time.Minute) }

	_, err = m.Validate(ctx, session.Token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = st.GetSession(ctx, session.Token)
	assert.ErrorIs(t, err, store.ErrNotFound, "expired session is removed on read")
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	m := NewManager(memstore.New(), time.Hour)

	session, err := m.Issue(ctx, "a@b.com")
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, session.Token))

	_, err = m.Validate(ctx, session.Token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	m := NewManager(st, time.Hour)

	live, err := m.Issue(ctx, "live@b.com")
	require.NoError(t, err)
	stale, err := m.Issue(ctx, "stale@b.com")
	require.NoError(t, err)

	// Age out only the second session.
	s, err := st.GetSession(ctx, stale.Token)
	require.NoError(t, err)
	s.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, st.PutSession(ctx, s))

	removed, err := m.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = m.Validate(ctx, live.Token)
	assert.NoError(t, err)
}
