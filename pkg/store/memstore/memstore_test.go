package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
)

func TestEventConditionalWrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	ev := &store.Event{EventID: "harbor", Status: store.EventActive, AttendanceCap: 5}
	require.NoError(t, s.CreateEvent(ctx, ev))
	assert.Equal(t, int64(1), ev.Version)

	assert.ErrorIs(t, s.CreateEvent(ctx, &store.Event{EventID: "harbor"}), store.ErrAlreadyExists)

	ev.ActiveCount = 1
	require.NoError(t, s.UpdateEvent(ctx, ev, 1))
	assert.Equal(t, int64(2), ev.Version)

	// A writer holding the old version loses.
	stale := *ev
	assert.ErrorIs(t, s.UpdateEvent(ctx, &stale, 1), store.ErrConditionFailed)

	assert.ErrorIs(t, s.UpdateEvent(ctx, &store.Event{EventID: "missing"}, 1), store.ErrNotFound)

	_, err := s.GetEvent(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetEventReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateEvent(ctx, &store.Event{
		EventID:  "harbor",
		Status:   store.EventActive,
		Metadata: map[string]any{"tide": "low"},
	}))

	got, err := s.GetEvent(ctx, "harbor")
	require.NoError(t, err)
	got.ActiveCount = 99
	got.Metadata["tide"] = "high"

	fresh, err := s.GetEvent(ctx, "harbor")
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.ActiveCount)
	assert.Equal(t, "low", fresh.Metadata["tide"])
}

func TestListEventsByStatusOrdered(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateEvent(ctx, &store.Event{EventID: "later", Status: store.EventActive, StartTime: base.Add(48 * time.Hour)}))
	require.NoError(t, s.CreateEvent(ctx, &store.Event{EventID: "sooner", Status: store.EventActive, StartTime: base}))
	require.NoError(t, s.CreateEvent(ctx, &store.Event{EventID: "done", Status: store.EventCompleted, StartTime: base}))

	events, err := s.ListEventsByStatus(ctx, store.EventActive)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "sooner", events[0].EventID)
	assert.Equal(t, "later", events[1].EventID)
}

func TestRSVPConditionalWrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	r := &store.RSVP{EventID: "harbor", Email: "a@b.com", Status: store.RSVPActive}
	require.NoError(t, s.CreateRSVP(ctx, r))
	assert.Equal(t, int64(1), r.Version)

	assert.ErrorIs(t, s.CreateRSVP(ctx, &store.RSVP{EventID: "harbor", Email: "a@b.com"}), store.ErrAlreadyExists)

	r.Status = store.RSVPCancelled
	require.NoError(t, s.UpdateRSVP(ctx, r, 1))
	assert.ErrorIs(t, s.UpdateRSVP(ctx, r, 1), store.ErrConditionFailed)

	got, err := s.GetRSVP(ctx, "harbor", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, store.RSVPCancelled, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestRSVPListsAreScopedAndOrdered(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateRSVP(ctx, &store.RSVP{EventID: "harbor", Email: "b@b.com", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.CreateRSVP(ctx, &store.RSVP{EventID: "harbor", Email: "a@b.com", CreatedAt: base}))
	require.NoError(t, s.CreateRSVP(ctx, &store.RSVP{EventID: "cove", Email: "a@b.com", CreatedAt: base.Add(2 * time.Hour)}))

	byEvent, err := s.ListEventRSVPs(ctx, "harbor")
	require.NoError(t, err)
	require.Len(t, byEvent, 2)
	assert.Equal(t, "a@b.com", byEvent[0].Email)
	assert.Equal(t, "b@b.com", byEvent[1].Email)

	byVolunteer, err := s.ListVolunteerRSVPs(ctx, "a@b.com")
	require.NoError(t, err)
	require.Len(t, byVolunteer, 2)
	assert.Equal(t, "harbor", byVolunteer[0].EventID)
	assert.Equal(t, "cove", byVolunteer[1].EventID)
}

func TestVolunteerConditionalWrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	v := &store.Volunteer{Email: "a@b.com", FirstName: "Jordan"}
	require.NoError(t, s.CreateVolunteer(ctx, v))
	assert.ErrorIs(t, s.CreateVolunteer(ctx, &store.Volunteer{Email: "a@b.com"}), store.ErrAlreadyExists)

	v.FirstName = "Jo"
	require.NoError(t, s.UpdateVolunteer(ctx, v, 1))
	assert.ErrorIs(t, s.UpdateVolunteer(ctx, v, 1), store.ErrConditionFailed)

	all, err := s.ListVolunteers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Jo", all[0].FirstName)
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.PutSession(ctx, &store.Session{Token: "t1", Email: "a@b.com", ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, s.PutSession(ctx, &store.Session{Token: "t2", Email: "b@b.com", ExpiresAt: now.Add(time.Hour)}))

	got, err := s.GetSession(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, "b@b.com", got.Email)

	removed, err := s.DeleteExpiredSessions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.GetSession(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.DeleteSession(ctx, "t2"))
	_, err = s.GetSession(ctx, "t2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
