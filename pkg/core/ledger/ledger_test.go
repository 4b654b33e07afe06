package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
	"github.com/shorelinestewards/rsvp-ledger/pkg/store/memstore"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(st store.Store, opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Millisecond
	}
	return New(st, zap.NewNop(), opts)
}

func seedEvent(t *testing.T, st store.Store, eventID string, cap int, start time.Time) *store.Event {
	t.Helper()
	ev := &store.Event{
		EventID:       eventID,
		Title:         "Harbor Beach Cleanup",
		StartTime:     start,
		EndTime:       start.Add(3 * time.Hour),
		AttendanceCap: cap,
		Status:        store.EventActive,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
	require.NoError(t, st.CreateEvent(context.Background(), ev))
	return ev
}

func submitInput(eventID, email string) SubmitInput {
	return SubmitInput{
		EventID:   eventID,
		Email:     email,
		FirstName: "Jordan",
		LastName:  "Reyes",
	}
}

func TestCreateRSVP(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	l := newTestLedger(st, Options{})
	seedEvent(t, st, "harbor-2026-06-03", 5, testNow.Add(48*time.Hour))

	result, err := l.CreateOrReactivateRSVP(ctx, submitInput("harbor-2026-06-03", "Jordan@Example.com"))
	require.NoError(t, err)

	assert.Equal(t, "jordan@example.com", result.Email)
	assert.Equal(t, store.RSVPActive, result.Status)
	assert.False(t, result.Reactivated)
	assert.Equal(t, 1, result.ActiveCount)
	assert.Equal(t, 5, result.AttendanceCap)

	ev, err := st.GetEvent(ctx, "harbor-2026-06-03")
	require.NoError(t, err)
	assert.Equal(t, 1, ev.ActiveCount)

	rsvp, err := st.GetRSVP(ctx, "harbor-2026-06-03", "jordan@example.com")
	require.NoError(t, err)
	assert.Equal(t, store.RSVPActive, rsvp.Status)
	assert.NotEmpty(t, rsvp.AttemptToken)

	volunteer, err := st.GetVolunteer(ctx, "jordan@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, volunteer.Metrics.TotalRSVPs)
	assert.True(t, volunteer.ProfileComplete)
}

func TestCreateRSVPValidation(t *testing.T) {
	l := newTestLedger(memstore.New(), Options{})

	_, err := l.CreateOrReactivateRSVP(context.Background(), SubmitInput{
		EventID: "harbor", Email: "not-an-email", FirstName: "A", LastName: "B",
	})
	assert.Equal(t, CodeValidation, CodeOf(err))

	_, err = l.CreateOrReactivateRSVP(context.Background(), SubmitInput{
		EventID: "harbor", Email: "a@b.com", FirstName: "", LastName: "B",
	})
	assert.Equal(t, CodeValidation, CodeOf(err))
}

func TestCreateRSVPEventNotFound(t *testing.T) {
	l := newTestLedger(memstore.New(), Options{})

	_, err := l.CreateOrReactivateRSVP(context.Background(), submitInput("missing", "a@b.com"))
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestCreateRSVPPastEvent(t *testing.T) {
	st := memstore.New()
	l := newTestLedger(st, Options{})
	seedEvent(t, st, "yesterday", 5, testNow.Add(-24*time.Hour))

	_, err := l.CreateOrReactivateRSVP(context.Background(), submitInput("yesterday", "a@b.com"))
	assert.Equal(t, CodePastEvent, CodeOf(err))
}

func TestCreateRSVPPastEventBeatsStatus(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	l := newTestLedger(st, Options{})
	ev := seedEvent(t, st, "stale", 5, testNow.Add(-24*time.Hour))
	ev.Status = store.EventCompleted
	require.NoError(t, st.UpdateEvent(ctx, ev, ev.Version))

	_, err := l.CreateOrReactivateRSVP(ctx, submitInput("stale", "a@b.com"))
	assert.Equal(t, CodePastEvent, CodeOf(err))
}

func TestCreateRSVPInactiveEvent(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	l := newTestLedger(st, Options{})
	ev := seedEvent(t, st, "cancelled-event", 5, testNow.Add(48*time.Hour))
	ev.Status = store.EventCancelled
	require.NoError(t, st.UpdateEvent(ctx, ev, ev.Version))

	_, err := l.CreateOrReactivateRSVP(ctx, submitInput("cancelled-event", "a@b.com"))
	assert.Equal(t, CodeInvalidState, CodeOf(err))
}

func TestDuplicateRSVPRejected(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	l := newTestLedger(st, Options{})
	seedEvent(t, st, "harbor", 5, testNow.Add(48*time.Hour))

	_, err := l.CreateOrReactivateRSVP(ctx, submitInput("harbor", "a@b.com"))
	require.NoError(t, err)

	_, err = l.CreateOrReactivateRSVP(ctx, submitInput("harbor", "a@b.com"))
	assert.Equal(t, CodeDuplicateRSVP, CodeOf(err))

	// A normalized variant of the same email is still the same volunteer.
	_, err = l.CreateOrReactivateRSVP(ctx, submitInput("harbor", "  A@B.COM "))
	assert.Equal(t, CodeDuplicateRSVP, CodeOf(err))

	ev, err := st.GetEvent(ctx, "harbor")
	require.NoError(t, err)
	assert.Equal(t, 1, ev.ActiveCount)
}

func TestIdempotentRetry(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	l := newTestLedger(st, Options{})
	seedEvent(t, st, "harbor", 5, testNow.Add(48*time.Hour))

	in := submitInput("harbor", "a@b.com")
	in.AttemptToken = "retry-token-1"

	first, err := l.CreateOrReactivateRSVP(ctx, in)
	require.NoError(t, err)

	// The client timed out and replays the exact same request.
	second, err := l.CreateOrReactivateRSVP(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.Email, second.Email)
	assert.Equal(t, store.RSVPActive, second.Status)

	ev, err := st.GetEvent(ctx, "harbor")
	require.NoError(t, err)
	assert.Equal(t, 1, ev.ActiveCount, "replay must not consume a second slot")

	volunteer, err := st.GetVolunteer(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, 1, volunteer.Metrics.TotalRSVPs)
}

func TestCapacityExceeded(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	l := newTestLedger(st, Options{})
	seedEvent(t, st, "small", 2, testNow.Add(48*time.Hour))

	for i := 0; i < 2; i++ {
		_, err := l.CreateOrReactivateRSVP(ctx, submitInput("small", fmt.Sprintf("v%d@b.com", i)))
		require.NoError(t, err)
	}

	_, err := l.CreateOrReactivateRSVP(ctx, submitInput("small", "late@b.com"))
	assert.Equal(t, CodeCapacityExceeded, CodeOf(err))

	ev, err := st.GetEvent(ctx, "small")
	require.NoError(t, err)
	assert.Equal(t, 2, ev.ActiveCount)
}

func TestConcurrentSubmitsNeverOversubscribe(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	l := newTestLedger(st, Options{})
	seedEvent(t, st, "one-slot", 1, testNow.Add(48*time.Hour))

	const contenders = 8
	results := make([]error, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = l.CreateOrReactivateRSVP(ctx, submitInput("one-slot", fmt.Sprintf("v%d@b.com", i)))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		code := CodeOf(err)
		assert.Contains(t, []Code{CodeCapacityExceeded, CodeTransientConflict}, code)
	}
	assert.Equal(t, 1, succeeded)

	ev, err := st.GetEvent(ctx, "one-slot")
	require.NoError(t, err)
	assert.Equal(t, 1, ev.ActiveCount)

	rsvps, err := st.ListEventRSVPs(ctx, "one-slot")
	require.NoError(t, err)
	assert.Len(t, rsvps, 1)
}

func TestCancelRSVP(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	l := newTestLedger(st, Options{})
	seedEvent(t, st, "harbor", 5, testNow.Add(48*time.Hour))

	_, err := l.CreateOrReactivateRSVP(ctx, submitInput("harbor", "a@b.com"))
	require.NoError(t, err)

	result, err := l.CancelRSVP(ctx, "harbor", "a@b.com")
	require.NoError(t, err)
	assert.InDelta(t, 48.0, result.HoursBeforeEvent, 0.01)
	assert.False(t, result.LateCancellation)

	ev, err := st.GetEvent(ctx, "harbor")
	require.NoError(t, err)
	assert.Equal(t, 0, ev.ActiveCount)

	rsvp, err := st.GetRSVP(ctx, "harbor", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, store.RSVPCancelled, rsvp.Status)
	assert.Equal(t, 1, rsvp.TimesCancelled)
	require.NotNil(t, rsvp.CancelledAt)
	assert.Equal(t, testNow, *rsvp.CancelledAt)

	volunteer, err := st.GetVolunteer(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, 1, volunteer.Metrics.TotalRSVPs)
	assert.Equal(t, 1, volunteer.Metrics.TotalCancellations)
}

func TestCancelRSVPNotFound(t *testing.T) {
	st := memstore.New()
	l := newTestLedger(st, Options{})
	seedEvent(t, st, "harbor", 5, testNow.Add(48*time.Hour))

	_, err := l.CancelRSVP(context.Background(), "harbor", "nobody@b.com")
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestCancelRSVPAlreadyCancelled(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	l := newTestLedger(st, Options{})
	seedEvent(t, st, "harbor", 5, testNow.Add(48*time.Hour))

	_, err := l.CreateOrReactivateRSVP(ctx, submitInput("harbor", "a@b.com"))
	require.NoError(t, err)
	_, err = l.CancelRSVP(ctx, "harbor", "a@b.com")
	require.NoError(t, err)

	_, err = l.CancelRSVP(ctx, "harbor", "a@b.com")
	assert.Equal(t, CodeInvalidState, CodeOf(err))

	ev, err := st.GetEvent(ctx, "harbor")
	require.NoError(t, err)
	assert.Equal(t, 0, ev.ActiveCount, "double cancel must not decrement twice")
}

func TestCancelRSVPLateFlagged(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	l := newTestLedger(st, Options{WindowMode: WindowFlag})
	seedEvent(t, st, "soon", 5, testNow.Add(6*time.Hour))

	_, err := l.CreateOrReactivateRSVP(ctx, submitInput("soon", "a@b.com"))
	require.NoError(t, err)

	result, err := l.CancelRSVP(ctx, "soon", "a@b.com")
	require.NoError(t, err)
	assert.True(t, result.LateCancellation)
	assert.InDelta(t, 6.0, result.HoursBeforeEvent, 0.01)

	rsvp, err := st.GetRSVP(ctx, "soon", "a@b.com")
	require.NoError(t, err)
	assert.True(t, rsvp.LateCancellation)
	require.NotNil(t, rsvp.HoursBeforeEvent)
	assert.InDelta(t, 6.0, *rsvp.HoursBeforeEvent, 0.01)
}

func TestCancelRSVPLateBlocked(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	l := newTestLedger(st, Options{WindowMode: WindowBlock})
	seedEvent(t, st, "soon", 5, testNow.Add(6*time.Hour))

	_, err := l.CreateOrReactivateRSVP(ctx, submitInput("soon", "a@b.com"))
	require.NoError(t, err)

	_, err = l.CancelRSVP(ctx, "soon", "a@b.com")
	assert.Equal(t, CodeWindowClosed, CodeOf(err))

	rsvp, err := st.GetRSVP(ctx, "soon", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, store.RSVPActive, rsvp.Status)

	ev, err := st.GetEvent(ctx, "soon")
	require.NoError(t, err)
	assert.Equal(t, 1, ev.ActiveCount)
}

func TestReactivationAfterCancel(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	l := newTestLedger(st, Options{})
	seedEvent(t, st, "harbor", 5, testNow.Add(48*time.Hour))

	_, err := l.CreateOrReactivateRSVP(ctx, submitInput("harbor", "a@b.com"))
	require.NoError(t, err)
	_, err = l.CancelRSVP(ctx, "harbor", "a@b.com")
	require.NoError(t, err)

	result, err := l.CreateOrReactivateRSVP(ctx, submitInput("harbor", "a@b.com"))
	require.NoError(t, err)
	assert.True(t, result.Reactivated)
	assert.Equal(t, 1, result.ActiveCount)

	rsvp, err := st.GetRSVP(ctx, "harbor", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, store.RSVPActive, rsvp.Status)
	assert.Equal(t, 1, rsvp.TimesCancelled, "cancel history survives re-activation")
	assert.Nil(t, rsvp.CancelledAt)
	assert.Nil(t, rsvp.HoursBeforeEvent)
	assert.False(t, rsvp.LateCancellation)

	// One row, so one lifetime signup, but the completed cancellation counts.
	volunteer, err := st.GetVolunteer(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, 1, volunteer.Metrics.TotalRSVPs)
	assert.Equal(t, 1, volunteer.Metrics.TotalCancellations)

	rsvps, err := st.ListEventRSVPs(ctx, "harbor")
	require.NoError(t, err)
	assert.Len(t, rsvps, 1)
}

func TestReactivationRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	l := newTestLedger(st, Options{})
	seedEvent(t, st, "small", 1, testNow.Add(48*time.Hour))

	_, err := l.CreateOrReactivateRSVP(ctx, submitInput("small", "a@b.com"))
	require.NoError(t, err)
	_, err = l.CancelRSVP(ctx, "small", "a@b.com")
	require.NoError(t, err)

	// Someone else takes the freed slot.
	_, err = l.CreateOrReactivateRSVP(ctx, submitInput("small", "b@b.com"))
	require.NoError(t, err)

	_, err = l.CreateOrReactivateRSVP(ctx, submitInput("small", "a@b.com"))
	assert.Equal(t, CodeCapacityExceeded, CodeOf(err))
}

// failingRSVPStore makes the row commit fail so the reserved slot has to be
// rolled back.
type failingRSVPStore struct {
	store.Store
	createErr error
}

func (f *failingRSVPStore) CreateRSVP(ctx context.Context, rsvp *store.RSVP) error {
	return f.createErr
}

func TestCompensationReleasesReservedSlot(t *testing.T) {
	ctx := context.Background()
	base := memstore.New()
	st := &failingRSVPStore{Store: base, createErr: fmt.Errorf("storage unavailable")}
	l := newTestLedger(st, Options{})
	seedEvent(t, base, "harbor", 5, testNow.Add(48*time.Hour))

	_, err := l.CreateOrReactivateRSVP(ctx, submitInput("harbor", "a@b.com"))
	require.Error(t, err)

	ev, err := base.GetEvent(ctx, "harbor")
	require.NoError(t, err)
	assert.Equal(t, 0, ev.ActiveCount, "failed commit must release its reservation")
}

func TestMarkedAttendedCannotResubmit(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	l := newTestLedger(st, Options{})
	seedEvent(t, st, "harbor", 5, testNow.Add(48*time.Hour))

	_, err := l.CreateOrReactivateRSVP(ctx, submitInput("harbor", "a@b.com"))
	require.NoError(t, err)

	rsvp, err := st.GetRSVP(ctx, "harbor", "a@b.com")
	require.NoError(t, err)
	rsvp.Status = store.RSVPAttended
	require.NoError(t, st.UpdateRSVP(ctx, rsvp, rsvp.Version))

	_, err = l.CreateOrReactivateRSVP(ctx, submitInput("harbor", "a@b.com"))
	assert.Equal(t, CodeInvalidState, CodeOf(err))
}

func TestRoundHours(t *testing.T) {
	assert.Equal(t, 23.5, roundHours(23.5))
	assert.Equal(t, 23.5, roundHours(23.46))
	assert.Equal(t, 0.0, roundHours(0.04))
	assert.Equal(t, -1.5, roundHours(-1.46))
}
