package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
	"github.com/shorelinestewards/rsvp-ledger/pkg/store/memstore"
)

func seed(t *testing.T, st store.Store, eventID string, activeCount int, rsvps ...store.RSVP) {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateEvent(ctx, &store.Event{
		EventID:       eventID,
		StartTime:     start,
		EndTime:       start.Add(3 * time.Hour),
		AttendanceCap: 10,
		Status:        store.EventActive,
		ActiveCount:   activeCount,
	}))
	for i := range rsvps {
		rsvps[i].EventID = eventID
		require.NoError(t, st.CreateRSVP(ctx, &rsvps[i]))
	}
}

func TestRunRepairsCounterDrift(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	// A reserved slot that was never committed leaves the counter high.
	seed(t, st, "drifted", 3,
		store.RSVP{Email: "a@b.com", Status: store.RSVPActive},
		store.RSVP{Email: "b@b.com", Status: store.RSVPCancelled, TimesCancelled: 1},
	)
	seed(t, st, "consistent", 1,
		store.RSVP{Email: "a@b.com", Status: store.RSVPActive},
	)

	report, err := Run(ctx, st, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, report.EventsChecked)
	assert.Equal(t, 1, report.CountersRepaired)

	ev, err := st.GetEvent(ctx, "drifted")
	require.NoError(t, err)
	assert.Equal(t, 1, ev.ActiveCount)

	ev, err = st.GetEvent(ctx, "consistent")
	require.NoError(t, err)
	assert.Equal(t, 1, ev.ActiveCount)
}

func TestRunRepairsMetricsDrift(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	seed(t, st, "harbor", 1,
		store.RSVP{Email: "a@b.com", Status: store.RSVPActive, CreatedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
	)
	// Stored metrics say nothing happened; the rows say otherwise.
	require.NoError(t, st.CreateVolunteer(ctx, &store.Volunteer{Email: "a@b.com"}))

	report, err := Run(ctx, st, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, report.VolunteersChecked)
	assert.Equal(t, 1, report.MetricsRepaired)

	volunteer, err := st.GetVolunteer(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, 1, volunteer.Metrics.TotalRSVPs)
}

func TestRunCleanStoreReportsNothing(t *testing.T) {
	report, err := Run(context.Background(), memstore.New(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, report.CountersRepaired)
	assert.Equal(t, 0, report.MetricsRepaired)
	assert.Empty(t, report.Details)
}
