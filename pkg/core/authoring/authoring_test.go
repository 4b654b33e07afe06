package authoring

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

func validInput() EventInput {
	start := time.Date(2026, 7, 4, 9, 0, 0, 0, time.UTC)
	return EventInput{
		Title:         "Driftwood Point Cleanup",
		StartTime:     start,
		EndTime:       start.Add(3 * time.Hour),
		Location:      store.Location{Name: "Driftwood Point"},
		AttendanceCap: 12,
	}
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "driftwood-point-cleanup", Slugify("Driftwood Point Cleanup"))
	assert.Equal(t, "low-tide-cleanup", Slugify("  Low Tide -- Cleanup!  "))
	assert.Equal(t, "beach-2", Slugify("Beach #2"))
	assert.Equal(t, "", Slugify("!!!"))
}

func TestCreateEvent(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	ev, err := CreateEvent(ctx, st, zap.NewNop(), validInput())
	require.NoError(t, err)
	assert.Equal(t, "driftwood-point-cleanup-2026-07-04", ev.EventID)
	assert.Equal(t, store.EventActive, ev.Status)
	assert.Equal(t, 0, ev.ActiveCount)

	stored, err := st.GetEvent(ctx, ev.EventID)
	require.NoError(t, err)
	assert.Equal(t, ev.Title, stored.Title)
}

func TestCreateEventExplicitSlug(t *testing.T) {
	in := validInput()
	in.Slug = "custom-slug"

	ev, err := CreateEvent(context.Background(), memstore.New(), zap.NewNop(), in)
	require.NoError(t, err)
	assert.Equal(t, "custom-slug", ev.EventID)
}

func TestCreateEventDerivedSlugCollision(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	first, err := CreateEvent(ctx, st, zap.NewNop(), validInput())
	require.NoError(t, err)

	second, err := CreateEvent(ctx, st, zap.NewNop(), validInput())
	require.NoError(t, err)
	assert.NotEqual(t, first.EventID, second.EventID)
	assert.Contains(t, second.EventID, first.EventID+"-")
}

func TestCreateEventExplicitSlugCollisionFails(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	in := validInput()
	in.Slug = "custom-slug"

	_, err := CreateEvent(ctx, st, zap.NewNop(), in)
	require.NoError(t, err)
	_, err = CreateEvent(ctx, st, zap.NewNop(), in)
	assert.Error(t, err)
}

func TestCreateEventInvalidInput(t *testing.T) {
	st := memstore.New()

	in := validInput()
	in.AttendanceCap = 0
	_, err := CreateEvent(context.Background(), st, zap.NewNop(), in)
	assert.Error(t, err)

	in = validInput()
	in.EndTime = in.StartTime
	_, err = CreateEvent(context.Background(), st, zap.NewNop(), in)
	assert.Error(t, err)

	in = validInput()
	in.Title = ""
	_, err = CreateEvent(context.Background(), st, zap.NewNop(), in)
	assert.Error(t, err)
}

func TestCreateSeries(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	events, err := CreateSeries(ctx, st, zap.NewNop(), validInput(), "FREQ=WEEKLY;COUNT=4")
	require.NoError(t, err)
	require.Len(t, events, 4)

	for i, ev := range events {
		expectedStart := validInput().StartTime.AddDate(0, 0, 7*i)
		assert.Equal(t, expectedStart, ev.StartTime)
		assert.Equal(t, expectedStart.Add(3*time.Hour), ev.EndTime)
		assert.Contains(t, ev.EventID, expectedStart.Format("2006-01-02"))
	}
}

func TestCreateSeriesInvalidRule(t *testing.T) {
	_, err := CreateSeries(context.Background(), memstore.New(), zap.NewNop(), validInput(), "not-a-rule")
	assert.Error(t, err)
}

func TestUpdateEvent(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	ev, err := CreateEvent(ctx, st, zap.NewNop(), validInput())
	require.NoError(t, err)

	title := "Renamed Cleanup"
	cap := 20
	updated, err := UpdateEvent(ctx, st, zap.NewNop(), ev.EventID, UpdateInput{
		Title:         &title,
		AttendanceCap: &cap,
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed Cleanup", updated.Title)
	assert.Equal(t, 20, updated.AttendanceCap)
	assert.Equal(t, ev.StartTime, updated.StartTime, "unset fields stay unchanged")
}

func TestUpdateEventCapBelowActiveCount(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	ev, err := CreateEvent(ctx, st, zap.NewNop(), validInput())
	require.NoError(t, err)

	stored, err := st.GetEvent(ctx, ev.EventID)
	require.NoError(t, err)
	stored.ActiveCount = 5
	require.NoError(t, st.UpdateEvent(ctx, stored, stored.Version))

	cap := 3
	_, err = UpdateEvent(ctx, st, zap.NewNop(), ev.EventID, UpdateInput{AttendanceCap: &cap})
	assert.Error(t, err)
}

func TestUpdateEventArchivedImmutable(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	ev, err := CreateEvent(ctx, st, zap.NewNop(), validInput())
	require.NoError(t, err)

	stored, err := st.GetEvent(ctx, ev.EventID)
	require.NoError(t, err)
	stored.Status = store.EventArchived
	require.NoError(t, st.UpdateEvent(ctx, stored, stored.Version))

	title := "New Title"
	_, err = UpdateEvent(ctx, st, zap.NewNop(), ev.EventID, UpdateInput{Title: &title})
	assert.Error(t, err)
}
