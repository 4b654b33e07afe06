// Package metrics keeps each volunteer's derived counters consistent with
// that volunteer's RSVP history. The counters are recomputed from the full
// RSVP set on every state change rather than adjusted incrementally: a
// replayed update converges to the same aggregate, so no per-transition
// replay tokens are needed, and a volunteer's RSVP set is small.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
)

// writeAttempts bounds the conditional-write loop on the volunteer record.
const writeAttempts = 4

// Compute aggregates a set of RSVP rows into volunteer metrics.
//
// TotalRSVPs counts rows ever created (one per event signup, regardless of
// current status). TotalCancellations counts completed cancellations via the
// per-row times_cancelled counter, so a cancel followed by a re-RSVP is still
// counted. No-shows and attendances are mutually exclusive terminal statuses.
// First/last event dates are the min/max created_at across the rows.
func Compute(rsvps []store.RSVP) store.VolunteerMetrics {
	var m store.VolunteerMetrics
	m.TotalRSVPs = len(rsvps)
	for i := range rsvps {
		r := &rsvps[i]
		m.TotalCancellations += r.TimesCancelled
		switch r.Status {
		case store.RSVPNoShow:
			m.TotalNoShows++
		case store.RSVPAttended:
			m.TotalAttended++
		}
		created := r.CreatedAt
		if m.FirstEventDate == nil || created.Before(*m.FirstEventDate) {
			c := created
			m.FirstEventDate = &c
		}
		if m.LastEventDate == nil || created.After(*m.LastEventDate) {
			c := created
			m.LastEventDate = &c
		}
	}
	return m
}

// Recompute rebuilds the volunteer's metrics from their RSVP rows and writes
// them back with a version-guarded conditional write. The first/last event
// range only ever extends; a recompute never shrinks it below what a
// concurrent writer already recorded.
func Recompute(ctx context.Context, st store.Store, logger *zap.Logger, email string) (*store.VolunteerMetrics, error) {
	email = store.NormalizeEmail(email)

	for attempt := 1; attempt <= writeAttempts; attempt++ {
		volunteer, err := st.GetVolunteer(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to load volunteer %s: %w", email, err)
		}

		rsvps, err := st.ListVolunteerRSVPs(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to list rsvps for %s: %w", email, err)
		}

		computed := Compute(rsvps)
		extendRange(&computed, &volunteer.Metrics)

		if Equal(computed, volunteer.Metrics) {
			return &computed, nil
		}

		volunteer.Metrics = computed
		err = st.UpdateVolunteer(ctx, volunteer, volunteer.Version)
		if err == nil {
			logger.Debug("Volunteer metrics recomputed",
				zap.String("email", email),
				zap.Int("total_rsvps", computed.TotalRSVPs),
				zap.Int("total_cancellations", computed.TotalCancellations))
			return &computed, nil
		}
		if !errors.Is(err, store.ErrConditionFailed) {
			return nil, fmt.Errorf("failed to write metrics for %s: %w", email, err)
		}
		// Version moved under us; re-read and recompute against the new state.
	}

	return nil, fmt.Errorf("metrics write for %s lost %d consecutive version races", email, writeAttempts)
}

// Equal compares metrics by value, including the optional date bounds.
func Equal(a, b store.VolunteerMetrics) bool {
	if a.TotalRSVPs != b.TotalRSVPs ||
		a.TotalCancellations != b.TotalCancellations ||
		a.TotalNoShows != b.TotalNoShows ||
		a.TotalAttended != b.TotalAttended {
		return false
	}
	return timesEqual(a.FirstEventDate, b.FirstEventDate) && timesEqual(a.LastEventDate, b.LastEventDate)
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// extendRange keeps the monotonic first/last guarantee: the recorded range
// may grow but never contract while rows still exist.
func extendRange(computed *store.VolunteerMetrics, current *store.VolunteerMetrics) {
	if current.FirstEventDate != nil &&
		(computed.FirstEventDate == nil || current.FirstEventDate.Before(*computed.FirstEventDate)) {
		c := *current.FirstEventDate
		computed.FirstEventDate = &c
	}
	if current.LastEventDate != nil &&
		(computed.LastEventDate == nil || current.LastEventDate.After(*computed.LastEventDate)) {
		c := *current.LastEventDate
		computed.LastEventDate = &c
	}
}
