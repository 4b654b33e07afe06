// Package lifecycle governs event status transitions: the automatic
// active→completed sweep once an event's end time has passed (run as a batch
// job or lazily on read), explicit administrative cancellation with its RSVP
// cascade, and archiving. Archived is terminal.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shorelinestewards/rsvp-ledger/pkg/core/metrics"
	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
)

// CompletionPolicy decides what happens to RSVPs still active when their
// event transitions to completed.
type CompletionPolicy string

const (
	// MarkAttended treats every still-active RSVP as an attendance.
	MarkAttended CompletionPolicy = "mark_attended"
	// LeaveActive leaves rows untouched for a manual attendance pass.
	LeaveActive CompletionPolicy = "leave_active"
)

const writeAttempts = 4

// Options configures the lifecycle machine.
type Options struct {
	CompletionPolicy CompletionPolicy
	Now              func() time.Time
}

func (o *Options) applyDefaults() {
	if o.CompletionPolicy == "" {
		o.CompletionPolicy = MarkAttended
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Machine applies event lifecycle transitions.
type Machine struct {
	store  store.Store
	logger *zap.Logger
	opts   Options
}

// New creates a lifecycle machine over the given store.
func New(st store.Store, logger *zap.Logger, opts Options) *Machine {
	opts.applyDefaults()
	return &Machine{store: st, logger: logger, opts: opts}
}

// GetEventWithDerivedStatus returns the event, first applying the lazy sweep:
// an active event whose end time has passed is transitioned to completed
// before it is returned.
func (m *Machine) GetEventWithDerivedStatus(ctx context.Context, eventID string) (*store.Event, error) {
	ev, err := m.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.Status == store.EventActive && m.opts.Now().After(ev.EndTime) {
		return m.completeEvent(ctx, ev)
	}
	return ev, nil
}

// SweepCompleted transitions every active event whose end time has passed to
// completed. Failures on individual events are logged and skipped so one bad
// record doesn't stall the sweep.
func (m *Machine) SweepCompleted(ctx context.Context) ([]string, error) {
	active, err := m.store.ListEventsByStatus(ctx, store.EventActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active events: %w", err)
	}

	now := m.opts.Now()
	var completed []string
	for i := range active {
		ev := &active[i]
		if !now.After(ev.EndTime) {
			continue
		}
		if _, err := m.completeEvent(ctx, ev); err != nil {
			m.logger.Error("Failed to complete event during sweep",
				zap.String("event_id", ev.EventID), zap.Error(err))
			continue
		}
		completed = append(completed, ev.EventID)
	}

	m.logger.Info("Lifecycle sweep finished",
		zap.Int("active_checked", len(active)),
		zap.Int("completed", len(completed)))
	return completed, nil
}

// completeEvent transitions active→completed under a version guard and then
// applies the completion policy to RSVPs still active for the event. Losing
// the version race means someone else already transitioned it; the fresh
// record is returned either way.
func (m *Machine) completeEvent(ctx context.Context, ev *store.Event) (*store.Event, error) {
	now := m.opts.Now()

	updated := *ev
	updated.Status = store.EventCompleted
	if m.opts.CompletionPolicy == MarkAttended {
		updated.ActiveCount = 0
	}
	updated.UpdatedAt = now

	err := m.store.UpdateEvent(ctx, &updated, ev.Version)
	if errors.Is(err, store.ErrConditionFailed) {
		return m.store.GetEvent(ctx, ev.EventID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to complete event %s: %w", ev.EventID, err)
	}

	m.logger.Info("Event completed",
		zap.String("event_id", ev.EventID),
		zap.String("policy", string(m.opts.CompletionPolicy)))

	if m.opts.CompletionPolicy == MarkAttended {
		if _, err := m.markActiveRSVPs(ctx, ev.EventID, store.RSVPAttended, "", now); err != nil {
			m.logger.Error("Failed to mark attendance on completed event",
				zap.String("event_id", ev.EventID), zap.Error(err))
		}
	}
	return &updated, nil
}

// CancelEventResult reports an administrative event cancellation.
type CancelEventResult struct {
	EventID         string   `json:"event_id"`
	CancelledRSVPs  []string `json:"cancelled_rsvps"`
	AffectedEmails  []string `json:"affected_emails"`
	AlreadyInactive bool     `json:"already_inactive"`
}

// CancelEvent is the explicit administrative active→cancelled transition. All
// active RSVPs for the event are cancelled with the given reason and the
// affected volunteers' metrics are recomputed.
func (m *Machine) CancelEvent(ctx context.Context, eventID, reason string) (*CancelEventResult, error) {
	if reason == "" {
		reason = "Event cancelled"
	}
	now := m.opts.Now()

	for attempt := 1; ; attempt++ {
		ev, err := m.store.GetEvent(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("failed to load event %s: %w", eventID, err)
		}
		if ev.Status == store.EventCancelled {
			return &CancelEventResult{EventID: eventID, AlreadyInactive: true}, nil
		}
		if !store.CanTransition(ev.Status, store.EventCancelled) {
			return nil, fmt.Errorf("event %s is %s and cannot be cancelled", eventID, ev.Status)
		}

		ev.Status = store.EventCancelled
		ev.CancellationReason = reason
		ev.ActiveCount = 0
		ev.UpdatedAt = now

		err = m.store.UpdateEvent(ctx, ev, ev.Version)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConditionFailed) || attempt >= writeAttempts {
			return nil, fmt.Errorf("failed to cancel event %s: %w", eventID, err)
		}
	}

	emails, err := m.markActiveRSVPs(ctx, eventID, store.RSVPCancelled, "Event cancelled: "+reason, now)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Event cancelled",
		zap.String("event_id", eventID),
		zap.String("reason", reason),
		zap.Int("cancelled_rsvps", len(emails)))

	return &CancelEventResult{EventID: eventID, CancelledRSVPs: emails, AffectedEmails: emails}, nil
}

// ArchiveEvents archives all events with the given status that started before
// the cutoff. Events keep their RSVP history; archiving is the soft delete.
func (m *Machine) ArchiveEvents(ctx context.Context, status store.EventStatus, before time.Time) ([]string, error) {
	events, err := m.store.ListEventsByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s events: %w", status, err)
	}

	now := m.opts.Now()
	var archived []string
	for i := range events {
		ev := &events[i]
		if !ev.StartTime.Before(before) {
			continue
		}
		if !store.CanTransition(ev.Status, store.EventArchived) {
			continue
		}
		ev.Status = store.EventArchived
		ev.UpdatedAt = now
		if err := m.store.UpdateEvent(ctx, ev, ev.Version); err != nil {
			m.logger.Error("Failed to archive event",
				zap.String("event_id", ev.EventID), zap.Error(err))
			continue
		}
		archived = append(archived, ev.EventID)
	}

	m.logger.Info("Archive pass finished",
		zap.String("status", string(status)),
		zap.Time("before", before),
		zap.Int("archived", len(archived)))
	return archived, nil
}

// MarkAttendance records the terminal outcome of one RSVP after the event:
// attended, or no-show. A cancelled RSVP cannot be marked a no-show.
func (m *Machine) MarkAttendance(ctx context.Context, eventID, email string, attended bool) (*store.RSVP, error) {
	email = store.NormalizeEmail(email)
	now := m.opts.Now()

	target := store.RSVPAttended
	if !attended {
		target = store.RSVPNoShow
	}

	for attempt := 1; ; attempt++ {
		rsvp, err := m.store.GetRSVP(ctx, eventID, email)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("no rsvp found for event %s and %s: %w", eventID, email, err)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load rsvp: %w", err)
		}
		if rsvp.Status == store.RSVPCancelled {
			return nil, fmt.Errorf("cannot mark a cancelled rsvp as %s", target)
		}
		if rsvp.Status == target {
			return rsvp, nil
		}

		rsvp.Status = target
		if target == store.RSVPNoShow {
			rsvp.NoShowMarkedAt = &now
		} else {
			rsvp.NoShowMarkedAt = nil
		}
		rsvp.UpdatedAt = now

		err = m.store.UpdateRSVP(ctx, rsvp, rsvp.Version)
		if err == nil {
			m.recomputeMetrics(ctx, email)
			return rsvp, nil
		}
		if !errors.Is(err, store.ErrConditionFailed) || attempt >= writeAttempts {
			return nil, fmt.Errorf("failed to mark rsvp %s for event %s: %w", target, eventID, err)
		}
	}
}

// markActiveRSVPs transitions every active RSVP row for the event to the
// target status and recomputes the affected volunteers' metrics. Returns the
// emails of the rows that were transitioned.
func (m *Machine) markActiveRSVPs(ctx context.Context, eventID string, target store.RSVPStatus, reason string, now time.Time) ([]string, error) {
	rsvps, err := m.store.ListEventRSVPs(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rsvps for event %s: %w", eventID, err)
	}

	var emails []string
	for i := range rsvps {
		r := &rsvps[i]
		if r.Status != store.RSVPActive {
			continue
		}
		r.Status = target
		if target == store.RSVPCancelled {
			r.TimesCancelled++
			r.CancelledAt = &now
			r.CancellationReason = reason
		}
		r.UpdatedAt = now
		if err := m.store.UpdateRSVP(ctx, r, r.Version); err != nil {
			m.logger.Error("Failed to transition rsvp",
				zap.String("event_id", eventID),
				zap.String("email", r.Email),
				zap.String("target", string(target)),
				zap.Error(err))
			continue
		}
		m.recomputeMetrics(ctx, r.Email)
		emails = append(emails, r.Email)
	}
	return emails, nil
}

func (m *Machine) recomputeMetrics(ctx context.Context, email string) {
	if _, err := metrics.Recompute(ctx, m.store, m.logger, email); err != nil {
		m.logger.Warn("Metrics recompute failed, reconciliation will repair",
			zap.String("email", email), zap.Error(err))
	}
}
