package ledger

import (
	"time"

	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
)

// WindowMode selects how a cancellation inside the restricted window is
// handled: recorded and flagged for reporting, or rejected outright.
type WindowMode string

const (
	WindowFlag  WindowMode = "flag"
	WindowBlock WindowMode = "block"
)

// checkSubmitPreconditions rejects RSVP attempts that can never succeed,
// before any counter is touched. Past-start events are rejected regardless of
// status so a stale "active" row can't accept signups.
func (l *Ledger) checkSubmitPreconditions(ev *store.Event, now time.Time) error {
	if !ev.StartTime.After(now) {
		return E(CodePastEvent, "event %s has already started", ev.EventID)
	}
	if ev.Status != store.EventActive {
		return E(CodeInvalidState, "event %s is %s, not accepting RSVPs", ev.EventID, ev.Status)
	}
	if ev.AttendanceCap < 1 {
		return E(CodeValidation, "event %s has invalid attendance cap %d", ev.EventID, ev.AttendanceCap)
	}
	return nil
}

// evaluateCancellation computes hours_before_event (negative once the event
// has started, rounded to one decimal like the stored value) and applies the
// configured window policy.
func (l *Ledger) evaluateCancellation(ev *store.Event, now time.Time) (hoursBefore float64, late bool, err error) {
	hoursBefore = roundHours(ev.StartTime.Sub(now).Hours())
	late = hoursBefore < l.opts.CancellationWindow.Hours()
	if late && l.opts.WindowMode == WindowBlock {
		return hoursBefore, late, E(CodeWindowClosed,
			"cancellations for event %s are closed within %.0f hours of start",
			ev.EventID, l.opts.CancellationWindow.Hours())
	}
	return hoursBefore, late, nil
}

func roundHours(h float64) float64 {
	if h < 0 {
		return float64(int64(h*10-0.5)) / 10
	}
	return float64(int64(h*10+0.5)) / 10
}
