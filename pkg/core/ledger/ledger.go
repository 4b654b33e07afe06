// Package ledger implements the capacity-safe RSVP transaction: creating,
// re-activating, and cancelling RSVPs without ever letting an event's active
// attendee count exceed its cap, using only the store's per-key conditional
// writes. Capacity is secured with a two-phase reserve/commit discipline: the
// event's active-count is incremented first under an optimistic version
// check, the RSVP row is written second, and the increment is compensated if
// the row write fails.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shorelinestewards/rsvp-ledger/pkg/core/metrics"
	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Options configures retry bounds and the cancellation window policy.
type Options struct {
	// MaxAttempts bounds every conditional-write retry loop. The loop
	// terminates in a definite failure, never retries forever.
	MaxAttempts int
	// RetryBackoff is the base delay between attempts (jittered).
	RetryBackoff time.Duration
	// CancellationWindow is how close to the event start a cancellation
	// counts as late.
	CancellationWindow time.Duration
	// WindowMode is what happens to a late cancellation: flag or block.
	WindowMode WindowMode
	// Now is the clock, overridable in tests.
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 25 * time.Millisecond
	}
	if o.CancellationWindow <= 0 {
		o.CancellationWindow = 24 * time.Hour
	}
	if o.WindowMode == "" {
		o.WindowMode = WindowFlag
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Ledger executes RSVP transactions against the entity store. It holds no
// per-request state; correctness under concurrent invocations comes entirely
// from the store's conditional writes.
type Ledger struct {
	store  store.Store
	logger *zap.Logger
	opts   Options
}

// New creates a ledger over the given store.
func New(st store.Store, logger *zap.Logger, opts Options) *Ledger {
	opts.applyDefaults()
	return &Ledger{store: st, logger: logger, opts: opts}
}

// SubmitInput is a request to create or re-activate an RSVP.
type SubmitInput struct {
	EventID            string `validate:"required"`
	Email              string `validate:"required,email"`
	FirstName          string `validate:"required"`
	LastName           string `validate:"required"`
	AdditionalComments string
	// AttemptToken makes retries of the same logical request idempotent.
	// Callers that retry after a transient failure should reuse the token;
	// if empty, a fresh token is generated.
	AttemptToken string
}

// SubmitResult reports the outcome of a successful submit.
type SubmitResult struct {
	EventID       string           `json:"event_id"`
	Email         string           `json:"email"`
	Status        store.RSVPStatus `json:"rsvp_status"`
	Reactivated   bool             `json:"reactivated"`
	ActiveCount   int              `json:"event_active_count"`
	AttendanceCap int              `json:"attendance_cap"`
}

// CancelResult reports the outcome of a successful cancellation.
type CancelResult struct {
	EventID          string    `json:"event_id"`
	Email            string    `json:"email"`
	CancelledAt      time.Time `json:"cancelled_at"`
	HoursBeforeEvent float64   `json:"hours_before_event"`
	LateCancellation bool      `json:"late_cancellation"`
}

// CreateOrReactivateRSVP creates a new RSVP row for (event_id, email) or
// re-activates a cancelled one. It guarantees the event's active RSVP count
// never exceeds the attendance cap and that at most one row ever exists per
// pair. Retrying a call that already succeeded with the same attempt token
// returns the same terminal state without consuming a second slot.
func (l *Ledger) CreateOrReactivateRSVP(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	if err := validate.Struct(in); err != nil {
		return nil, wrap(CodeValidation, err, "invalid rsvp input")
	}
	email := store.NormalizeEmail(in.Email)
	token := in.AttemptToken
	if token == "" {
		token = uuid.New().String()
	}
	now := l.opts.Now()

	ev, err := l.getEvent(ctx, in.EventID)
	if err != nil {
		return nil, err
	}
	if err := l.checkSubmitPreconditions(ev, now); err != nil {
		return nil, err
	}

	// Duplicate prevention happens before the counter is touched.
	existing, err := l.store.GetRSVP(ctx, in.EventID, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing rsvp: %w", err)
	}
	if existing != nil {
		switch existing.Status {
		case store.RSVPActive:
			if existing.AttemptToken == token {
				// Replay of a submit that already committed.
				l.logger.Debug("Idempotent rsvp replay",
					zap.String("event_id", in.EventID), zap.String("email", email))
				return l.submitResult(ev, email, existing.TimesCancelled > 0), nil
			}
			return nil, E(CodeDuplicateRSVP, "already registered for event %s", in.EventID)
		case store.RSVPAttended, store.RSVPNoShow:
			return nil, E(CodeInvalidState, "rsvp for event %s is already %s", in.EventID, existing.Status)
		}
		// Cancelled: re-activation consumes a new slot below.
	}

	// Phase one: reserve capacity on the event record.
	ev, err = l.reserveSlot(ctx, ev, now)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Slot reserved",
		zap.String("event_id", ev.EventID),
		zap.String("email", email),
		zap.Int("active_count", ev.ActiveCount),
		zap.Int("attendance_cap", ev.AttendanceCap))

	// The volunteer record must exist before the row commit so every RSVP
	// row always has a metrics home.
	if err := l.ensureVolunteer(ctx, in, email, now); err != nil {
		return nil, l.compensate(ctx, ev.EventID, err)
	}

	// Phase two: commit the RSVP row.
	if err := l.commitRow(ctx, existing, in, email, token, now); err != nil {
		return nil, l.compensate(ctx, ev.EventID, err)
	}

	l.recomputeMetrics(ctx, email)

	return l.submitResult(ev, email, existing != nil), nil
}

// CancelRSVP transitions an active RSVP to cancelled, records when and how
// far ahead of the event it happened, and frees the reserved slot.
func (l *Ledger) CancelRSVP(ctx context.Context, eventID, email string) (*CancelResult, error) {
	if eventID == "" || email == "" {
		return nil, E(CodeValidation, "event_id and email are required")
	}
	email = store.NormalizeEmail(email)
	now := l.opts.Now()

	ev, err := l.getEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	rsvp, err := l.store.GetRSVP(ctx, eventID, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, E(CodeNotFound, "no rsvp found for event %s", eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rsvp: %w", err)
	}

	hoursBefore, late, err := l.evaluateCancellation(ev, now)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		if rsvp.Status != store.RSVPActive {
			return nil, E(CodeInvalidState, "rsvp for event %s is already %s", eventID, rsvp.Status)
		}

		updated := *rsvp
		updated.Status = store.RSVPCancelled
		updated.CancelledAt = &now
		hours := hoursBefore
		updated.HoursBeforeEvent = &hours
		updated.TimesCancelled++
		updated.LateCancellation = late
		updated.CancellationReason = ""
		updated.AttemptToken = ""
		updated.UpdatedAt = now

		err = l.store.UpdateRSVP(ctx, &updated, rsvp.Version)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConditionFailed) {
			return nil, fmt.Errorf("failed to cancel rsvp: %w", err)
		}
		if attempt >= l.opts.MaxAttempts {
			return nil, E(CodeTransientConflict, "cancel for event %s lost %d version races", eventID, attempt)
		}
		if err := backoff(ctx, attempt, l.opts.RetryBackoff); err != nil {
			return nil, wrap(CodeTransientConflict, err, "cancel interrupted")
		}
		rsvp, err = l.store.GetRSVP(ctx, eventID, email)
		if err != nil {
			return nil, fmt.Errorf("failed to reload rsvp: %w", err)
		}
	}

	// Decrement only frees capacity, so it is always safe. A failure here
	// leaves the counter high until the reconciliation pass catches it.
	if err := l.releaseSlot(ctx, eventID); err != nil {
		l.logger.Error("Slot release failed after cancellation, counter needs reconciliation",
			zap.String("event_id", eventID),
			zap.String("email", email),
			zap.Error(err))
	}

	l.recomputeMetrics(ctx, email)

	l.logger.Info("RSVP cancelled",
		zap.String("event_id", eventID),
		zap.String("email", email),
		zap.Float64("hours_before_event", hoursBefore),
		zap.Bool("late_cancellation", late))

	return &CancelResult{
		EventID:          eventID,
		Email:            email,
		CancelledAt:      now,
		HoursBeforeEvent: hoursBefore,
		LateCancellation: late,
	}, nil
}

// reserveSlot increments the event's active-count under an optimistic version
// check: the increment commits only if active_count < attendance_cap still
// held when the write landed. Rejections re-read and retry a bounded number
// of times; true capacity exhaustion fails deterministically.
func (l *Ledger) reserveSlot(ctx context.Context, ev *store.Event, now time.Time) (*store.Event, error) {
	for attempt := 1; ; attempt++ {
		if err := l.checkSubmitPreconditions(ev, now); err != nil {
			return nil, err
		}
		if ev.ActiveCount >= ev.AttendanceCap {
			return nil, E(CodeCapacityExceeded, "event %s has reached its capacity of %d", ev.EventID, ev.AttendanceCap)
		}

		updated := *ev
		updated.ActiveCount++
		updated.UpdatedAt = now

		err := l.store.UpdateEvent(ctx, &updated, ev.Version)
		if err == nil {
			return &updated, nil
		}
		if !errors.Is(err, store.ErrConditionFailed) {
			return nil, fmt.Errorf("failed to reserve slot: %w", err)
		}
		if attempt >= l.opts.MaxAttempts {
			return nil, E(CodeTransientConflict, "slot reservation for event %s lost %d version races", ev.EventID, attempt)
		}
		if err := backoff(ctx, attempt, l.opts.RetryBackoff); err != nil {
			return nil, wrap(CodeTransientConflict, err, "slot reservation interrupted")
		}

		ev, err = l.getEvent(ctx, ev.EventID)
		if err != nil {
			return nil, err
		}
	}
}

// releaseSlot decrements the event's active-count. Decrements never need a
// capacity predicate; they retry only on version races.
func (l *Ledger) releaseSlot(ctx context.Context, eventID string) error {
	for attempt := 1; ; attempt++ {
		ev, err := l.store.GetEvent(ctx, eventID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load event for release: %w", err)
		}
		if ev.ActiveCount <= 0 {
			return nil
		}

		ev.ActiveCount--
		ev.UpdatedAt = l.opts.Now()

		err = l.store.UpdateEvent(ctx, ev, ev.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConditionFailed) {
			return fmt.Errorf("failed to release slot: %w", err)
		}
		if attempt >= l.opts.MaxAttempts {
			return fmt.Errorf("slot release for event %s lost %d version races", eventID, attempt)
		}
		if err := backoff(ctx, attempt, l.opts.RetryBackoff); err != nil {
			return err
		}
	}
}

// commitRow writes the RSVP row to active: a fresh insert for first-time
// signups, a version-guarded status transition for re-activations.
func (l *Ledger) commitRow(ctx context.Context, existing *store.RSVP, in SubmitInput, email, token string, now time.Time) error {
	if existing == nil {
		row := &store.RSVP{
			EventID:            in.EventID,
			Email:              email,
			FirstName:          in.FirstName,
			LastName:           in.LastName,
			Status:             store.RSVPActive,
			AdditionalComments: in.AdditionalComments,
			AttemptToken:       token,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		err := l.store.CreateRSVP(ctx, row)
		if errors.Is(err, store.ErrAlreadyExists) {
			// A concurrent request for the same pair won the insert and
			// holds its own slot; ours gets released by the caller.
			return E(CodeDuplicateRSVP, "already registered for event %s", in.EventID)
		}
		if err != nil {
			return fmt.Errorf("failed to write rsvp row: %w", err)
		}
		return nil
	}

	rsvp := existing
	for attempt := 1; ; attempt++ {
		updated := *rsvp
		updated.Status = store.RSVPActive
		updated.FirstName = in.FirstName
		updated.LastName = in.LastName
		if in.AdditionalComments != "" {
			updated.AdditionalComments = in.AdditionalComments
		}
		updated.AttemptToken = token
		updated.CancelledAt = nil
		updated.HoursBeforeEvent = nil
		updated.LateCancellation = false
		updated.CancellationReason = ""
		updated.UpdatedAt = now

		err := l.store.UpdateRSVP(ctx, &updated, rsvp.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConditionFailed) {
			return fmt.Errorf("failed to re-activate rsvp row: %w", err)
		}

		rsvp, err = l.store.GetRSVP(ctx, in.EventID, email)
		if err != nil {
			return fmt.Errorf("failed to reload rsvp row: %w", err)
		}
		switch rsvp.Status {
		case store.RSVPActive:
			if rsvp.AttemptToken == token {
				return nil
			}
			return E(CodeDuplicateRSVP, "already registered for event %s", in.EventID)
		case store.RSVPAttended, store.RSVPNoShow:
			return E(CodeInvalidState, "rsvp for event %s is already %s", in.EventID, rsvp.Status)
		}
		if attempt >= l.opts.MaxAttempts {
			return E(CodeTransientConflict, "rsvp row commit for event %s lost %d version races", in.EventID, attempt)
		}
		if err := backoff(ctx, attempt, l.opts.RetryBackoff); err != nil {
			return wrap(CodeTransientConflict, err, "rsvp row commit interrupted")
		}
	}
}

// compensate releases the reserved slot after a failed commit. If the release
// itself fails, the reserved-but-uncommitted slot is a known consistency risk
// and is surfaced as CompensationFailed for the reconciliation pass.
func (l *Ledger) compensate(ctx context.Context, eventID string, cause error) error {
	if err := l.releaseSlot(ctx, eventID); err != nil {
		l.logger.Error("Compensation failed: reserved slot was never committed and could not be released",
			zap.String("event_id", eventID),
			zap.NamedError("release_error", err),
			zap.NamedError("commit_error", cause))
		return wrap(CodeCompensationFailed, cause,
			"rsvp commit for event %s failed and the reserved slot could not be released", eventID)
	}
	return cause
}

// ensureVolunteer creates the volunteer record on first RSVP, or refreshes
// name fields on later ones. Losing a version race on the profile refresh is
// fine: the record exists, which is all the commit needs.
func (l *Ledger) ensureVolunteer(ctx context.Context, in SubmitInput, email string, now time.Time) error {
	volunteer, err := l.store.GetVolunteer(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		volunteer = &store.Volunteer{
			Email:           email,
			FirstName:       in.FirstName,
			LastName:        in.LastName,
			ProfileComplete: in.FirstName != "" && in.LastName != "",
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		err = l.store.CreateVolunteer(ctx, volunteer)
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to create volunteer: %w", err)
		}
		l.logger.Info("Volunteer created", zap.String("email", email))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load volunteer: %w", err)
	}

	if volunteer.FirstName == in.FirstName && volunteer.LastName == in.LastName {
		return nil
	}
	volunteer.FirstName = in.FirstName
	volunteer.LastName = in.LastName
	volunteer.ProfileComplete = volunteer.FirstName != "" && volunteer.LastName != ""
	volunteer.UpdatedAt = now
	if err := l.store.UpdateVolunteer(ctx, volunteer, volunteer.Version); err != nil && !errors.Is(err, store.ErrConditionFailed) {
		return fmt.Errorf("failed to update volunteer profile: %w", err)
	}
	return nil
}

// recomputeMetrics refreshes the volunteer's derived counters. A failure here
// never fails the RSVP operation itself: metrics are derived state and the
// reconciliation pass restores them.
func (l *Ledger) recomputeMetrics(ctx context.Context, email string) {
	if _, err := metrics.Recompute(ctx, l.store, l.logger, email); err != nil {
		l.logger.Warn("Metrics recompute failed, reconciliation will repair",
			zap.String("email", email), zap.Error(err))
	}
}

func (l *Ledger) getEvent(ctx context.Context, eventID string) (*store.Event, error) {
	ev, err := l.store.GetEvent(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, E(CodeNotFound, "event %s not found", eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event %s: %w", eventID, err)
	}
	return ev, nil
}

func (l *Ledger) submitResult(ev *store.Event, email string, reactivated bool) *SubmitResult {
	return &SubmitResult{
		EventID:       ev.EventID,
		Email:         email,
		Status:        store.RSVPActive,
		Reactivated:   reactivated,
		ActiveCount:   ev.ActiveCount,
		AttendanceCap: ev.AttendanceCap,
	}
}
