// Package authoring creates and updates event records. It enforces the model
// invariants (cap >= 1, end after start), generates human-readable slugs, and
// can expand a recurrence rule into a series of events.
package authoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"
	"go.uber.org/zap"

	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// maxSeriesOccurrences caps how many events one recurrence rule may expand
// into, so an unbounded rule can't flood the store.
const maxSeriesOccurrences = 52

// EventInput describes a new event.
type EventInput struct {
	Slug          string `validate:"omitempty,max=120"`
	Title         string `validate:"required,max=200"`
	Description   string
	StartTime     time.Time `validate:"required"`
	EndTime       time.Time `validate:"required"`
	Location      store.Location
	AttendanceCap int `validate:"min=1"`
	HugoConfig    map[string]any
	Metadata      map[string]any
}

// CreateEvent validates the input and stores a single new active event. The
// slug is derived from the title and start date unless one is supplied.
func CreateEvent(ctx context.Context, st store.EventStore, logger *zap.Logger, in EventInput) (*store.Event, error) {
	ev, err := buildEvent(in, time.Now())
	if err != nil {
		return nil, err
	}

	if err := st.CreateEvent(ctx, ev); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) && in.Slug == "" {
			// Derived slug collided with an existing event; retry once
			// with a random suffix.
			ev.EventID = ev.EventID + "-" + uuid.New().String()[:8]
			err = st.CreateEvent(ctx, ev)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create event %s: %w", ev.EventID, err)
		}
	}

	logger.Info("Event created",
		zap.String("event_id", ev.EventID),
		zap.Time("start_time", ev.StartTime),
		zap.Int("attendance_cap", ev.AttendanceCap))
	return ev, nil
}

// CreateSeries expands a recurrence rule into a series of events, one per
// occurrence, preserving the input's duration and time of day. The input's
// StartTime anchors the rule; each event's slug carries its occurrence date.
func CreateSeries(ctx context.Context, st store.EventStore, logger *zap.Logger, in EventInput, rruleStr string) ([]*store.Event, error) {
	rule, err := rrule.StrToRRule(rruleStr)
	if err != nil {
		return nil, fmt.Errorf("invalid recurrence rule: %w", err)
	}
	rule.DTStart(in.StartTime)

	occurrences := rule.All()
	if len(occurrences) == 0 {
		return nil, fmt.Errorf("recurrence rule produced no occurrences")
	}
	if len(occurrences) > maxSeriesOccurrences {
		occurrences = occurrences[:maxSeriesOccurrences]
		logger.Warn("Recurrence rule truncated",
			zap.Int("limit", maxSeriesOccurrences),
			zap.String("rrule", rruleStr))
	}

	duration := in.EndTime.Sub(in.StartTime)
	var events []*store.Event
	for _, occurrence := range occurrences {
		occ := in
		occ.Slug = "" // each occurrence derives its own dated slug
		occ.StartTime = occurrence
		occ.EndTime = occurrence.Add(duration)
		ev, err := CreateEvent(ctx, st, logger, occ)
		if err != nil {
			return events, fmt.Errorf("failed at occurrence %s: %w", occurrence.Format("2006-01-02"), err)
		}
		events = append(events, ev)
	}

	logger.Info("Event series created",
		zap.String("rrule", rruleStr),
		zap.Int("events", len(events)))
	return events, nil
}

// UpdateInput carries the updatable fields of an event. Nil pointers leave
// the stored value unchanged.
type UpdateInput struct {
	Title         *string
	Description   *string
	StartTime     *time.Time
	EndTime       *time.Time
	Location      *store.Location
	AttendanceCap *int
	HugoConfig    map[string]any
	Metadata      map[string]any
}

// UpdateEvent applies a partial update under the usual version guard.
// Archived events are immutable; the cap may not drop below the current
// active count, which would strand committed RSVPs above capacity.
func UpdateEvent(ctx context.Context, st store.EventStore, logger *zap.Logger, eventID string, in UpdateInput) (*store.Event, error) {
	for attempt := 1; ; attempt++ {
		ev, err := st.GetEvent(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("failed to load event %s: %w", eventID, err)
		}
		if ev.Status == store.EventArchived {
			return nil, fmt.Errorf("event %s is archived and cannot be updated", eventID)
		}

		applyUpdate(ev, in)

		if !ev.EndTime.After(ev.StartTime) {
			return nil, fmt.Errorf("event end time must be after start time")
		}
		if in.AttendanceCap != nil {
			if *in.AttendanceCap < 1 {
				return nil, fmt.Errorf("attendance cap must be at least 1")
			}
			if *in.AttendanceCap < ev.ActiveCount {
				return nil, fmt.Errorf("attendance cap %d is below the current active count %d",
					*in.AttendanceCap, ev.ActiveCount)
			}
		}
		ev.UpdatedAt = time.Now()

		err = st.UpdateEvent(ctx, ev, ev.Version)
		if err == nil {
			logger.Info("Event updated", zap.String("event_id", eventID))
			return ev, nil
		}
		if !errors.Is(err, store.ErrConditionFailed) || attempt >= 4 {
			return nil, fmt.Errorf("failed to update event %s: %w", eventID, err)
		}
	}
}

func applyUpdate(ev *store.Event, in UpdateInput) {
	if in.Title != nil {
		ev.Title = *in.Title
	}
	if in.Description != nil {
		ev.Description = *in.Description
	}
	if in.StartTime != nil {
		ev.StartTime = *in.StartTime
	}
	if in.EndTime != nil {
		ev.EndTime = *in.EndTime
	}
	if in.Location != nil {
		ev.Location = *in.Location
	}
	if in.AttendanceCap != nil {
		ev.AttendanceCap = *in.AttendanceCap
	}
	if in.HugoConfig != nil {
		ev.HugoConfig = in.HugoConfig
	}
	if in.Metadata != nil {
		ev.Metadata = in.Metadata
	}
}

func buildEvent(in EventInput, now time.Time) (*store.Event, error) {
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid event input: %w", err)
	}
	if !in.EndTime.After(in.StartTime) {
		return nil, fmt.Errorf("event end time must be after start time")
	}

	slug := in.Slug
	if slug == "" {
		slug = Slugify(in.Title) + "-" + in.StartTime.Format("2006-01-02")
	}

	return &store.Event{
		EventID:       slug,
		Title:         in.Title,
		Description:   in.Description,
		StartTime:     in.StartTime,
		EndTime:       in.EndTime,
		Location:      in.Location,
		AttendanceCap: in.AttendanceCap,
		Status:        store.EventActive,
		HugoConfig:    in.HugoConfig,
		Metadata:      in.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Slugify lowercases the title and collapses every non-alphanumeric run into
// a single hyphen.
func Slugify(title string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.Trim(b.String(), "-")
}
