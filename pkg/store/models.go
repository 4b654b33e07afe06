package store

import (
	"strings"
	"time"
)

// NormalizeEmail canonicalizes an email for use as a volunteer key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventActive    EventStatus = "active"
	EventCancelled EventStatus = "cancelled"
	EventCompleted EventStatus = "completed"
	EventArchived  EventStatus = "archived"
)

// RSVPStatus is the state of a single event/volunteer RSVP.
type RSVPStatus string

const (
	RSVPActive    RSVPStatus = "active"
	RSVPCancelled RSVPStatus = "cancelled"
	RSVPNoShow    RSVPStatus = "no_show"
	RSVPAttended  RSVPStatus = "attended"
)

// Coordinates is an optional lat/lng pair for an event location.
type Coordinates struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Location describes where an event takes place.
type Location struct {
	Name        string       `json:"name" yaml:"name"`
	Address     string       `json:"address,omitempty" yaml:"address,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty" yaml:"coordinates,omitempty"`
}

// Event represents one scheduled cleanup activity.
//
// ActiveCount is the number of RSVP rows currently in status "active" and is
// the value compared against AttendanceCap. It is mutated exclusively through
// version-guarded conditional writes so that concurrent requests can never
// both consume the last slot.
type Event struct {
	EventID            string         `json:"event_id"`
	Title              string         `json:"title"`
	Description        string         `json:"description,omitempty"`
	StartTime          time.Time      `json:"start_time"`
	EndTime            time.Time      `json:"end_time"`
	Location           Location       `json:"location"`
	AttendanceCap      int            `json:"attendance_cap"`
	Status             EventStatus    `json:"status"`
	ActiveCount        int            `json:"active_count"`
	CancellationReason string         `json:"cancellation_reason,omitempty"`
	HugoConfig         map[string]any `json:"hugo_config,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	Version            int64          `json:"-"`
}

// VolunteerMetrics is the aggregation of a volunteer's RSVP rows. It has no
// independent source of truth: every value here must be derivable by scanning
// the volunteer's RSVPs.
type VolunteerMetrics struct {
	TotalRSVPs         int        `json:"total_rsvps"`
	TotalCancellations int        `json:"total_cancellations"`
	TotalNoShows       int        `json:"total_no_shows"`
	TotalAttended      int        `json:"total_attended"`
	FirstEventDate     *time.Time `json:"first_event_date,omitempty"`
	LastEventDate      *time.Time `json:"last_event_date,omitempty"`
}

// Volunteer is one person who has ever RSVP'd. Keyed by case-normalized email.
type Volunteer struct {
	Email                    string           `json:"email"`
	FirstName                string           `json:"first_name,omitempty"`
	LastName                 string           `json:"last_name,omitempty"`
	Phone                    string           `json:"phone,omitempty"`
	ProfileComplete          bool             `json:"profile_complete"`
	CommunicationPreferences map[string]bool  `json:"communication_preferences,omitempty"`
	Metrics                  VolunteerMetrics `json:"volunteer_metrics"`
	CreatedAt                time.Time        `json:"created_at"`
	UpdatedAt                time.Time        `json:"updated_at"`
	Version                  int64            `json:"-"`
}

// RSVP is the relationship between one volunteer and one event, keyed by the
// composite (EventID, Email). At most one row ever exists per pair: re-RSVP
// after cancellation is a status transition on the existing row.
//
// TimesCancelled preserves cancellation history across re-activations so the
// metrics aggregator can count every completed cancel, not just the current
// status. AttemptToken is the idempotency token of the write that last
// activated the row; a retried submit carrying the same token is a no-op.
type RSVP struct {
	EventID            string     `json:"event_id"`
	Email              string     `json:"email"`
	FirstName          string     `json:"first_name,omitempty"`
	LastName           string     `json:"last_name,omitempty"`
	Status             RSVPStatus `json:"status"`
	AdditionalComments string     `json:"additional_comments,omitempty"`
	TimesCancelled     int        `json:"times_cancelled"`
	LateCancellation   bool       `json:"late_cancellation,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	AttemptToken       string     `json:"-"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	HoursBeforeEvent   *float64   `json:"hours_before_event,omitempty"`
	NoShowMarkedAt     *time.Time `json:"no_show_marked_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Version            int64      `json:"-"`
}

// Session is an opaque authentication token mapping to a volunteer email.
// Issued by the identity service; the ledger only validates and expires them.
type Session struct {
	Token     string    `json:"session_token"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CanTransition reports whether an event status transition is permitted.
// Archived is terminal; completed and cancelled may only be archived.
func CanTransition(from, to EventStatus) bool {
	switch from {
	case EventActive:
		return to == EventCompleted || to == EventCancelled || to == EventArchived
	case EventCompleted, EventCancelled:
		return to == EventArchived
	default:
		return false
	}
}
