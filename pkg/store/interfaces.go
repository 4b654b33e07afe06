package store

import (
	"context"
	"time"
)

// The store interfaces model a key-value store that offers per-key
// conditional writes and nothing else: no multi-row transactions, no foreign
// keys. Every record carries a version number; Update operations commit only
// if the stored version equals expectedVersion, and on success write the
// record with its version set to expectedVersion+1. Create operations commit
// only if the key is absent and write the record with version 1.
//
// Implementations must return copies: mutating a returned record must never
// affect stored state until it is written back.

// EventStore defines event persistence operations.
type EventStore interface {
	GetEvent(ctx context.Context, eventID string) (*Event, error)
	CreateEvent(ctx context.Context, event *Event) error
	UpdateEvent(ctx context.Context, event *Event, expectedVersion int64) error
	ListEventsByStatus(ctx context.Context, status EventStatus) ([]Event, error)
}

// VolunteerStore defines volunteer persistence operations.
type VolunteerStore interface {
	GetVolunteer(ctx context.Context, email string) (*Volunteer, error)
	CreateVolunteer(ctx context.Context, volunteer *Volunteer) error
	UpdateVolunteer(ctx context.Context, volunteer *Volunteer, expectedVersion int64) error
	ListVolunteers(ctx context.Context) ([]Volunteer, error)
}

// RSVPStore defines RSVP persistence operations, keyed by (eventID, email).
type RSVPStore interface {
	GetRSVP(ctx context.Context, eventID, email string) (*RSVP, error)
	CreateRSVP(ctx context.Context, rsvp *RSVP) error
	UpdateRSVP(ctx context.Context, rsvp *RSVP, expectedVersion int64) error
	ListEventRSVPs(ctx context.Context, eventID string) ([]RSVP, error)
	ListVolunteerRSVPs(ctx context.Context, email string) ([]RSVP, error)
}

// SessionStore defines session token persistence operations.
type SessionStore interface {
	GetSession(ctx context.Context, token string) (*Session, error)
	PutSession(ctx context.Context, session *Session) error
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// Store is the full entity store used by the ledger and its services.
type Store interface {
	EventStore
	VolunteerStore
	RSVPStore
	SessionStore
}
