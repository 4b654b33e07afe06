// Package memstore is an in-memory implementation of the entity store with
// the same per-key conditional-write semantics as the Postgres backend. It is
// used by tests (including the concurrency tests, which race goroutines
// against it) and by local development without a database.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
)

type rsvpKey struct {
	eventID string
	email   string
}

// Store holds all entities in maps guarded by a single mutex. The mutex makes
// each read or conditional write atomic, matching the storage model: callers
// still get no coordination across separate calls, so every cross-key
// sequence races exactly as it would against the real store.
type Store struct {
	mu         sync.Mutex
	events     map[string]*store.Event
	volunteers map[string]*store.Volunteer
	rsvps      map[rsvpKey]*store.RSVP
	sessions   map[string]*store.Session
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		events:     make(map[string]*store.Event),
		volunteers: make(map[string]*store.Volunteer),
		rsvps:      make(map[rsvpKey]*store.RSVP),
		sessions:   make(map[string]*store.Session),
	}
}

// GetEvent returns a copy of the event or store.ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, eventID string) (*store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneEvent(ev), nil
}

// CreateEvent stores the event with version 1 if no event with the same ID exists.
func (s *Store) CreateEvent(ctx context.Context, event *store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.EventID]; ok {
		return store.ErrAlreadyExists
	}
	event.Version = 1
	s.events[event.EventID] = cloneEvent(event)
	return nil
}

// UpdateEvent commits the event only if the stored version matches expectedVersion.
func (s *Store) UpdateEvent(ctx context.Context, event *store.Event, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.events[event.EventID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return store.ErrConditionFailed
	}
	event.Version = expectedVersion + 1
	s.events[event.EventID] = cloneEvent(event)
	return nil
}

// ListEventsByStatus returns all events with the given status, ordered by start time.
func (s *Store) ListEventsByStatus(ctx context.Context, status store.EventStatus) ([]store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []store.Event
	for _, ev := range s.events {
		if ev.Status == status {
			events = append(events, *cloneEvent(ev))
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].StartTime.Before(events[j].StartTime)
	})
	return events, nil
}

// GetVolunteer returns a copy of the volunteer or store.ErrNotFound.
func (s *Store) GetVolunteer(ctx context.Context, email string) (*store.Volunteer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.volunteers[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneVolunteer(v), nil
}

// CreateVolunteer stores the volunteer with version 1 if the email is unused.
func (s *Store) CreateVolunteer(ctx context.Context, volunteer *store.Volunteer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.volunteers[volunteer.Email]; ok {
		return store.ErrAlreadyExists
	}
	volunteer.Version = 1
	s.volunteers[volunteer.Email] = cloneVolunteer(volunteer)
	return nil
}

// UpdateVolunteer commits the volunteer only if the stored version matches expectedVersion.
func (s *Store) UpdateVolunteer(ctx context.Context, volunteer *store.Volunteer, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.volunteers[volunteer.Email]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return store.ErrConditionFailed
	}
	volunteer.Version = expectedVersion + 1
	s.volunteers[volunteer.Email] = cloneVolunteer(volunteer)
	return nil
}

// ListVolunteers returns all volunteers ordered by email.
func (s *Store) ListVolunteers(ctx context.Context) ([]store.Volunteer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var volunteers []store.Volunteer
	for _, v := range s.volunteers {
		volunteers = append(volunteers, *cloneVolunteer(v))
	}
	sort.Slice(volunteers, func(i, j int) bool {
		return volunteers[i].Email < volunteers[j].Email
	})
	return volunteers, nil
}

// GetRSVP returns a copy of the RSVP row for (eventID, email) or store.ErrNotFound.
func (s *Store) GetRSVP(ctx context.Context, eventID, email string) (*store.RSVP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rsvps[rsvpKey{eventID, email}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneRSVP(r), nil
}

// CreateRSVP stores the row with version 1 if the (eventID, email) pair is unused.
func (s *Store) CreateRSVP(ctx context.Context, rsvp *store.RSVP) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rsvpKey{rsvp.EventID, rsvp.Email}
	if _, ok := s.rsvps[key]; ok {
		return store.ErrAlreadyExists
	}
	rsvp.Version = 1
	s.rsvps[key] = cloneRSVP(rsvp)
	return nil
}

// UpdateRSVP commits the row only if the stored version matches expectedVersion.
func (s *Store) UpdateRSVP(ctx context.Context, rsvp *store.RSVP, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rsvpKey{rsvp.EventID, rsvp.Email}
	current, ok := s.rsvps[key]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return store.ErrConditionFailed
	}
	rsvp.Version = expectedVersion + 1
	s.rsvps[key] = cloneRSVP(rsvp)
	return nil
}

// ListEventRSVPs returns all RSVP rows for the event, ordered by creation time.
func (s *Store) ListEventRSVPs(ctx context.Context, eventID string) ([]store.RSVP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rsvps []store.RSVP
	for key, r := range s.rsvps {
		if key.eventID == eventID {
			rsvps = append(rsvps, *cloneRSVP(r))
		}
	}
	sortRSVPs(rsvps)
	return rsvps, nil
}

// ListVolunteerRSVPs returns all RSVP rows for the email, ordered by creation time.
func (s *Store) ListVolunteerRSVPs(ctx context.Context, email string) ([]store.RSVP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rsvps []store.RSVP
	for key, r := range s.rsvps {
		if key.email == email {
			rsvps = append(rsvps, *cloneRSVP(r))
		}
	}
	sortRSVPs(rsvps)
	return rsvps, nil
}

// GetSession returns the session for the token or store.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, token string) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *sess
	return &copied, nil
}

// PutSession stores or replaces the session.
func (s *Store) PutSession(ctx context.Context, session *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *session
	s.sessions[session.Token] = &copied
	return nil
}

// DeleteSession removes the session; deleting a missing token is not an error.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, token)
	return nil
}

// DeleteExpiredSessions removes all sessions that expired before now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, sess := range s.sessions {
		if sess.ExpiresAt.Before(now) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed, nil
}

func sortRSVPs(rsvps []store.RSVP) {
	sort.Slice(rsvps, func(i, j int) bool {
		if rsvps[i].CreatedAt.Equal(rsvps[j].CreatedAt) {
			return rsvps[i].Email < rsvps[j].Email
		}
		return rsvps[i].CreatedAt.Before(rsvps[j].CreatedAt)
	})
}

func cloneEvent(ev *store.Event) *store.Event {
	copied := *ev
	copied.HugoConfig = cloneMap(ev.HugoConfig)
	copied.Metadata = cloneMap(ev.Metadata)
	if ev.Location.Coordinates != nil {
		coords := *ev.Location.Coordinates
		copied.Location.Coordinates = &coords
	}
	return &copied
}

func cloneVolunteer(v *store.Volunteer) *store.Volunteer {
	copied := *v
	if v.CommunicationPreferences != nil {
		prefs := make(map[string]bool, len(v.CommunicationPreferences))
		for k, val := range v.CommunicationPreferences {
			prefs[k] = val
		}
		copied.CommunicationPreferences = prefs
	}
	copied.Metrics.FirstEventDate = cloneTime(v.Metrics.FirstEventDate)
	copied.Metrics.LastEventDate = cloneTime(v.Metrics.LastEventDate)
	return &copied
}

func cloneRSVP(r *store.RSVP) *store.RSVP {
	copied := *r
	copied.CancelledAt = cloneTime(r.CancelledAt)
	copied.NoShowMarkedAt = cloneTime(r.NoShowMarkedAt)
	if r.HoursBeforeEvent != nil {
		hours := *r.HoursBeforeEvent
		copied.HoursBeforeEvent = &hours
	}
	return &copied
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	copied := make(map[string]any, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return copied
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}
