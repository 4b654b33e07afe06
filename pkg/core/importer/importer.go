// Package importer bulk-loads historical events, volunteers, and RSVPs from a
// YAML fixture. Imports go through the same invariants as live traffic: no
// duplicate (event_id, email) pairs, and counters are recomputed from the
// imported rows afterwards rather than trusted from the fixture.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/shorelinestewards/rsvp-ledger/pkg/core/reconcile"
	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
)

// EventRecord is one event row in the fixture.
type EventRecord struct {
	EventID       string         `yaml:"event_id"`
	Title         string         `yaml:"title"`
	Description   string         `yaml:"description,omitempty"`
	StartTime     time.Time      `yaml:"start_time"`
	EndTime       time.Time      `yaml:"end_time"`
	Location      store.Location `yaml:"location,omitempty"`
	AttendanceCap int            `yaml:"attendance_cap"`
	Status        string         `yaml:"status,omitempty"`
	HugoConfig    map[string]any `yaml:"hugo_config,omitempty"`
	Metadata      map[string]any `yaml:"metadata,omitempty"`
}

// VolunteerRecord is one volunteer row in the fixture.
type VolunteerRecord struct {
	Email     string `yaml:"email"`
	FirstName string `yaml:"first_name,omitempty"`
	LastName  string `yaml:"last_name,omitempty"`
	Phone     string `yaml:"phone,omitempty"`
}

// RSVPRecord is one RSVP row in the fixture.
type RSVPRecord struct {
	EventID        string     `yaml:"event_id"`
	Email          string     `yaml:"email"`
	FirstName      string     `yaml:"first_name,omitempty"`
	LastName       string     `yaml:"last_name,omitempty"`
	Status         string     `yaml:"status,omitempty"`
	TimesCancelled int        `yaml:"times_cancelled,omitempty"`
	CancelledAt    *time.Time `yaml:"cancelled_at,omitempty"`
	CreatedAt      time.Time  `yaml:"created_at,omitempty"`
}

// Fixture is the full import file.
type Fixture struct {
	Events     []EventRecord     `yaml:"events,omitempty"`
	Volunteers []VolunteerRecord `yaml:"volunteers,omitempty"`
	RSVPs      []RSVPRecord      `yaml:"rsvps,omitempty"`
}

// Report summarizes an import run.
type Report struct {
	EventsImported     int      `json:"events_imported"`
	VolunteersImported int      `json:"volunteers_imported"`
	RSVPsImported      int      `json:"rsvps_imported"`
	Skipped            []string `json:"skipped,omitempty"`
}

// LoadFixture reads and parses a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse fixture file: %w", err)
	}
	return &fx, nil
}

// Import writes the fixture into the store. Rows whose key already exists are
// skipped and reported, never overwritten. RSVPs referencing an event or
// volunteer absent from both the fixture and the store are rejected, then a
// reconciliation pass rebuilds event counters and volunteer metrics from the
// imported rows.
func Import(ctx context.Context, st store.Store, logger *zap.Logger, fx *Fixture) (*Report, error) {
	report := &Report{}
	now := time.Now()

	for _, rec := range fx.Events {
		if rec.EventID == "" || rec.AttendanceCap < 1 || !rec.EndTime.After(rec.StartTime) {
			return nil, fmt.Errorf("invalid event record %q: cap and time range must satisfy the event invariants", rec.EventID)
		}
		status := store.EventStatus(rec.Status)
		if status == "" {
			status = store.EventActive
		}
		ev := &store.Event{
			EventID:       rec.EventID,
			Title:         rec.Title,
			Description:   rec.Description,
			StartTime:     rec.StartTime,
			EndTime:       rec.EndTime,
			Location:      rec.Location,
			AttendanceCap: rec.AttendanceCap,
			Status:        status,
			HugoConfig:    rec.HugoConfig,
			Metadata:      rec.Metadata,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err := st.CreateEvent(ctx, ev)
		if errors.Is(err, store.ErrAlreadyExists) {
			report.Skipped = append(report.Skipped, "event "+rec.EventID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to import event %s: %w", rec.EventID, err)
		}
		report.EventsImported++
	}

	for _, rec := range fx.Volunteers {
		email := store.NormalizeEmail(rec.Email)
		if email == "" {
			return nil, fmt.Errorf("volunteer record with empty email")
		}
		v := &store.Volunteer{
			Email:           email,
			FirstName:       rec.FirstName,
			LastName:        rec.LastName,
			Phone:           rec.Phone,
			ProfileComplete: rec.FirstName != "" && rec.LastName != "",
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		err := st.CreateVolunteer(ctx, v)
		if errors.Is(err, store.ErrAlreadyExists) {
			report.Skipped = append(report.Skipped, "volunteer "+email)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to import volunteer %s: %w", email, err)
		}
		report.VolunteersImported++
	}

	for _, rec := range fx.RSVPs {
		email := store.NormalizeEmail(rec.Email)
		if rec.EventID == "" || email == "" {
			return nil, fmt.Errorf("rsvp record missing event_id or email")
		}
		// Referential integrity is the importer's job, not the store's.
		if _, err := st.GetEvent(ctx, rec.EventID); err != nil {
			return nil, fmt.Errorf("rsvp references unknown event %s: %w", rec.EventID, err)
		}
		if err := ensureVolunteer(ctx, st, email, rec.FirstName, rec.LastName, now); err != nil {
			return nil, err
		}

		status := store.RSVPStatus(rec.Status)
		if status == "" {
			status = store.RSVPActive
		}
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		row := &store.RSVP{
			EventID:        rec.EventID,
			Email:          email,
			FirstName:      rec.FirstName,
			LastName:       rec.LastName,
			Status:         status,
			TimesCancelled: rec.TimesCancelled,
			CancelledAt:    rec.CancelledAt,
			CreatedAt:      createdAt,
			UpdatedAt:      now,
		}
		if status == store.RSVPCancelled && row.TimesCancelled == 0 {
			row.TimesCancelled = 1
		}
		err := st.CreateRSVP(ctx, row)
		if errors.Is(err, store.ErrAlreadyExists) {
			report.Skipped = append(report.Skipped, fmt.Sprintf("rsvp %s/%s", rec.EventID, email))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to import rsvp %s/%s: %w", rec.EventID, email, err)
		}
		report.RSVPsImported++
	}

	// Counters and metrics come from the imported rows, not the fixture.
	if _, err := reconcile.Run(ctx, st, logger); err != nil {
		return nil, fmt.Errorf("post-import reconciliation failed: %w", err)
	}

	logger.Info("Import finished",
		zap.Int("events", report.EventsImported),
		zap.Int("volunteers", report.VolunteersImported),
		zap.Int("rsvps", report.RSVPsImported),
		zap.Int("skipped", len(report.Skipped)))
	return report, nil
}

func ensureVolunteer(ctx context.Context, st store.Store, email, firstName, lastName string, now time.Time) error {
	_, err := st.GetVolunteer(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to check volunteer %s: %w", email, err)
	}
	v := &store.Volunteer{
		Email:           email,
		FirstName:       firstName,
		LastName:        lastName,
		ProfileComplete: firstName != "" && lastName != "",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := st.CreateVolunteer(ctx, v); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return fmt.Errorf("failed to create volunteer %s: %w", email, err)
	}
	return nil
}
