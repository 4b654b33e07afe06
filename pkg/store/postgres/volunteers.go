package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
)

const volunteerColumns = `email, first_name, last_name, phone, profile_complete,
	communication_preferences, metrics, created_at, updated_at, version`

// GetVolunteer retrieves one volunteer by email.
func (d *DB) GetVolunteer(ctx context.Context, email string) (*store.Volunteer, error) {
	row := d.pool.QueryRow(ctx, `SELECT `+volunteerColumns+` FROM volunteers WHERE email = $1`, email)
	v, err := scanVolunteer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query volunteer: %w", err)
	}
	return v, nil
}

// CreateVolunteer inserts the volunteer with version 1 if the email is unused.
func (d *DB) CreateVolunteer(ctx context.Context, volunteer *store.Volunteer) error {
	prefs, err := marshalJSON(volunteer.CommunicationPreferences)
	if err != nil {
		return err
	}
	metrics, err := marshalJSON(volunteer.Metrics)
	if err != nil {
		return err
	}

	volunteer.Version = 1
	tag, err := d.pool.Exec(ctx, `
		INSERT INTO volunteers (`+volunteerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (email) DO NOTHING
	`, volunteer.Email, volunteer.FirstName, volunteer.LastName, volunteer.Phone, volunteer.ProfileComplete,
		prefs, metrics, volunteer.CreatedAt, volunteer.UpdatedAt, volunteer.Version)
	if err != nil {
		return fmt.Errorf("failed to insert volunteer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

// UpdateVolunteer commits the volunteer only if the stored version matches
// expectedVersion.
func (d *DB) UpdateVolunteer(ctx context.Context, volunteer *store.Volunteer, expectedVersion int64) error {
	prefs, err := marshalJSON(volunteer.CommunicationPreferences)
	if err != nil {
		return err
	}
	metrics, err := marshalJSON(volunteer.Metrics)
	if err != nil {
		return err
	}

	tag, err := d.pool.Exec(ctx, `
		UPDATE volunteers
		SET first_name = $2, last_name = $3, phone = $4, profile_complete = $5,
			communication_preferences = $6, metrics = $7, updated_at = $8, version = version + 1
		WHERE email = $1 AND version = $9
	`, volunteer.Email, volunteer.FirstName, volunteer.LastName, volunteer.Phone, volunteer.ProfileComplete,
		prefs, metrics, volunteer.UpdatedAt, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update volunteer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConditionFailed
	}
	volunteer.Version = expectedVersion + 1
	return nil
}

// ListVolunteers retrieves all volunteers ordered by email.
func (d *DB) ListVolunteers(ctx context.Context) ([]store.Volunteer, error) {
	rows, err := d.pool.Query(ctx, `SELECT `+volunteerColumns+` FROM volunteers ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("failed to query volunteers: %w", err)
	}
	defer rows.Close()

	var volunteers []store.Volunteer
	for rows.Next() {
		v, err := scanVolunteer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan volunteer: %w", err)
		}
		volunteers = append(volunteers, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating volunteers: %w", err)
	}
	return volunteers, nil
}

func scanVolunteer(row pgx.Row) (*store.Volunteer, error) {
	var v store.Volunteer
	var prefs, metrics *[]byte
	if err := row.Scan(
		&v.Email, &v.FirstName, &v.LastName, &v.Phone, &v.ProfileComplete,
		&prefs, &metrics, &v.CreatedAt, &v.UpdatedAt, &v.Version,
	); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(prefs, &v.CommunicationPreferences); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metrics, &v.Metrics); err != nil {
		return nil, err
	}
	return &v, nil
}
