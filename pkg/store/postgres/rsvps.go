package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
)

const rsvpColumns = `event_id, email, first_name, last_name, status, additional_comments,
	times_cancelled, late_cancellation, cancellation_reason, attempt_token,
	cancelled_at, hours_before_event, no_show_marked_at, created_at, updated_at, version`

// GetRSVP retrieves the RSVP row for the (eventID, email) pair.
func (d *DB) GetRSVP(ctx context.Context, eventID, email string) (*store.RSVP, error) {
	row := d.pool.QueryRow(ctx,
		`SELECT `+rsvpColumns+` FROM rsvps WHERE event_id = $1 AND email = $2`, eventID, email)
	r, err := scanRSVP(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rsvp: %w", err)
	}
	return r, nil
}

// CreateRSVP inserts the row with version 1; the insert commits only if the
// (event_id, email) pair is unused, which is what makes duplicate signups
// impossible even under concurrent submits.
func (d *DB) CreateRSVP(ctx context.Context, rsvp *store.RSVP) error {
	rsvp.Version = 1
	tag, err := d.pool.Exec(ctx, `
		INSERT INTO rsvps (`+rsvpColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (event_id, email) DO NOTHING
	`, rsvp.EventID, rsvp.Email, rsvp.FirstName, rsvp.LastName, rsvp.Status, rsvp.AdditionalComments,
		rsvp.TimesCancelled, rsvp.LateCancellation, rsvp.CancellationReason, rsvp.AttemptToken,
		rsvp.CancelledAt, rsvp.HoursBeforeEvent, rsvp.NoShowMarkedAt, rsvp.CreatedAt, rsvp.UpdatedAt, rsvp.Version)
	if err != nil {
		return fmt.Errorf("failed to insert rsvp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

// UpdateRSVP commits the row only if the stored version matches expectedVersion.
func (d *DB) UpdateRSVP(ctx context.Context, rsvp *store.RSVP, expectedVersion int64) error {
	tag, err := d.pool.Exec(ctx, `
		UPDATE rsvps
		SET first_name = $3, last_name = $4, status = $5, additional_comments = $6,
			times_cancelled = $7, late_cancellation = $8, cancellation_reason = $9, attempt_token = $10,
			cancelled_at = $11, hours_before_event = $12, no_show_marked_at = $13, updated_at = $14,
			version = version + 1
		WHERE event_id = $1 AND email = $2 AND version = $15
	`, rsvp.EventID, rsvp.Email, rsvp.FirstName, rsvp.LastName, rsvp.Status, rsvp.AdditionalComments,
		rsvp.TimesCancelled, rsvp.LateCancellation, rsvp.CancellationReason, rsvp.AttemptToken,
		rsvp.CancelledAt, rsvp.HoursBeforeEvent, rsvp.NoShowMarkedAt, rsvp.UpdatedAt, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update rsvp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConditionFailed
	}
	rsvp.Version = expectedVersion + 1
	return nil
}

// ListEventRSVPs retrieves all RSVP rows for an event, ordered by creation time.
func (d *DB) ListEventRSVPs(ctx context.Context, eventID string) ([]store.RSVP, error) {
	return d.listRSVPs(ctx,
		`SELECT `+rsvpColumns+` FROM rsvps WHERE event_id = $1 ORDER BY created_at, email`, eventID)
}

// ListVolunteerRSVPs retrieves all RSVP rows for an email, ordered by creation time.
func (d *DB) ListVolunteerRSVPs(ctx context.Context, email string) ([]store.RSVP, error) {
	return d.listRSVPs(ctx,
		`SELECT `+rsvpColumns+` FROM rsvps WHERE email = $1 ORDER BY created_at, event_id`, email)
}

func (d *DB) listRSVPs(ctx context.Context, query string, arg any) ([]store.RSVP, error) {
	rows, err := d.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query rsvps: %w", err)
	}
	defer rows.Close()

	var rsvps []store.RSVP
	for rows.Next() {
		r, err := scanRSVP(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rsvp: %w", err)
		}
		rsvps = append(rsvps, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rsvps: %w", err)
	}
	return rsvps, nil
}

func scanRSVP(row pgx.Row) (*store.RSVP, error) {
	var r store.RSVP
	if err := row.Scan(
		&r.EventID, &r.Email, &r.FirstName, &r.LastName, &r.Status, &r.AdditionalComments,
		&r.TimesCancelled, &r.LateCancellation, &r.CancellationReason, &r.AttemptToken,
		&r.CancelledAt, &r.HoursBeforeEvent, &r.NoShowMarkedAt, &r.CreatedAt, &r.UpdatedAt, &r.Version,
	); err != nil {
		return nil, err
	}
	return &r, nil
}
