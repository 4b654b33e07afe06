package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
)

const eventColumns = `event_id, title, description, start_time, end_time, location,
	attendance_cap, status, active_count, cancellation_reason, hugo_config, metadata,
	created_at, updated_at, version`

// GetEvent retrieves one event by ID.
func (d *DB) GetEvent(ctx context.Context, eventID string) (*store.Event, error) {
	row := d.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE event_id = $1`, eventID)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query event: %w", err)
	}
	return ev, nil
}

// CreateEvent inserts the event with version 1; the insert commits only if
// the event_id is unused.
func (d *DB) CreateEvent(ctx context.Context, event *store.Event) error {
	location, err := marshalJSON(event.Location)
	if err != nil {
		return err
	}
	hugoConfig, err := marshalJSON(event.HugoConfig)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(event.Metadata)
	if err != nil {
		return err
	}

	event.Version = 1
	tag, err := d.pool.Exec(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, event.Title, event.Description, event.StartTime, event.EndTime, location,
		event.AttendanceCap, event.Status, event.ActiveCount, event.CancellationReason, hugoConfig, metadata,
		event.CreatedAt, event.UpdatedAt, event.Version)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

// UpdateEvent commits the event only if the stored version still matches
// expectedVersion; this single-row guard is the conditional-write primitive.
func (d *DB) UpdateEvent(ctx context.Context, event *store.Event, expectedVersion int64) error {
	location, err := marshalJSON(event.Location)
	if err != nil {
		return err
	}
	hugoConfig, err := marshalJSON(event.HugoConfig)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(event.Metadata)
	if err != nil {
		return err
	}

	tag, err := d.pool.Exec(ctx, `
		UPDATE events
		SET title = $2, description = $3, start_time = $4, end_time = $5, location = $6,
			attendance_cap = $7, status = $8, active_count = $9, cancellation_reason = $10,
			hugo_config = $11, metadata = $12, updated_at = $13, version = version + 1
		WHERE event_id = $1 AND version = $14
	`, event.EventID, event.Title, event.Description, event.StartTime, event.EndTime, location,
		event.AttendanceCap, event.Status, event.ActiveCount, event.CancellationReason,
		hugoConfig, metadata, event.UpdatedAt, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConditionFailed
	}
	event.Version = expectedVersion + 1
	return nil
}

// ListEventsByStatus retrieves all events with the given status, ordered by
// start time.
func (d *DB) ListEventsByStatus(ctx context.Context, status store.EventStatus) ([]store.Event, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM events WHERE status = $1 ORDER BY start_time
	`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []store.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

func scanEvent(row pgx.Row) (*store.Event, error) {
	var ev store.Event
	var location, hugoConfig, metadata *[]byte
	if err := row.Scan(
		&ev.EventID, &ev.Title, &ev.Description, &ev.StartTime, &ev.EndTime, &location,
		&ev.AttendanceCap, &ev.Status, &ev.ActiveCount, &ev.CancellationReason, &hugoConfig, &metadata,
		&ev.CreatedAt, &ev.UpdatedAt, &ev.Version,
	); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(location, &ev.Location); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(hugoConfig, &ev.HugoConfig); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &ev.Metadata); err != nil {
		return nil, err
	}
	return &ev, nil
}
