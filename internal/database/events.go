package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
)

// InsertEvent appends an event that has no envelope row to attach to, such
// as a rejection before the metafile ever parsed. Returns the event id.
func (s *Store) InsertEvent(ctx context.Context, container, zipFileName string, kind envelope.EventKind, reason string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO process_events (container, zip_file_name, event, reason)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		container, zipFileName, kind, reason).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return id, nil
}

// EventsForZipFile returns every event recorded for a zip file name across
// all containers, oldest first.
func (s *Store) EventsForZipFile(ctx context.Context, zipFileName string) ([]envelope.ProcessEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, envelope_id, container, zip_file_name, event, created_at, reason
		FROM process_events WHERE zip_file_name = $1
		ORDER BY created_at ASC, id ASC`, zipFileName)
	if err != nil {
		return nil, fmt.Errorf("query events by zip file: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsForFile returns the events for one blob in one container, oldest
// first.
func (s *Store) EventsForFile(ctx context.Context, container, zipFileName string) ([]envelope.ProcessEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, envelope_id, container, zip_file_name, event, created_at, reason
		FROM process_events WHERE container = $1 AND zip_file_name = $2
		ORDER BY created_at ASC, id ASC`, container, zipFileName)
	if err != nil {
		return nil, fmt.Errorf("query events by file: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]envelope.ProcessEvent, error) {
	var events []envelope.ProcessEvent
	for rows.Next() {
		var (
			ev    envelope.ProcessEvent
			envID uuid.NullUUID
		)
		err := rows.Scan(&ev.ID, &envID, &ev.Container, &ev.ZipFileName,
			&ev.Kind, &ev.CreatedAt, &ev.Reason)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if envID.Valid {
			id := envID.UUID
			ev.EnvelopeID = &id
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
