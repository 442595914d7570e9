package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
)

// ContainerCounts is one row of the daily count summary. A zip file counts
// as received on the date of its first event; it counts as rejected when any
// of its events is a failure event.
type ContainerCounts struct {
	Container string
	Received  int
	Rejected  int
}

// CountSummary aggregates received and rejected zip file counts per
// container for first events inside [from, to). Rejected files carry events
// only, so the summary is computed from process_events rather than
// envelopes.
func (s *Store) CountSummary(ctx context.Context, from, to time.Time) ([]ContainerCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH zip_files AS (
			SELECT container, zip_file_name,
				MIN(created_at) AS received_at,
				BOOL_OR(event IN ('FILE_VALIDATION_FAILURE', 'DOC_SIGNATURE_FAILURE', 'DOC_FAILURE')) AS rejected
			FROM process_events
			GROUP BY container, zip_file_name
		)
		SELECT container,
			COUNT(*) AS received,
			COUNT(*) FILTER (WHERE rejected) AS rejected
		FROM zip_files
		WHERE received_at >= $1 AND received_at < $2
		GROUP BY container
		ORDER BY container ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query count summary: %w", err)
	}
	defer rows.Close()

	var out []ContainerCounts
	for rows.Next() {
		var c ContainerCounts
		if err := rows.Scan(&c.Container, &c.Received, &c.Rejected); err != nil {
			return nil, fmt.Errorf("scan count summary: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ZipFileSummaryRow describes one zip file for the summary report. Envelope
// fields are empty when the file was rejected before an envelope existed;
// LastEvent then tells the failure.
type ZipFileSummaryRow struct {
	Container      string
	ZipFileName    string
	ReceivedAt     time.Time
	CompletedAt    time.Time
	LastEvent      envelope.EventKind
	Status         envelope.Status
	Classification string
	CcdID          string
	CcdAction      string
}

// ZipFilesSummary lists every zip file first seen inside [from, to), oldest
// first, joined against its newest envelope and its confirmation event.
// Empty container and classification arguments match everything.
func (s *Store) ZipFilesSummary(ctx context.Context, from, to time.Time, container, classification string) ([]ZipFileSummaryRow, error) {
	query := `
		WITH zip_files AS (
			SELECT container, zip_file_name, MIN(created_at) AS received_at
			FROM process_events
			GROUP BY container, zip_file_name
		)
		SELECT zf.container, zf.zip_file_name, zf.received_at,
			last_event.event, consumed.created_at,
			env.status, env.classification, env.ccd_id, env.ccd_action
		FROM zip_files zf
		LEFT JOIN LATERAL (
			SELECT event FROM process_events pe
			WHERE pe.container = zf.container AND pe.zip_file_name = zf.zip_file_name
			ORDER BY pe.created_at DESC, pe.id DESC LIMIT 1
		) last_event ON TRUE
		LEFT JOIN LATERAL (
			SELECT created_at FROM process_events pe
			WHERE pe.container = zf.container AND pe.zip_file_name = zf.zip_file_name
				AND pe.event = 'DOC_CONSUMED'
			ORDER BY pe.created_at DESC LIMIT 1
		) consumed ON TRUE
		LEFT JOIN LATERAL (
			SELECT status, classification, ccd_id, ccd_action FROM envelopes e
			WHERE e.container = zf.container AND e.zip_file_name = zf.zip_file_name
			ORDER BY e.created_at DESC LIMIT 1
		) env ON TRUE
		WHERE zf.received_at >= $1 AND zf.received_at < $2`
	args := []interface{}{from, to}
	if container != "" {
		args = append(args, container)
		query += fmt.Sprintf(" AND zf.container = $%d", len(args))
	}
	if classification != "" {
		args = append(args, classification)
		query += fmt.Sprintf(" AND env.classification = $%d", len(args))
	}
	query += " ORDER BY zf.received_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query zip files summary: %w", err)
	}
	defer rows.Close()

	var out []ZipFileSummaryRow
	for rows.Next() {
		var (
			r              ZipFileSummaryRow
			lastEvent      sql.NullString
			completedAt    sql.NullTime
			status         sql.NullString
			classification sql.NullString
			ccdID          sql.NullString
			ccdAction      sql.NullString
		)
		err := rows.Scan(&r.Container, &r.ZipFileName, &r.ReceivedAt,
			&lastEvent, &completedAt, &status, &classification, &ccdID, &ccdAction)
		if err != nil {
			return nil, fmt.Errorf("scan zip files summary: %w", err)
		}
		r.LastEvent = envelope.EventKind(lastEvent.String)
		if completedAt.Valid {
			r.CompletedAt = completedAt.Time
		}
		r.Status = envelope.Status(status.String)
		r.Classification = classification.String
		r.CcdID = ccdID.String
		r.CcdAction = ccdAction.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReceivedFile identifies a zip file the pipeline has seen, regardless of
// whether it was accepted.
type ReceivedFile struct {
	Container   string
	ZipFileName string
}

// ReceivedFiles lists the zip files whose first event falls inside
// [from, to). Used by reconciliation against supplier statements.
func (s *Store) ReceivedFiles(ctx context.Context, from, to time.Time) ([]ReceivedFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT container, zip_file_name
		FROM process_events
		GROUP BY container, zip_file_name
		HAVING MIN(created_at) >= $1 AND MIN(created_at) < $2
		ORDER BY container ASC, zip_file_name ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query received files: %w", err)
	}
	defer rows.Close()

	var out []ReceivedFile
	for rows.Next() {
		var f ReceivedFile
		if err := rows.Scan(&f.Container, &f.ZipFileName); err != nil {
			return nil, fmt.Errorf("scan received file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
