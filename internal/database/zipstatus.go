package database

import (
	"context"
	"fmt"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
)

// EnvelopesForZipFile returns every envelope ever persisted for a zip file
// name, newest first, with children attached. A file reuploaded after a
// rejection can legitimately have more than one.
func (s *Store) EnvelopesForZipFile(ctx context.Context, zipFileName string) ([]envelope.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+envelopeColumns+` FROM envelopes
		WHERE zip_file_name = $1 ORDER BY created_at DESC`, zipFileName)
	if err != nil {
		return nil, fmt.Errorf("query envelopes by zip file: %w", err)
	}
	defer rows.Close()

	envs, err := scanEnvelopes(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, envs); err != nil {
		return nil, err
	}
	return envs, nil
}

// ZipFileNamesByDcnPrefix finds the zip files that carried a document whose
// control number starts with the given prefix, most recently scanned first.
func (s *Store) ZipFileNamesByDcnPrefix(ctx context.Context, dcnPrefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.zip_file_name
		FROM scannable_items si
		JOIN envelopes e ON e.id = si.envelope_id
		WHERE si.document_control_number LIKE $1 || '%'
		ORDER BY si.scanning_date DESC`, dcnPrefix)
	if err != nil {
		return nil, fmt.Errorf("query zip files by dcn: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan zip file name: %w", err)
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, rows.Err()
}
