package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
)

const envelopeColumns = `id, container, po_box, jurisdiction, delivery_date, opening_date,
	zip_file_createddate, zip_file_name, case_number, classification, status,
	upload_failure_count, zip_deleted, created_at, ccd_id, ccd_action`

// Insert persists a freshly built envelope together with its children and
// the ZIPFILE_PROCESSING_STARTED event, all in one commit.
func (s *Store) Insert(ctx context.Context, env *envelope.Envelope) error {
	if env.ID == uuid.Nil {
		env.ID = uuid.New()
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	env.Status = envelope.StatusCreated

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO envelopes (id, container, po_box, jurisdiction, delivery_date,
				opening_date, zip_file_createddate, zip_file_name, case_number,
				classification, status, upload_failure_count, zip_deleted, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, FALSE, $12)`,
			env.ID, env.Container, env.PoBox, env.Jurisdiction, env.DeliveryDate,
			env.OpeningDate, env.ZipFileCreatedDate, env.ZipFileName, env.CaseNumber,
			env.Classification, env.Status, env.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert envelope: %w", err)
		}

		for i := range env.ScannableItems {
			item := &env.ScannableItems[i]
			if item.ID == uuid.Nil {
				item.ID = uuid.New()
			}
			var ocr interface{}
			if len(item.OcrData) > 0 {
				data, err := json.Marshal(item.OcrData)
				if err != nil {
					return fmt.Errorf("marshal ocr data: %w", err)
				}
				ocr = data
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO scannable_items (id, envelope_id, document_control_number,
					scanning_date, ocr_accuracy, manual_intervention, next_action,
					next_action_date, ocr_data, file_name, notes, document_type,
					document_subtype, document_url)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, '')`,
				item.ID, env.ID, item.DocumentControlNumber, item.ScanningDate,
				item.OcrAccuracy, item.ManualIntervention, item.NextAction,
				nullTime(item.NextActionDate), ocr, item.FileName, item.Notes,
				item.DocumentType, item.DocumentSubtype)
			if err != nil {
				return fmt.Errorf("insert scannable item: %w", err)
			}
		}

		for i := range env.Payments {
			p := &env.Payments[i]
			if p.ID == uuid.Nil {
				p.ID = uuid.New()
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO payments (id, envelope_id, document_control_number, method,
					payment_instrument_number, amount, currency)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				p.ID, env.ID, p.DocumentControlNumber, p.Method,
				p.PaymentInstrumentNumber, p.Amount, p.Currency)
			if err != nil {
				return fmt.Errorf("insert payment: %w", err)
			}
		}

		for i := range env.NonScannableItems {
			n := &env.NonScannableItems[i]
			if n.ID == uuid.Nil {
				n.ID = uuid.New()
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO non_scannable_items (id, envelope_id, document_control_number,
					item_type, notes)
				VALUES ($1, $2, $3, $4, $5)`,
				n.ID, env.ID, n.DocumentControlNumber, n.ItemType, n.Notes)
			if err != nil {
				return fmt.Errorf("insert non-scannable item: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO process_events (envelope_id, container, zip_file_name, event, reason)
			VALUES ($1, $2, $3, $4, '')`,
			env.ID, env.Container, env.ZipFileName, envelope.EventZipfileProcessingStarted)
		if err != nil {
			return fmt.Errorf("insert processing started event: %w", err)
		}
		return nil
	})
}

// TransitionOptions carries the per-transition side effects that must land
// in the same commit as the event row.
type TransitionOptions struct {
	Reason string
	// File name to document-store URL, applied on DOC_UPLOADED.
	DocumentURLs map[string]string
	// Downstream case reference, applied on DOC_CONSUMED.
	CcdID     string
	CcdAction string
}

// Transition appends an event and moves the envelope to the status the event
// induces. The row is locked for the duration so concurrent drivers
// serialize; losers get a TransitionError carrying the state they lost to.
// Envelopes whose source blob is already deleted accept no transitions.
func (s *Store) Transition(ctx context.Context, id uuid.UUID, kind envelope.EventKind, opts TransitionOptions) error {
	target, ok := envelope.StatusFromEvent(kind)
	if !ok {
		return fmt.Errorf("event %s does not induce a status", kind)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			current    envelope.Status
			container  string
			zipName    string
			zipDeleted bool
		)
		err := tx.QueryRowContext(ctx, `
			SELECT status, container, zip_file_name, zip_deleted
			FROM envelopes WHERE id = $1 FOR UPDATE`, id).
			Scan(&current, &container, &zipName, &zipDeleted)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock envelope: %w", err)
		}

		if zipDeleted || !current.CanTransitionTo(target) {
			return &TransitionError{EnvelopeID: id.String(), Current: current, Requested: target}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO process_events (envelope_id, container, zip_file_name, event, reason)
			VALUES ($1, $2, $3, $4, $5)`,
			id, container, zipName, kind, opts.Reason)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		var failureIncrement int
		if kind == envelope.EventDocUploadFailure {
			failureIncrement = 1
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE envelopes SET
				status = $2,
				upload_failure_count = upload_failure_count + $3,
				ccd_id = CASE WHEN $4 = '' THEN ccd_id ELSE $4 END,
				ccd_action = CASE WHEN $5 = '' THEN ccd_action ELSE $5 END
			WHERE id = $1`,
			id, target, failureIncrement, opts.CcdID, opts.CcdAction)
		if err != nil {
			return fmt.Errorf("update envelope status: %w", err)
		}

		fileNames := make([]string, 0, len(opts.DocumentURLs))
		for name := range opts.DocumentURLs {
			fileNames = append(fileNames, name)
		}
		sort.Strings(fileNames)
		for _, name := range fileNames {
			_, err = tx.ExecContext(ctx, `
				UPDATE scannable_items SET document_url = $3
				WHERE envelope_id = $1 AND file_name = $2`,
				id, name, opts.DocumentURLs[name])
			if err != nil {
				return fmt.Errorf("update document url for %s: %w", name, err)
			}
		}
		return nil
	})
}

// FindByContainerAndFile returns the current (newest) envelope for a blob,
// without children. ErrNotFound when the blob was never persisted.
func (s *Store) FindByContainerAndFile(ctx context.Context, container, zipFileName string) (*envelope.Envelope, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+envelopeColumns+` FROM envelopes
		WHERE container = $1 AND zip_file_name = $2
		ORDER BY created_at DESC LIMIT 1`, container, zipFileName)
	env, err := scanEnvelope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return env, err
}

// FindEnvelopesToUpload lists upload candidates oldest first, with children
// attached: CREATED or UPLOAD_FAILURE with fewer than maxFailures failed
// attempts.
func (s *Store) FindEnvelopesToUpload(ctx context.Context, maxFailures int) ([]envelope.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+envelopeColumns+` FROM envelopes
		WHERE status IN ('CREATED', 'UPLOAD_FAILURE') AND upload_failure_count < $1
		ORDER BY created_at ASC`, maxFailures)
	if err != nil {
		return nil, fmt.Errorf("query upload candidates: %w", err)
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

// FindByStatus lists envelopes currently in the given status, oldest first,
// with children attached.
func (s *Store) FindByStatus(ctx context.Context, status envelope.Status) ([]envelope.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+envelopeColumns+` FROM envelopes
		WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("query by status: %w", err)
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

// FindByJurisdiction lists a jurisdiction's envelopes, newest first, with
// children attached. A non-nil status narrows the result.
func (s *Store) FindByJurisdiction(ctx context.Context, jurisdiction string, status *envelope.Status) ([]envelope.Envelope, error) {
	query := `SELECT ` + envelopeColumns + ` FROM envelopes WHERE jurisdiction = $1`
	args := []interface{}{jurisdiction}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query by jurisdiction: %w", err)
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

// FindCompleteToSweep lists envelopes whose source blob may now be removed:
// confirmed consumed, or processed/notified longer ago than the cutoff.
func (s *Store) FindCompleteToSweep(ctx context.Context, container string, cutoff time.Time) ([]envelope.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+envelopeColumns+` FROM envelopes
		WHERE container = $1 AND zip_deleted = FALSE
		  AND (status = 'CONSUMED'
		       OR (status IN ('PROCESSED', 'NOTIFICATION_SENT') AND created_at < $2))
		ORDER BY created_at ASC`, container, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query sweep candidates: %w", err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

// MarkZipDeleted records that the source blob is gone. The envelope row
// itself is retained for audit.
func (s *Store) MarkZipDeleted(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE envelopes SET zip_deleted = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark zip deleted: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// StaleBlob identifies an input blob whose envelope has not completed.
type StaleBlob struct {
	Container   string
	ZipFileName string
	CreatedAt   time.Time
}

// StaleIncomplete lists envelopes created before the cutoff that never
// reached CONSUMED, oldest first.
func (s *Store) StaleIncomplete(ctx context.Context, cutoff time.Time) ([]StaleBlob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT container, zip_file_name, created_at FROM envelopes
		WHERE status <> 'CONSUMED' AND zip_deleted = FALSE AND created_at < $1
		ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stale envelopes: %w", err)
	}
	defer rows.Close()

	var out []StaleBlob
	for rows.Next() {
		var b StaleBlob
		if err := rows.Scan(&b.Container, &b.ZipFileName, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEnvelope(row rowScanner) (*envelope.Envelope, error) {
	var env envelope.Envelope
	err := row.Scan(&env.ID, &env.Container, &env.PoBox, &env.Jurisdiction,
		&env.DeliveryDate, &env.OpeningDate, &env.ZipFileCreatedDate,
		&env.ZipFileName, &env.CaseNumber, &env.Classification, &env.Status,
		&env.UploadFailureCount, &env.ZipDeleted, &env.CreatedAt,
		&env.CcdID, &env.CcdAction)
	if err != nil {
		return nil, err
	}
	return &env, nil
}

func scanEnvelopes(rows *sql.Rows) ([]envelope.Envelope, error) {
	var envs []envelope.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("scan envelope: %w", err)
		}
		envs = append(envs, *env)
	}
	return envs, rows.Err()
}

// loadChildren attaches scannable items, payments, and non-scannable items
// to the given envelopes in three batched queries.
func (s *Store) loadChildren(ctx context.Context, envs []envelope.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*envelope.Envelope, len(envs))
	ids := make([]string, 0, len(envs))
	for i := range envs {
		byID[envs[i].ID] = &envs[i]
		ids = append(ids, envs[i].ID.String())
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT envelope_id, id, document_control_number, scanning_date, ocr_accuracy,
			manual_intervention, next_action, next_action_date, ocr_data, file_name,
			notes, document_type, document_subtype, document_url
		FROM scannable_items WHERE envelope_id = ANY($1) ORDER BY file_name ASC`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query scannable items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			envID          uuid.UUID
			item           envelope.ScannableItem
			nextActionDate sql.NullTime
			ocr            []byte
		)
		err := rows.Scan(&envID, &item.ID, &item.DocumentControlNumber,
			&item.ScanningDate, &item.OcrAccuracy, &item.ManualIntervention,
			&item.NextAction, &nextActionDate, &ocr, &item.FileName, &item.Notes,
			&item.DocumentType, &item.DocumentSubtype, &item.DocumentURL)
		if err != nil {
			return fmt.Errorf("scan scannable item: %w", err)
		}
		if nextActionDate.Valid {
			item.NextActionDate = nextActionDate.Time
		}
		if len(ocr) > 0 {
			if err := json.Unmarshal(ocr, &item.OcrData); err != nil {
				return fmt.Errorf("decode ocr data: %w", err)
			}
		}
		if env := byID[envID]; env != nil {
			env.ScannableItems = append(env.ScannableItems, item)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	payRows, err := s.db.QueryContext(ctx, `
		SELECT envelope_id, id, document_control_number, method,
			payment_instrument_number, amount, currency
		FROM payments WHERE envelope_id = ANY($1) ORDER BY document_control_number ASC`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query payments: %w", err)
	}
	defer payRows.Close()
	for payRows.Next() {
		var (
			envID uuid.UUID
			p     envelope.Payment
		)
		err := payRows.Scan(&envID, &p.ID, &p.DocumentControlNumber, &p.Method,
			&p.PaymentInstrumentNumber, &p.Amount, &p.Currency)
		if err != nil {
			return fmt.Errorf("scan payment: %w", err)
		}
		if env := byID[envID]; env != nil {
			env.Payments = append(env.Payments, p)
		}
	}
	if err := payRows.Err(); err != nil {
		return err
	}

	nonRows, err := s.db.QueryContext(ctx, `
		SELECT envelope_id, id, document_control_number, item_type, notes
		FROM non_scannable_items WHERE envelope_id = ANY($1)
		ORDER BY document_control_number ASC`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query non-scannable items: %w", err)
	}
	defer nonRows.Close()
	for nonRows.Next() {
		var (
			envID uuid.UUID
			n     envelope.NonScannableItem
		)
		if err := nonRows.Scan(&envID, &n.ID, &n.DocumentControlNumber, &n.ItemType, &n.Notes); err != nil {
			return fmt.Errorf("scan non-scannable item: %w", err)
		}
		if env := byID[envID]; env != nil {
			env.NonScannableItems = append(env.NonScannableItems, n)
		}
	}
	return nonRows.Err()
}
