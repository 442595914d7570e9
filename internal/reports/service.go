// Package reports builds the operational report payloads served by the API:
// daily count summaries, per-zip summaries with CSV export, rejected-file
// listings, and reconciliation against supplier statements.
package reports

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/blobstore"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/config"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/database"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
)

var log = logrus.WithField("prefix", "reports")

const (
	dateLayout      = "2006-01-02"
	timeLayout      = "15:04:05"
	timestampLayout = "2006-01-02 15:04:05"
)

// Store is the slice of the envelope store the report service needs.
type Store interface {
	CountSummary(ctx context.Context, from, to time.Time) ([]database.ContainerCounts, error)
	ZipFilesSummary(ctx context.Context, from, to time.Time, container, classification string) ([]database.ZipFileSummaryRow, error)
	ReceivedFiles(ctx context.Context, from, to time.Time) ([]database.ReceivedFile, error)
}

// Blobs is the blob-store slice the report service needs.
type Blobs interface {
	ListArchives(ctx context.Context, container string) ([]string, error)
}

// Service computes report payloads from the store and the blob account.
type Service struct {
	store      Store
	blobs      Blobs
	containers []config.ContainerConfig
}

func NewService(store Store, blobs Blobs, containers []config.ContainerConfig) *Service {
	return &Service{store: store, blobs: blobs, containers: containers}
}

// CountSummaryItem is one container's counts for the requested day.
type CountSummaryItem struct {
	Received  int    `json:"received"`
	Rejected  int    `json:"rejected"`
	Container string `json:"container"`
	Date      string `json:"date"`
}

// CountSummaryResponse is the count-summary report body.
type CountSummaryResponse struct {
	TotalReceived int                `json:"total_received"`
	TotalRejected int                `json:"total_rejected"`
	TimeStamp     string             `json:"time_stamp"`
	Data          []CountSummaryItem `json:"data"`
}

// CountFor aggregates received and rejected zip counts per container for one
// day. Test containers are excluded unless includeTest is set.
func (s *Service) CountFor(ctx context.Context, date time.Time, includeTest bool) (*CountSummaryResponse, error) {
	from := date.Truncate(24 * time.Hour)
	counts, err := s.store.CountSummary(ctx, from, from.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}

	test := make(map[string]bool)
	for _, c := range s.containers {
		if c.Test {
			test[c.Name] = true
		}
	}

	resp := &CountSummaryResponse{
		TimeStamp: time.Now().UTC().Format(timestampLayout),
		Data:      make([]CountSummaryItem, 0, len(counts)),
	}
	for _, c := range counts {
		if test[c.Container] && !includeTest {
			continue
		}
		resp.TotalReceived += c.Received
		resp.TotalRejected += c.Rejected
		resp.Data = append(resp.Data, CountSummaryItem{
			Received:  c.Received,
			Rejected:  c.Rejected,
			Container: c.Container,
			Date:      from.Format(dateLayout),
		})
	}
	return resp, nil
}

// ZipFileSummaryItem is one zip file's row in the summary report. Envelope
// fields stay empty for files rejected before an envelope existed.
type ZipFileSummaryItem struct {
	FileName        string `json:"file_name"`
	DateReceived    string `json:"date_received"`
	TimeReceived    string `json:"time_received"`
	DateProcessed   string `json:"date_processed"`
	TimeProcessed   string `json:"time_processed"`
	Container       string `json:"container"`
	LastEventStatus string `json:"last_event_status"`
	EnvelopeStatus  string `json:"envelope_status"`
	Classification  string `json:"classification"`
	CcdID           string `json:"ccd_id"`
	CcdAction       string `json:"ccd_action"`
}

// ZipFilesSummaryResponse is the zip-files-summary report body.
type ZipFilesSummaryResponse struct {
	Total          int                  `json:"total"`
	TotalCompleted int                  `json:"total_completed"`
	TotalFailed    int                  `json:"total_failed"`
	Data           []ZipFileSummaryItem `json:"data"`
}

var failureEvents = map[envelope.EventKind]bool{
	envelope.EventFileValidationFailure: true,
	envelope.EventDocSignatureFailure:   true,
	envelope.EventDocFailure:            true,
}

// ZipFilesSummaryFor lists every zip file received on the given day.
// Container and classification narrow the result when non-empty.
func (s *Service) ZipFilesSummaryFor(ctx context.Context, date time.Time, container, classification string) (*ZipFilesSummaryResponse, error) {
	from := date.Truncate(24 * time.Hour)
	rows, err := s.store.ZipFilesSummary(ctx, from, from.Add(24*time.Hour), container, classification)
	if err != nil {
		return nil, err
	}

	resp := &ZipFilesSummaryResponse{
		Total: len(rows),
		Data:  make([]ZipFileSummaryItem, 0, len(rows)),
	}
	for _, row := range rows {
		item := ZipFileSummaryItem{
			FileName:        row.ZipFileName,
			DateReceived:    row.ReceivedAt.Format(dateLayout),
			TimeReceived:    row.ReceivedAt.Format(timeLayout),
			Container:       row.Container,
			LastEventStatus: string(row.LastEvent),
			EnvelopeStatus:  string(row.Status),
			Classification:  row.Classification,
			CcdID:           row.CcdID,
			CcdAction:       row.CcdAction,
		}
		if !row.CompletedAt.IsZero() {
			item.DateProcessed = row.CompletedAt.Format(dateLayout)
			item.TimeProcessed = row.CompletedAt.Format(timeLayout)
		}
		switch {
		case row.Status == envelope.StatusConsumed:
			resp.TotalCompleted++
		case row.Status == envelope.StatusUploadFailure,
			row.Status == "" && failureEvents[row.LastEvent]:
			resp.TotalFailed++
		}
		resp.Data = append(resp.Data, item)
	}
	return resp, nil
}

var csvHeader = []string{
	"Container", "Zip File Name", "Date Received", "Time Received",
	"Date Processed", "Time Processed", "Status", "Classification",
	"CCD Action", "CCD ID",
}

// WriteSummaryCsv renders summary rows as the CSV download. Rows use CRLF
// endings and the Status column carries the last event.
func WriteSummaryCsv(w io.Writer, items []ZipFileSummaryItem) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, item := range items {
		record := []string{
			item.Container, item.FileName, item.DateReceived, item.TimeReceived,
			item.DateProcessed, item.TimeProcessed, item.LastEventStatus,
			item.Classification, item.CcdAction, item.CcdID,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// RejectedFile is one archive sitting in a rejected container.
type RejectedFile struct {
	Filename  string `json:"filename"`
	Container string `json:"container"`
}

// RejectedFilesResponse is the rejected-files report body.
type RejectedFilesResponse struct {
	Count         int            `json:"count"`
	RejectedFiles []RejectedFile `json:"rejected_files"`
}

// RejectedFiles lists every archive currently held in the rejected
// containers. A container that cannot be listed is logged and skipped so
// one bad container does not empty the whole report.
func (s *Service) RejectedFiles(ctx context.Context) (*RejectedFilesResponse, error) {
	resp := &RejectedFilesResponse{RejectedFiles: []RejectedFile{}}
	for _, cont := range s.containers {
		rejected := blobstore.RejectedContainerName(cont.Name)
		names, err := s.blobs.ListArchives(ctx, rejected)
		if err != nil {
			log.WithError(err).WithField("container", rejected).Error("list rejected container")
			continue
		}
		for _, name := range names {
			resp.RejectedFiles = append(resp.RejectedFiles, RejectedFile{
				Filename:  name,
				Container: rejected,
			})
		}
	}
	resp.Count = len(resp.RejectedFiles)
	return resp, nil
}

// ReconciliationStatement is the supplier's declaration of what was sent on
// a given day.
type ReconciliationStatement struct {
	Date      string              `json:"date"`
	Envelopes []StatementEnvelope `json:"envelopes"`
}

// StatementEnvelope is one archive the supplier claims to have delivered.
type StatementEnvelope struct {
	ZipFileName string `json:"zip_file_name"`
	Container   string `json:"container"`
}

// Discrepancy types reported by reconciliation.
const (
	DiscrepancyReceivedNotReported = "RECEIVED_BUT_NOT_REPORTED"
	DiscrepancyReportedNotReceived = "REPORTED_BUT_NOT_RECEIVED"
)

// Discrepancy is one mismatch between the statement and the store.
type Discrepancy struct {
	ZipFileName string `json:"zip_file_name"`
	Container   string `json:"container"`
	Type        string `json:"type"`
}

// Reconcile compares the supplier statement against the archives the
// pipeline actually recorded for that day.
func (s *Service) Reconcile(ctx context.Context, stmt *ReconciliationStatement) ([]Discrepancy, error) {
	from, err := time.Parse(dateLayout, stmt.Date)
	if err != nil {
		return nil, fmt.Errorf("parse statement date %q: %w", stmt.Date, err)
	}
	received, err := s.store.ReceivedFiles(ctx, from, from.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}

	key := func(container, name string) string { return container + "/" + name }
	reported := make(map[string]bool, len(stmt.Envelopes))
	for _, env := range stmt.Envelopes {
		reported[key(env.Container, env.ZipFileName)] = true
	}
	got := make(map[string]bool, len(received))
	for _, f := range received {
		got[key(f.Container, f.ZipFileName)] = true
	}

	discrepancies := []Discrepancy{}
	for _, f := range received {
		if !reported[key(f.Container, f.ZipFileName)] {
			discrepancies = append(discrepancies, Discrepancy{
				ZipFileName: f.ZipFileName,
				Container:   f.Container,
				Type:        DiscrepancyReceivedNotReported,
			})
		}
	}
	for _, env := range stmt.Envelopes {
		if !got[key(env.Container, env.ZipFileName)] {
			discrepancies = append(discrepancies, Discrepancy{
				ZipFileName: env.ZipFileName,
				Container:   env.Container,
				Type:        DiscrepancyReportedNotReceived,
			})
		}
	}
	sort.Slice(discrepancies, func(i, j int) bool {
		a, b := discrepancies[i], discrepancies[j]
		if a.Container != b.Container {
			return a.Container < b.Container
		}
		return a.ZipFileName < b.ZipFileName
	})
	return discrepancies, nil
}
