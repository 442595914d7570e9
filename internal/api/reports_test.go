package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/reports"
)

func TestCountSummaryServesReport(t *testing.T) {
	ts := newTestServer(t)
	ts.reports.countResp = &reports.CountSummaryResponse{
		TotalReceived: 152,
		TotalRejected: 11,
		TimeStamp:     "2021-03-04 12:30:00",
		Data: []reports.CountSummaryItem{
			{Received: 152, Rejected: 11, Container: "bulkscan", Date: "2021-03-04"},
		},
	}

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/reports/count-summary?date=2021-03-04", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp reports.CountSummaryResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 152, resp.TotalReceived)
	assert.Equal(t, "2021-03-04", ts.reports.dateArg.Format("2006-01-02"))
	assert.False(t, ts.reports.includeTestArg)
}

func TestCountSummaryForwardsIncludeTest(t *testing.T) {
	ts := newTestServer(t)
	ts.reports.countResp = &reports.CountSummaryResponse{Data: []reports.CountSummaryItem{}}

	rec := ts.do(t, httptest.NewRequest(http.MethodGet,
		"/reports/count-summary?date=2021-03-04&include-test=true", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.reports.includeTestArg)
}

func TestCountSummaryRejectsBadDate(t *testing.T) {
	ts := newTestServer(t)

	for _, url := range []string{
		"/reports/count-summary",
		"/reports/count-summary?date=not-a-date",
	} {
		rec := ts.do(t, httptest.NewRequest(http.MethodGet, url, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, url)
		assert.Contains(t, rec.Body.String(), "yyyy-MM-dd")
	}
}

func TestCountSummaryRejectsBadIncludeTest(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, httptest.NewRequest(http.MethodGet,
		"/reports/count-summary?date=2021-03-04&include-test=maybe", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCountSummaryServedFromCacheOnRepeat(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := reports.NewCache(mr.Addr(), time.Minute)
	require.NoError(t, err)
	defer cache.Close()

	ts := newTestServer(t)
	ts.server.cache = cache
	ts.reports.countResp = &reports.CountSummaryResponse{
		TotalReceived: 7,
		Data:          []reports.CountSummaryItem{},
	}

	first := ts.do(t, httptest.NewRequest(http.MethodGet, "/reports/count-summary?date=2021-03-04", nil))
	second := ts.do(t, httptest.NewRequest(http.MethodGet, "/reports/count-summary?date=2021-03-04", nil))

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, ts.reports.countCalls)

	// A different query misses the cache.
	third := ts.do(t, httptest.NewRequest(http.MethodGet, "/reports/count-summary?date=2021-03-05", nil))
	require.Equal(t, http.StatusOK, third.Code)
	assert.Equal(t, 2, ts.reports.countCalls)
}

func TestZipFilesSummaryServesJSON(t *testing.T) {
	ts := newTestServer(t)
	ts.reports.summaryResp = &reports.ZipFilesSummaryResponse{
		Total:          1,
		TotalCompleted: 1,
		Data: []reports.ZipFileSummaryItem{{
			FileName:        "test.zip",
			DateReceived:    "2019-01-14",
			TimeReceived:    "12:30:10",
			Container:       "bulkscan",
			LastEventStatus: "DOC_CONSUMED",
			EnvelopeStatus:  "CONSUMED",
		}},
	}

	rec := ts.do(t, httptest.NewRequest(http.MethodGet,
		"/reports/zip-files-summary?date=2019-01-14&container=bulkscan&classification=NEW_APPLICATION", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp reports.ZipFilesSummaryResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "bulkscan", ts.reports.containerArg)
	assert.Equal(t, "NEW_APPLICATION", ts.reports.classificationArg)
}

func TestZipFilesSummaryRejectsUnknownClassification(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, httptest.NewRequest(http.MethodGet,
		"/reports/zip-files-summary?date=2019-01-14&classification=NOT_A_THING", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestZipFilesSummaryServesCsvDownload(t *testing.T) {
	ts := newTestServer(t)
	ts.reports.summaryResp = &reports.ZipFilesSummaryResponse{
		Total: 1,
		Data: []reports.ZipFileSummaryItem{{
			FileName:        "test.zip",
			DateReceived:    "2019-01-14",
			TimeReceived:    "12:30:10",
			DateProcessed:   "2019-01-14",
			TimeProcessed:   "13:30:10",
			Container:       "bulkscan",
			LastEventStatus: "DOC_CONSUMED",
			EnvelopeStatus:  "CONSUMED",
			Classification:  "EXCEPTION",
			CcdID:           "ccd-id",
			CcdAction:       "ccd-action",
		}},
	}

	req := httptest.NewRequest(http.MethodGet, "/reports/zip-files-summary?date=2019-01-14", nil)
	req.Header.Set("Accept", "application/octet-stream")
	rec := ts.do(t, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=zip-files-summary.csv", rec.Header().Get("Content-Disposition"))

	lines := strings.Split(rec.Body.String(), "\r\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Container,Zip File Name,Date Received,Time Received,Date Processed,"+
		"Time Processed,Status,Classification,CCD Action,CCD ID", lines[0])
	assert.Equal(t, "bulkscan,test.zip,2019-01-14,12:30:10,2019-01-14,13:30:10,"+
		"DOC_CONSUMED,EXCEPTION,ccd-action,ccd-id", lines[1])
	assert.Empty(t, lines[2])
}

func TestRejectedFilesReport(t *testing.T) {
	ts := newTestServer(t)
	ts.reports.rejectedResp = &reports.RejectedFilesResponse{
		Count: 1,
		RejectedFiles: []reports.RejectedFile{
			{Filename: "bad.zip", Container: "bulkscan-rejected"},
		},
	}

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/reports/rejected", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp reports.RejectedFilesResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "bad.zip", resp.RejectedFiles[0].Filename)
}

func TestReconciliationReportsDiscrepancies(t *testing.T) {
	ts := newTestServer(t)
	ts.reports.discrepancies = []reports.Discrepancy{
		{ZipFileName: "a.zip", Container: "bulkscan", Type: reports.DiscrepancyReceivedNotReported},
	}

	body := `{"date":"2020-08-20","envelopes":[{"zip_file_name":"b.zip","container":"bulkscan"}]}`
	req := httptest.NewRequest(http.MethodPost, "/reports/reconciliation", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := ts.do(t, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Discrepancies []reports.Discrepancy `json:"discrepancies"`
	}
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Discrepancies, 1)
	assert.Equal(t, "a.zip", resp.Discrepancies[0].ZipFileName)

	require.NotNil(t, ts.reports.reconcileStmt)
	assert.Equal(t, "b.zip", ts.reports.reconcileStmt.Envelopes[0].ZipFileName)
}

func TestReconciliationRejectsBadBodyAndDate(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/reports/reconciliation", strings.NewReader("{not json"))
	rec := ts.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/reports/reconciliation",
		strings.NewReader(`{"date":"20-08-2020","envelopes":[]}`))
	rec = ts.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "yyyy-MM-dd")
}
