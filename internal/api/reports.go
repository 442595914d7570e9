package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/reports"
)

const reportDateLayout = "2006-01-02"

// cachedJSON serves a report body from Redis when present, otherwise builds
// it, stores it and serves it. A nil cache falls through to build on every
// request.
func (s *Server) cachedJSON(w http.ResponseWriter, r *http.Request, key string, build func() (interface{}, error)) {
	if body, ok := s.cache.Get(r.Context(), key); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		return
	}

	resp, err := build()
	if err != nil {
		log.WithError(err).WithField("report", key).Error("build report")
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	body, err := json.Marshal(resp)
	if err != nil {
		log.WithError(err).Error("encode report")
		writeError(w, http.StatusInternalServerError, "failed to encode report")
		return
	}
	s.cache.Set(r.Context(), key, body)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) handleCountSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := time.Parse(reportDateLayout, q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date. Expected format: yyyy-MM-dd")
		return
	}
	includeTest := false
	if v := q.Get("include-test"); v != "" {
		includeTest, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid include-test. Expected a boolean")
			return
		}
	}

	key := fmt.Sprintf("count-summary?date=%s&include-test=%t", date.Format(reportDateLayout), includeTest)
	s.cachedJSON(w, r, key, func() (interface{}, error) {
		return s.reports.CountFor(r.Context(), date, includeTest)
	})
}

func (s *Server) handleZipFilesSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := time.Parse(reportDateLayout, q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date. Expected format: yyyy-MM-dd")
		return
	}
	container := q.Get("container")
	classification := q.Get("classification")
	if classification != "" && !envelope.KnownClassification(classification) {
		writeError(w, http.StatusBadRequest, "Invalid classification: "+classification)
		return
	}

	if r.Header.Get("Accept") == "application/octet-stream" {
		summary, err := s.reports.ZipFilesSummaryFor(r.Context(), date, container, classification)
		if err != nil {
			log.WithError(err).Error("build zip files summary")
			writeError(w, http.StatusInternalServerError, "failed to build report")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", "attachment; filename=zip-files-summary.csv")
		if err := reports.WriteSummaryCsv(w, summary.Data); err != nil {
			log.WithError(err).Error("write summary csv")
		}
		return
	}

	key := fmt.Sprintf("zip-files-summary?date=%s&container=%s&classification=%s",
		date.Format(reportDateLayout), container, classification)
	s.cachedJSON(w, r, key, func() (interface{}, error) {
		return s.reports.ZipFilesSummaryFor(r.Context(), date, container, classification)
	})
}

func (s *Server) handleRejected(w http.ResponseWriter, r *http.Request) {
	resp, err := s.reports.RejectedFiles(r.Context())
	if err != nil {
		log.WithError(err).Error("build rejected files report")
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	var stmt reports.ReconciliationStatement
	if err := json.NewDecoder(r.Body).Decode(&stmt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid statement body")
		return
	}
	discrepancies, err := s.reports.Reconcile(r.Context(), &stmt)
	if err != nil {
		if isDateParseError(err) {
			writeError(w, http.StatusBadRequest, "Invalid date. Expected format: yyyy-MM-dd")
			return
		}
		log.WithError(err).Error("reconcile statement")
		writeError(w, http.StatusInternalServerError, "failed to reconcile statement")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"discrepancies": discrepancies})
}

func isDateParseError(err error) bool {
	var parseErr *time.ParseError
	return errors.As(err, &parseErr)
}
