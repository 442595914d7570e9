// Package api exposes the processor's operational surface over REST/JSON:
// zip file status lookups, daily reports with CSV export, reconciliation,
// the authenticated envelope listing for downstream services, health and
// Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/config"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/database"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/middleware"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/reports"
)

var log = logrus.WithField("prefix", "api")

// Store is the slice of the envelope store the API reads from.
type Store interface {
	EnvelopesForZipFile(ctx context.Context, zipFileName string) ([]envelope.Envelope, error)
	EventsForZipFile(ctx context.Context, zipFileName string) ([]envelope.ProcessEvent, error)
	ZipFileNamesByDcnPrefix(ctx context.Context, dcnPrefix string) ([]string, error)
	FindByJurisdiction(ctx context.Context, jurisdiction string, status *envelope.Status) ([]envelope.Envelope, error)
	StaleIncomplete(ctx context.Context, cutoff time.Time) ([]database.StaleBlob, error)
	Ping(ctx context.Context) error
}

// Reports is the report service surface the API serves.
type Reports interface {
	CountFor(ctx context.Context, date time.Time, includeTest bool) (*reports.CountSummaryResponse, error)
	ZipFilesSummaryFor(ctx context.Context, date time.Time, container, classification string) (*reports.ZipFilesSummaryResponse, error)
	RejectedFiles(ctx context.Context) (*reports.RejectedFilesResponse, error)
	Reconcile(ctx context.Context, stmt *reports.ReconciliationStatement) ([]reports.Discrepancy, error)
}

// Server routes HTTP requests to the store and the report service.
type Server struct {
	store   Store
	reports Reports
	cache   *reports.Cache
	cfg     config.APIConfig

	httpServer *http.Server
}

func NewServer(store Store, reportSvc Reports, cache *reports.Cache, cfg config.APIConfig) *Server {
	return &Server{
		store:   store,
		reports: reportSvc,
		cache:   cache,
		cfg:     cfg,
	}
}

// Router builds the full route table. Report routes sit behind a per-caller
// rate limiter; the envelope listing requires service-to-service auth.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestLog)

	r.HandleFunc("/zip-files", s.handleZipFiles).Methods(http.MethodGet)

	reportLimit := middleware.NewRateLimiter(middleware.RateLimitConfig{
		MaxCallsPerMinute: s.cfg.RateLimitPerMinute,
	})
	rep := r.PathPrefix("/reports").Subrouter()
	rep.Use(reportLimit.Middleware)
	rep.HandleFunc("/count-summary", s.handleCountSummary).Methods(http.MethodGet)
	rep.HandleFunc("/zip-files-summary", s.handleZipFilesSummary).Methods(http.MethodGet)
	rep.HandleFunc("/rejected", s.handleRejected).Methods(http.MethodGet)
	rep.HandleFunc("/reconciliation", s.handleReconciliation).Methods(http.MethodPost)

	r.HandleFunc("/envelopes", s.handleEnvelopes).Methods(http.MethodGet)
	r.HandleFunc("/envelopes/stale-incomplete-blobs", s.handleStaleBlobs).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.WithField("addr", addr).Info("API server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Error("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
