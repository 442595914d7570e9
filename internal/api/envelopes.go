package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
)

const defaultStaleHours = 2

type envelopeListResponse struct {
	Envelopes []envelopeView `json:"envelopes"`
}

// envelopeView is the full envelope as served to the downstream service
// that owns its jurisdiction.
type envelopeView struct {
	ID                 string                 `json:"id"`
	CaseNumber         string                 `json:"case_number"`
	Container          string                 `json:"container"`
	PoBox              string                 `json:"po_box"`
	Jurisdiction       string                 `json:"jurisdiction"`
	DeliveryDate       time.Time              `json:"delivery_date"`
	OpeningDate        time.Time              `json:"opening_date"`
	ZipFileCreatedDate time.Time              `json:"zip_file_createddate"`
	ZipFileName        string                 `json:"zip_file_name"`
	Status             string                 `json:"status"`
	Classification     string                 `json:"classification"`
	CcdID              string                 `json:"ccd_id,omitempty"`
	CcdAction          string                 `json:"ccd_action,omitempty"`
	ScannableItems     []scannableItemView    `json:"scannable_items"`
	NonScannableItems  []nonScannableItemView `json:"non_scannable_items"`
	Payments           []paymentView          `json:"payments"`
}

type staleBlobView struct {
	Container string `json:"container"`
	FileName  string `json:"file_name"`
	CreatedAt string `json:"created_at"`
}

// handleEnvelopes lists the caller's envelopes, optionally narrowed by
// status. The caller is identified by its S2S bearer token and confined to
// the jurisdiction configured for it.
func (s *Server) handleEnvelopes(w http.ResponseWriter, r *http.Request) {
	service, err := s.callerService(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid service authorization token")
		return
	}
	jurisdiction, ok := s.cfg.ServiceJurisdictions[service]
	if !ok {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("no configured jurisdiction for service %s", service))
		return
	}

	var status *envelope.Status
	if v := r.URL.Query().Get("status"); v != "" {
		if !envelope.KnownStatus(v) {
			writeError(w, http.StatusBadRequest, "invalid status: "+v)
			return
		}
		st := envelope.Status(v)
		status = &st
	}

	envs, err := s.store.FindByJurisdiction(r.Context(), jurisdiction, status)
	if err != nil {
		log.WithError(err).WithField("jurisdiction", jurisdiction).Error("list envelopes")
		writeError(w, http.StatusInternalServerError, "failed to list envelopes")
		return
	}

	resp := envelopeListResponse{Envelopes: make([]envelopeView, 0, len(envs))}
	for i := range envs {
		resp.Envelopes = append(resp.Envelopes, toEnvelopeView(&envs[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStaleBlobs lists incomplete envelopes older than the stale_time
// parameter, in hours. Used by operations to spot archives stuck mid-flight.
func (s *Server) handleStaleBlobs(w http.ResponseWriter, r *http.Request) {
	hours := defaultStaleHours
	if v := r.URL.Query().Get("stale_time"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "Invalid stale_time. Expected a positive number of hours")
			return
		}
		hours = parsed
	}

	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	stale, err := s.store.StaleIncomplete(r.Context(), cutoff)
	if err != nil {
		log.WithError(err).Error("list stale blobs")
		writeError(w, http.StatusInternalServerError, "failed to list stale blobs")
		return
	}

	views := make([]staleBlobView, 0, len(stale))
	for _, b := range stale {
		views = append(views, staleBlobView{
			Container: b.Container,
			FileName:  b.ZipFileName,
			CreatedAt: b.CreatedAt.UTC().Format("2006-01-02T15:04:05"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": views})
}

// callerService validates the ServiceAuthorization bearer token and returns
// the calling service's name from its subject.
func (s *Server) callerService(r *http.Request) (string, error) {
	header := r.Header.Get("ServiceAuthorization")
	if header == "" {
		return "", errors.New("missing ServiceAuthorization header")
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return []byte(s.cfg.S2SSecret), nil
	})
	if err != nil {
		return "", err
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if subject == "" {
		return "", errors.New("token has no subject")
	}
	return subject, nil
}

func toEnvelopeView(env *envelope.Envelope) envelopeView {
	return envelopeView{
		ID:                 env.ID.String(),
		CaseNumber:         env.CaseNumber,
		Container:          env.Container,
		PoBox:              env.PoBox,
		Jurisdiction:       env.Jurisdiction,
		DeliveryDate:       env.DeliveryDate,
		OpeningDate:        env.OpeningDate,
		ZipFileCreatedDate: env.ZipFileCreatedDate,
		ZipFileName:        env.ZipFileName,
		Status:             string(env.Status),
		Classification:     string(env.Classification),
		CcdID:              env.CcdID,
		CcdAction:          env.CcdAction,
		ScannableItems:     toScannableItemViews(env.ScannableItems),
		NonScannableItems:  toNonScannableItemViews(env.NonScannableItems),
		Payments:           toPaymentViews(env.Payments),
	}
}
