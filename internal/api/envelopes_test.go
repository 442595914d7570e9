package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/database"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
)

func serviceToken(t *testing.T, secret, service string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   service,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func authedRequest(t *testing.T, ts *testServer, url, service string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("ServiceAuthorization", "Bearer "+serviceToken(t, "test-secret", service))
	return req
}

func TestEnvelopesRequiresValidToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/envelopes", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/envelopes", nil)
	req.Header.Set("ServiceAuthorization", "Bearer not.a.token")
	rec = ts.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/envelopes", nil)
	req.Header.Set("ServiceAuthorization",
		"Bearer "+serviceToken(t, "wrong-secret", "bulkscan_orchestrator"))
	rec = ts.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEnvelopesRejectsServiceWithoutJurisdiction(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, authedRequest(t, ts, "/envelopes", "unknown_service"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_service")
}

func TestEnvelopesListsCallerJurisdiction(t *testing.T) {
	ts := newTestServer(t)
	env := storedEnvelope("1_24-06-2018-00-00-00.zip")
	env.Status = envelope.StatusUploaded
	ts.store.byJurisdiction["BULKSCAN"] = []envelope.Envelope{env}

	rec := ts.do(t, authedRequest(t, ts, "/envelopes", "bulkscan_orchestrator"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BULKSCAN", ts.store.jurisdictionArg)
	assert.Nil(t, ts.store.statusArg)

	var resp envelopeListResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Envelopes, 1)
	got := resp.Envelopes[0]
	assert.Equal(t, env.ID.String(), got.ID)
	assert.Equal(t, "1_24-06-2018-00-00-00.zip", got.ZipFileName)
	assert.Equal(t, "UPLOADED", got.Status)
	require.Len(t, got.ScannableItems, 1)
	assert.Equal(t, "http://localhost:8080/documents/uuid1", got.ScannableItems[0].DocumentURL)
}

func TestEnvelopesForwardsStatusFilter(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, authedRequest(t, ts, "/envelopes?status=UPLOADED", "bulkscan_orchestrator"))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, ts.store.statusArg)
	assert.Equal(t, envelope.StatusUploaded, *ts.store.statusArg)
}

func TestEnvelopesRejectsUnknownStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, authedRequest(t, ts, "/envelopes?status=NOT_A_STATUS", "bulkscan_orchestrator"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnvelopesEmptyListSerializesAsArray(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, authedRequest(t, ts, "/envelopes", "bulkscan_orchestrator"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "{\"envelopes\":[]}\n", rec.Body.String())
}

func TestStaleBlobsDefaultsToTwoHours(t *testing.T) {
	ts := newTestServer(t)
	ts.store.stale = []database.StaleBlob{
		{
			Container:   "cmc",
			ZipFileName: "file1.zip",
			CreatedAt:   time.Date(2021, 1, 15, 10, 39, 27, 0, time.UTC),
		},
	}

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/envelopes/stale-incomplete-blobs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.WithinDuration(t, time.Now().Add(-2*time.Hour), ts.store.staleCutoff, time.Minute)

	var resp struct {
		Data []staleBlobView `json:"data"`
	}
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "cmc", resp.Data[0].Container)
	assert.Equal(t, "file1.zip", resp.Data[0].FileName)
	assert.Equal(t, "2021-01-15T10:39:27", resp.Data[0].CreatedAt)
}

func TestStaleBlobsHonoursStaleTime(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, httptest.NewRequest(http.MethodGet,
		"/envelopes/stale-incomplete-blobs?stale_time=48", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.WithinDuration(t, time.Now().Add(-48*time.Hour), ts.store.staleCutoff, time.Minute)
}

func TestStaleBlobsRejectsBadStaleTime(t *testing.T) {
	ts := newTestServer(t)

	for _, v := range []string{"x", "0", "-3"} {
		rec := ts.do(t, httptest.NewRequest(http.MethodGet,
			"/envelopes/stale-incomplete-blobs?stale_time="+v, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, v)
	}
}
