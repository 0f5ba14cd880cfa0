package presentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RaikyD/vin-report-service/internal/application"
	"github.com/RaikyD/vin-report-service/internal/dedupe"
	"github.com/RaikyD/vin-report-service/internal/domain"
	"github.com/RaikyD/vin-report-service/internal/mailer"
	"github.com/RaikyD/vin-report-service/internal/report"
)

const orderPayload = `{"order":{"purchaseFlowId":"pf-1","buyerInfo":{"email":"buyer@example.com"},
"extendedFields":{"namespaces":{"_user_fields":{"fahrgestellnummer_fin_1":"WBAVA12345AB67890"}}}}}`

type stubReports struct {
	mu    sync.Mutex
	err   error
	panic bool
}

func (s *stubReports) set(err error, panics bool) {
	s.mu.Lock()
	s.err, s.panic = err, panics
	s.mu.Unlock()
}

func (s *stubReports) state() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panic, s.err
}

func (s *stubReports) Build(_ context.Context, vin string) (*domain.VehicleReport, error) {
	panics, err := s.state()
	if panics {
		panic("assembler exploded")
	}
	if err != nil {
		return nil, err
	}
	return &domain.VehicleReport{VIN: vin, ReportID: "VR-20261015-000000000001"}, nil
}

func (s *stubReports) Preview(_ context.Context, vin string) (*domain.VehicleSummary, error) {
	if _, err := s.state(); err != nil {
		return nil, err
	}
	mk := "BMW"
	return &domain.VehicleSummary{VIN: vin, Make: &mk}, nil
}

type stubRenderer struct{}

func (stubRenderer) Render(context.Context, []byte) ([]byte, error) { return []byte("%PDF"), nil }

type stubDeliverer struct {
	mu    sync.Mutex
	count int
	err   error
}

func (s *stubDeliverer) Deliver(context.Context, *domain.VehicleReport, []byte, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.count++
	return nil
}

func (s *stubDeliverer) sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *stubDeliverer) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type stubAlerter struct {
	mu     sync.Mutex
	alerts []mailer.Alert
}

func (s *stubAlerter) Send(_ context.Context, a mailer.Alert) {
	s.mu.Lock()
	s.alerts = append(s.alerts, a)
	s.mu.Unlock()
}

func (s *stubAlerter) sent() []mailer.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mailer.Alert(nil), s.alerts...)
}

type testServer struct {
	srv       *httptest.Server
	store     *dedupe.MemoryStore
	reports   *stubReports
	deliverer *stubDeliverer
	alerter   *stubAlerter
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	return newTestServerWith(t, secret, Options{DebugEndpoints: true})
}

func newTestServerWith(t *testing.T, secret string, opts Options) *testServer {
	t.Helper()
	ts := &testServer{
		store:     dedupe.NewMemoryStore(),
		reports:   &stubReports{},
		deliverer: &stubDeliverer{},
		alerter:   &stubAlerter{},
	}
	p := application.NewPipeline(application.Deps{
		Store:     ts.store,
		Reports:   ts.reports,
		Renderer:  stubRenderer{},
		Deliverer: ts.deliverer,
		Alerter:   ts.alerter,
	}, application.Options{Secret: secret, PDFEnabled: true, DedupeTTL: time.Hour})

	r := chi.NewRouter()
	NewOrdersHandler(p, BuildInfo{Version: "1.2.3", Commit: "abc"}, opts).Register(r)
	ts.srv = httptest.NewServer(r)
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) post(t *testing.T, path, body string, header http.Header) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	return do(t, req)
}

func (ts *testServer) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+path, nil)
	require.NoError(t, err)
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return res, body
}

func TestWebhookHappyPathAndDuplicate(t *testing.T) {
	ts := newTestServer(t, "")

	res, body := ts.post(t, "/webhook/order", orderPayload, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "sent", body["status"])
	assert.Equal(t, "pf-1", body["order_key"])
	assert.Equal(t, "WBAVA12345AB67890", body["vin"])

	res, body = ts.post(t, "/webhook/order", orderPayload, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "duplicate_ignored", body["status"])
	assert.Equal(t, 1, ts.deliverer.sent())
}

func TestWebhookAuth(t *testing.T) {
	ts := newTestServer(t, "s3cret")

	res, body := ts.post(t, "/webhook/order", orderPayload, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", body["error"])
	assert.Zero(t, ts.store.Len(), "no dedupe mutation")
	assert.Empty(t, ts.alerter.sent())

	res, _ = ts.post(t, "/webhook/order?secret=wrong", orderPayload, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Empty(t, ts.alerter.sent())

	res, _ = ts.post(t, "/webhook/order?token=s3cret", orderPayload, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestSecretSources(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		query  string
	}{
		{"secret header", http.Header{"X-Webhook-Secret": {"s3cret"}}, ""},
		{"token header", http.Header{"X-Webhook-Token": {"s3cret"}}, ""},
		{"bearer", http.Header{"Authorization": {"Bearer s3cret"}}, ""},
		{"query secret", nil, "?secret=s3cret"},
		{"query token", nil, "?token=s3cret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/webhook/order"+tt.query, nil)
			for k, v := range tt.header {
				r.Header[k] = v
			}
			assert.Equal(t, "s3cret", secretFrom(r))
		})
	}
	assert.Empty(t, secretFrom(httptest.NewRequest(http.MethodPost, "/", nil)))
}

func TestWebhookManualCheckReturns200(t *testing.T) {
	ts := newTestServer(t, "")

	res, body := ts.post(t, "/webhook/order", `{"order":{"buyerInfo":{"email":"a@b.com"}}}`, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "needs_manual_check", body["status"])
	assert.Len(t, ts.alerter.sent(), 1)
	assert.Zero(t, ts.deliverer.sent())
}

func TestWebhookOversizedBodyGoesToManualCheck(t *testing.T) {
	head := `{"order":{"vin":"WBAVA12345AB67890","buyerInfo":{"email":"buyer@example.com"}},"padding":"`
	payload := head + strings.Repeat("x", 512) + `"}`
	ts := newTestServerWith(t, "", Options{MaxBodyBytes: int64(len(head) + 16)})

	res, body := ts.post(t, "/webhook/order", payload, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "needs_manual_check", body["status"])
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["reason"], "not valid JSON")

	alerts := ts.alerter.sent()
	require.Len(t, alerts, 1)
	assert.Equal(t, mailer.ReasonManualCheck, alerts[0].Reason)
	assert.Zero(t, ts.deliverer.sent(), "no buyer mail for a truncated body")
}

func TestWebhookFailureStatusCodes(t *testing.T) {
	t.Run("retryable", func(t *testing.T) {
		ts := newTestServer(t, "")
		ts.reports.set(&report.DecodeError{Status: 503, Retryable: true}, false)

		res, body := ts.post(t, "/webhook/order", orderPayload, nil)
		assert.Equal(t, http.StatusBadGateway, res.StatusCode)
		assert.Equal(t, "failed", body["status"])
		assert.Zero(t, ts.store.Len())
	})
	t.Run("permanent", func(t *testing.T) {
		ts := newTestServer(t, "")
		ts.reports.set(&report.DecodeError{Status: 404}, false)

		res, body := ts.post(t, "/webhook/order", orderPayload, nil)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, "failed", body["status"])
		assert.Equal(t, 1, ts.store.Len())
	})
}

func TestWebhookPanicAlertsAndReturns500(t *testing.T) {
	ts := newTestServer(t, "")
	ts.reports.set(nil, true)

	res, body := ts.post(t, "/webhook/order", orderPayload, nil)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "internal error", body["error"])
	require.Len(t, ts.alerter.sent(), 1)
	assert.Equal(t, mailer.ReasonPanic, ts.alerter.sent()[0].Reason)
	assert.Contains(t, ts.alerter.sent()[0].Detail, "assembler exploded")
}

func TestPreviewAndPremiumReport(t *testing.T) {
	ts := newTestServer(t, "")

	res, body := ts.get(t, "/report/wbava12345ab67890")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "WBAVA12345AB67890", body["vin"])
	assert.Equal(t, "BMW", body["make"])

	res, body = ts.get(t, "/premium-report/WBAVA12345AB67890")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "VR-20261015-000000000001", body["report_id"])

	res, _ = ts.get(t, "/report/NOT-A-VIN")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	ts.reports.set(&report.DecodeError{Status: 404}, false)
	res, _ = ts.get(t, "/report/WBAVA12345AB67890")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	ts.reports.set(errors.New("provider down"), false)
	res, _ = ts.get(t, "/report/WBAVA12345AB67890")
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
}

func TestPremiumReportRequiresSecret(t *testing.T) {
	ts := newTestServer(t, "s3cret")

	res, _ := ts.get(t, "/premium-report/WBAVA12345AB67890")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = ts.get(t, "/premium-report/WBAVA12345AB67890?secret=s3cret")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestVersionAndHealth(t *testing.T) {
	ts := newTestServer(t, "")

	res, body := ts.get(t, "/version")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "1.2.3", body["version"])
	assert.Equal(t, "abc", body["commit"])
	assert.Contains(t, body, "uptime_seconds")

	_, body = ts.get(t, "/health")
	assert.Equal(t, "ok", body["status"])
}

func TestDebugEcho(t *testing.T) {
	ts := newTestServer(t, "s3cret")

	res, _ := ts.post(t, "/debug/echo", `{"x":1}`, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, body := ts.post(t, "/debug/echo?a=b", `{"x":1}`, http.Header{"X-Webhook-Secret": {"s3cret"}})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, `{"x":1}`, body["body"])
	assert.Equal(t, "POST", body["method"])
}

func TestOrderLookupWithoutJournal(t *testing.T) {
	ts := newTestServer(t, "")
	res, _ := ts.get(t, "/orders/pf-1")
	assert.Equal(t, http.StatusNotImplemented, res.StatusCode)
}

func TestResendEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	res, body := ts.post(t, "/orders/resend", `{"order_key":"pf-1","vin":"WBAVA12345AB67890","email":"b@example.com"}`, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "sent", body["status"])
	assert.Equal(t, 1, ts.deliverer.sent())

	res, _ = ts.post(t, "/orders/resend", `{"vin":"WBAVA12345AB67890","extra":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = ts.post(t, "/orders/resend", `{"vin":"short","email":"b@example.com"}`, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	ts.deliverer.fail(errors.New("smtp down"))
	res, body = ts.post(t, "/orders/resend", `{"vin":"WBAVA12345AB67890","email":"b@example.com"}`, nil)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, "failed", body["status"])
}

func TestMountFiles(t *testing.T) {
	dir := t.TempDir()
	stored := "0b6f4c1e-9a1d-4c5e-8f00-123456789abc-VR-1.pdf"
	require.NoError(t, os.WriteFile(filepath.Join(dir, stored), []byte("%PDF-1.7"), 0o600))

	r := chi.NewRouter()
	MountFiles(r, dir)
	srv := httptest.NewServer(r)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/files/" + stored)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/pdf", res.Header.Get("Content-Type"))
	assert.Contains(t, res.Header.Get("Content-Disposition"), `filename="VR-1.pdf"`)

	res2, err := http.Get(srv.URL + "/files/.upload-123")
	require.NoError(t, err)
	res2.Body.Close()
	assert.Equal(t, http.StatusNotFound, res2.StatusCode)

	res3, err := http.Get(srv.URL + "/files/missing.pdf")
	require.NoError(t, err)
	res3.Body.Close()
	assert.Equal(t, http.StatusNotFound, res3.StatusCode)
}
