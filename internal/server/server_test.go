package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/voxledger/voxledger/internal/billing"
	"github.com/voxledger/voxledger/internal/health"
	"github.com/voxledger/voxledger/internal/observe"
	"github.com/voxledger/voxledger/internal/resolve"
	"github.com/voxledger/voxledger/internal/transform"
)

func newTestServer(t *testing.T) (*Server, *billing.MemStore) {
	t.Helper()
	store := billing.NewMemStore()
	store.SeedClient(billing.Client{ID: "c1", UserID: "u1", Name: "Johnathan Reyes"})
	store.SeedClient(billing.Client{ID: "c2", UserID: "u1", Name: "Maria Lopez"})
	store.SeedDocument(billing.Document{
		ID: "d1", UserID: "u1", ClientID: "c1", Type: billing.DocumentInvoice,
		Status: billing.StatusSent, Number: "INV-1",
		LineItems: []billing.LineItem{{ID: "li1", Description: "work", Quantity: 1, Rate: 100, Total: 100}},
		Total:     100, CreatedAt: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
	})

	resolver := resolve.NewResolver(store, nil)
	locator := resolve.NewLocator(resolver, store)
	engine := transform.New(store, store)
	srv := New(resolver, locator, engine, WithHealth(health.New()))
	return srv, store
}

// doJSON issues a request against the server's handler and decodes the JSON
// response into out (when non-nil).
func doJSON(t *testing.T, h http.Handler, method, path, userID string, body, out any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(userHeader, userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec
}

func TestMissingUserHeader(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/v1/clients/resolve", "", resolveRequest{Name: "Maria"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandleResolve(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	h := srv.Handler()

	t.Run("confident match", func(t *testing.T) {
		var res resolve.Resolution
		rec := doJSON(t, h, "POST", "/v1/clients/resolve", "u1", resolveRequest{Name: "Jonathan Reyes"}, &res)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
		}
		if res.Client == nil || res.Client.ID != "c1" {
			t.Fatalf("client = %+v, want c1", res.Client)
		}
		if res.NeedsConfirmation {
			t.Error("confident match flagged for confirmation")
		}
	})

	t.Run("no match", func(t *testing.T) {
		var res resolve.Resolution
		rec := doJSON(t, h, "POST", "/v1/clients/resolve", "u1", resolveRequest{Name: "xyz corp"}, &res)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
		}
		if res.Client != nil {
			t.Errorf("client = %+v, want nil", res.Client)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		rec := doJSON(t, h, "POST", "/v1/clients/resolve", "u1", resolveRequest{}, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/clients/resolve", bytes.NewBufferString("{not json"))
		req.Header.Set(userHeader, "u1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestHandleResolveRecordsDuration(t *testing.T) {
	t.Parallel()
	store := billing.NewMemStore()
	store.SeedClient(billing.Client{ID: "c1", UserID: "u1", Name: "Maria Lopez"})

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	resolver := resolve.NewResolver(store, nil)
	locator := resolve.NewLocator(resolver, store)
	engine := transform.New(store, store)
	srv := New(resolver, locator, engine, WithMetrics(metrics))

	rec := doJSON(t, srv.Handler(), "POST", "/v1/clients/resolve", "u1", resolveRequest{Name: "Maria"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	var hist *metricdata.Histogram[float64]
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "voxledger.resolution.duration" {
				h, ok := m.Data.(metricdata.Histogram[float64])
				if !ok {
					t.Fatalf("metric data = %T, want Histogram[float64]", m.Data)
				}
				hist = &h
			}
		}
	}
	if hist == nil {
		t.Fatal("resolution duration histogram was not exported")
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("histogram data points = %+v, want a single recording", hist.DataPoints)
	}
}

func TestHandleSuggest(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	h := srv.Handler()

	var res resolve.SuggestResult
	rec := doJSON(t, h, "POST", "/v1/clients/suggest", "u1", suggestRequest{Name: "maria lopez"}, &res)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if res.ExactMatch == nil || res.ExactMatch.ClientID != "c2" {
		t.Errorf("exact match = %+v, want c2", res.ExactMatch)
	}
	if len(res.Suggestions) == 0 {
		t.Error("expected at least one suggestion")
	}
}

func TestHandleLocate(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	h := srv.Handler()

	t.Run("found", func(t *testing.T) {
		var res resolve.LocateResult
		rec := doJSON(t, h, "POST", "/v1/documents/locate", "u1", locateRequest{
			ClientName:   "Jonathan Reyes",
			DocumentType: billing.DocumentInvoice,
			Selector:     resolve.SelectorLast,
		}, &res)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
		}
		if res.Document == nil || res.Document.ID != "d1" {
			t.Fatalf("document = %+v, want d1", res.Document)
		}
	})

	t.Run("client not found carries suggestions flag", func(t *testing.T) {
		var res resolve.LocateResult
		rec := doJSON(t, h, "POST", "/v1/documents/locate", "u1", locateRequest{
			ClientName:   "completely unknown",
			DocumentType: billing.DocumentInvoice,
		}, &res)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
		}
		if !res.ClientNotFound {
			t.Error("expected ClientNotFound")
		}
	})

	t.Run("invalid document type", func(t *testing.T) {
		rec := doJSON(t, h, "POST", "/v1/documents/locate", "u1", locateRequest{
			ClientName:   "Maria",
			DocumentType: "receipt",
		}, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestHandleTransform(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	h := srv.Handler()

	t.Run("clone succeeds", func(t *testing.T) {
		var res transform.Result
		rec := doJSON(t, h, "POST", "/v1/transforms", "u1", transform.Config{
			Operation:          transform.OperationClone,
			SourceDocumentID:   "d1",
			SourceDocumentType: billing.DocumentInvoice,
		}, &res)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
		}
		if !res.Success || res.GeneratedDocument == nil {
			t.Fatalf("result = %+v, want success with document", res)
		}
	})

	t.Run("validation failure is 400", func(t *testing.T) {
		rec := doJSON(t, h, "POST", "/v1/transforms", "u1", transform.Config{
			Operation:          transform.OperationMerge,
			SourceDocumentIDs:  []string{"d1"},
			SourceDocumentType: billing.DocumentInvoice,
		}, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("missing source returns failed job", func(t *testing.T) {
		var res transform.Result
		rec := doJSON(t, h, "POST", "/v1/transforms", "u1", transform.Config{
			Operation:          transform.OperationClone,
			SourceDocumentID:   "missing",
			SourceDocumentType: billing.DocumentInvoice,
		}, &res)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
		}
		if res.Success {
			t.Error("expected failed result")
		}
		if res.Job == nil || res.Job.Status != billing.JobFailed {
			t.Errorf("job = %+v, want failed", res.Job)
		}
	})
}

func TestHandleGetAndCancelJob(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	h := srv.Handler()

	// Create a job through a transform first.
	var created transform.Result
	doJSON(t, h, "POST", "/v1/transforms", "u1", transform.Config{
		Operation:          transform.OperationClone,
		SourceDocumentID:   "d1",
		SourceDocumentType: billing.DocumentInvoice,
	}, &created)
	if created.Job == nil {
		t.Fatal("transform did not return a job")
	}
	jobID := created.Job.ID

	t.Run("get job", func(t *testing.T) {
		var job billing.TransformJob
		rec := doJSON(t, h, "GET", "/v1/transforms/"+jobID, "u1", nil, &job)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
		}
		if job.Status != billing.JobCompleted {
			t.Errorf("status = %q, want completed", job.Status)
		}
	})

	t.Run("get job wrong tenant", func(t *testing.T) {
		rec := doJSON(t, h, "GET", "/v1/transforms/"+jobID, "u2", nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("cancel completed job refuses", func(t *testing.T) {
		var res cancelResponse
		rec := doJSON(t, h, "POST", fmt.Sprintf("/v1/transforms/%s/cancel", jobID), "u1", nil, &res)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
		}
		if res.Cancelled {
			t.Error("completed job reported as cancelled")
		}
	})
}

func TestHandleInterpret(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	h := srv.Handler()

	t.Run("recognised command", func(t *testing.T) {
		var res interpretResponse
		rec := doJSON(t, h, "POST", "/v1/interpret", "u1", interpretRequest{
			Transcript: "duplicate the last invoice for Jonathan Reyes",
		}, &res)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
		}
		if !res.Recognized || res.Intent == nil {
			t.Fatalf("response = %+v, want recognised intent", res)
		}
		if res.Intent.Operation != transform.OperationClone {
			t.Errorf("operation = %q, want clone", res.Intent.Operation)
		}
		if res.Intent.ClientName != "Jonathan Reyes" {
			t.Errorf("client name = %q, want 'Jonathan Reyes'", res.Intent.ClientName)
		}
	})

	t.Run("unrecognised utterance", func(t *testing.T) {
		var res interpretResponse
		rec := doJSON(t, h, "POST", "/v1/interpret", "u1", interpretRequest{
			Transcript: "remind me to buy milk",
		}, &res)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
		}
		if res.Recognized || res.Intent != nil {
			t.Errorf("response = %+v, want unrecognised", res)
		}
	})
}

func TestProbeRoutes(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	h := srv.Handler()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}
}
