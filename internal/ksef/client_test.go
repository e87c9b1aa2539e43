package ksef

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/models"
)

type fakeGateway struct {
	mux            *http.ServeMux
	sessionsOpened atomic.Int32
	submits        atomic.Int32
	rejectSessions atomic.Int32 // submits answered 401 before accepting
	statusCode     int
	statusDesc     string
	ksefNumber     string
}

func newFakeGateway() *fakeGateway {
	g := &fakeGateway{mux: http.NewServeMux(), statusCode: 200, ksefNumber: "1111111111-20260812-ABCDEF012345-00"}

	g.mux.HandleFunc("/api/online/Session/AuthorisationChallenge", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"challenge": "20260812-CR-0123456789", "timestamp": time.Now()})
	})
	g.mux.HandleFunc("/api/online/Session/InitToken", func(w http.ResponseWriter, _ *http.Request) {
		n := g.sessionsOpened.Add(1)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"sessionToken":    map[string]string{"token": "session-" + string(rune('a'+n-1))},
			"referenceNumber": "SESSION-REF-1",
			"validUntil":      time.Now().Add(time.Hour),
		})
	})
	g.mux.HandleFunc("/api/online/Invoice/Send", func(w http.ResponseWriter, r *http.Request) {
		g.submits.Add(1)
		if g.rejectSessions.Load() > 0 {
			g.rejectSessions.Add(-1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("SessionToken") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"elementReferenceNumber": "20260812-EL-0099"})
	})
	g.mux.HandleFunc("/api/online/Invoice/Status/", func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{"processingCode": g.statusCode, "processingDescription": g.statusDesc}
		if g.statusCode == 200 {
			body["invoiceStatus"] = map[string]string{"ksefReferenceNumber": g.ksefNumber}
		}
		json.NewEncoder(w).Encode(body)
	})
	g.mux.HandleFunc("/api/common/Status/", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<upo>receipt</upo>`))
	})

	return g
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL:      server.URL,
		AuthToken:    "long-lived-token",
		ContextNIP:   "5260250274",
		Timeout:      time.Second,
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  100 * time.Millisecond,
		ReceiptDir:   t.TempDir(),
	}, zap.NewNop())
}

func testDocument() *Document {
	issued := time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC)
	net, vat, gross := decimal.RequireFromString("1000.00"), decimal.RequireFromString("230.00"), decimal.RequireFromString("1230.00")
	doc, _ := BuildDocument(&models.Invoice{
		DocumentNumber: "FV/2026/08/017",
		IssueDate:      &issued,
		Currency:       "PLN",
		NetAmount:      &net, VatAmount: &vat, GrossAmount: &gross,
	},
		&models.Company{NIP: "5260250274", Name: "Alfa"},
		&models.Company{NIP: "1132191233", Name: "Beta"})
	return doc
}

func TestSubmit_OpensSessionLazily(t *testing.T) {
	gateway := newFakeGateway()
	server := httptest.NewServer(gateway.mux)
	defer server.Close()

	client := newTestClient(t, server)

	ref, err := client.Submit(context.Background(), testDocument())
	require.NoError(t, err)
	assert.Equal(t, "20260812-EL-0099", ref)
	assert.Equal(t, int32(1), gateway.sessionsOpened.Load())

	// second submit reuses the session
	_, err = client.Submit(context.Background(), testDocument())
	require.NoError(t, err)
	assert.Equal(t, int32(1), gateway.sessionsOpened.Load())
}

func TestSubmit_RefreshesStaleSessionOnce(t *testing.T) {
	gateway := newFakeGateway()
	gateway.rejectSessions.Store(1)
	server := httptest.NewServer(gateway.mux)
	defer server.Close()

	client := newTestClient(t, server)

	ref, err := client.Submit(context.Background(), testDocument())
	require.NoError(t, err)
	assert.Equal(t, "20260812-EL-0099", ref)
	assert.Equal(t, int32(2), gateway.submits.Load())
	assert.Equal(t, int32(2), gateway.sessionsOpened.Load())
}

func TestWaitForOutcome_Accepted(t *testing.T) {
	gateway := newFakeGateway()
	server := httptest.NewServer(gateway.mux)
	defer server.Close()

	client := newTestClient(t, server)

	result, err := client.WaitForOutcome(context.Background(), "20260812-EL-0099")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, result.Status)
	assert.Equal(t, gateway.ksefNumber, result.KSeFNumber)
}

func TestWaitForOutcome_Rejected(t *testing.T) {
	gateway := newFakeGateway()
	gateway.statusCode = 430
	gateway.statusDesc = "Duplicate invoice number"
	server := httptest.NewServer(gateway.mux)
	defer server.Close()

	client := newTestClient(t, server)

	result, err := client.WaitForOutcome(context.Background(), "20260812-EL-0099")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, "Duplicate invoice number", result.RejectReason)
}

func TestWaitForOutcome_TimesOutWhilePending(t *testing.T) {
	gateway := newFakeGateway()
	gateway.statusCode = 310 // still processing
	server := httptest.NewServer(gateway.mux)
	defer server.Close()

	client := newTestClient(t, server)

	_, err := client.WaitForOutcome(context.Background(), "20260812-EL-0099")
	require.ErrorIs(t, err, ErrPollTimeout)
}

func TestDownloadReceipt_StoresFile(t *testing.T) {
	gateway := newFakeGateway()
	server := httptest.NewServer(gateway.mux)
	defer server.Close()

	client := newTestClient(t, server)

	path, err := client.DownloadReceipt(context.Background(), "20260812-EL-0099")
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "receipt")
}

func TestBuildDocument_RejectsIncompleteInvoice(t *testing.T) {
	issued := time.Now()
	net := decimal.RequireFromString("100.00")

	tests := []struct {
		name    string
		invoice *models.Invoice
	}{
		{"no document number", &models.Invoice{IssueDate: &issued}},
		{"no issue date", &models.Invoice{DocumentNumber: "FV/1"}},
		{"missing amounts", &models.Invoice{DocumentNumber: "FV/1", IssueDate: &issued, NetAmount: &net}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildDocument(tt.invoice, &models.Company{}, &models.Company{})
			assert.Error(t, err)
		})
	}
}

func TestBuildDocument_FixedDecimals(t *testing.T) {
	doc := testDocument()
	require.NotNil(t, doc)
	assert.Equal(t, "1230.00", doc.GrossAmount)
	assert.Equal(t, "2026-08-12", doc.IssueDate)
	assert.Equal(t, "5260250274", doc.Seller.TaxID)
}
