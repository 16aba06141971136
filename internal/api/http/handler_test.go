package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/backoffice/internal/repository/memory"
	"github.com/shestoi/backoffice/internal/service"
)

type testServer struct {
	t      *testing.T
	router http.Handler
	ready  bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	repo := memory.NewMemoryRepository()
	ledger := service.NewInventoryLedger(logger, repo, nil, nil)
	reservations := service.NewReservationManager(logger, repo, ledger, nil)
	handler := NewHandler(
		logger,
		ledger,
		reservations,
		service.NewQuoteService(logger, repo, ledger, reservations, nil),
		service.NewInvoiceService(logger, repo, nil),
	)

	ts := &testServer{t: t, ready: true}
	ts.router = NewRouter(handler, func() bool { return ts.ready }, logger)
	return ts
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-user-id", "user-1")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (ts *testServer) createStockItem(sku, onHand string) StockItemResponse {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/stock-items", map[string]any{
		"sku":              sku,
		"name":             "Item " + sku,
		"unit":             "pcs",
		"quantity_on_hand": onHand,
		"minimum_stock":    "1",
	})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[StockItemResponse](ts.t, rec)
}

func TestRouter_RequiresUserID(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/quotes", nil)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.ready = false
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandler_QuoteFlow(t *testing.T) {
	ts := newTestServer(t)
	item := ts.createStockItem("X", "2")

	rec := ts.do(http.MethodPost, "/quotes", map[string]any{
		"client_id": "client-1",
		"line_items": []map[string]any{
			{"description": "Tile", "quantity": "3", "unit_price": "10", "stock_item_id": item.ID},
			{"description": "Labour", "quantity": 1, "unit_price": 5},
		},
		"discount": "3",
		"shipping": "2",
		"tax_rate": "20",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[QuoteResponse](t, rec)

	assert.Equal(t, "draft", created.Status)
	assert.Equal(t, "user-1", created.CreatedBy)
	assert.Equal(t, "40.8", created.Total.String())
	require.Len(t, created.Reservations, 1)
	require.Len(t, created.Availability, 1)
	assert.Equal(t, "-1", created.Availability[0].AvailableQuantity.String())

	rec = ts.do(http.MethodGet, "/stock-items/"+item.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", decodeBody[StockItemResponse](t, rec).QuantityReserved.String())

	rec = ts.do(http.MethodPost, "/quotes/"+created.ID+"/status", map[string]string{"status": "accepted"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/quotes/"+created.ID+"/status", map[string]string{"status": "rejected"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodPost, "/quotes/"+created.ID+"/invoice", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inv := decodeBody[InvoiceResponse](t, rec)
	assert.Equal(t, "40.8", inv.Total.String())

	rec = ts.do(http.MethodPost, "/quotes/"+created.ID+"/invoice", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodGet, "/quotes/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[QuoteResponse](t, rec)
	require.NotNil(t, got.Invoice)
	assert.Equal(t, inv.ID, got.Invoice.ID)

	rec = ts.do(http.MethodGet, "/quotes?client_id=client-1&status=accepted", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]QuoteResponse](t, rec), 1)

	rec = ts.do(http.MethodDelete, "/quotes/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodGet, "/invoices/"+inv.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodeBody[InvoiceResponse](t, rec).QuoteID)

	rec = ts.do(http.MethodGet, "/stock-items/"+item.ID+"/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[ReconcileResponse](t, rec)
	assert.True(t, report.Consistent)
	assert.Equal(t, "0", report.QuantityReserved.String())
}

func TestHandler_Errors(t *testing.T) {
	ts := newTestServer(t)
	item := ts.createStockItem("X", "2")

	tests := []struct {
		name        string
		method      string
		path        string
		body        any
		status      int
		lineItem    *int
		stockItemID string
	}{
		{
			name:   "invalid json",
			method: http.MethodPost, path: "/quotes", body: "not an object",
			status: http.StatusBadRequest,
		},
		{
			name:   "negative price names the line",
			method: http.MethodPost, path: "/quotes",
			body: map[string]any{"client_id": "c", "line_items": []map[string]any{
				{"description": "a", "quantity": "1", "unit_price": "1"},
				{"description": "b", "quantity": "1", "unit_price": "-1"},
			}},
			status: http.StatusBadRequest, lineItem: intPtr(1),
		},
		{
			name:   "quantity finer than three decimals names the line",
			method: http.MethodPost, path: "/quotes",
			body: map[string]any{"client_id": "c", "line_items": []map[string]any{
				{"description": "a", "quantity": "0.0004", "unit_price": "1", "stock_item_id": item.ID},
			}},
			status: http.StatusBadRequest, lineItem: intPtr(0), stockItemID: item.ID,
		},
		{
			name:   "unknown stock item is a reservation failure",
			method: http.MethodPost, path: "/quotes",
			body: map[string]any{"client_id": "c", "line_items": []map[string]any{
				{"description": "a", "quantity": "1", "unit_price": "1", "stock_item_id": "missing"},
			}},
			status: http.StatusUnprocessableEntity, lineItem: intPtr(0), stockItemID: "missing",
		},
		{
			name:   "adjustment below zero",
			method: http.MethodPost, path: "/stock-items/" + item.ID + "/adjustments",
			body:   map[string]any{"delta": "-5", "reason": "correction"},
			status: http.StatusConflict, stockItemID: item.ID,
		},
		{
			name:   "unknown quote",
			method: http.MethodGet, path: "/quotes/missing",
			status: http.StatusNotFound,
		},
		{
			name:   "unknown status",
			method: http.MethodGet, path: "/quotes?status=archived",
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown stock item snapshot",
			method: http.MethodGet, path: "/stock-items/missing/snapshot",
			status: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			body := decodeBody[ErrorResponse](t, rec)
			assert.NotEmpty(t, body.Error)
			if tt.lineItem != nil {
				require.NotNil(t, body.LineItem)
				assert.Equal(t, *tt.lineItem, *body.LineItem)
			}
			if tt.stockItemID != "" {
				require.NotNil(t, body.StockItemID)
				assert.Equal(t, tt.stockItemID, *body.StockItemID)
			}
		})
	}
}

func TestHandler_StockItems(t *testing.T) {
	ts := newTestServer(t)
	item := ts.createStockItem("X", "0.5")

	rec := ts.do(http.MethodPost, "/stock-items/"+item.ID+"/adjustments", map[string]any{"delta": "10", "reason": "receipt"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "10.5", decodeBody[StockItemResponse](t, rec).QuantityOnHand.String())

	rec = ts.do(http.MethodGet, "/stock-items/"+item.ID+"/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10.5", decodeBody[SnapshotResponse](t, rec).AvailableQuantity.String())

	low := ts.createStockItem("LOW", "0")
	rec = ts.do(http.MethodGet, "/stock-items/below-minimum", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody[[]StockItemResponse](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, low.ID, items[0].ID)

	rec = ts.do(http.MethodDelete, "/stock-items/"+low.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(http.MethodGet, "/stock-items/"+low.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_PostTotals(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/calc/totals", map[string]any{
		"line_items": []map[string]any{{"quantity": 2, "unit_price": 10}, {"quantity": 1, "unit_price": 5}},
		"discount":   3,
		"shipping":   2,
		"tax_rate":   20,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	totals := decodeBody[TotalsResponse](t, rec)
	assert.Equal(t, "25", totals.Subtotal.String())
	assert.Equal(t, "24", totals.TaxableBase.String())
	assert.Equal(t, "4.8", totals.TaxAmount.String())
	assert.Equal(t, "28.8", totals.Total.String())

	rec = ts.do(http.MethodPost, "/calc/totals", map[string]any{
		"line_items": []map[string]any{{"quantity": -1, "unit_price": 10}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	require.NotNil(t, body.LineItem)
	assert.Equal(t, 0, *body.LineItem)
}

func intPtr(i int) *int {
	return &i
}
