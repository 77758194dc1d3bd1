package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stall-service/internal/models"
	"stall-service/internal/redisclient"
	"stall-service/internal/service"
	"stall-service/internal/syncer"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, policy string, configure ...func(*Handler)) (*gin.Engine, *service.StallService) {
	t.Helper()

	products := models.DefaultCatalog()
	products[0].Stock = 10
	products[1].Stock = 4

	ledger := service.NewLedger(policy, products)
	journal := service.NewJournal(ledger)
	stall := service.NewStallService(ledger, journal, nil)

	h := NewHandler(stall)
	for _, fn := range configure {
		fn(h)
	}

	router := gin.New()
	h.SetupRoutes(router)
	return router, stall
}

func do(router http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type saleResponse struct {
	ID             string          `json:"id"`
	Total          decimal.Decimal `json:"total"`
	EffectiveTotal decimal.Decimal `json:"effectiveTotal"`
	IsPaid         bool            `json:"isPaid"`
	IsCollected    bool            `json:"isCollected"`
	Items          []struct {
		ProductID   string          `json:"productId"`
		ProductName string          `json:"productName"`
		Quantity    int             `json:"quantity"`
		Subtotal    decimal.Decimal `json:"subtotal"`
	} `json:"items"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthCheck(t *testing.T) {
	router, _ := newTestRouter(t, models.OversellClamp)

	w := do(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadinessReportsFailingDependency(t *testing.T) {
	router, _ := newTestRouter(t, models.OversellClamp, func(h *Handler) {
		h.WithReadinessCheck("store", pingerFunc(func(context.Context) error { return nil }))
		h.WithReadinessCheck("redis", pingerFunc(func(context.Context) error { return errors.New("connection refused") }))
	})

	w := do(router, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestCreateSaleAndListWithProductNames(t *testing.T) {
	router, _ := newTestRouter(t, models.OversellClamp)

	w := do(router, http.MethodPost, "/api/v1/sales", `{"items":[{"productId":"1","quantity":3}]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[saleResponse](t, w)
	assert.True(t, created.Total.Equal(decimal.NewFromInt(150)))
	assert.NotEmpty(t, created.ID)

	w = do(router, http.MethodGet, "/api/v1/sales?kind=walkup", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Sales []saleResponse `json:"sales"`
	}](t, w)
	require.Len(t, list.Sales, 1)
	require.Len(t, list.Sales[0].Items, 1)
	assert.Equal(t, "Frango", list.Sales[0].Items[0].ProductName)
	assert.True(t, list.Sales[0].Items[0].Subtotal.Equal(decimal.NewFromInt(150)))

	w = do(router, http.MethodGet, "/api/v1/sales?kind=reservation", "")
	assert.Contains(t, w.Body.String(), `"sales":[]`)

	w = do(router, http.MethodGet, "/api/v1/stock/total", "")
	stock := decode[struct {
		TotalStock int  `json:"totalStock"`
		CanSell    bool `json:"canSell"`
	}](t, w)
	assert.Equal(t, 11, stock.TotalStock)
	assert.True(t, stock.CanSell)
}

func TestListSalesRejectsUnknownKind(t *testing.T) {
	router, _ := newTestRouter(t, models.OversellClamp)

	w := do(router, http.MethodGet, "/api/v1/sales?kind=everything", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSaleErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		policy string
		body   string
		status int
	}{
		{"malformed body", models.OversellClamp, `{"items":`, http.StatusBadRequest},
		{"no items", models.OversellClamp, `{"items":[]}`, http.StatusBadRequest},
		{"reservation without name", models.OversellClamp, `{"isReservation":true,"items":[{"productId":"1","quantity":1}]}`, http.StatusBadRequest},
		{"unknown product", models.OversellClamp, `{"items":[{"productId":"99","quantity":1}]}`, http.StatusNotFound},
		{"oversell rejected", models.OversellReject, `{"items":[{"productId":"2","quantity":5}]}`, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, stall := newTestRouter(t, tt.policy)

			w := do(router, http.MethodPost, "/api/v1/sales", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.NotEmpty(t, decode[errorResponse](t, w).Error)
			assert.Empty(t, stall.ListSales(context.Background(), models.SaleFilterAll))
		})
	}
}

func TestUpdateSale(t *testing.T) {
	router, _ := newTestRouter(t, models.OversellClamp)

	w := do(router, http.MethodPost, "/api/v1/sales", `{"items":[{"productId":"2","quantity":1}]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[saleResponse](t, w).ID

	w = do(router, http.MethodPatch, "/api/v1/sales/"+id, `{"isPaid":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[saleResponse](t, w).IsPaid)

	w = do(router, http.MethodPatch, "/api/v1/sales/"+id, `{"total":"1","isPaid":false}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[errorResponse](t, w).Details, "total")

	w = do(router, http.MethodPatch, "/api/v1/sales/"+id, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPatch, "/api/v1/sales/missing", `{"isPaid":true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodPost, "/api/v1/sales/"+id+"/collect", "")
	require.Equal(t, http.StatusOK, w.Code)
	sale := decode[saleResponse](t, w)
	assert.True(t, sale.IsCollected)
	assert.True(t, sale.IsPaid)
}

func TestDeleteSaleRestoresStock(t *testing.T) {
	router, stall := newTestRouter(t, models.OversellClamp)
	ctx := context.Background()

	w := do(router, http.MethodPost, "/api/v1/sales", `{"items":[{"productId":"1","quantity":4}]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[saleResponse](t, w).ID
	assert.Equal(t, 10, stall.TotalStock(ctx))

	w = do(router, http.MethodDelete, "/api/v1/sales/"+id, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 14, stall.TotalStock(ctx))

	w = do(router, http.MethodDelete, "/api/v1/sales/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 14, stall.TotalStock(ctx))
}

func TestSetStock(t *testing.T) {
	router, stall := newTestRouter(t, models.OversellClamp)
	ctx := context.Background()

	w := do(router, http.MethodPut, "/api/v1/products/3/stock", `{"quantity":7}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 21, stall.TotalStock(ctx))

	w = do(router, http.MethodPut, "/api/v1/products/3/stock", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPut, "/api/v1/products/99/stock", `{"quantity":1}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodPut, "/api/v1/stock", `{"entries":[{"productId":"1","quantity":0},{"productId":"2","quantity":2}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 9, stall.TotalStock(ctx))

	w = do(router, http.MethodPut, "/api/v1/stock", `{"entries":[{"productId":"1","quantity":5},{"productId":"99","quantity":2}]}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 9, stall.TotalStock(ctx))
}

func TestTotals(t *testing.T) {
	router, _ := newTestRouter(t, models.OversellClamp)

	do(router, http.MethodPost, "/api/v1/sales", `{"items":[{"productId":"1","quantity":1}],"isPaid":true}`)
	do(router, http.MethodPost, "/api/v1/sales", `{"customerName":"Ana","isReservation":true,"items":[{"productId":"2","quantity":2}],"isPromotion":true,"promotionPrice":"8"}`)

	w := do(router, http.MethodGet, "/api/v1/totals", "")
	require.Equal(t, http.StatusOK, w.Code)
	totals := decode[models.Totals](t, w)
	assert.Equal(t, 1, totals.Sales)
	assert.Equal(t, 1, totals.Reservations)
	assert.Equal(t, 1, totals.PendingCollection)
	assert.Equal(t, 1, totals.Unpaid)
	assert.True(t, totals.Revenue.Equal(decimal.NewFromInt(58)), totals.Revenue.String())
	assert.Equal(t, 11, totals.UnitsInStock)
}

func newIdempotencyStore(t *testing.T) (*redisclient.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestCreateSaleIdempotencyKey(t *testing.T) {
	store, mr := newIdempotencyStore(t)
	router, stall := newTestRouter(t, models.OversellClamp, func(h *Handler) {
		h.WithIdempotency(store, time.Hour)
	})
	ctx := context.Background()
	body := `{"items":[{"productId":"1","quantity":2}]}`

	first := do(router, http.MethodPost, "/api/v1/sales", body, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, first.Code)
	second := do(router, http.MethodPost, "/api/v1/sales", body, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, decode[saleResponse](t, first).ID, decode[saleResponse](t, second).ID)
	assert.Len(t, stall.ListSales(ctx, models.SaleFilterAll), 1)
	assert.Equal(t, 12, stall.TotalStock(ctx))

	require.NoError(t, mr.Set("idempotency:sale:k2", redisclient.PendingValue))
	w := do(router, http.MethodPost, "/api/v1/sales", body, "Idempotency-Key", "k2")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(router, http.MethodPost, "/api/v1/sales", `{"items":[{"productId":"99","quantity":1}]}`, "Idempotency-Key", "k3")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, mr.Exists("idempotency:sale:k3"))
}

func TestCreateSaleIdempotencyKeyForDeletedSale(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	router, _ := newTestRouter(t, models.OversellClamp, func(h *Handler) {
		h.WithIdempotency(store, time.Hour)
	})
	body := `{"items":[{"productId":"1","quantity":1}]}`

	w := do(router, http.MethodPost, "/api/v1/sales", body, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[saleResponse](t, w).ID

	require.Equal(t, http.StatusNoContent, do(router, http.MethodDelete, "/api/v1/sales/"+id, "").Code)

	w = do(router, http.MethodPost, "/api/v1/sales", body, "Idempotency-Key", "k1")
	assert.Equal(t, http.StatusConflict, w.Code)
}

type staticFailures []syncer.SyncError

func (f staticFailures) RecentFailures() []syncer.SyncError { return f }

func TestSyncFailures(t *testing.T) {
	router, _ := newTestRouter(t, models.OversellClamp)
	w := do(router, http.MethodGet, "/api/v1/sync/failures", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"failures":[]}`, w.Body.String())

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	router, _ = newTestRouter(t, models.OversellClamp, func(h *Handler) {
		h.WithSyncFailures(staticFailures{{Op: syncer.OpDeleteSale, Key: "s1", Err: errors.New("timeout"), At: at}})
	})
	w = do(router, http.MethodGet, "/api/v1/sync/failures", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"failures":[{"op":"delete_sale","key":"s1","error":"timeout","at":"2024-06-01T12:00:00Z"}]}`, w.Body.String())
}
