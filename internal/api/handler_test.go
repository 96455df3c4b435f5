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

	"marketplace-service/internal/clock"
	"marketplace-service/internal/models"
	"marketplace-service/internal/service"
	"marketplace-service/internal/store/memory"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	router *gin.Engine
	store  *memory.Store
	clock  *clock.Manual
}

func setupServer(t *testing.T, checks map[string]ReadinessCheck) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := memory.New()
	clk := clock.NewManual(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	notifier := service.NewLogNotifier(zap.NewNop())

	products := service.NewProductAvailability(st, nil)
	orders := service.NewOrderService(st, products, notifier, clk)
	offers := service.NewOfferService(st, products, orders, notifier, clk)
	payments := service.NewPaymentService(st, orders, notifier, clk, models.PaymentTarget{
		BankName: "BCA", AccountNumber: "1234567890", AccountHolder: "Marketplace",
	})

	router := gin.New()
	NewHandler(offers, orders, payments, checks).SetupRoutes(router)

	require.NoError(t, st.CreateProduct(context.Background(), &models.Product{
		ID: "p1", OwnerID: "seller", Price: 500_000, Status: models.ProductAvailable,
	}))

	return &testServer{router: router, store: st, clock: clk}
}

func (s *testServer) do(t *testing.T, method, path, userID, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(headerUserID, userID)
	}
	if role != "" {
		req.Header.Set(headerUserRole, role)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndReadiness(t *testing.T) {
	s := setupServer(t, map[string]ReadinessCheck{
		"database": func(context.Context) error { return nil },
	})

	rec := s.do(t, http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/ready", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s = setupServer(t, map[string]ReadinessCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rec = s.do(t, http.MethodGet, "/ready", "", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestIdentityRequired(t *testing.T) {
	s := setupServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/orders", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, codeUnauthenticated, decode[errorResponse](t, rec).Code)
}

func TestOfferToPaymentFlow(t *testing.T) {
	s := setupServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/offers", "buyer", "", gin.H{
		"product_id": "p1", "offer_price": 400_000, "message": "cash ready",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	offer := decode[models.Offer](t, rec)
	assert.Equal(t, models.OfferStatusPending, offer.Status)

	rec = s.do(t, http.MethodPost, "/api/v1/offers", "buyer", "", gin.H{"product_id": "p1", "offer_price": 390_000})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/offers/"+offer.ID+"/accept", "buyer", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/offers/"+offer.ID+"/accept", "seller", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	accepted := decode[struct {
		Offer models.Offer `json:"offer"`
		Order models.Order `json:"order"`
	}](t, rec)
	assert.Equal(t, models.OfferStatusAccepted, accepted.Offer.Status)
	assert.Equal(t, int64(400_000), accepted.Order.FinalPrice)

	rec = s.do(t, http.MethodPost, "/api/v1/orders", "late-buyer", "", gin.H{"product_id": "p1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, codeProductUnavailable, decode[errorResponse](t, rec).Code)

	orderID := accepted.Order.ID
	rec = s.do(t, http.MethodPost, "/api/v1/orders/"+orderID+"/payment", "buyer", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		Payment models.Payment       `json:"payment"`
		Target  models.PaymentTarget `json:"payment_target"`
	}](t, rec)
	assert.Equal(t, int64(400_000), created.Payment.Amount)
	assert.Equal(t, "BCA", created.Target.BankName)
	assert.NotEmpty(t, created.Payment.TransactionCode)

	paymentID := created.Payment.ID
	rec = s.do(t, http.MethodPost, "/api/v1/payments/"+paymentID+"/proof", "buyer", "", gin.H{"proof": "uploads/r.jpg"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/admin/payments/pending", "buyer", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/payments/pending", "ops", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[struct {
		Payments []models.Payment `json:"payments"`
	}](t, rec)
	require.Len(t, pending.Payments, 1)

	rec = s.do(t, http.MethodPost, "/api/v1/admin/payments/"+paymentID+"/confirm", "ops", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.PaymentStatusConfirmed, decode[models.Payment](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/api/v1/orders/"+orderID, "seller", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.OrderStatusConfirmed, decode[models.Order](t, rec).Status)

	rec = s.do(t, http.MethodPatch, "/api/v1/orders/"+orderID+"/status", "buyer", "", gin.H{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.OrderStatusCompleted, decode[models.Order](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/api/v1/orders/"+orderID+"/cancel", "buyer", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, codeInvalidState, decode[errorResponse](t, rec).Code)
}

func TestCounterOfferEndpoints(t *testing.T) {
	s := setupServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/offers", "buyer", "", gin.H{"product_id": "p1", "offer_price": 300_000})
	require.Equal(t, http.StatusCreated, rec.Code)
	offer := decode[models.Offer](t, rec)

	rec = s.do(t, http.MethodPost, "/api/v1/offers/"+offer.ID+"/counter", "seller", "", gin.H{"counter_offer_price": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/offers/"+offer.ID+"/counter", "seller", "", gin.H{
		"counter_offer_price": 450_000, "seller_message": "lowest I can go",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/offers?type=received", "seller", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	received := decode[struct {
		Offers []models.Offer `json:"offers"`
	}](t, rec)
	require.Len(t, received.Offers, 1)
	assert.Equal(t, models.OfferStatusCountered, received.Offers[0].Status)

	rec = s.do(t, http.MethodPost, "/api/v1/offers/"+offer.ID+"/accept-counter", "buyer", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/orders?type=buying", "buyer", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	buying := decode[struct {
		Orders []models.Order `json:"orders"`
	}](t, rec)
	require.Len(t, buying.Orders, 1)
	assert.Equal(t, int64(450_000), buying.Orders[0].FinalPrice)
}

func TestErrorMapping(t *testing.T) {
	s := setupServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"unknown order", http.MethodGet, "/api/v1/orders/missing", nil, http.StatusNotFound, codeNotFound},
		{"own product", http.MethodPost, "/api/v1/orders", gin.H{"product_id": "p1"}, http.StatusForbidden, codeForbidden},
		{"bad body", http.MethodPost, "/api/v1/orders", gin.H{}, http.StatusBadRequest, codeInvalidRequestBody},
		{"offer on own product", http.MethodPost, "/api/v1/offers", gin.H{"product_id": "p1", "offer_price": 900_000}, http.StatusForbidden, codeForbidden},
		{"bad scope", http.MethodGet, "/api/v1/orders?type=everything", nil, http.StatusBadRequest, codeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, "seller", "", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[errorResponse](t, rec).Code)
		})
	}
}

func TestExpiredOrderConfirmation(t *testing.T) {
	s := setupServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/orders", "buyer", "", gin.H{"product_id": "p1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decode[models.Order](t, rec)

	s.clock.Advance(25 * time.Hour)

	rec = s.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/confirm", "seller", "", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, codeExpired, decode[errorResponse](t, rec).Code)

	p, err := s.store.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, models.ProductAvailable, p.Status)
}
