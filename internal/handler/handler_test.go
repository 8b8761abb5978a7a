package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/sos-pricing/internal/domain/auth"
	"github.com/xenking/sos-pricing/internal/domain/discount"
	"github.com/xenking/sos-pricing/internal/domain/promotion"
	"github.com/xenking/sos-pricing/internal/storage/memory"
)

const (
	checkoutKey = "checkout-key"
	adminKey    = "admin-key"
)

var testPepper = []byte("test-pepper")

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type appliedResponse struct {
	ID                string  `json:"id"`
	DiscountType      string  `json:"discountType"`
	DiscountValue     float64 `json:"discountValue"`
	DiscountAmount    float64 `json:"discountAmount"`
	AppliedToQuantity int     `json:"appliedToQuantity"`
}

type promotionResponse struct {
	OriginalTotal     float64           `json:"originalTotal"`
	FinalTotal        float64           `json:"finalTotal"`
	TotalDiscount     float64           `json:"totalDiscount"`
	TotalQuantity     int               `json:"totalQuantity"`
	AppliedPromotions []appliedResponse `json:"appliedPromotions"`
}

type discountResponse struct {
	Valid           bool    `json:"valid"`
	Code            string  `json:"code"`
	Type            string  `json:"type"`
	Reason          string  `json:"reason"`
	AppliedDiscount float64 `json:"appliedDiscount"`
	NewTotal        float64 `json:"newTotal"`
	Message         string  `json:"message"`
}

type ruleResponse struct {
	ID            string  `json:"id"`
	MinQuantity   int     `json:"minQuantity"`
	DiscountType  string  `json:"discountType"`
	DiscountValue float64 `json:"discountValue"`
	Active        bool    `json:"active"`
}

type testServer struct {
	store *memory.Store
	mux   *http.ServeMux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	meter := noop.NewMeterProvider().Meter("test")

	store := memory.New()
	promotions, err := promotion.NewService(store, store, meter)
	require.NoError(t, err)
	discounts, err := discount.NewService(store, meter)
	require.NoError(t, err)

	require.NoError(t, promotions.Create(ctx, &promotion.Rule{
		ID: "tier-2", MinQuantity: 2, DiscountType: promotion.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10), Description: "2 stickers", Active: true,
	}))
	require.NoError(t, promotions.Create(ctx, &promotion.Rule{
		ID: "tier-5", MinQuantity: 5, DiscountType: promotion.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(15), Description: "5 stickers", Active: true,
	}))
	require.NoError(t, discounts.Create(ctx, &discount.Code{
		Code: "SOS10", Type: discount.TypePercent, Amount: decimal.NewFromInt(10), Active: true,
	}))

	store.PutAPIKey(auth.APIKeyInfo{ID: "k1", KeyHash: auth.HashKey(testPepper, checkoutKey), Scopes: []string{auth.ScopeCheckout}})
	store.PutAPIKey(auth.APIKeyInfo{ID: "k2", KeyHash: auth.HashKey(testPepper, adminKey), Scopes: []string{auth.ScopeAdmin}})

	mux := http.NewServeMux()
	NewHandler(promotions, discounts).Register(mux, NewSecurityHandler(store, testPepper))
	return &testServer{store: store, mux: mux}
}

func (s *testServer) do(t *testing.T, method, path string, body any, key string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func cart(qty int) map[string]any {
	return map[string]any{
		"cart": []map[string]any{{"id": "sticker-sos", "name": "Sticker SOS", "price": 6990, "quantity": qty}},
	}
}

func TestPreviewPromotions(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name         string
		qty          int
		wantID       string
		wantDiscount float64
		wantFinal    float64
	}{
		{name: "below every tier", qty: 1, wantFinal: 6990},
		{name: "first tier", qty: 4, wantID: "tier-2", wantDiscount: 2796, wantFinal: 25164},
		{name: "second tier wins", qty: 5, wantID: "tier-5", wantDiscount: 5243, wantFinal: 29707},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/promotions/preview", cart(tt.qty), "")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			got := decode[promotionResponse](t, rec)
			assert.Equal(t, tt.qty, got.TotalQuantity)
			assert.InDelta(t, tt.wantDiscount, got.TotalDiscount, 0.001)
			assert.InDelta(t, tt.wantFinal, got.FinalTotal, 0.001)
			if tt.wantID == "" {
				assert.Empty(t, got.AppliedPromotions)
				return
			}
			require.Len(t, got.AppliedPromotions, 1)
			assert.Equal(t, tt.wantID, got.AppliedPromotions[0].ID)
			assert.Equal(t, "percentage", got.AppliedPromotions[0].DiscountType)
		})
	}

	assert.Empty(t, s.store.Applications(), "preview must not record applications")
}

func TestPreviewPromotions_BadInput(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{name: "zero quantity", body: cart(0)},
		{name: "empty cart", body: map[string]any{"cart": []any{}}},
		{name: "malformed json", body: `{"cart": [`},
		{name: "price is not a number", body: `{"cart":[{"id":"a","price":"abc","quantity":1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/promotions/preview", tt.body, "")
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, http.StatusBadRequest, decode[errorResponse](t, rec).Code)
		})
	}
}

func TestApplyPromotions_Auth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/promotions/apply", cart(2), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/promotions/apply", cart(2), "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/promotions/apply", cart(2), adminKey)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Empty(t, s.store.Applications())
}

func TestApplyPromotions_RecordsApplication(t *testing.T) {
	s := newTestServer(t)

	body := cart(5)
	body["userId"] = "user-7"
	rec := s.do(t, http.MethodPost, "/api/promotions/apply", body, checkoutKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	apps := s.store.Applications()
	require.Len(t, apps, 1)
	assert.Equal(t, "tier-5", apps[0].PromotionID)
	assert.Equal(t, "user-7", apps[0].UserID)
	assert.True(t, decimal.NewFromInt(5243).Equal(apps[0].DiscountAmount))
}

func TestApplyPromotions_BearerToken(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(cart(2)))
	req := httptest.NewRequest(http.MethodPost, "/api/promotions/apply", &buf)
	req.Header.Set("Authorization", "Bearer "+checkoutKey)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestValidateDiscountCode(t *testing.T) {
	s := newTestServer(t)

	t.Run("valid", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/discount-codes/validate",
			map[string]any{"code": " sos10 ", "cartTotal": 27960}, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		got := decode[discountResponse](t, rec)
		assert.True(t, got.Valid)
		assert.Equal(t, "SOS10", got.Code)
		assert.Equal(t, "PERCENT", got.Type)
		assert.InDelta(t, 2796, got.AppliedDiscount, 0.001)
		assert.InDelta(t, 25164, got.NewTotal, 0.001)
		assert.Equal(t, discount.MessageApplied, got.Message)
	})

	t.Run("unknown", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/discount-codes/validate",
			map[string]any{"code": "NOPE", "cartTotal": 1000}, "")
		require.Equal(t, http.StatusBadRequest, rec.Code)

		got := decode[discountResponse](t, rec)
		assert.False(t, got.Valid)
		assert.Equal(t, "not_found", got.Reason)
		assert.Equal(t, "Código de descuento no válido", got.Message)
		assert.InDelta(t, 1000, got.NewTotal, 0.001)
		assert.Zero(t, got.AppliedDiscount)
	})

	t.Run("negative total", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/discount-codes/validate",
			map[string]any{"code": "SOS10", "cartTotal": -5}, "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, http.StatusBadRequest, decode[errorResponse](t, rec).Code)
	})

	code, err := s.store.FindByCode(context.Background(), "SOS10")
	require.NoError(t, err)
	assert.Zero(t, code.UsageCount)
}

func TestRedeemDiscountCode(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{"code": "SOS10", "cartTotal": 1000, "userId": "user-1", "reference": "order-1"}

	rec := s.do(t, http.MethodPost, "/api/discount-codes/redeem", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for range 2 {
		rec = s.do(t, http.MethodPost, "/api/discount-codes/redeem", body, checkoutKey)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		got := decode[discountResponse](t, rec)
		assert.True(t, got.Valid)
		assert.InDelta(t, 900, got.NewTotal, 0.001)
	}
	assert.Equal(t, 1, s.store.Redemptions())

	body["userId"] = "user-2"
	rec = s.do(t, http.MethodPost, "/api/discount-codes/redeem", body, checkoutKey)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, 1, s.store.Redemptions())

	delete(body, "userId")
	rec = s.do(t, http.MethodPost, "/api/discount-codes/redeem", body, checkoutKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminPromotions(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/admin/promotions",
		map[string]any{"minQuantity": 10, "discountType": "fixed", "discountValue": 5000, "priority": 2}, checkoutKey)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/admin/promotions",
		map[string]any{"minQuantity": 10, "discountType": "fixed", "discountValue": 5000, "priority": 2}, adminKey)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[ruleResponse](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Active)
	assert.Equal(t, "fixed", created.DiscountType)

	rec = s.do(t, http.MethodPost, "/api/admin/promotions",
		map[string]any{"minQuantity": 3, "discountType": "percentage", "discountValue": 150}, adminKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/admin/promotions",
		map[string]any{"minQuantity": 3, "discountType": "fixed", "discountValue": 1,
			"startsAt": "2025-07-01T00:00:00Z", "endsAt": "2025-06-01T00:00:00Z"}, adminKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/admin/promotions", nil, adminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	rules := decode[[]ruleResponse](t, rec)
	assert.Len(t, rules, 3)
}

func TestAdminDiscountCodes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/admin/discount-codes",
		map[string]any{"code": "welcome", "type": "FIXED", "amount": 500, "maxRedemptions": 3}, adminKey)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	code, err := s.store.FindByCode(context.Background(), "WELCOME")
	require.NoError(t, err)
	require.NotNil(t, code.MaxRedemptions)
	assert.Equal(t, 3, *code.MaxRedemptions)

	rec = s.do(t, http.MethodPost, "/api/admin/discount-codes",
		map[string]any{"code": " Welcome ", "type": "FIXED", "amount": 100}, adminKey)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/admin/discount-codes",
		map[string]any{"code": "HALF", "type": "PERCENT", "amount": 150}, adminKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
