//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestValidateDiscountCode(t *testing.T) {
	tests := []struct {
		name         string
		code         string
		cartTotal    float64
		wantStatus   int
		wantValid    bool
		wantReason   string
		wantDiscount float64
		wantTotal    float64
	}{
		{name: "percent", code: "sos10", cartTotal: 27960, wantStatus: http.StatusOK, wantValid: true, wantDiscount: 2796, wantTotal: 25164},
		{name: "fixed", code: " BIENVENIDA ", cartTotal: 6990, wantStatus: http.StatusOK, wantValid: true, wantDiscount: 1000, wantTotal: 5990},
		{name: "unknown", code: "NOPE", cartTotal: 6990, wantStatus: http.StatusBadRequest, wantReason: "not_found", wantTotal: 6990},
		{name: "expired", code: "VENCIDO", cartTotal: 6990, wantStatus: http.StatusBadRequest, wantReason: "expired", wantTotal: 6990},
		{name: "inactive", code: "PAUSADO", cartTotal: 6990, wantStatus: http.StatusBadRequest, wantReason: "inactive", wantTotal: 6990},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doPost(t, "/api/discount-codes/validate", discountRequest{Code: tt.code, CartTotal: tt.cartTotal})
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}

			body := decodeJSON[discountResponse](t, resp)
			if body.Valid != tt.wantValid {
				t.Errorf("valid: got %v, want %v", body.Valid, tt.wantValid)
			}
			if body.Reason != tt.wantReason {
				t.Errorf("reason: got %q, want %q", body.Reason, tt.wantReason)
			}
			if body.AppliedDiscount != tt.wantDiscount {
				t.Errorf("appliedDiscount: got %v, want %v", body.AppliedDiscount, tt.wantDiscount)
			}
			if body.NewTotal != tt.wantTotal {
				t.Errorf("newTotal: got %v, want %v", body.NewTotal, tt.wantTotal)
			}
			if body.Message == "" {
				t.Error("message is empty")
			}
		})
	}
}

func TestValidateDiscountCode_NegativeTotal(t *testing.T) {
	resp := doPost(t, "/api/discount-codes/validate", discountRequest{Code: "SOS10", CartTotal: -1})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRedeemDiscountCode_NoAuth(t *testing.T) {
	resp := doPost(t, "/api/discount-codes/redeem", discountRequest{Code: "SOS10", CartTotal: 1000, UserID: "u"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRedeemDiscountCode_CapAndReplay(t *testing.T) {
	code := map[string]any{
		"code":           "INTEGRACION-UNO",
		"type":           "FIXED",
		"amount":         500,
		"maxRedemptions": 1,
	}
	createResp := doPostWithAuth(t, "/api/admin/discount-codes", code, testAPIKey)
	createResp.Body.Close()
	if createResp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", createResp.StatusCode)
	}

	first := discountRequest{Code: "integracion-uno", CartTotal: 6990, UserID: "user-a", Reference: "order-a"}
	for i := range 2 {
		resp := doPostWithAuth(t, "/api/discount-codes/redeem", first, testAPIKey)
		body := decodeJSON[discountResponse](t, resp)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK || !body.Valid {
			t.Fatalf("attempt %d: expected valid redemption, got %d %+v", i, resp.StatusCode, body)
		}
		if body.NewTotal != 6490 {
			t.Errorf("attempt %d: newTotal got %v, want 6490", i, body.NewTotal)
		}
	}

	stolen := discountRequest{Code: "INTEGRACION-UNO", CartTotal: 9000, UserID: "user-b", Reference: "order-a"}
	stolenResp := doPostWithAuth(t, "/api/discount-codes/redeem", stolen, testAPIKey)
	stolenResp.Body.Close()
	if stolenResp.StatusCode != http.StatusConflict {
		t.Fatalf("reused reference: expected 409, got %d", stolenResp.StatusCode)
	}

	second := discountRequest{Code: "INTEGRACION-UNO", CartTotal: 6990, UserID: "user-b", Reference: "order-b"}
	resp := doPostWithAuth(t, "/api/discount-codes/redeem", second, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decodeJSON[discountResponse](t, resp)
	if body.Reason != "exhausted" {
		t.Errorf("reason: got %q, want exhausted", body.Reason)
	}
}

func TestValidateDiscountCode_FractionalAmount(t *testing.T) {
	createResp := doPostWithAuth(t, "/api/admin/discount-codes", map[string]any{
		"code":   "FRACCION",
		"type":   "FIXED",
		"amount": 10.555,
	}, testAPIKey)
	createResp.Body.Close()
	if createResp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", createResp.StatusCode)
	}

	resp := doPost(t, "/api/discount-codes/validate", discountRequest{Code: "FRACCION", CartTotal: 100})
	defer resp.Body.Close()

	body := decodeJSON[discountResponse](t, resp)
	if body.AppliedDiscount != 10.555 {
		t.Errorf("appliedDiscount: got %v, want 10.555", body.AppliedDiscount)
	}
}

func TestAdminDiscountCodes_Duplicate(t *testing.T) {
	resp := doPostWithAuth(t, "/api/admin/discount-codes", map[string]any{
		"code":   "sos10",
		"type":   "PERCENT",
		"amount": 5,
	}, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}
