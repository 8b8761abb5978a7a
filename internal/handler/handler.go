package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/sos-pricing/internal/domain/auth"
	"github.com/xenking/sos-pricing/internal/domain/discount"
	"github.com/xenking/sos-pricing/internal/domain/promotion"
)

// PromotionService is the promotion engine as seen by the HTTP layer.
type PromotionService interface {
	Preview(ctx context.Context, cart []promotion.CartItem) (promotion.Result, error)
	Apply(ctx context.Context, cart []promotion.CartItem, userID string) (promotion.Result, error)
	Create(ctx context.Context, r *promotion.Rule) error
	List(ctx context.Context) ([]promotion.Rule, error)
}

// DiscountService is the discount code validator as seen by the HTTP layer.
type DiscountService interface {
	Preview(ctx context.Context, code string, cartTotal decimal.Decimal) (discount.Result, error)
	Redeem(ctx context.Context, req discount.RedeemRequest) (discount.Result, error)
	Create(ctx context.Context, c *discount.Code) error
}

// Handler serves the pricing API, delegating business logic to the
// promotion and discount services.
type Handler struct {
	promotions PromotionService
	discounts  DiscountService
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(promotions PromotionService, discounts DiscountService) *Handler {
	return &Handler{
		promotions: promotions,
		discounts:  discounts,
	}
}

// Register mounts every route on mux. Committing routes require the
// checkout scope, backoffice routes the admin scope.
func (h *Handler) Register(mux *http.ServeMux, sec *SecurityHandler) {
	checkout := func(fn http.HandlerFunc) http.Handler { return sec.Require(auth.ScopeCheckout, fn) }
	admin := func(fn http.HandlerFunc) http.Handler { return sec.Require(auth.ScopeAdmin, fn) }

	mux.HandleFunc("POST /api/promotions/preview", h.PreviewPromotions)
	mux.Handle("POST /api/promotions/apply", checkout(h.ApplyPromotions))
	mux.HandleFunc("POST /api/discount-codes/validate", h.ValidateDiscountCode)
	mux.Handle("POST /api/discount-codes/redeem", checkout(h.RedeemDiscountCode))

	mux.Handle("POST /api/admin/promotions", admin(h.CreatePromotion))
	mux.Handle("GET /api/admin/promotions", admin(h.ListPromotions))
	mux.Handle("POST /api/admin/discount-codes", admin(h.CreateDiscountCode))
}

// fail maps err to a status code and writes the error body. Unexpected
// errors are logged and hidden from the client.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, promotion.ErrInvalidInput),
		errors.Is(err, discount.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, discount.ErrInvalidCode):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, discount.ErrDuplicateCode),
		errors.Is(err, discount.ErrReferenceConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
