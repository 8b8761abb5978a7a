package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/sos-pricing/internal/domain/promotion"
)

type cartRequest struct {
	Cart   []promotion.CartItem
	UserID string
}

func decodeCartRequest(r *http.Request) (cartRequest, error) {
	var req cartRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		switch key {
		case "cart":
			cart, err := decodeCart(d)
			req.Cart = cart
			return err
		case "userId":
			v, err := decodeOptStr(d)
			req.UserID = v
			return err
		default:
			return d.Skip()
		}
	})
	return req, err
}

func decodeCart(d *jx.Decoder) ([]promotion.CartItem, error) {
	cart := []promotion.CartItem{}
	err := d.Arr(func(d *jx.Decoder) error {
		var item promotion.CartItem
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				item.ID, err = d.Str()
			case "name":
				item.Name, err = decodeOptStr(d)
			case "price":
				item.Price, err = decodeDecimal(d)
			case "quantity":
				item.Quantity, err = d.Int()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		cart = append(cart, item)
		return nil
	})
	return cart, err
}

// PreviewPromotions computes the best quantity tier for a cart.
func (h *Handler) PreviewPromotions(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCartRequest(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	res, err := h.promotions.Preview(r.Context(), req.Cart)
	if err != nil {
		fail(w, r, err)
		return
	}
	writePromotionResult(w, res)
}

// ApplyPromotions computes the best tier and records its application.
func (h *Handler) ApplyPromotions(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCartRequest(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	res, err := h.promotions.Apply(r.Context(), req.Cart, req.UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writePromotionResult(w, res)
}

func writePromotionResult(w http.ResponseWriter, res promotion.Result) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("originalTotal")
	encodeMoney(e, res.OriginalTotal)
	e.FieldStart("finalTotal")
	encodeMoney(e, res.FinalTotal)
	e.FieldStart("totalDiscount")
	encodeMoney(e, res.TotalDiscount)
	e.FieldStart("totalQuantity")
	e.Int(res.TotalQuantity)
	e.FieldStart("appliedPromotions")
	e.ArrStart()
	for _, p := range res.AppliedPromotions {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(p.ID)
		e.FieldStart("description")
		e.Str(p.Description)
		e.FieldStart("discountType")
		e.Str(string(p.DiscountType))
		e.FieldStart("discountValue")
		encodeMoney(e, p.DiscountValue)
		e.FieldStart("discountAmount")
		encodeMoney(e, p.DiscountAmount)
		e.FieldStart("appliedToQuantity")
		e.Int(p.AppliedToQuantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()

	writeJSON(w, http.StatusOK, e)
}

// CreatePromotion stores a new quantity tier. Tiers are active unless the
// body says otherwise.
func (h *Handler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	rule := promotion.Rule{Active: true}
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "minQuantity":
			rule.MinQuantity, err = d.Int()
		case "discountType":
			var v string
			v, err = d.Str()
			rule.DiscountType = promotion.DiscountType(v)
		case "discountValue":
			rule.DiscountValue, err = decodeDecimal(d)
		case "description":
			rule.Description, err = decodeOptStr(d)
		case "active":
			rule.Active, err = d.Bool()
		case "priority":
			rule.Priority, err = d.Int()
		case "startsAt":
			rule.StartsAt, err = decodeOptTime(d)
		case "endsAt":
			rule.EndsAt, err = decodeOptTime(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	if err := h.promotions.Create(r.Context(), &rule); err != nil {
		if errors.Is(err, promotion.ErrInvalidRule) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		fail(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeRule(e, rule)
	writeJSON(w, http.StatusCreated, e)
}

// ListPromotions returns every stored tier.
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	rules, err := h.promotions.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ArrStart()
	for _, rule := range rules {
		encodeRule(e, rule)
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, e)
}

func encodeRule(e *jx.Encoder, rule promotion.Rule) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(rule.ID)
	e.FieldStart("minQuantity")
	e.Int(rule.MinQuantity)
	e.FieldStart("discountType")
	e.Str(string(rule.DiscountType))
	e.FieldStart("discountValue")
	encodeMoney(e, rule.DiscountValue)
	e.FieldStart("description")
	e.Str(rule.Description)
	e.FieldStart("active")
	e.Bool(rule.Active)
	e.FieldStart("priority")
	e.Int(rule.Priority)
	if rule.StartsAt != nil {
		e.FieldStart("startsAt")
		e.Str(rule.StartsAt.UTC().Format(time.RFC3339))
	}
	if rule.EndsAt != nil {
		e.FieldStart("endsAt")
		e.Str(rule.EndsAt.UTC().Format(time.RFC3339))
	}
	e.FieldStart("createdAt")
	e.Str(rule.CreatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}
