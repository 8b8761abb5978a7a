package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/sos-pricing/internal/domain/discount"
)

func decodeRedeemRequest(r *http.Request) (discount.RedeemRequest, error) {
	var req discount.RedeemRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			req.Code, err = decodeOptStr(d)
		case "cartTotal":
			req.CartTotal, err = decodeDecimal(d)
		case "userId":
			req.UserID, err = decodeOptStr(d)
		case "reference":
			req.Reference, err = decodeOptStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

// ValidateDiscountCode previews a code against a cart total. Nothing is
// written; an invalid code answers 400 with the full result.
func (h *Handler) ValidateDiscountCode(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRedeemRequest(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	res, err := h.discounts.Preview(r.Context(), req.Code, req.CartTotal)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeDiscountResult(w, res)
}

// RedeemDiscountCode commits a code for a user.
func (h *Handler) RedeemDiscountCode(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRedeemRequest(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	res, err := h.discounts.Redeem(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeDiscountResult(w, res)
}

func writeDiscountResult(w http.ResponseWriter, res discount.Result) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("valid")
	e.Bool(res.Valid)
	if res.Valid {
		e.FieldStart("code")
		e.Str(res.Code)
		e.FieldStart("type")
		e.Str(string(res.Type))
		e.FieldStart("amount")
		encodeMoney(e, res.Amount)
	} else {
		e.FieldStart("reason")
		e.Str(string(res.Reason))
	}
	e.FieldStart("appliedDiscount")
	encodeMoney(e, res.AppliedDiscount)
	e.FieldStart("newTotal")
	encodeMoney(e, res.NewTotal)
	e.FieldStart("message")
	e.Str(res.Message)
	e.ObjEnd()

	status := http.StatusOK
	if !res.Valid {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, e)
}

// CreateDiscountCode stores a new code. Codes are active unless the body
// says otherwise.
func (h *Handler) CreateDiscountCode(w http.ResponseWriter, r *http.Request) {
	code := discount.Code{Active: true}
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code.Code, err = d.Str()
		case "type":
			var v string
			v, err = d.Str()
			code.Type = discount.Type(v)
		case "amount":
			code.Amount, err = decodeDecimal(d)
		case "active":
			code.Active, err = d.Bool()
		case "expiresAt":
			code.ExpiresAt, err = decodeOptTime(d)
		case "maxRedemptions":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var v int
			v, err = d.Int()
			code.MaxRedemptions = &v
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	if err := h.discounts.Create(r.Context(), &code); err != nil {
		fail(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("id")
	e.Str(code.ID)
	e.FieldStart("code")
	e.Str(code.Code)
	e.FieldStart("type")
	e.Str(string(code.Type))
	e.FieldStart("amount")
	encodeMoney(e, code.Amount)
	e.FieldStart("active")
	e.Bool(code.Active)
	if code.ExpiresAt != nil {
		e.FieldStart("expiresAt")
		e.Str(code.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if code.MaxRedemptions != nil {
		e.FieldStart("maxRedemptions")
		e.Int(*code.MaxRedemptions)
	}
	e.FieldStart("usageCount")
	e.Int(code.UsageCount)
	e.FieldStart("createdAt")
	e.Str(code.CreatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()

	writeJSON(w, http.StatusCreated, e)
}
