package discount

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/sos-pricing/internal/domain/money"
)

// Evaluate checks rec against the cart total at time now. Checks run in a
// fixed order and the first failure decides the message: missing, inactive,
// expired, exhausted, misconfigured.
func Evaluate(rec *Code, cartTotal decimal.Decimal, now time.Time) Result {
	if rec == nil {
		return reject(ReasonNotFound, cartTotal)
	}
	if !rec.Active {
		return reject(ReasonInactive, cartTotal)
	}
	if rec.ExpiresAt != nil && now.After(*rec.ExpiresAt) {
		return reject(ReasonExpired, cartTotal)
	}
	if rec.MaxRedemptions != nil && rec.UsageCount >= *rec.MaxRedemptions {
		return reject(ReasonExhausted, cartTotal)
	}
	if err := validateAmount(rec.Type, rec.Amount); err != nil {
		return reject(ReasonMisconfigured, cartTotal)
	}

	var applied decimal.Decimal
	switch rec.Type {
	case TypePercent:
		applied = money.CapAt(money.Percent(cartTotal, rec.Amount), cartTotal)
	case TypeFixed:
		applied = money.CapAt(rec.Amount, cartTotal)
	}
	applied = money.FloorAtZero(applied)

	return Result{
		Valid:           true,
		Code:            rec.Code,
		Type:            rec.Type,
		Amount:          rec.Amount,
		AppliedDiscount: applied,
		NewTotal:        money.FloorAtZero(cartTotal.Sub(applied)),
		Message:         messages[ReasonNone],
	}
}

func reject(reason Reason, cartTotal decimal.Decimal) Result {
	return Result{
		Valid:           false,
		AppliedDiscount: decimal.Zero,
		NewTotal:        cartTotal,
		Reason:          reason,
		Message:         messages[reason],
	}
}

// Validate checks a normalized code before it is stored. Failures wrap
// ErrInvalidCode.
func Validate(c *Code) error {
	if c.Code == "" {
		return errors.Wrap(ErrInvalidCode, "code is empty")
	}
	if err := validateAmount(c.Type, c.Amount); err != nil {
		return errors.Wrapf(err, "amount %s not allowed for type %q", c.Amount, c.Type)
	}
	if c.MaxRedemptions != nil && *c.MaxRedemptions < 1 {
		return errors.Wrap(ErrInvalidCode, "max redemptions must be positive")
	}
	return nil
}

func validateAmount(t Type, amount decimal.Decimal) error {
	switch t {
	case TypePercent:
		if !money.ValidPercentage(amount) {
			return ErrInvalidCode
		}
	case TypeFixed:
		if amount.IsNegative() {
			return ErrInvalidCode
		}
	default:
		return ErrInvalidCode
	}
	return nil
}
