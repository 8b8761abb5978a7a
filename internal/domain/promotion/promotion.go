package promotion

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates how a quantity tier reduces the cart total.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the cart total.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount, capped at the cart total.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrInvalidInput is wrapped by every InvalidInputError.
	ErrInvalidInput = errors.New("invalid cart")
	// ErrInvalidRule is wrapped by every InvalidRuleError.
	ErrInvalidRule = errors.New("invalid promotion rule")
)

// InvalidInputError reports a malformed cart.
type InvalidInputError struct {
	ItemID string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.ItemID == "" {
		return fmt.Sprintf("invalid cart: %s", e.Reason)
	}
	return fmt.Sprintf("invalid cart item %s: %s", e.ItemID, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// InvalidRuleError reports a stored rule that cannot be applied.
type InvalidRuleError struct {
	RuleID string
	Reason string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid promotion rule %s: %s", e.RuleID, e.Reason)
}

func (e *InvalidRuleError) Unwrap() error { return ErrInvalidRule }

// CartItem is a single priced line of the cart.
type CartItem struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Quantity int
}

// Rule is a quantity tier: once the cart holds MinQuantity units in total,
// the discount applies to the whole cart.
type Rule struct {
	ID            string
	MinQuantity   int
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	Description   string
	Active        bool
	// Priority orders competing tiers; higher wins. Zero when unset.
	Priority  int
	StartsAt  *time.Time
	EndsAt    *time.Time
	CreatedAt time.Time
}

// Applied describes the tier that was applied to a cart.
type Applied struct {
	ID                string
	Description       string
	DiscountType      DiscountType
	DiscountValue     decimal.Decimal
	DiscountAmount    decimal.Decimal
	AppliedToQuantity int
}

// Result is the outcome of Calculate.
type Result struct {
	OriginalTotal     decimal.Decimal
	FinalTotal        decimal.Decimal
	TotalDiscount     decimal.Decimal
	TotalQuantity     int
	AppliedPromotions []Applied
}

// Application records that a tier was applied to a checkout.
type Application struct {
	ID             string
	PromotionID    string
	UserID         string
	TotalQuantity  int
	OriginalTotal  decimal.Decimal
	DiscountAmount decimal.Decimal
	AppliedAt      time.Time
}

// Repository loads and stores quantity tiers.
type Repository interface {
	// ListActive returns active rules whose window contains now.
	ListActive(ctx context.Context, now time.Time) ([]Rule, error)
	List(ctx context.Context) ([]Rule, error)
	CreateRule(ctx context.Context, rule *Rule) error
}

// ApplicationRepository persists applied promotions for analytics.
type ApplicationRepository interface {
	RecordApplication(ctx context.Context, app *Application) error
}
