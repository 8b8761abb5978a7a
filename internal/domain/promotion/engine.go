package promotion

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/sos-pricing/internal/domain/money"
)

// Calculate applies at most one quantity tier to the cart. Rules are expected
// to be pre-filtered to those active right now; Calculate does not look at
// dates. A cart that qualifies for no tier yields a zero discount, not an error.
// Only tiers the cart reaches are validated, so a malformed tier fails just
// the carts that would have been priced with it.
//
// When several tiers qualify, the winner is the one with the highest
// priority, then the largest MinQuantity, then the largest discount amount,
// then the smallest ID.
func Calculate(cart []CartItem, rules []Rule) (Result, error) {
	if err := validateCart(cart); err != nil {
		return Result{}, err
	}

	original := subtotal(cart)
	qty := totalQuantity(cart)

	res := Result{
		OriginalTotal:     original,
		FinalTotal:        original,
		TotalDiscount:     decimal.Zero,
		TotalQuantity:     qty,
		AppliedPromotions: []Applied{},
	}

	var (
		best       *Rule
		bestAmount decimal.Decimal
	)
	for i := range rules {
		r := &rules[i]
		if r.MinQuantity > qty {
			continue
		}
		if err := ValidateRule(r); err != nil {
			return Result{}, err
		}
		amount := discountAmount(r, original)
		if best == nil || beats(r, amount, best, bestAmount) {
			best, bestAmount = r, amount
		}
	}
	if best == nil {
		return res, nil
	}

	res.TotalDiscount = bestAmount
	res.FinalTotal = original.Sub(bestAmount)
	res.AppliedPromotions = []Applied{{
		ID:                best.ID,
		Description:       best.Description,
		DiscountType:      best.DiscountType,
		DiscountValue:     best.DiscountValue,
		DiscountAmount:    bestAmount,
		AppliedToQuantity: qty,
	}}
	return res, nil
}

// ValidateRule checks the invariants a tier must hold before it can be
// applied or stored.
func ValidateRule(r *Rule) error {
	if r.MinQuantity < 1 {
		return &InvalidRuleError{RuleID: r.ID, Reason: "min quantity must be at least 1"}
	}
	switch r.DiscountType {
	case DiscountPercentage:
		if !money.ValidPercentage(r.DiscountValue) {
			return &InvalidRuleError{RuleID: r.ID, Reason: "percentage must be between 0 and 100"}
		}
	case DiscountFixed:
		if r.DiscountValue.IsNegative() {
			return &InvalidRuleError{RuleID: r.ID, Reason: "fixed discount must not be negative"}
		}
	default:
		return &InvalidRuleError{RuleID: r.ID, Reason: "unsupported discount type " + string(r.DiscountType)}
	}
	return nil
}

// beats reports whether candidate r with discount amount a outranks the
// current best.
func beats(r *Rule, a decimal.Decimal, best *Rule, bestAmount decimal.Decimal) bool {
	if r.Priority != best.Priority {
		return r.Priority > best.Priority
	}
	if r.MinQuantity != best.MinQuantity {
		return r.MinQuantity > best.MinQuantity
	}
	if c := a.Cmp(bestAmount); c != 0 {
		return c > 0
	}
	return r.ID < best.ID
}

func discountAmount(r *Rule, original decimal.Decimal) decimal.Decimal {
	switch r.DiscountType {
	case DiscountPercentage:
		return money.CapAt(money.Percent(original, r.DiscountValue), original)
	case DiscountFixed:
		return money.CapAt(r.DiscountValue, original)
	default:
		return decimal.Zero
	}
}

func validateCart(cart []CartItem) error {
	if len(cart) == 0 {
		return &InvalidInputError{Reason: "cart is empty"}
	}
	for _, item := range cart {
		if item.Quantity < 1 {
			return &InvalidInputError{ItemID: item.ID, Reason: "quantity must be greater than 0"}
		}
		if !item.Price.IsPositive() {
			return &InvalidInputError{ItemID: item.ID, Reason: "price must be greater than 0"}
		}
	}
	return nil
}

// subtotal returns the sum of price * quantity across all items.
func subtotal(cart []CartItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range cart {
		sum = sum.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return sum
}

func totalQuantity(cart []CartItem) int {
	total := 0
	for _, item := range cart {
		total += item.Quantity
	}
	return total
}
