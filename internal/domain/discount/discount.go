// Package discount validates user-entered discount codes against a cart
// total and commits redemptions.
//
// Business failures (unknown, inactive, expired, exhausted or misconfigured
// codes) are reported as a Result with Valid set to false, never as errors.
// Errors are reserved for infrastructure failures.
package discount

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates how a code reduces the cart total.
type Type string

const (
	// TypePercent takes a percentage of the cart total.
	TypePercent Type = "PERCENT"
	// TypeFixed takes a fixed amount, capped at the cart total.
	TypeFixed Type = "FIXED"
)

// Reason classifies why a code was rejected.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonNotFound      Reason = "not_found"
	ReasonInactive      Reason = "inactive"
	ReasonExpired       Reason = "expired"
	ReasonExhausted     Reason = "exhausted"
	ReasonMisconfigured Reason = "misconfigured"
)

// User-facing messages, one per outcome.
const (
	MessageApplied       = "Código de descuento aplicado"
	MessageNotFound      = "Código de descuento no válido"
	MessageInactive      = "Código de descuento desactivado"
	MessageExpired       = "Código de descuento expirado"
	MessageExhausted     = "Código de descuento agotado"
	MessageMisconfigured = "Configuración de descuento inválida"
)

var messages = map[Reason]string{
	ReasonNone:          MessageApplied,
	ReasonNotFound:      MessageNotFound,
	ReasonInactive:      MessageInactive,
	ReasonExpired:       MessageExpired,
	ReasonExhausted:     MessageExhausted,
	ReasonMisconfigured: MessageMisconfigured,
}

var (
	// ErrNotFound is returned by repositories when no code matches.
	ErrNotFound = errors.New("discount code not found")
	// ErrExhausted is returned by Repository.Redeem when the usage cap was
	// reached between validation and commit.
	ErrExhausted = errors.New("discount code exhausted")
	// ErrInvalidInput is returned for malformed requests, e.g. a negative
	// cart total or a redeem without a user.
	ErrInvalidInput = errors.New("invalid discount request")
	// ErrInvalidCode is returned when creating a code that violates its
	// invariants.
	ErrInvalidCode = errors.New("invalid discount code")
	// ErrDuplicateCode is returned when creating a code that already exists.
	ErrDuplicateCode = errors.New("discount code already exists")
	// ErrReferenceConflict is returned when a redeem reuses a reference that
	// already belongs to another user's redemption of the same code.
	ErrReferenceConflict = errors.New("redemption reference belongs to another user")
)

// Code is a stored discount code.
type Code struct {
	ID             string
	Code           string
	Type           Type
	Amount         decimal.Decimal
	Active         bool
	ExpiresAt      *time.Time
	MaxRedemptions *int
	UsageCount     int
	CreatedAt      time.Time
}

// Result is the outcome of validating a code against a cart total.
type Result struct {
	Valid           bool
	Code            string
	Type            Type
	Amount          decimal.Decimal
	AppliedDiscount decimal.Decimal
	NewTotal        decimal.Decimal
	Reason          Reason
	Message         string
}

// Redemption records one committed use of a code.
type Redemption struct {
	ID         string
	CodeID     string
	UserID     string
	Reference  string
	Discount   decimal.Decimal
	RedeemedAt time.Time
}

// Repository provides lookup and atomic redemption of codes.
type Repository interface {
	// FindByCode returns the code stored under the normalized code, or
	// ErrNotFound.
	FindByCode(ctx context.Context, code string) (*Code, error)
	// Redeem records the redemption and increments the usage counter of
	// its code in one transaction, unless the counter already reached the
	// cap, in which case nothing is written and ErrExhausted is returned.
	// A redemption whose (CodeID, Reference) pair already exists is a
	// replay: nothing is written and the stored redemption is returned.
	// prior is nil for a fresh redemption.
	Redeem(ctx context.Context, r *Redemption) (prior *Redemption, err error)
	CreateCode(ctx context.Context, c *Code) error
}

// Normalize returns the canonical form of a code: trimmed and upper-cased.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
