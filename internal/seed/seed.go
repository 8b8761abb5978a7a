// Package seed holds the sample tiers and codes loaded by cmd/seed-db and by
// the memory backend.
package seed

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/sos-pricing/internal/domain/discount"
	"github.com/xenking/sos-pricing/internal/domain/promotion"
)

// Promotions returns the standard sticker tiers: 10% from 2 units and 15%
// from 5 units.
func Promotions() []promotion.Rule {
	return []promotion.Rule{
		{
			ID:            "tier-2-units",
			MinQuantity:   2,
			DiscountType:  promotion.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(10),
			Description:   "10% de descuento llevando 2 stickers o más",
			Active:        true,
		},
		{
			ID:            "tier-5-units",
			MinQuantity:   5,
			DiscountType:  promotion.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(15),
			Description:   "15% de descuento llevando 5 stickers o más",
			Active:        true,
		},
	}
}

// Codes returns sample discount codes covering every validation outcome.
func Codes() []discount.Code {
	expired := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	welcomeCap := 100
	return []discount.Code{
		{Code: "SOS10", Type: discount.TypePercent, Amount: decimal.NewFromInt(10), Active: true},
		{Code: "BIENVENIDA", Type: discount.TypeFixed, Amount: decimal.NewFromInt(1000), Active: true, MaxRedemptions: &welcomeCap},
		{Code: "VENCIDO", Type: discount.TypePercent, Amount: decimal.NewFromInt(20), Active: true, ExpiresAt: &expired},
		{Code: "PAUSADO", Type: discount.TypePercent, Amount: decimal.NewFromInt(5), Active: false},
	}
}

// PromotionCreator stores tiers.
type PromotionCreator interface {
	Create(ctx context.Context, r *promotion.Rule) error
}

// CodeCreator stores discount codes.
type CodeCreator interface {
	Create(ctx context.Context, c *discount.Code) error
}

// Load stores the sample data. Tiers are replaced by id; codes that already
// exist are left untouched, so Load can run repeatedly.
func Load(ctx context.Context, promotions PromotionCreator, codes CodeCreator) error {
	lg := zctx.From(ctx)

	for _, r := range Promotions() {
		if err := promotions.Create(ctx, &r); err != nil {
			return errors.Wrapf(err, "seed promotion %s", r.ID)
		}
		lg.Info("Seeded promotion", zap.String("id", r.ID), zap.Int("min_quantity", r.MinQuantity))
	}

	for _, c := range Codes() {
		err := codes.Create(ctx, &c)
		switch {
		case errors.Is(err, discount.ErrDuplicateCode):
			lg.Info("Discount code already seeded", zap.String("code", c.Code))
		case err != nil:
			return errors.Wrapf(err, "seed discount code %s", c.Code)
		default:
			lg.Info("Seeded discount code", zap.String("code", c.Code), zap.String("type", string(c.Type)))
		}
	}
	return nil
}
