package seed

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/sos-pricing/internal/domain/discount"
	"github.com/xenking/sos-pricing/internal/domain/promotion"
	"github.com/xenking/sos-pricing/internal/storage/memory"
)

func TestLoad_Idempotent(t *testing.T) {
	ctx := context.Background()
	meter := noop.NewMeterProvider().Meter("test")
	store := memory.New()

	promotions, err := promotion.NewService(store, store, meter)
	require.NoError(t, err)
	codes, err := discount.NewService(store, meter)
	require.NoError(t, err)

	require.NoError(t, Load(ctx, promotions, codes))
	require.NoError(t, Load(ctx, promotions, codes))

	rules, err := store.ListActive(ctx, time.Now())
	require.NoError(t, err)
	assert.Len(t, rules, len(Promotions()))

	cart := []promotion.CartItem{{ID: "sticker", Price: decimal.NewFromInt(6990), Quantity: 4}}
	res, err := promotions.Preview(ctx, cart)
	require.NoError(t, err)
	require.Len(t, res.AppliedPromotions, 1)
	assert.Equal(t, "tier-2-units", res.AppliedPromotions[0].ID)
	assert.True(t, decimal.NewFromInt(25164).Equal(res.FinalTotal))
}

func TestLoad_CodesCoverOutcomes(t *testing.T) {
	ctx := context.Background()
	meter := noop.NewMeterProvider().Meter("test")
	store := memory.New()

	promotions, err := promotion.NewService(store, store, meter)
	require.NoError(t, err)
	codes, err := discount.NewService(store, meter)
	require.NoError(t, err)
	require.NoError(t, Load(ctx, promotions, codes))

	want := map[string]discount.Reason{
		"SOS10":      discount.ReasonNone,
		"BIENVENIDA": discount.ReasonNone,
		"VENCIDO":    discount.ReasonExpired,
		"PAUSADO":    discount.ReasonInactive,
	}
	for code, reason := range want {
		res, err := codes.Preview(ctx, code, decimal.NewFromInt(5000))
		require.NoError(t, err)
		assert.Equal(t, reason, res.Reason, code)
		assert.Equal(t, reason == discount.ReasonNone, res.Valid, code)
	}
}
