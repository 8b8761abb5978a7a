// Command seed-db applies the schema and loads the sample tiers, discount
// codes and an API key.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/sos-pricing/internal/domain/auth"
	"github.com/xenking/sos-pricing/internal/domain/discount"
	"github.com/xenking/sos-pricing/internal/domain/promotion"
	"github.com/xenking/sos-pricing/internal/seed"
	"github.com/xenking/sos-pricing/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or PRICING_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PRICING_API_KEY_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if apiKey == "" {
		apiKey = os.Getenv("PRICING_SEED_API_KEY")
	}
	if apiKey == "" {
		lg.Fatal("API key is required: set --api-key or PRICING_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("PRICING_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		os.Exit(1)
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
	lg := zctx.From(ctx)
	lg.Info("Connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	meter := noop.NewMeterProvider().Meter("seed-db")
	promotionRepo := postgres.NewPromotionRepository(pool)
	promotions, err := promotion.NewService(promotionRepo, promotionRepo, meter)
	if err != nil {
		return errors.Wrap(err, "create promotion service")
	}
	codes, err := discount.NewService(postgres.NewDiscountRepository(pool), meter)
	if err != nil {
		return errors.Wrap(err, "create discount service")
	}
	if err := seed.Load(ctx, promotions, codes); err != nil {
		return err
	}

	key := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey([]byte(pepper), apiKey),
		Name:    "Default storefront key",
		Scopes:  []string{auth.ScopeCheckout, auth.ScopeAdmin},
	}
	if err := postgres.NewAPIKeyRepository(pool).Upsert(ctx, key); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	lg.Info("Seeded API key", zap.String("id", key.ID), zap.Strings("scopes", key.Scopes))
	return nil
}
