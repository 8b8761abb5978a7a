// Command code-import bulk-loads discount codes from plain or gzipped dumps.
//
//	code-import --type PERCENT --amount 10 codes-1.gz codes-2.gz
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/sos-pricing/internal/codeimport"
	"github.com/xenking/sos-pricing/internal/domain/discount"
	"github.com/xenking/sos-pricing/internal/storage/postgres"
)

func main() {
	var (
		databaseURL    string
		codeType       string
		amount         string
		maxRedemptions int
		expiresAt      string
		inactive       bool
		batchSize      int
		expected       uint
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&codeType, "type", string(discount.TypePercent), "default discount type: PERCENT or FIXED")
	flag.StringVar(&amount, "amount", "10", "default discount amount")
	flag.IntVar(&maxRedemptions, "max-redemptions", 0, "default redemption cap, 0 for unlimited")
	flag.StringVar(&expiresAt, "expires-at", "", "default expiry, RFC 3339")
	flag.BoolVar(&inactive, "inactive", false, "import codes deactivated")
	flag.IntVar(&batchSize, "batch-size", 1000, "codes per insert batch")
	flag.UintVar(&expected, "expected-codes", 10_000_000, "expected number of codes, sizes the de-duplication filter")
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
	if flag.NArg() == 0 {
		lg.Fatal("At least one input file is required")
	}

	defaults, err := parseDefaults(codeType, amount, maxRedemptions, expiresAt, !inactive)
	if err != nil {
		lg.Fatal("Invalid defaults", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	cfg := codeimport.Config{
		Defaults:      defaults,
		BatchSize:     batchSize,
		ExpectedCodes: expected,
	}
	if err := run(ctx, databaseURL, cfg, flag.Args()); err != nil {
		lg.Error("Code import failed", zap.Error(err))
		os.Exit(1)
	}
}

func parseDefaults(codeType, amount string, maxRedemptions int, expiresAt string, active bool) (codeimport.Defaults, error) {
	d := codeimport.Defaults{Type: discount.Type(codeType), Active: active}

	var err error
	if d.Amount, err = decimal.NewFromString(amount); err != nil {
		return d, errors.Wrap(err, "amount")
	}
	if maxRedemptions > 0 {
		d.MaxRedemptions = &maxRedemptions
	}
	if expiresAt != "" {
		t, err := time.Parse(time.RFC3339, expiresAt)
		if err != nil {
			return d, errors.Wrap(err, "expires-at")
		}
		d.ExpiresAt = &t
	}
	return d, nil
}

func run(ctx context.Context, databaseURL string, cfg codeimport.Config, files []string) error {
	lg := zctx.From(ctx)

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	sources := make([]codeimport.Source, len(files))
	for i, f := range files {
		sources[i] = codeimport.FileSource(f)
	}

	start := time.Now()
	stats, err := codeimport.New(postgres.NewDiscountRepository(pool), cfg).Run(ctx, sources...)
	lg.Info("Code import finished",
		zap.Int64("read", stats.Read),
		zap.Int64("invalid", stats.Invalid),
		zap.Int64("duplicates", stats.Duplicates),
		zap.Int64("inserted", stats.Inserted),
		zap.Duration("took", time.Since(start)),
	)
	return err
}
