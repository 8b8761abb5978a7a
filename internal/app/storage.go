package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/sos-pricing/internal/domain/auth"
	"github.com/xenking/sos-pricing/internal/domain/discount"
	"github.com/xenking/sos-pricing/internal/domain/promotion"
	"github.com/xenking/sos-pricing/internal/storage/memory"
	"github.com/xenking/sos-pricing/internal/storage/postgres"
	"github.com/xenking/sos-pricing/pkg/health"
)

// repositories is the storage backend selected by Config.Storage.
type repositories struct {
	rules   promotion.Repository
	apps    promotion.ApplicationRepository
	codes   discount.Repository
	apikeys auth.Repository
	// seed asks Run to load the sample catalogue.
	seed  bool
	close func()
}

func openStorage(ctx context.Context, lg *zap.Logger, cfg *Config, h *health.Health) (*repositories, error) {
	switch cfg.Storage {
	case StorageMemory:
		store := memory.New()
		if cfg.Memory.APIKey != "" {
			store.PutAPIKey(auth.APIKeyInfo{
				ID:      "memory",
				KeyHash: auth.HashKey([]byte(cfg.APIKeyPepper), cfg.Memory.APIKey),
				Name:    "Memory backend key",
				Scopes:  []string{auth.ScopeCheckout, auth.ScopeAdmin},
			})
		}
		lg.Warn("Using in-memory storage, data is lost on restart")
		return &repositories{
			rules:   store,
			apps:    store,
			codes:   store,
			apikeys: store,
			seed:    cfg.Memory.Seed,
			close:   func() {},
		}, nil

	case StoragePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		h.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))

		promotions := postgres.NewPromotionRepository(pool)
		return &repositories{
			rules:   promotions,
			apps:    promotions,
			codes:   postgres.NewDiscountRepository(pool),
			apikeys: postgres.NewAPIKeyRepository(pool),
			close:   pool.Close,
		}, nil

	default:
		return nil, errors.Errorf("unknown storage %q", cfg.Storage)
	}
}
