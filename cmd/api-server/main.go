// Command api-server serves the storefront pricing API: quantity-tier
// promotions and discount codes.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	pricing "github.com/xenking/sos-pricing/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := pricing.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "config")
		}
		return pricing.Run(ctx, lg, m, cfg)
	})
}
