package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/sos-pricing/internal/domain/discount"
	"github.com/xenking/sos-pricing/internal/domain/promotion"
	"github.com/xenking/sos-pricing/internal/handler"
	"github.com/xenking/sos-pricing/internal/seed"
	"github.com/xenking/sos-pricing/pkg/health"
	"github.com/xenking/sos-pricing/pkg/httpmiddleware"
)

const serviceName = "sos-pricing"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("storage", cfg.Storage))

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	h, closeStorage, err := newHandler(ctx, lg, m, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer closeStorage()

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           h,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newHandler opens storage, builds the domain services and returns the
// fully wrapped HTTP handler together with a function releasing storage.
func newHandler(
	ctx context.Context,
	lg *zap.Logger,
	m httpmiddleware.Telemetry,
	cfg *Config,
	healthSvc *health.Health,
) (http.Handler, func(), error) {
	repos, err := openStorage(ctx, lg, cfg, healthSvc)
	if err != nil {
		return nil, nil, err
	}

	meter := m.MeterProvider().Meter(serviceName)
	promotions, err := promotion.NewService(repos.rules, repos.apps, meter)
	if err != nil {
		repos.close()
		return nil, nil, errors.Wrap(err, "create promotion service")
	}
	discounts, err := discount.NewService(repos.codes, meter)
	if err != nil {
		repos.close()
		return nil, nil, errors.Wrap(err, "create discount service")
	}

	if repos.seed {
		if err := seed.Load(zctx.Base(ctx, lg), promotions, discounts); err != nil {
			repos.close()
			return nil, nil, errors.Wrap(err, "seed memory storage")
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	handler.NewHandler(promotions, discounts).Register(mux,
		handler.NewSecurityHandler(repos.apikeys, []byte(cfg.APIKeyPepper)),
	)

	routeFinder := httpmiddleware.MakeRouteFinder(mux)
	h := httpmiddleware.Wrap(mux,
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.RequestID(),
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader, httpmiddleware.RequestIDHeader},
			ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.Instrument(serviceName, routeFinder, m),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	)
	return h, repos.close, nil
}
