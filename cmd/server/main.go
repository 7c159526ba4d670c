// Command server runs the complykit subscription and entitlement API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/complykit/complykit/db"
	billingapi "github.com/complykit/complykit/modules/billing"
	pkgconfig "github.com/complykit/complykit/pkg/config"
	"github.com/complykit/complykit/pkg/events"
	"github.com/complykit/complykit/pkg/httpserver"
	"github.com/complykit/complykit/pkg/identity"
	"github.com/complykit/complykit/pkg/logger"
	"github.com/complykit/complykit/pkg/paystack"
	"github.com/complykit/complykit/pkg/pg"
	"github.com/complykit/complykit/pkg/ratelimiter"
	"github.com/complykit/complykit/pkg/redis"
	"github.com/complykit/complykit/pkg/requestid"
	"github.com/complykit/complykit/svc/billing"
)

func main() {
	cfg := loadConfig()

	log := logger.New(
		logger.WithEnvironment(cfg.App.Env, cfg.App.Name),
		logger.WithContextExtractors(requestid.LoggerExtractor(), identity.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("server stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func loadConfig() config {
	var cfg config
	pkgconfig.MustLoad(&cfg.App)
	pkgconfig.MustLoad(&cfg.HTTP)
	pkgconfig.MustLoad(&cfg.Postgres)
	pkgconfig.MustLoad(&cfg.Redis)
	pkgconfig.MustLoad(&cfg.Paystack)
	pkgconfig.MustLoad(&cfg.Identity)
	pkgconfig.MustLoad(&cfg.Events)
	pkgconfig.MustLoad(&cfg.Billing)
	pkgconfig.MustLoad(&cfg.RateLimit)
	return cfg
}

func run(ctx context.Context, cfg config, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, db.Migrations, db.MigrationsDir, cfg.Postgres, log); err != nil {
		return err
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error("failed to close redis client", logger.Error(err))
		}
	}()

	publisher, err := newPublisher(cfg.Events, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error("failed to close event publisher", logger.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []billing.Option{
		billing.WithLogger(log),
		billing.WithMetrics(billing.NewMetrics(reg)),
		billing.WithPublisher(publisher),
	}

	store := billing.NewPostgresStore(pool, cfg.Postgres.TxTimeout)

	var cache billing.EntitlementCache
	if cfg.App.CacheEntitlements {
		cache = redis.NewJSONCache[billing.Entitlements](rdb, "entitlements")
	}
	resolver := billing.NewResolver(store, cache, cfg.Billing.CacheTTL, opts...)

	limiter, err := ratelimiter.New(ratelimiter.NewRedisStore(rdb, "ratelimit:actions"), cfg.RateLimit)
	if err != nil {
		return err
	}

	gateway := billing.NewPaystackGateway(paystack.NewClient(cfg.Paystack))
	module := billingapi.NewModule(billingapi.Services{
		Manager:    billing.NewManager(store, gateway, resolver, cfg.Billing, opts...),
		Resolver:   resolver,
		Reconciler: billing.NewReconciler(store, resolver, cfg.Paystack.SecretKey, opts...),
		Catalog:    billing.NewCatalog(store, opts...),
	}, identity.NewVerifier(cfg.Identity), log, billingapi.WithActionLimiter(limiter))

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", httpserver.LivenessHandler())
	r.Get("/readyz", httpserver.ReadinessHandler(log, 5*time.Second,
		httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)},
		httpserver.Check{Name: "redis", Fn: redis.Healthcheck(rdb)},
	))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Mount("/", module.Handle())

	log.Info("starting http server", "addr", cfg.HTTP.Addr)
	if err := httpserver.New(cfg.HTTP, log).Run(ctx, r); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newPublisher returns the Kafka publisher when brokers are configured and a
// no-op otherwise.
func newPublisher(cfg events.Config, log *slog.Logger) (events.Publisher, error) {
	if !cfg.Enabled() {
		log.Info("kafka brokers not configured, domain events are disabled")
		return events.Noop{}, nil
	}
	return events.NewKafkaPublisher(cfg, log)
}
