// Package app wires the checkout service together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/event"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/pricing"
	"github.com/xenking/storefront-checkout/internal/domain/shipping"
	"github.com/xenking/storefront-checkout/internal/domain/tax"
	"github.com/xenking/storefront-checkout/internal/events"
	"github.com/xenking/storefront-checkout/internal/handler"
	"github.com/xenking/storefront-checkout/internal/storage/memory"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
	"github.com/xenking/storefront-checkout/internal/storage/redisx"
	"github.com/xenking/storefront-checkout/pkg/health"
	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
)

const serviceName = "storefront-checkout"

// Telemetry provides the tracer and meter providers. *app.Telemetry of the
// go-faster sdk implements it.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// inventory is implemented by every storage backend.
type inventory interface {
	order.Inventory
	checkout.Inventory
}

// backend is the storage the services run on.
type backend struct {
	tx        order.Transactor
	orders    order.Repository
	payments  payment.Repository
	coupons   coupon.Repository
	inventory inventory
	close     func()
}

// openBackend connects the configured storage and registers its readiness
// check.
func openBackend(ctx context.Context, lg *zap.Logger, cfg *Config, hs *health.Health) (*backend, error) {
	if cfg.Storage == StorageMemory {
		lg.Warn("Using in-memory storage, data is lost on restart")
		st := memory.New()
		return &backend{
			tx:        st,
			orders:    st.Orders(),
			payments:  st.Payments(),
			coupons:   st.Coupons(),
			inventory: st.Inventory(),
			close:     func() {},
		}, nil
	}

	if cfg.Migrate {
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, errors.Wrap(err, "run migrations")
		}
		lg.Info("Migrations applied")
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	db := postgres.New(pool)
	hs.Add(health.Readiness, health.Check{
		Name:    "postgres",
		Timeout: 5 * time.Second,
		Func:    health.PingCheck(db),
	})
	return &backend{
		tx:        db,
		orders:    db.Orders(),
		payments:  db.Payments(),
		coupons:   db.Coupons(),
		inventory: db.Inventory(),
		close:     pool.Close,
	}, nil
}

// openPublisher returns the Kafka publisher when brokers are configured and
// the log publisher otherwise.
func openPublisher(lg *zap.Logger, cfg KafkaConfig) (event.Publisher, func()) {
	if len(cfg.Brokers) == 0 {
		lg.Info("No Kafka brokers configured, events go to the log")
		return events.NewLogPublisher(lg), func() {}
	}
	p := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		Producer: cfg.Producer,
	}, lg)
	return p, func() {
		if err := p.Close(); err != nil {
			lg.Warn("Close Kafka publisher", zap.Error(err))
		}
	}
}

// openDeduper connects Redis for webhook deduplication, if configured.
func openDeduper(lg *zap.Logger, cfg RedisConfig, hs *health.Health) (handler.Deduper, func(), error) {
	if !cfg.Enabled() {
		return nil, func() {}, nil
	}
	var rdb *redis.Client
	if cfg.URL != "" {
		var err error
		if rdb, err = redisx.NewFromURL(cfg.URL); err != nil {
			return nil, nil, err
		}
	} else {
		rdb = redisx.New(cfg.Addr, cfg.Password, cfg.DB)
	}
	d := redisx.NewDeduper(rdb, cfg.DedupTTL)
	hs.Add(health.Readiness, health.Check{
		Name:    "redis",
		Timeout: 2 * time.Second,
		Func:    health.PingCheck(d),
	})
	return d, func() {
		if err := rdb.Close(); err != nil {
			lg.Warn("Close redis", zap.Error(err))
		}
	}, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	pricingCfg, err := pricing.LoadConfig(cfg.PricingFile)
	if err != nil {
		return errors.Wrap(err, "load pricing")
	}

	hs := health.New()
	hs.Add(health.Liveness, health.Check{
		Name: "goroutines",
		Func: health.GoroutineCountCheck(10000),
	})

	store, err := openBackend(ctx, lg, cfg, hs)
	if err != nil {
		return err
	}
	defer store.close()

	publisher, closePublisher := openPublisher(lg, cfg.Kafka)
	defer closePublisher()

	dedup, closeDedup, err := openDeduper(lg, cfg.Redis, hs)
	if err != nil {
		return errors.Wrap(err, "open redis")
	}
	defer closeDedup()

	gws := openGateways(lg, m, cfg)
	if len(gws.registry.Names()) == 0 {
		lg.Warn("No payment gateway configured, only cash on delivery is available")
	}

	orders := order.NewService(store.orders, store.tx, store.inventory, publisher, lg.Named("order"))
	payments, err := payment.NewService(payment.Params{
		Payments:       store.payments,
		Orders:         store.orders,
		Machine:        orders,
		Coupons:        store.coupons,
		Tx:             store.tx,
		Gateways:       gws.registry,
		Events:         publisher,
		Logger:         lg.Named("payment"),
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
		Config: payment.Config{
			SessionTimeout: cfg.Payment.SessionTimeout,
			VerifyTimeout:  cfg.Payment.VerifyTimeout,
			RefundTimeout:  cfg.Payment.RefundTimeout,
			ReturnURL:      cfg.PublicURL + "/payments",
		},
	})
	if err != nil {
		return errors.Wrap(err, "create payment service")
	}
	engine := pricing.NewEngine(
		pricingCfg.Currency,
		coupon.NewEvaluator(lg.Named("coupon")),
		tax.NewCalculator(pricingCfg.Tax),
		shipping.NewResolver(pricingCfg.Shipping),
	)
	checkoutSvc := checkout.NewService(engine, store.coupons, orders, store.tx, store.inventory, payments, publisher, lg.Named("checkout"))

	var admin *handler.AdminAuth
	if len(cfg.Admin.KeyHashes) > 0 {
		if admin, err = handler.NewAdminAuth(cfg.Admin.Pepper, cfg.Admin.KeyHashes); err != nil {
			return errors.Wrap(err, "admin auth")
		}
	} else {
		lg.Warn("No admin keys configured, admin routes are unauthenticated")
	}

	h := handler.New(handler.Params{
		Checkout: checkoutSvc,
		Orders:   orders,
		Payments: payments,
		Webhooks: gws.webhooks,
		Returns:  gws.returns,
		Dedup:    dedup,
		Admin:    admin,
		Config: handler.Config{
			StorefrontURL:  cfg.StorefrontURL,
			RequestTimeout: cfg.RequestTimeout,
		},
	})

	r := chi.NewRouter()
	r.Use(
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.Instrument(serviceName, m.TracerProvider(), m.MeterProvider()),
		httpmiddleware.LogRequests(),
	)
	r.Get("/livez", hs.Handler(health.Liveness))
	r.Get("/readyz", hs.Handler(health.Readiness))
	h.Routes(r)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           r,
	}

	hs.Start(ctx, 10*time.Second)
	defer hs.Stop()
	hs.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening",
			zap.String("addr", cfg.Addr),
			zap.Strings("gateways", gws.registry.Names()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hs.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	return g.Wait()
}
