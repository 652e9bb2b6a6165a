package bootstrap

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/booking-reconciler/internal/bookings"
	appconfig "github.com/wolfman30/booking-reconciler/internal/config"
	"github.com/wolfman30/booking-reconciler/internal/location"
	"github.com/wolfman30/booking-reconciler/internal/normalize"
	"github.com/wolfman30/booking-reconciler/internal/notify"
	"github.com/wolfman30/booking-reconciler/internal/observability/metrics"
	"github.com/wolfman30/booking-reconciler/internal/webhooks"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

// BuildLocationResolver returns the postcode resolver, or nil when no lookup
// URL is configured. Redis backs the cache when available so every instance
// shares hits.
func BuildLocationResolver(cfg *appconfig.Config, redisClient *redis.Client, observer location.Observer, logger *logging.Logger) *location.Resolver {
	client := BuildOutboundClient(cfg, "zip2location", cfg.Zip2LocationURL, nil, logger)
	if client == nil {
		return nil
	}
	var cache location.Cache
	if redisClient != nil {
		cache = location.NewRedisCache(redisClient, cfg.LocationCacheTTL)
	} else {
		cache = location.NewMemoryCache(cfg.LocationCacheTTL, time.Now)
	}
	resolver := location.NewResolver(cache, location.NewHTTPLookup(client), logger)
	if observer != nil {
		resolver.WithObserver(observer)
	}
	return resolver
}

// ProcessorDeps are the runtime pieces the webhook pipeline needs.
type ProcessorDeps struct {
	Config  *appconfig.Config
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Queue   notify.Queue
	Metrics *metrics.ReconcilerMetrics
	Logger  *logging.Logger
}

// BuildProcessor wires normalizer, reconciler, gate and publisher. Without a
// pool the in-memory store is used, which only suits local runs.
func BuildProcessor(deps ProcessorDeps) *webhooks.Processor {
	cfg, logger := deps.Config, deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	var store bookings.Store
	if deps.Pool != nil {
		store = bookings.NewPostgresStore(deps.Pool)
	} else {
		logger.Warn("no database configured, using in-memory booking store")
		store = bookings.NewMemoryStore()
	}

	opts := normalize.Options{
		Location:     LoadLocation(cfg.LocalTimezone, logger),
		CustomFields: cfg.CustomFields,
		Logger:       logger,
	}
	var observer location.Observer
	if deps.Metrics != nil {
		observer = deps.Metrics
	}
	if resolver := BuildLocationResolver(cfg, deps.Redis, observer, logger); resolver != nil {
		opts.Locations = resolver
	}

	procCfg := webhooks.Config{
		Normalizer: normalize.New(opts),
		Reconciler: bookings.NewReconciler(bookings.NewResolver(store, logger), bookings.Options{
			DefaultServiceCategory: cfg.ServiceCategoryDefault,
			Logger:                 logger,
		}),
		Gate:   notify.NewGate(notify.GateConfig{CRMCategories: cfg.CRMCategories}),
		Logger: logger,
	}
	if deps.Queue != nil {
		procCfg.Publisher = notify.NewPublisher(deps.Queue)
	}
	if deps.Metrics != nil {
		procCfg.Metrics = deps.Metrics
	}
	return webhooks.NewProcessor(procCfg)
}
