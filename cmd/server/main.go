package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/flexprice/billing/internal/api"
	"github.com/flexprice/billing/internal/api/cron"
	"github.com/flexprice/billing/internal/cache"
	"github.com/flexprice/billing/internal/config"
	"github.com/flexprice/billing/internal/domain/customer"
	"github.com/flexprice/billing/internal/domain/plan"
	"github.com/flexprice/billing/internal/integration/catalogue"
	customerClient "github.com/flexprice/billing/internal/integration/customer"
	"github.com/flexprice/billing/internal/integration/payment"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/metrics"
	"github.com/flexprice/billing/internal/postgres"
	"github.com/flexprice/billing/internal/pubsub"
	"github.com/flexprice/billing/internal/pubsub/kafka"
	"github.com/flexprice/billing/internal/pubsub/memory"
	pubsubRouter "github.com/flexprice/billing/internal/pubsub/router"
	redisClient "github.com/flexprice/billing/internal/redis"
	repository "github.com/flexprice/billing/internal/repository/postgres"
	"github.com/flexprice/billing/internal/scheduler"
	"github.com/flexprice/billing/internal/sentry"
	"github.com/flexprice/billing/internal/service"
	temporalService "github.com/flexprice/billing/internal/temporal/service"
	"github.com/flexprice/billing/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
)

func main() {
	var opts []fx.Option

	opts = append(opts,
		fx.Provide(
			// Config
			config.NewConfig,

			// Logger
			logger.NewLogger,

			// Monitoring
			sentry.NewSentryService,
			provideMetrics,

			// Clock
			types.NewSystemClock,

			// DB
			postgres.NewDB,
			postgres.NewClient,

			// Cache
			provideRedisClient,
			cache.NewCache,

			// Event bus
			providePubSub,
			pubsubRouter.NewRouter,

			// Repositories
			repository.NewSubscriptionRepository,
			repository.NewSubscriptionHistoryRepository,
			repository.NewPaymentRetryRepository,
			repository.NewOutboxRepository,

			// Collaborators
			provideCatalogue,
			provideCustomerLookup,
			payment.NewGateway,
		),
	)

	// Services
	opts = append(opts,
		fx.Provide(
			service.NewServiceParams,
			service.NewSubscriptionService,
			service.NewPaymentRetryService,
			service.NewPaymentRetryProcessor,
			service.NewOutboxRelayService,
			service.NewPaymentEventConsumer,
			service.NewBillingSweepService,
		),
	)

	// Scheduling and API
	opts = append(opts,
		fx.Provide(
			temporalService.NewTemporalService,
			scheduler.NewScheduler,
			provideHandlers,
			api.NewRouter,
		),
		fx.Invoke(
			startProfiling,
			runMigrations,
			startMessageRouter,
			startScheduling,
			startAPIServer,
			flushOnStop,
		),
	)

	app := fx.New(opts...)
	app.Run()
}

func runsAPI(cfg *config.Configuration) bool {
	return cfg.Deployment.Mode == config.ModeLocal || cfg.Deployment.Mode == config.ModeServer
}

func runsWorkers(cfg *config.Configuration) bool {
	return cfg.Deployment.Mode == config.ModeLocal || cfg.Deployment.Mode == config.ModeWorker
}

func provideMetrics() *metrics.Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.NewMetrics(registry)
}

// provideRedisClient connects only when the cache is backed by Redis.
func provideRedisClient(cfg *config.Configuration, log *logger.Logger) (*redisClient.Client, error) {
	if cache.CacheType(cfg.Cache.Type) != cache.CacheTypeRedis {
		return nil, nil
	}
	return redisClient.NewClient(cfg.Redis, log)
}

func providePubSub(cfg *config.Configuration, log *logger.Logger) (pubsub.PubSub, error) {
	switch cfg.Events.Bus {
	case config.EventBusKafka:
		return kafka.NewPubSubFromConfig(cfg, log, cfg.Kafka.ConsumerGroup)
	default:
		return memory.NewPubSub(log), nil
	}
}

func provideCatalogue(cfg *config.Configuration, c cache.Cache, m *metrics.Metrics, log *logger.Logger) plan.Catalogue {
	client := catalogue.NewClient(cfg, log)
	if !cfg.Cache.Enabled {
		return client
	}
	return catalogue.NewCachedCatalogue(client, c, cfg.Cache.PlanTTL, m, log)
}

func provideCustomerLookup(cfg *config.Configuration, log *logger.Logger) customer.Lookup {
	return customerClient.NewClient(cfg, log)
}

func provideHandlers(
	cfg *config.Configuration,
	log *logger.Logger,
	db *sql.DB,
	sweepService service.BillingSweepService,
	temporal temporalService.TemporalService,
) api.Handlers {
	checks := map[string]api.HealthCheck{
		"postgres": db.PingContext,
	}

	var trigger cron.SweepTrigger
	if cfg.Scheduler.Mode == config.SchedulerModeTemporal {
		trigger = temporal
		checks["temporal"] = func(ctx context.Context) error {
			if !temporal.IsHealthy(ctx) {
				return errors.New("temporal is unreachable")
			}
			return nil
		}
	}

	return api.Handlers{
		Health: api.NewHealthHandler(checks),
		Cron:   cron.NewBillingCronHandler(sweepService, trigger, log),
	}
}

func startProfiling(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) {
	if !cfg.Profiling.Enabled {
		return
	}

	var profiler *pyroscope.Profiler
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p, err := pyroscope.Start(pyroscope.Config{
				ApplicationName: cfg.Profiling.AppName,
				ServerAddress:   cfg.Profiling.ServerAddress,
				Tags:            map[string]string{"mode": string(cfg.Deployment.Mode)},
				ProfileTypes: []pyroscope.ProfileType{
					pyroscope.ProfileCPU,
					pyroscope.ProfileAllocObjects,
					pyroscope.ProfileAllocSpace,
					pyroscope.ProfileInuseObjects,
					pyroscope.ProfileInuseSpace,
					pyroscope.ProfileGoroutines,
				},
			})
			if err != nil {
				// profiling never blocks startup
				log.Errorw("failed to start pyroscope profiler", "error", err)
				return nil
			}
			profiler = p
			log.Infow("pyroscope profiler started", "server", cfg.Profiling.ServerAddress)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if profiler == nil {
				return nil
			}
			return profiler.Stop()
		},
	})
}

func runMigrations(lc fx.Lifecycle, cfg *config.Configuration, db *sql.DB, log *logger.Logger) {
	if !cfg.Postgres.AutoMigrate {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return postgres.Migrate(ctx, db, log)
		},
	})
}

func startMessageRouter(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	router *pubsubRouter.Router,
	consumer service.PaymentEventConsumer,
	log *logger.Logger,
) {
	if !runsWorkers(cfg) {
		return
	}

	consumer.RegisterHandler(router)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					log.Errorw("message router stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return router.Close()
		},
	})
}

func startScheduling(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	sched *scheduler.Scheduler,
	temporal temporalService.TemporalService,
	log *logger.Logger,
) {
	switch cfg.Scheduler.Mode {
	case config.SchedulerModeTemporal:
		// the API triggers sweeps through Temporal, so every mode connects
		lc.Append(fx.Hook{
			OnStart: temporal.Start,
			OnStop:  temporal.Stop,
		})
	case config.SchedulerModeCron:
		if !runsWorkers(cfg) {
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return sched.Start()
			},
			OnStop: sched.Stop,
		})
	default:
		log.Infow("billing sweeps are not scheduled", "mode", cfg.Scheduler.Mode)
	}
}

func startAPIServer(lc fx.Lifecycle, cfg *config.Configuration, router *gin.Engine, log *logger.Logger) {
	if !runsAPI(cfg) {
		return
	}

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting API server", "address", cfg.Server.Address)
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("API server failed: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("shutting down API server")
			return server.Shutdown(ctx)
		},
	})
}

func flushOnStop(lc fx.Lifecycle, sentryService *sentry.Service, log *logger.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sentryService.Flush(2 * time.Second)
			_ = log.Sync()
			return nil
		},
	})
}
