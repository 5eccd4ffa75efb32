package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/capacity-bookings/internal/adapters/crdb"
	"github.com/robertarktes/capacity-bookings/internal/adapters/memory"
	mongoadapter "github.com/robertarktes/capacity-bookings/internal/adapters/mongo"
	"github.com/robertarktes/capacity-bookings/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/capacity-bookings/internal/adapters/redis"
	"github.com/robertarktes/capacity-bookings/internal/booking"
	"github.com/robertarktes/capacity-bookings/internal/config"
	"github.com/robertarktes/capacity-bookings/internal/domain"
	"github.com/robertarktes/capacity-bookings/internal/expiry"
	httphandler "github.com/robertarktes/capacity-bookings/internal/http"
	"github.com/robertarktes/capacity-bookings/internal/idempotency"
	"github.com/robertarktes/capacity-bookings/internal/observability"
	"github.com/robertarktes/capacity-bookings/internal/payments"
	"github.com/robertarktes/capacity-bookings/internal/rateLimit"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := observability.NewLoggerWithOptions(observability.LogOptions{Level: cfg.LogLevel, File: cfg.LogFile})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	checks := map[string]httphandler.ReadinessCheck{}

	var store booking.Store
	if cfg.CRDBDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		if err := crdb.Migrate(ctx, pool); err != nil {
			log.Fatalf("failed to migrate crdb: %v", err)
		}
		repo := crdb.NewRepository(pool)
		checks["crdb"] = repo.Ping
		store = repo
	} else {
		logger.Warn("CRDB_DSN not set, bookings are kept in memory")
		store = memory.NewStore()
	}

	var (
		catalog booking.Catalog = memory.NewCatalog()
		svcOpts                 = []booking.Option{
			booking.WithMaxAttempts(cfg.MaxAttempts),
			booking.WithLedger(domain.NewLedger(cfg.OverpaymentTolerance)),
		}
	)
	if cfg.MongoURI != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer client.Disconnect(context.Background())
		db := client.Database(cfg.MongoDB)
		catalog = mongoadapter.NewCatalogRepository(db, logger)
		svcOpts = append(svcOpts, booking.WithAuditTrail(mongoadapter.NewAuditLogger(db, logger)))
		checks["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
	}

	routerOpts := httphandler.RouterOptions{Logger: logger, RateLimitPerMinute: cfg.RateLimitPerMinute}
	if cfg.RedisAddr != "" {
		client := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		cache := redisadapter.NewCache(client)
		catalog = redisadapter.NewOfferingCache(client, catalog, cfg.OfferingCacheTTL, logger)
		routerOpts.Limiter = rateLimit.NewRateLimiter(cache, logger)
		routerOpts.Idempotency = idempotency.NewIdempotency(redisadapter.NewIdempotency(client), cfg.IdempotencyTTL, logger)
		checks["redis"] = cache.Ping
	}

	svc := booking.NewService(store, catalog, logger, svcOpts...)

	routerOpts.Auth, err = httphandler.NewAuthenticator(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("failed to setup auth: %v", err)
	}
	if cfg.JWTPublicKey == "" {
		logger.Warn("JWT_PUBLIC_KEY not set, trusting actor headers")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httphandler.SetupRouter(httphandler.NewHandlers(svc, checks), routerOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.RabbitURL != "" {
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer conn.Close()
		consumer, err := rabbit.NewConsumer(conn, cfg.GatewayExchange, cfg.GatewayQueue, payments.RoutingKeys...)
		if err != nil {
			log.Fatalf("failed to create gateway consumer: %v", err)
		}
		defer consumer.Close()
		deliveries, err := consumer.Consume(gctx)
		if err != nil {
			log.Fatalf("failed to consume gateway events: %v", err)
		}
		handler := payments.NewConsumer(svc, logger)
		g.Go(func() error {
			if err := handler.Run(gctx, deliveries); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	// With the in-memory store no other process can see the bookings, so
	// the sweeper runs here.
	if cfg.CRDBDSN == "" {
		worker := expiry.NewWorker(store, svc, expiry.Config{
			TTL:      cfg.PendingTTL,
			Interval: cfg.SweepInterval,
			Batch:    cfg.SweepBatch,
			Retries:  cfg.MaxAttempts,
		}, logger)
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("api stopped with error")
		os.Exit(1)
	}
	logger.Info("Server exiting")
}
