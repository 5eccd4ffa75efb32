package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/capacity-bookings/internal/adapters/crdb"
	"github.com/robertarktes/capacity-bookings/internal/adapters/memory"
	mongoadapter "github.com/robertarktes/capacity-bookings/internal/adapters/mongo"
	"github.com/robertarktes/capacity-bookings/internal/booking"
	"github.com/robertarktes/capacity-bookings/internal/config"
	"github.com/robertarktes/capacity-bookings/internal/domain"
	"github.com/robertarktes/capacity-bookings/internal/expiry"
	"github.com/robertarktes/capacity-bookings/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.CRDBDSN == "" {
		log.Fatal("CRDB_DSN is required")
	}
	logger := observability.NewLoggerWithOptions(observability.LogOptions{Level: cfg.LogLevel, File: cfg.LogFile})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	// Cancelling never reads the catalog, but the audit trail still wants
	// the cancellation entries.
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
	}

	svc := booking.NewService(repo, catalog, logger, svcOpts...)
	worker := expiry.NewWorker(repo, svc, expiry.Config{
		TTL:      cfg.PendingTTL,
		Interval: cfg.SweepInterval,
		Batch:    cfg.SweepBatch,
		Retries:  cfg.MaxAttempts,
	}, logger)

	logger.WithField("ttl", cfg.PendingTTL.String()).Info("expiry worker started")
	worker.Run(ctx)
	logger.Info("Shutdown expiry worker")
}
