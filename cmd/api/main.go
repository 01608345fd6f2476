package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/craftmarket/backend/internal/auth"
	"github.com/craftmarket/backend/internal/catalog"
	"github.com/craftmarket/backend/internal/config"
	"github.com/craftmarket/backend/internal/events"
	"github.com/craftmarket/backend/internal/guard"
	"github.com/craftmarket/backend/internal/handlers"
	"github.com/craftmarket/backend/internal/ledger"
	"github.com/craftmarket/backend/internal/lifecycle"
	"github.com/craftmarket/backend/internal/metrics"
	"github.com/craftmarket/backend/internal/middleware"
	"github.com/craftmarket/backend/internal/migrations"
	"github.com/craftmarket/backend/internal/repository"
	"github.com/craftmarket/backend/internal/router"
	"github.com/craftmarket/backend/internal/validation"
)

func main() {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.UsingDevSecret() {
		slog.Warn("JWT_SECRET not set, signing tokens with the development secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	// Schema migrations
	sqlDB := stdlib.OpenDBFromPool(pool)
	if err := migrations.Apply(ctx, sqlDB); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}
	sqlDB.Close()

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	// Event sink: Kafka when brokers are configured, otherwise the log.
	var sink events.Sink = events.LogSink{Logger: logger}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaSink.Close()
		sink = kafkaSink
		slog.Info("Publishing events to Kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	// Outbox: insert func is set after the River client is created (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn events.InsertTxFunc
	publisher := events.NewRiverPublisher(func(ctx context.Context, tx pgx.Tx, args river.JobArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			return errors.New("river insert not wired")
		}
		return fn(ctx, tx, args)
	})

	workers := river.NewWorkers()
	river.AddWorker(workers, events.NewNotifyWorker(sink))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.RiverWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args river.JobArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	// Balance cache
	var cache ledger.BalanceCache = ledger.NopCache{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("Invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("Redis unreachable, balance reads will fall through to PostgreSQL", "error", err)
		}
		cache = ledger.NewRedisCache(rdb, cfg.BalanceCacheTTL)
	}

	// Repositories
	users := repository.NewUserRepo(pool)
	products := repository.NewProductRepo(pool)
	orders := repository.NewOrderRepo(pool)
	offers := repository.NewOfferRepo(pool)
	jobs := repository.NewJobRepo(pool)
	progress := repository.NewProgressRepo(pool)
	balance := repository.NewBalanceRepo(pool)
	files := repository.NewFileRepo(pool)

	// Core
	accessor := catalog.NewAccessor(pool, products, orders, users, files, publisher, logger)
	ledgerSvc := ledger.NewService(pool, users, balance, accessor, cache, publisher, logger)
	g := guard.New(users, orders, offers, jobs)
	lifecycleSvc := lifecycle.NewService(pool, g, lifecycle.Repos{
		Orders:   orders,
		Offers:   offers,
		Jobs:     jobs,
		Progress: progress,
		Files:    files,
	}, ledgerSvc, publisher, logger)

	// HTTP
	authSvc := auth.NewService(users, cfg.JWTSecret, cfg.TokenTTL)
	validator, err := validation.New()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	limiter.StartCleanup(ctx, 5*time.Minute)

	mux := router.New(router.Deps{
		Auth:      auth.NewHandler(authSvc, logger),
		Tokens:    authSvc,
		Validator: validator,
		Limiter:   limiter,
		Balance:   &handlers.BalanceHandler{Ledger: ledgerSvc, Logger: logger},
		Products:  &handlers.ProductHandler{Catalog: accessor, Purchases: ledgerSvc, Logger: logger},
		Orders:    &handlers.OrderHandler{Lifecycle: lifecycleSvc, Logger: logger},
		Jobs:      &handlers.JobHandler{Lifecycle: lifecycleSvc, Logger: logger},
	})
	registerOpsRoutes(mux, pool)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (delivers outbox events)
	if err := riverClient.Start(ctx); err != nil {
		slog.Error("Failed to start River client", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           metrics.InstrumentHandler(corsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
		if err := riverClient.Stop(shutdownCtx); err != nil {
			slog.Error("River stop failed", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}
