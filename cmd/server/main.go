package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/catalogimport/internal/broadcast"
	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/notify"
	"github.com/JonMunkholm/catalogimport/internal/queue"
	"github.com/JonMunkholm/catalogimport/internal/session"
	"github.com/JonMunkholm/catalogimport/internal/storage"
	"github.com/JonMunkholm/catalogimport/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"queue_backend", cfg.Queue.Backend,
		"storage_backend", cfg.Storage.Backend,
		"catalog_driver", cfg.Catalog.Driver,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	if err := run(cfg); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	store, closeStore, err := openSessionStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	db, err := catalog.Open(ctx, catalog.Options{Driver: cfg.Catalog.Driver, DSN: cfg.Catalog.DSN})
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer catalog.Close(db)
	if cfg.Catalog.AutoMigrate {
		if err := catalog.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate catalog: %w", err)
		}
	}

	artifacts, err := openArtifacts(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("connected to redis", "addr", opts.Addr)
	}

	deps := core.Deps{
		Store:     store,
		Catalog:   catalog.NewRepository(db),
		Artifacts: artifacts,
		Hub:       broadcast.NewHub(64),
		Notifier:  newDispatcher(cfg.Notify),
	}
	if rdb != nil {
		// Other instances follow progress over redis pub/sub.
		deps.Publisher = broadcast.NewRedisPublisher(rdb, cfg.Redis.Channel)
	}

	service, err := core.New(deps, core.ConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	q, err := newQueue(cfg.Queue, rdb, service)
	if err != nil {
		return err
	}

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	if err := service.StartWorkers(jobCtx, q); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}

	scheduler, err := core.NewScheduler(service, cfg.Sweeper.Schedule)
	if err != nil {
		return err
	}
	scheduler.Start()

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		scheduler.Stop(shutdownCtx)

		// Let running stages finish; unfinished tasks are swept as stale later.
		if err := q.Stop(shutdownCtx); err != nil {
			slog.Warn("workers did not stop in time", "error", err)
		}
		cancelJobs()

		if err := deps.Notifier.Close(shutdownCtx); err != nil {
			slog.Warn("notifications not delivered", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	slog.Info("server stopped")
	return nil
}

// openSessionStore connects to PostgreSQL when DATABASE_URL is set and
// falls back to process memory otherwise.
func openSessionStore(ctx context.Context, cfg config.DatabaseConfig) (session.Store, func(), error) {
	if cfg.URL == "" {
		slog.Warn("DATABASE_URL not set, import sessions are kept in memory")
		return session.NewMemoryStore(), func() {}, nil
	}

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	store := session.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

func openArtifacts(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "s3":
		s, err := storage.NewS3Store(ctx, storage.S3Options{Bucket: cfg.Bucket, Prefix: cfg.Prefix, Endpoint: cfg.Endpoint})
		if err != nil {
			return nil, err
		}
		slog.Info("storing uploads in s3", "bucket", cfg.Bucket, "prefix", cfg.Prefix)
		return s, nil
	default:
		s, err := storage.NewLocalStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		slog.Info("storing uploads on disk", "dir", cfg.Dir)
		return s, nil
	}
}

func newQueue(cfg config.QueueConfig, rdb *redis.Client, service *core.Service) (queue.Queue, error) {
	opts := service.QueueOptions(queue.Options{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	})
	switch cfg.Backend {
	case "redis":
		if rdb == nil {
			return nil, errors.New("QUEUE_BACKEND=redis requires REDIS_URL")
		}
		return queue.NewRedisQueue(rdb, cfg.Key, opts), nil
	default:
		return queue.NewMemoryQueue(256, opts), nil
	}
}

func newDispatcher(cfg config.NotifyConfig) *notify.Dispatcher {
	var notifiers []notify.Notifier
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.WebhookURL, cfg.Timeout))
	}
	if len(cfg.KafkaBrokers) > 0 {
		notifiers = append(notifiers, notify.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic))
	}

	var indexer notify.Indexer
	if cfg.SearchIndexURL != "" {
		indexer = notify.NewSearchIndex(cfg.SearchIndexURL, cfg.Timeout)
	}
	return notify.NewDispatcher(notifiers, indexer, cfg.Timeout, nil)
}
