package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/toolhire/platform/postcode-service/internal/command"
	"github.com/toolhire/platform/postcode-service/internal/config"
	"github.com/toolhire/platform/postcode-service/internal/handler"
	"github.com/toolhire/platform/postcode-service/internal/lookup"
	"github.com/toolhire/platform/postcode-service/internal/query"
	"github.com/toolhire/platform/postcode-service/internal/repository"
	"github.com/toolhire/platform/postcode-service/internal/telemetry"
	"github.com/toolhire/platform/shared/events"
	"github.com/toolhire/platform/shared/logger"
	"github.com/toolhire/platform/shared/middleware"
	sharedredis "github.com/toolhire/platform/shared/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(logger.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel))
	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		slog.Error("postcode service stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database connection (lookup audit log)
	var db *sql.DB
	if cfg.AuditEnabled() {
		var err error
		if db, err = sql.Open("postgres", cfg.DatabaseURL); err != nil {
			return err
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if err := repository.RunMigrations(db); err != nil {
			return err
		}
	} else {
		slog.Info("DATABASE_URL not set, lookup audit log disabled")
	}

	// Redis connection (result cache + event streaming)
	var rdb *goredis.Client
	if cfg.RedisRequired() {
		client, err := sharedredis.NewClient(ctx, sharedredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer client.Close()
		rdb = client.Client
	}

	// --- CQRS wiring ---
	lookupClient := lookup.NewClient(cfg.Lookup.BaseURL, &http.Client{Timeout: cfg.Lookup.Timeout})
	opts := queryOptions(cfg, db, rdb, telemetry.NewLookupMetrics(prometheus.DefaultRegisterer))
	querySvc := query.NewPostcodeQueryService(lookupClient, opts)

	if cfg.Events.Enabled && db != nil {
		commandSvc := command.NewLookupCommandService(repository.NewLookupRepository(db))
		go func() {
			subscriber := events.NewSubscriber(rdb, events.SubscriberConfig{
				Group:    cfg.Events.Group,
				Consumer: cfg.Events.Consumer,
				Stream:   events.PostcodeEventsStream,
				Handler:  commandSvc.HandlePostcodeEvent,
			})
			if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("subscriber stopped", "error", err)
			}
		}()
	}

	router := newRouter(
		handler.NewPostcodeHandler(querySvc),
		middleware.NewMetrics(prometheus.DefaultRegisterer, "postcode_service"),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("postcode service starting", "port", cfg.Port, "lookup", cfg.Lookup.BaseURL, "cache_ttl", cfg.Lookup.CacheTTL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// queryOptions wires the optional backends into the query service. A nil db
// leaves the audit log out; a nil rdb requires caching and events to be off.
func queryOptions(cfg *config.Config, db *sql.DB, rdb *goredis.Client, metrics *telemetry.LookupMetrics) query.Options {
	opts := query.Options{
		Metrics:          metrics,
		BatchConcurrency: cfg.Lookup.BatchConcurrency,
	}
	if db != nil {
		opts.Lookups = repository.NewLookupRepository(db)
	}
	if cfg.CacheEnabled() && rdb != nil {
		opts.Cache = repository.NewResultCache(rdb, cfg.Lookup.CacheTTL)
	}
	if cfg.Events.Enabled && rdb != nil {
		opts.Publisher = events.NewPublisher(rdb, cfg.Events.StreamMax)
	}
	return opts
}
