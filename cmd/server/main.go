package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/liamcoop/incentives/calculator"
	"github.com/liamcoop/incentives/calculator/metrics"
	"github.com/liamcoop/incentives/internal/config"
	"github.com/liamcoop/incentives/internal/logger"
	"github.com/liamcoop/incentives/registry"
	"github.com/liamcoop/incentives/rules"
)

// closers collects resources released on shutdown, in reverse order
type closers []io.Closer

func (c closers) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			logger.Warn("failed to close resource", "error", err)
		}
	}
}

// buildRuleStore opens the configured rules backend
func buildRuleStore(ctx context.Context, cfg config.Config) (rules.RuleStore, closers, error) {
	switch cfg.RulesBackend {
	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return rules.NewPostgresRuleStore(db), closers{db}, nil

	case config.BackendS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return rules.NewS3RuleStore(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Prefix), nil, nil

	default:
		reg := registry.New(cfg.RulesRoot())
		if _, err := reg.EnsureRootExists(); err != nil {
			return nil, nil, err
		}
		return rules.NewFileRuleStore(reg), nil, nil
	}
}

// buildCache wraps store with the configured rule cache
func buildCache(ctx context.Context, cfg config.Config, store rules.RuleStore) (rules.RuleStore, closers, error) {
	cacheConfig := rules.DefaultCacheConfig()
	cacheConfig.TTL = cfg.CacheTTL

	switch cfg.CacheMode {
	case config.CacheMemory:
		cache := rules.NewInMemoryRuleCache(cacheConfig)
		return rules.NewCachedRuleStore(store, cache, rules.WithCacheLogger(logger.Logger)), nil, nil

	case config.CacheRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		cache := rules.NewRedisRuleCache(client, cacheConfig)
		return rules.NewCachedRuleStore(store, cache, rules.WithCacheLogger(logger.Logger)), closers{client}, nil

	default:
		return store, nil, nil
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, toClose, err := buildRuleStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer toClose.Close()

	source, cacheClosers, err := buildCache(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer cacheClosers.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	service, err := calculator.New(source,
		calculator.WithLogger(logger.Logger),
		calculator.WithMetrics(metrics.New(reg)),
		calculator.WithCompareConcurrency(cfg.CompareConcurrency),
	)
	if err != nil {
		return err
	}

	codes, err := service.Jurisdictions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list jurisdictions: %w", err)
	}
	logger.Info("rules backend ready",
		"backend", cfg.RulesBackend,
		"cache", cfg.CacheMode,
		"jurisdictions", len(codes),
	)

	server := NewServer(service, ServerOptions{
		Backend:        cfg.RulesBackend,
		Gatherer:       reg,
		RequestTimeout: cfg.RequestTimeout,
	})

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := logger.Setup(ctx, logger.OptionsFromEnv()); err != nil {
		logger.Warn("logger setup degraded", "error", err)
	}

	err := run(ctx)

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := logger.Shutdown(flushCtx); shutdownErr != nil {
		fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", shutdownErr)
	}

	if err != nil {
		logger.Fatal("server exited", "error", err)
	}
}
