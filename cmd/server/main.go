// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"evworth/internal/api"
	"evworth/internal/common/config"
	"evworth/internal/common/database"
	"evworth/internal/common/logger"
	"evworth/internal/history"
	"evworth/internal/market"
	"evworth/internal/pricing"
	"evworth/internal/registry"
	"evworth/internal/soh"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("delay", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting evworth",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	// Postgres holds the fleet degradation and vehicles tables.
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		zapLog.Fatal("postgres init failed", zap.Error(err))
	}
	defer pg.Close()

	if err := retryWithBackoff(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return pg.Ping(ctx)
	}, 5, 2*time.Second, zapLog, "postgres connection"); err != nil {
		zapLog.Fatal("postgres unreachable", zap.Error(err))
	}

	// Redis caches fleet SOH summaries. The service runs without it.
	var redisClient *database.RedisClient
	checks := map[string]api.Pinger{"postgres": pg}
	rc, err := database.NewRedis(cfg.Database.Redis)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err = rc.Ping(ctx)
		cancel()
	}
	if err != nil {
		zapLog.Warn("redis unavailable, fleet summary caching disabled", zap.Error(err))
	} else {
		redisClient = rc
		checks["redis"] = rc
		defer rc.Close()
	}

	// Price model + schema metadata. A failed load keeps the service up;
	// prediction calls report MODEL_UNAVAILABLE until a successful reload.
	reg := registry.New(cfg.Models.PriceModelPath, cfg.Models.MetadataPath, log)
	if err := reg.Load(); err != nil {
		zapLog.Warn("price model not loaded at startup", zap.Error(err))
	}

	predictor := pricing.New(reg, log)

	fleetStore, err := soh.NewStore(pg.GetDB(), cfg.Soh.FleetTable)
	if err != nil {
		zapLog.Fatal("fleet store init failed", zap.Error(err))
	}

	var cache *redis.Client
	if redisClient != nil {
		cache = redisClient.GetClient()
	}
	estimator := soh.NewEstimator(fleetStore, cache, cfg.Soh, cfg.Models.SohModelPath, log)

	marketStore := market.NewStore(pg.GetDB())

	var indexer *history.Indexer
	if cfg.History.Enabled {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			zapLog.Warn("elasticsearch init failed, prediction history disabled", zap.Error(err))
		} else {
			indexer = history.NewIndexer(es.Client, cfg.History.Index, log)
		}
	}

	server := api.NewServer(reg, predictor, estimator, marketStore, indexer, checks, log)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		zapLog.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		zapLog.Error("graceful shutdown failed", zap.Error(err))
	}
}
