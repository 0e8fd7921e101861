// cmd/bot-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"communityos-bot/internal/common/config"
	"communityos-bot/internal/common/database"
	"communityos-bot/internal/common/logger"
	"communityos-bot/internal/common/metrics"
	"communityos-bot/internal/common/observability"
	"communityos-bot/internal/engine/access"
	"communityos-bot/internal/engine/analytics"
	"communityos-bot/internal/engine/dispatcher"
	"communityos-bot/internal/engine/registry"
	"communityos-bot/internal/engine/schedule"
	"communityos-bot/internal/engine/sweeper"
	"communityos-bot/internal/notify"
	"communityos-bot/internal/platform"
	"communityos-bot/internal/store"
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
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New("info", "console")
		fallback.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting bot manager...",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	obs := observability.New("bot-manager")
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		// Test the connection with context
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		// Test the connection with context
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		// Test the connection
		return esClient.Ping()
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Expiry Notifier ---
	notifier, err := notify.NewAWS(ctx, cfg.Notifications, log)
	if err != nil {
		zapLog.Fatal("notifier init failed", zap.Error(err))
	}

	// --- Engine components ---
	st := store.NewPostgres(pg.DB)
	restClient := platform.NewRESTClient(cfg.Platform)
	gateway := platform.NewGateway(cfg.Platform.GatewayURL, cfg.Platform.BotToken, log)

	reg := registry.New(st, redis.Client, log)
	sink := analytics.New(st, esClient.Client, cfg.Database.Elasticsearch.Index, cfg.Engine.AnalyticsBuffer, log)
	syncer := access.NewSynchronizer(restClient, log)
	sweep := sweeper.New(st, restClient, syncer, sink, notifier, log)

	sweepSched := schedule.New("expiry-sweep", cfg.Engine.SweepInterval, sweep.RunOnce, func() {
		metrics.SweepOverlapSkipped.Inc()
	}, log)
	reloadSched := schedule.New("registry-reload", cfg.Engine.RegistryReloadInterval, func(ctx context.Context) {
		if err := reg.Reload(ctx); err != nil {
			log.Error("scheduled registry reload failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}, nil, log)

	engine := dispatcher.New(reg, st, syncer, sink, restClient, redis.Client, sweepSched, reloadSched, obs, cfg, log)

	// --- Gateway & event loop ---
	go gateway.Run(ctx)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		engine.Run(ctx, gateway.Events())
	}()
	zapLog.Info("Gateway connected, event loop running")

	// --- Health & Metrics Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if reg.Len() == 0 {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "registry not loaded",
					"time":   time.Now().Format(time.RFC3339),
				})
				return
			}
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening on :8080")
		if err := http.ListenAndServe(":8080", nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping engine...")

	sweepSched.Stop()
	reloadSched.Stop()
	cancel()

	select {
	case <-engineDone:
	case <-time.After(30 * time.Second):
		zapLog.Warn("event loop did not drain in time")
	}

	sink.Close()

	zapLog.Info("Bot manager stopped gracefully")
}
