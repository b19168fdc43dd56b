// cmd/funding-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"funding-workflow/internal/app"
	"funding-workflow/internal/audit"
	commonaws "funding-workflow/internal/common/aws"
	"funding-workflow/internal/common/camunda"
	"funding-workflow/internal/common/config"
	"funding-workflow/internal/common/database"
	"funding-workflow/internal/common/logger"
	"funding-workflow/internal/common/observability"
	"funding-workflow/internal/notify"
	"funding-workflow/internal/scoring"
	"funding-workflow/internal/store"
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
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// checks are run by /ready; any failure reports not ready.
type checks map[string]func(context.Context) error

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting funding manager...",
		zap.String("environment", cfg.App.Environment),
		zap.String("store", cfg.Store.Backend),
	)

	obs, err := observability.New(cfg.App.Name, observability.AsGlobal())
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}

	ctx := context.Background()
	ready := checks{}

	kv, closeStore := openStore(ctx, cfg, zapLog, ready)
	defer closeStore()

	opts := app.Options{
		KV:            kv,
		Gateway:       scoring.NewHTTPGateway(cfg.Scoring.BaseURL, cfg.Scoring.APIKey, config.GetDuration(cfg.Scoring.Timeout)),
		Observability: obs,
	}

	// --- Audit trail ---
	if cfg.Audit.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		opts.Audit = audit.NewElasticsearchSink(esClient.Client, cfg.Audit.Index, log)
		ready["elasticsearch"] = esClient.Ping
		zapLog.Info("Elasticsearch audit sink enabled", zap.String("index", cfg.Audit.Index))
	}

	// --- Domain events ---
	if cfg.Integrations.AWS.SNS.Enabled {
		snsClient, err := commonaws.NewSNSClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		opts.Publisher = notify.NewSNSPublisher(snsClient, cfg.Integrations.AWS.SNS.TopicARN, log)
		zapLog.Info("SNS publisher enabled", zap.String("topicArn", cfg.Integrations.AWS.SNS.TopicARN))
	}

	// --- Zeebe ---
	var zeebe *camunda.Client
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: true,
				ConnectionTimeout:      10 * time.Second,
				RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
			})
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer zeebe.Close()
		opts.Messages = zeebe
		ready["zeebe"] = zeebe.HealthCheck
		zapLog.Info("Zeebe client connected successfully")
	}

	application, err := app.New(cfg, opts, log)
	if err != nil {
		zapLog.Fatal("application init failed", zap.Error(err))
	}

	// Submissions dispatched by a previous process never report back here.
	if n, err := application.Verification.ExpireOverdue(ctx); err != nil {
		zapLog.Error("scoring deadline sweep incomplete", zap.Int("expired", n), zap.Error(err))
	} else {
		zapLog.Info("scoring deadline sweep finished", zap.Int("expired", n))
	}

	var workers *camunda.Workers
	if zeebe != nil {
		workers = camunda.NewWorkers(zeebe.GetClient(), log)
		n := application.Start(workers)
		log.Info("Workers registered", map[string]interface{}{"count": n, "taskTypes": workers.TaskTypes()})
	}

	// --- Health & Metrics Server ---
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: routes(ready),
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if workers != nil {
		workers.Close()
	}
	if err := application.Dispatcher.Shutdown(shutdownCtx); err != nil {
		zapLog.Warn("Scoring calls still in flight at shutdown", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping observability", zap.Error(err))
	}

	zapLog.Info("Funding manager stopped")
}

// openStore connects the configured record store and registers its readiness check.
func openStore(ctx context.Context, cfg *config.Config, zapLog *zap.Logger, ready checks) (store.KV, func()) {
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		var pg *database.PostgresClient
		err := retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}

		kv := store.NewPostgresKV(pg.DB, cfg.Store.Table)
		if err := kv.Migrate(ctx); err != nil {
			zapLog.Fatal("postgres migration failed", zap.Error(err))
		}
		ready["postgres"] = pg.Ping
		zapLog.Info("PostgreSQL connected successfully", zap.String("table", cfg.Store.Table))
		return kv, func() { pg.Close() }

	case config.StoreBackendRedis:
		rdb := database.NewRedis(cfg.Database.Redis)
		err := retryWithBackoff(func() error {
			return rdb.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		ready["redis"] = rdb.Ping
		zapLog.Info("Redis connected successfully")
		return store.NewRedisKV(rdb.Client, cfg.Database.Redis.KeyPrefix), func() { rdb.Close() }

	default:
		zapLog.Warn("Using in-memory store; records are lost on restart")
		return store.NewMemoryKV(), func() {}
	}
}

func routes(ready checks) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		failed := map[string]string{}
		for name, check := range ready {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			writeStatus(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not ready", "failed": failed})
			return
		}
		writeStatus(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func writeStatus(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
