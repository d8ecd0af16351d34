package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/your-org/snapmatch/internal/config"
	"github.com/your-org/snapmatch/internal/observability"
	"github.com/your-org/snapmatch/internal/queue"
	"github.com/your-org/snapmatch/internal/reconcile"
	"github.com/your-org/snapmatch/internal/storage"
)

// cronLogger routes scheduler logs through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting snapmatch cleanup worker",
		"workers", cfg.Cleanup.WorkerCount,
		"schedule", cfg.Cleanup.Schedule,
	)

	// An empty in-memory store would make every object look orphaned.
	if cfg.Database.Driver != "postgres" {
		slog.Error("cleanup worker requires the postgres store", "driver", cfg.Database.Driver)
		os.Exit(1)
	}
	if cfg.NATS.URL == "" {
		slog.Error("cleanup worker requires nats.url")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	deleter := reconcile.NewDeleter(store, minioStore, producer, producer)
	sweeper := reconcile.NewSweeper(store, minioStore, cfg.Upload.Prefix, cfg.Cleanup.GracePeriod)

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	// Start consuming cleanup tasks
	err = consumer.ConsumeCleanup(ctx, "cleanup-workers", deleter.ProcessCleanup, cfg.Cleanup.WorkerCount)
	if err != nil {
		slog.Error("start cleanup consumer", "error", err)
		os.Exit(1)
	}

	// Orphan sweep
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})))
	_, err = scheduler.AddFunc(cfg.Cleanup.Schedule, func() {
		start := time.Now()
		n, err := sweeper.Sweep(ctx)
		if err != nil {
			slog.Error("orphan sweep failed", "error", err)
			return
		}
		slog.Info("orphan sweep finished", "removed", n, "duration", time.Since(start).String())
	})
	if err != nil {
		slog.Error("schedule orphan sweep", "schedule", cfg.Cleanup.Schedule, "error", err)
		os.Exit(1)
	}
	scheduler.Start()

	// Metrics endpoint
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Cleanup.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, name := range []string{queue.CleanupStreamName, queue.EventsStreamName} {
					depth, err := producer.QueueDepth(ctx, name)
					if err == nil {
						observability.QueueDepth.WithLabelValues(name).Set(float64(depth))
					}
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	<-scheduler.Stop().Done()
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}
