package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/snapmatch/internal/api"
	"github.com/your-org/snapmatch/internal/api/handlers"
	"github.com/your-org/snapmatch/internal/api/ws"
	"github.com/your-org/snapmatch/internal/config"
	"github.com/your-org/snapmatch/internal/guest"
	"github.com/your-org/snapmatch/internal/ingest"
	"github.com/your-org/snapmatch/internal/match"
	"github.com/your-org/snapmatch/internal/models"
	"github.com/your-org/snapmatch/internal/observability"
	"github.com/your-org/snapmatch/internal/queue"
	"github.com/your-org/snapmatch/internal/reconcile"
	"github.com/your-org/snapmatch/internal/storage"
	"github.com/your-org/snapmatch/internal/upload"
	"github.com/your-org/snapmatch/internal/vision"
)

// publisher is what the API needs from the queue.
type publisher interface {
	PublishCleanup(ctx context.Context, task models.CleanupTask) error
	PublishFolderEvent(ctx context.Context, ev models.FolderEvent) error
}

// localEvents delivers folder events straight to this instance's hub when
// NATS is not configured.
type localEvents struct {
	queue.Nop
	hub *ws.Hub
}

func (l localEvents) PublishFolderEvent(ctx context.Context, ev models.FolderEvent) error {
	return l.hub.BroadcastEvent(ctx, ev)
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
	gin.SetMode(gin.ReleaseMode)

	slog.Info("starting snapmatch API service", "port", cfg.Server.Port, "store", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Embedding store
	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// WebSocket hub
	hub := ws.NewHub(cfg.Server.CORSOrigins)
	go hub.Run(ctx)

	checks := map[string]handlers.Check{
		"store": store.Ping,
		"minio": minioStore.Ping,
	}

	// Connect to NATS
	var events publisher = localEvents{hub: hub}
	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		events = producer
		checks["nats"] = func(context.Context) error { return producer.Ping() }

		// Fan folder events from every instance out to local WebSocket clients
		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create event consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		if err := consumer.ConsumeEvents(ctx, eventConsumerName(), hub.BroadcastEvent); err != nil {
			slog.Warn("start event consumer", "error", err)
		}
	} else {
		slog.Warn("nats not configured, cleanup retries are disabled and events stay local")
	}

	// Face extraction
	extractor, closeExtractor, err := vision.OpenExtractor(cfg.Extraction)
	if err != nil {
		slog.Error("open extractor", "backend", cfg.Extraction.Backend, "error", err)
		os.Exit(1)
	}
	defer closeExtractor()

	maxSelfie := int64(cfg.Upload.MaxSelfieMB) << 20

	pipeline := ingest.NewPipeline(minioStore, extractor, store, cfg.Extraction.Dimension, cfg.Ingest.Concurrency)
	coord := upload.NewCoordinator(minioStore, store, pipeline, events, cfg.Upload)
	deleter := reconcile.NewDeleter(store, minioStore, events, events)
	matcher := match.NewMatcher(store, extractor, cfg.Matching.Threshold, cfg.Extraction.Dimension, maxSelfie)

	sessions := guest.NewRegistry(matcher, cfg.Guest.SessionTTL)
	go sessions.Run(ctx, time.Minute)

	router := api.NewRouter(api.RouterConfig{
		APIKey:          cfg.Server.APIKey,
		CORSOrigins:     cfg.Server.CORSOrigins,
		Store:           store,
		Signer:          minioStore,
		Coordinator:     coord,
		Deleter:         deleter,
		Matcher:         matcher,
		Sessions:        sessions,
		Hub:             hub,
		Checks:          checks,
		GuestLimiter:    api.NewRateLimiter(cfg.Guest.RateLimit, cfg.Guest.RateBurst),
		MatchURLExpiry:  cfg.Matching.PresignExpiry,
		MaxSelfieBytes:  maxSelfie,
		RegisterTimeout: cfg.Upload.RegisterTimeout,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	cancel()

	slog.Info("API server stopped")
}

// eventConsumerName is unique per instance so every replica sees every event.
func eventConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = fmt.Sprintf("pid%d", os.Getpid())
	}
	// Consumer names may not contain subject tokens.
	return "api-events-" + strings.NewReplacer(".", "-", "*", "-", ">", "-").Replace(host)
}
