package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/your-org/snapmatch/internal/config"
	"github.com/your-org/snapmatch/internal/observability"
	"github.com/your-org/snapmatch/internal/storage"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "snapmatch-ingestor",
	Short: "Bulk import and maintenance for snapmatch folders",
	Long: `snapmatch-ingestor talks to the same Postgres, MinIO and face extraction
backend as the API. Use it to import a directory of event photos into a folder
without going through presigned uploads, or to run maintenance jobs by hand.`,
	SilenceUsage: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// deps are the backends every subcommand needs.
type deps struct {
	cfg   *config.Config
	store storage.Store
	minio *storage.MinIOStore
}

func (d *deps) Close() {
	d.store.Close()
}

func connect(ctx context.Context) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("ingestor requires the postgres store, got %q", cfg.Database.Driver)
	}

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("connect to minio: %w", err)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	return &deps{cfg: cfg, store: store, minio: minioStore}, nil
}
