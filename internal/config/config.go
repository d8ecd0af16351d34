package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Upload     UploadConfig     `yaml:"upload"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Matching   MatchingConfig   `yaml:"matching"`
	Guest      GuestConfig      `yaml:"guest"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	APIKey       string        `yaml:"api_key"`
	CORSOrigins  []string      `yaml:"cors_origins"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	// Driver selects the embedding store: "postgres" or "memory".
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type UploadConfig struct {
	Prefix       string   `yaml:"prefix"`
	URLExpiry    int      `yaml:"url_expiry"` // minutes
	MaxBatch     int      `yaml:"max_batch"`
	AllowedTypes []string `yaml:"allowed_types"`
	MaxSelfieMB  int      `yaml:"max_selfie_mb"`

	// RegisterTimeout bounds one synchronous registration batch and must
	// finish before server.write_timeout.
	RegisterTimeout time.Duration `yaml:"register_timeout"`
}

// URLExpiryDuration returns the presigned URL lifetime.
func (u UploadConfig) URLExpiryDuration() time.Duration {
	return time.Duration(u.URLExpiry) * time.Minute
}

// The in-process backend runs ArcFace w600k_r50, which emits 512 floats
// normalised to unit length.
const (
	ArcFaceDimension = 512
	// ArcFaceThreshold is the Euclidean cut for unit vectors, roughly cosine 0.4.
	ArcFaceThreshold = 1.1
)

// Decoders available to the onnx backend.
var onnxDecodableTypes = []string{"image/jpeg", "image/png", "image/webp"}

type ExtractionConfig struct {
	// Backend is "http" for the face service or "onnx" for in-process models.
	Backend            string        `yaml:"backend"`
	URL                string        `yaml:"url"`
	Timeout            time.Duration `yaml:"timeout"`
	Dimension          int           `yaml:"dimension"`
	ModelsDir          string        `yaml:"models_dir"`
	DetectionThreshold float64       `yaml:"detection_threshold"`
}

type IngestConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type MatchingConfig struct {
	Threshold     float64       `yaml:"threshold"`
	PresignExpiry time.Duration `yaml:"presign_expiry"`
}

type GuestConfig struct {
	SessionTTL time.Duration `yaml:"session_ttl"`
	RateLimit  float64       `yaml:"rate_limit"` // requests per second per client
	RateBurst  int           `yaml:"rate_burst"`
}

type CleanupConfig struct {
	Schedule    string        `yaml:"schedule"`
	GracePeriod time.Duration `yaml:"grace_period"`
	WorkerCount int           `yaml:"worker_count"`
	MetricsPort int           `yaml:"metrics_port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file, loads an optional .env file next to the
// working directory and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid database.driver %q", c.Database.Driver)
	}
	switch c.Extraction.Backend {
	case "http", "onnx":
	default:
		return fmt.Errorf("invalid extraction.backend %q", c.Extraction.Backend)
	}
	if c.Extraction.Backend == "http" && c.Extraction.URL == "" {
		return fmt.Errorf("extraction.url is required for the http backend")
	}
	if c.Extraction.Backend == "onnx" {
		if c.Extraction.Dimension != ArcFaceDimension {
			return fmt.Errorf("extraction.dimension must be %d for the onnx backend, got %d",
				ArcFaceDimension, c.Extraction.Dimension)
		}
		for _, t := range c.Upload.AllowedTypes {
			if !slices.Contains(onnxDecodableTypes, t) {
				return fmt.Errorf("upload.allowed_types: %s cannot be decoded by the onnx backend", t)
			}
		}
	}
	if c.Matching.Threshold <= 0 {
		return fmt.Errorf("matching.threshold must be positive, got %v", c.Matching.Threshold)
	}
	if c.Upload.RegisterTimeout >= c.Server.WriteTimeout {
		return fmt.Errorf("upload.register_timeout (%s) must be shorter than server.write_timeout (%s)",
			c.Upload.RegisterTimeout, c.Server.WriteTimeout)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "snapmatch"
	}
	if cfg.Upload.Prefix == "" {
		cfg.Upload.Prefix = "uploads"
	}
	if cfg.Upload.URLExpiry == 0 {
		cfg.Upload.URLExpiry = 15
	}
	if cfg.Upload.MaxBatch == 0 {
		cfg.Upload.MaxBatch = 100
	}
	if cfg.Upload.MaxSelfieMB == 0 {
		cfg.Upload.MaxSelfieMB = 10
	}
	if cfg.Upload.RegisterTimeout == 0 {
		cfg.Upload.RegisterTimeout = cfg.Server.WriteTimeout * 5 / 6
	}
	if cfg.Extraction.Backend == "" {
		cfg.Extraction.Backend = "http"
	}
	onnx := cfg.Extraction.Backend == "onnx"
	if len(cfg.Upload.AllowedTypes) == 0 {
		if onnx {
			cfg.Upload.AllowedTypes = slices.Clone(onnxDecodableTypes)
		} else {
			// HEIC relies on the face service decoding it.
			cfg.Upload.AllowedTypes = []string{"image/jpeg", "image/png", "image/webp", "image/heic", "image/heif"}
		}
	}
	if cfg.Extraction.Timeout == 0 {
		cfg.Extraction.Timeout = 30 * time.Second
	}
	if cfg.Extraction.Dimension == 0 {
		cfg.Extraction.Dimension = 128
		if onnx {
			cfg.Extraction.Dimension = ArcFaceDimension
		}
	}
	if cfg.Extraction.DetectionThreshold == 0 {
		cfg.Extraction.DetectionThreshold = 0.5
	}
	if cfg.Ingest.Concurrency == 0 {
		cfg.Ingest.Concurrency = 4
	}
	if cfg.Matching.Threshold == 0 {
		cfg.Matching.Threshold = 0.6
		if onnx {
			cfg.Matching.Threshold = ArcFaceThreshold
		}
	}
	if cfg.Matching.PresignExpiry == 0 {
		cfg.Matching.PresignExpiry = time.Hour
	}
	if cfg.Guest.SessionTTL == 0 {
		cfg.Guest.SessionTTL = 30 * time.Minute
	}
	if cfg.Guest.RateLimit == 0 {
		cfg.Guest.RateLimit = 2
	}
	if cfg.Guest.RateBurst == 0 {
		cfg.Guest.RateBurst = 5
	}
	if cfg.Cleanup.Schedule == "" {
		cfg.Cleanup.Schedule = "@every 1h"
	}
	if cfg.Cleanup.GracePeriod == 0 {
		cfg.Cleanup.GracePeriod = 24 * time.Hour
	}
	if cfg.Cleanup.WorkerCount == 0 {
		cfg.Cleanup.WorkerCount = 2
	}
	if cfg.Cleanup.MetricsPort == 0 {
		cfg.Cleanup.MetricsPort = 8082
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SNAPMATCH_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SNAPMATCH_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("SNAPMATCH_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("SNAPMATCH_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("SNAPMATCH_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("SNAPMATCH_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("SNAPMATCH_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("SNAPMATCH_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("SNAPMATCH_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("SNAPMATCH_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SNAPMATCH_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("SNAPMATCH_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("SNAPMATCH_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("SNAPMATCH_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("SNAPMATCH_EXTRACTION_BACKEND"); v != "" {
		cfg.Extraction.Backend = v
	}
	if v := os.Getenv("SNAPMATCH_EXTRACTION_URL"); v != "" {
		cfg.Extraction.URL = v
	}
	if v := os.Getenv("SNAPMATCH_MODELS_DIR"); v != "" {
		cfg.Extraction.ModelsDir = v
	}
	if v := os.Getenv("SNAPMATCH_INGEST_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.Concurrency = n
		}
	}
	if v := os.Getenv("SNAPMATCH_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.Threshold = f
		}
	}
}
