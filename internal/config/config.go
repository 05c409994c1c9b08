package config

import (
	"log"
	"os"
	"strconv"
)

type Config struct {
	Storage    StorageConfig
	Checkpoint CheckpointConfig
	Catalog    CatalogConfig
	Metrics    MetricsConfig
	Logging    LoggingConfig
	Tables     TablesConfig
	Audit      AuditConfig
	Perf       PerfConfig
}

type StorageConfig struct {
	Backend        string
	Bucket         string
	Prefix         string
	LocalDir       string
	S3Endpoint     string
	S3Region       string
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseSSL    bool
	Compression    string
}

type CheckpointConfig struct {
	Enabled bool
	Dir     string
}

type CatalogConfig struct {
	Backend string
	DSN     string
	Strict  bool
}

type MetricsConfig struct {
	Enabled   bool
	Address   string
	Namespace string
}

type LoggingConfig struct {
	Format string
	Level  string
}

// TablesConfig locates the factor lookup tables inside the grid store.
type TablesConfig struct {
	Prefix string
	Strict bool // fail on category codes missing from a table
}

// AuditConfig controls provenance events for published outputs.
type AuditConfig struct {
	Enabled  bool
	Endpoint string // optional HTTP receiver
	Prefix   string
}

type PerfConfig struct {
	ParallelFactors      bool
	ParallelFactorsLimit int
}

// MustLoad reads configuration from environment variables, falling back to
// defaults suitable for a single-machine run against a local data directory.
func MustLoad() Config {
	log.Println("[config] loading")

	parallelLimit := 5
	if v := os.Getenv("PARALLEL_FACTORS_LIMIT"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			parallelLimit = parsed
		}
	}

	return Config{
		Storage: StorageConfig{
			Backend:        getenvDefault("STORAGE_BACKEND", "local"),
			Bucket:         os.Getenv("STORAGE_BUCKET"),
			Prefix:         os.Getenv("STORAGE_PREFIX"),
			LocalDir:       getenvDefault("LOCAL_DIR", "./data"),
			S3Endpoint:     os.Getenv("S3_ENDPOINT"),
			S3Region:       os.Getenv("S3_REGION"),
			MinIOEndpoint:  os.Getenv("MINIO_ENDPOINT"),
			MinIOAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			MinIOSecretKey: os.Getenv("MINIO_SECRET_KEY"),
			MinIOUseSSL:    parseBool(os.Getenv("MINIO_USE_SSL")),
			Compression:    getenvDefault("GRID_COMPRESSION", "zstd"),
		},
		Checkpoint: CheckpointConfig{
			Enabled: os.Getenv("CHECKPOINT_DISABLED") != "true",
			Dir:     getenvDefault("CHECKPOINT_DIR", "./checkpoints"),
		},
		Catalog: CatalogConfig{
			Backend: getenvDefault("CATALOG_BACKEND", "none"),
			DSN:     os.Getenv("CATALOG_DSN"),
			Strict:  parseBool(os.Getenv("CATALOG_STRICT")),
		},
		Metrics: MetricsConfig{
			Enabled:   parseBool(os.Getenv("METRICS_ENABLED")),
			Address:   getenvDefault("METRICS_ADDRESS", ":9090"),
			Namespace: getenvDefault("METRICS_NAMESPACE", "soil_loss"),
		},
		Logging: LoggingConfig{
			Format: getenvDefault("LOG_FORMAT", "text"),
			Level:  getenvDefault("LOG_LEVEL", "info"),
		},
		Tables: TablesConfig{
			Prefix: getenvDefault("TABLES_PREFIX", "tables"),
			Strict: parseBool(os.Getenv("STRICT_LOOKUP")),
		},
		Audit: AuditConfig{
			Enabled:  parseBool(os.Getenv("AUDIT_ENABLED")),
			Endpoint: os.Getenv("AUDIT_ENDPOINT"),
			Prefix:   getenvDefault("AUDIT_PREFIX", "_audit"),
		},
		Perf: PerfConfig{
			ParallelFactors:      parseBool(os.Getenv("PARALLEL_FACTORS")),
			ParallelFactorsLimit: parallelLimit,
		},
	}
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
