package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dvloznov/pricepaid-importer/internal/apperrors"
	"github.com/dvloznov/pricepaid-importer/internal/period"
)

// DefaultSourceURL is the Price Paid Data CSV endpoint.
const DefaultSourceURL = "http://landregistry.data.gov.uk/app/ppd/ppd_data.csv"

// Storage backends.
const (
	BackendS3    = "s3"
	BackendGCS   = "gcs"
	BackendMinio = "minio"
)

// Output encodings.
const (
	EncodingJSON    = "json"
	EncodingParquet = "parquet"
)

// Config holds all configuration for the importer. It is built once at
// process start and passed to the components that need it.
type Config struct {
	Output   OutputConfig
	Storage  StorageConfig
	Source   SourceConfig
	Import   ImportConfig
	Log      LogConfig
	BigQuery BigQueryConfig
	Metrics  MetricsConfig
	Server   ServerConfig
}

// OutputConfig locates the partitioned dataset.
type OutputConfig struct {
	Bucket    string
	KeyPrefix string
	Encoding  string
}

// StorageConfig selects and configures the object store backend.
type StorageConfig struct {
	Backend        string
	Region         string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
}

// SourceConfig configures the remote dataset client.
type SourceConfig struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
	RateLimit  float64
	UserAgent  string
}

// ImportConfig tunes the scheduler.
type ImportConfig struct {
	StartYear int
	Workers   int
	FailFast  bool
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string
	Format string
}

// BigQueryConfig enables the import-run ledger when Project is set.
type BigQueryConfig struct {
	Project string
	Dataset string
}

// MetricsConfig configures metric export for one-shot runs.
type MetricsConfig struct {
	PushgatewayURL string
	Job            string
}

// ServerConfig configures the long-running server.
type ServerConfig struct {
	Addr     string
	Schedule string
}

// Load reads configuration from environment variables and an optional .env
// file. Missing required settings yield a *apperrors.ConfigurationError.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary lookup function.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	env := envReader{lookup: lookup}

	cfg := &Config{
		Output: OutputConfig{
			Bucket:    env.str("OUTPUT_BUCKET", ""),
			KeyPrefix: strings.Trim(env.str("OUTPUT_KEY_PREFIX", ""), "/"),
			Encoding:  strings.ToLower(env.str("OUTPUT_ENCODING", EncodingJSON)),
		},
		Storage: StorageConfig{
			Backend:        strings.ToLower(env.str("STORAGE_BACKEND", BackendS3)),
			Region:         env.str("AWS_REGION", ""),
			MinioEndpoint:  env.str("MINIO_ENDPOINT", ""),
			MinioAccessKey: env.str("MINIO_ACCESS_KEY", ""),
			MinioSecretKey: env.str("MINIO_SECRET_KEY", ""),
			MinioUseSSL:    env.boolean("MINIO_USE_SSL", false),
		},
		Source: SourceConfig{
			URL:        env.str("SOURCE_URL", DefaultSourceURL),
			Timeout:    env.duration("SOURCE_TIMEOUT", 5*time.Minute),
			MaxRetries: env.integer("SOURCE_MAX_RETRIES", 3),
			RateLimit:  env.float("SOURCE_RATE_LIMIT", 1),
			UserAgent:  env.str("SOURCE_USER_AGENT", "pricepaid-importer/1.0"),
		},
		Import: ImportConfig{
			StartYear: env.integer("IMPORT_START_YEAR", period.DataRangeStartYear),
			Workers:   env.integer("IMPORT_WORKERS", 1),
			FailFast:  env.boolean("FAIL_FAST", false),
		},
		Log: LogConfig{
			Level:  strings.ToLower(env.str("LOG_LEVEL", "info")),
			Format: strings.ToLower(env.str("LOG_FORMAT", "console")),
		},
		BigQuery: BigQueryConfig{
			Project: env.str("BIGQUERY_PROJECT", ""),
			Dataset: env.str("BIGQUERY_DATASET", "pricepaid"),
		},
		Metrics: MetricsConfig{
			PushgatewayURL: env.str("PUSHGATEWAY_URL", ""),
			Job:            env.str("PUSHGATEWAY_JOB", "pricepaid_import"),
		},
		Server: ServerConfig{
			Addr:     env.str("SERVER_ADDR", ":8080"),
			Schedule: env.str("IMPORT_SCHEDULE", "0 3 * * *"),
		},
	}

	if env.err != nil {
		return nil, env.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and enumerations.
func (c *Config) Validate() error {
	if c.Output.Bucket == "" {
		return &apperrors.ConfigurationError{Setting: "OUTPUT_BUCKET", Reason: "required"}
	}
	if c.Output.KeyPrefix == "" {
		return &apperrors.ConfigurationError{Setting: "OUTPUT_KEY_PREFIX", Reason: "required"}
	}
	switch c.Output.Encoding {
	case EncodingJSON, EncodingParquet:
	default:
		return &apperrors.ConfigurationError{Setting: "OUTPUT_ENCODING", Reason: fmt.Sprintf("unknown encoding %q", c.Output.Encoding)}
	}
	switch c.Storage.Backend {
	case BackendS3, BackendGCS:
	case BackendMinio:
		if c.Storage.MinioEndpoint == "" {
			return &apperrors.ConfigurationError{Setting: "MINIO_ENDPOINT", Reason: "required for the minio backend"}
		}
	default:
		return &apperrors.ConfigurationError{Setting: "STORAGE_BACKEND", Reason: fmt.Sprintf("unknown backend %q", c.Storage.Backend)}
	}
	if c.Import.StartYear < period.DataRangeStartYear {
		return &apperrors.ConfigurationError{Setting: "IMPORT_START_YEAR", Reason: fmt.Sprintf("must be >= %d", period.DataRangeStartYear)}
	}
	if c.Import.Workers < 1 {
		return &apperrors.ConfigurationError{Setting: "IMPORT_WORKERS", Reason: "must be >= 1"}
	}
	if c.Source.RateLimit <= 0 {
		return &apperrors.ConfigurationError{Setting: "SOURCE_RATE_LIMIT", Reason: "must be > 0"}
	}
	return nil
}

// LedgerEnabled reports whether import runs are recorded in BigQuery.
func (c *Config) LedgerEnabled() bool {
	return c.BigQuery.Project != ""
}

// envReader reads typed values, keeping the first parse error.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

// str gets an environment variable or returns a default value
func (e *envReader) str(key, defaultValue string) string {
	value, ok := e.lookup(key)
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return defaultValue
	}
	return value
}

func (e *envReader) integer(key string, defaultValue int) int {
	raw := e.str(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, fmt.Sprintf("not an integer: %q", raw))
		return defaultValue
	}
	return v
}

func (e *envReader) float(key string, defaultValue float64) float64 {
	raw := e.str(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(key, fmt.Sprintf("not a number: %q", raw))
		return defaultValue
	}
	return v
}

func (e *envReader) boolean(key string, defaultValue bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, fmt.Sprintf("not a boolean: %q", raw))
		return defaultValue
	}
	return v
}

func (e *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, fmt.Sprintf("not a duration: %q", raw))
		return defaultValue
	}
	return v
}

func (e *envReader) fail(key, reason string) {
	if e.err == nil {
		e.err = &apperrors.ConfigurationError{Setting: key, Reason: reason}
	}
}
