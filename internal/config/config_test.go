package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/pricepaid-importer/internal/apperrors"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"OUTPUT_BUCKET":     "lots-of-data",
		"OUTPUT_KEY_PREFIX": "/house_prices/",
	}))
	require.NoError(t, err)

	assert.Equal(t, "lots-of-data", cfg.Output.Bucket)
	assert.Equal(t, "house_prices", cfg.Output.KeyPrefix)
	assert.Equal(t, EncodingJSON, cfg.Output.Encoding)
	assert.Equal(t, BackendS3, cfg.Storage.Backend)
	assert.Equal(t, DefaultSourceURL, cfg.Source.URL)
	assert.Equal(t, 5*time.Minute, cfg.Source.Timeout)
	assert.Equal(t, 1995, cfg.Import.StartYear)
	assert.Equal(t, 1, cfg.Import.Workers)
	assert.False(t, cfg.Import.FailFast)
	assert.False(t, cfg.LedgerEnabled())
}

func TestFromLookup_RequiredSettings(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		setting string
	}{
		{"missing bucket", map[string]string{"OUTPUT_KEY_PREFIX": "p"}, "OUTPUT_BUCKET"},
		{"missing prefix", map[string]string{"OUTPUT_BUCKET": "b"}, "OUTPUT_KEY_PREFIX"},
		{"blank prefix", map[string]string{"OUTPUT_BUCKET": "b", "OUTPUT_KEY_PREFIX": "  "}, "OUTPUT_KEY_PREFIX"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromLookup(lookupFrom(tt.env))
			require.Error(t, err)

			var cfgErr *apperrors.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.setting, cfgErr.Setting)
		})
	}
}

func TestFromLookup_InvalidValues(t *testing.T) {
	base := func(extra map[string]string) map[string]string {
		env := map[string]string{"OUTPUT_BUCKET": "b", "OUTPUT_KEY_PREFIX": "p"}
		for k, v := range extra {
			env[k] = v
		}
		return env
	}

	tests := []struct {
		name    string
		env     map[string]string
		setting string
	}{
		{"encoding", base(map[string]string{"OUTPUT_ENCODING": "avro"}), "OUTPUT_ENCODING"},
		{"backend", base(map[string]string{"STORAGE_BACKEND": "ftp"}), "STORAGE_BACKEND"},
		{"minio without endpoint", base(map[string]string{"STORAGE_BACKEND": "minio"}), "MINIO_ENDPOINT"},
		{"start year", base(map[string]string{"IMPORT_START_YEAR": "1990"}), "IMPORT_START_YEAR"},
		{"workers not int", base(map[string]string{"IMPORT_WORKERS": "many"}), "IMPORT_WORKERS"},
		{"workers zero", base(map[string]string{"IMPORT_WORKERS": "0"}), "IMPORT_WORKERS"},
		{"timeout", base(map[string]string{"SOURCE_TIMEOUT": "soon"}), "SOURCE_TIMEOUT"},
		{"fail fast", base(map[string]string{"FAIL_FAST": "perhaps"}), "FAIL_FAST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromLookup(lookupFrom(tt.env))

			var cfgErr *apperrors.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.setting, cfgErr.Setting)
		})
	}
}

func TestFromLookup_Overrides(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"OUTPUT_BUCKET":     "b",
		"OUTPUT_KEY_PREFIX": "p",
		"OUTPUT_ENCODING":   "Parquet",
		"STORAGE_BACKEND":   "minio",
		"MINIO_ENDPOINT":    "http://localhost:9000",
		"IMPORT_WORKERS":    "4",
		"FAIL_FAST":         "true",
		"BIGQUERY_PROJECT":  "proj",
		"SOURCE_TIMEOUT":    "30s",
	}))
	require.NoError(t, err)

	assert.Equal(t, EncodingParquet, cfg.Output.Encoding)
	assert.Equal(t, BackendMinio, cfg.Storage.Backend)
	assert.Equal(t, 4, cfg.Import.Workers)
	assert.True(t, cfg.Import.FailFast)
	assert.True(t, cfg.LedgerEnabled())
	assert.Equal(t, "pricepaid", cfg.BigQuery.Dataset)
	assert.Equal(t, 30*time.Second, cfg.Source.Timeout)
}
