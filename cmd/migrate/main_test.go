package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilenamePattern(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  string
		name     string
	}{
		{"0001_create_import_runs.sql", true, "0001", "create_import_runs"},
		{"001_invalid.sql", false, "", ""},
		{"0001_test", false, "", ""},
		{"0001.sql", false, "", ""},
		{"invalid_0001_test.sql", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			m := migrationPattern.FindStringSubmatch(tt.filename)
			if !tt.valid {
				assert.Nil(t, m)
				return
			}
			require.Len(t, m, 3)
			assert.Equal(t, tt.version, m[1])
			assert.Equal(t, tt.name, m[2])
		})
	}
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestReadMigrations(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"0002_view.sql":    "CREATE VIEW `{{PROJECT_ID}}.{{DATASET_ID}}.v` AS SELECT 1",
		"0001_runs.sql":    "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.import_runs` (x INT64)",
		"README.md":        "not a migration",
		"01_too_short.sql": "SELECT 1",
	})

	migrations, err := readMigrations(dir, "proj", "pricepaid")
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "runs", migrations[0].Name)
	assert.Equal(t, "CREATE TABLE `proj.pricepaid.import_runs` (x INT64)", migrations[0].SQL)
	assert.Equal(t, 2, migrations[1].Version)

	// The checksum ignores placeholder substitution.
	again, err := readMigrations(dir, "other", "other")
	require.NoError(t, err)
	assert.Equal(t, migrations[0].Checksum, again[0].Checksum)
	assert.NotEqual(t, migrations[0].Checksum, migrations[1].Checksum)
}

func TestReadMigrations_DuplicateVersion(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"0001_a.sql": "SELECT 1",
		"0001_b.sql": "SELECT 2",
	})

	_, err := readMigrations(dir, "p", "d")
	assert.Error(t, err)
}

func TestRepositoryMigrationsLoad(t *testing.T) {
	dir, err := locateDir("migrations/bigquery")
	require.NoError(t, err)

	migrations, err := readMigrations(dir, "p", "d")
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Contains(t, migrations[0].SQL, "`p.d.import_runs`")
}

func TestPendingMigrations(t *testing.T) {
	all := []Migration{
		{Version: 1, Name: "a", Checksum: "c1"},
		{Version: 2, Name: "b", Checksum: "c2"},
		{Version: 3, Name: "c", Checksum: "c3"},
	}
	applied := []AppliedMigration{
		{Version: 1, Checksum: "c1"},
		{Version: 2, Checksum: "changed"},
	}

	pending, mismatched := pendingMigrations(all, applied)
	require.Len(t, pending, 1)
	assert.Equal(t, 3, pending[0].Version)
	require.Len(t, mismatched, 1)
	assert.Equal(t, 2, mismatched[0].Version)
}
