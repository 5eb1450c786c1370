package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "directory")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "directory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.DBPort)
	assert.Equal(t, "4242", cfg.HTTPPort)
	assert.Equal(t, 50, cfg.ImportBatchSize)
	assert.Equal(t, 5*time.Second, cfg.DuplicateCheckTimeout)
	assert.Equal(t, "skip", cfg.DefaultDuplicateMode)
	assert.Equal(t, time.Second, cfg.StandardizePause)
	assert.Equal(t, []string{"title", "description", "category", "subcategory", "tags", "jsonld", "metadata"}, cfg.FallbackColumns)
	assert.InDelta(t, 0.85, cfg.FuzzyThreshold, 1e-9)
	assert.False(t, cfg.S3Enabled())
	assert.Equal(t, "host=localhost user=directory password=secret dbname=directory port=5432 sslmode=disable", cfg.DSN())
}

func TestLoadMissingRequired(t *testing.T) {
	for _, key := range []string{"DB_HOST", "DB_USER", "DB_PASSWORD", "DB_NAME"} {
		// Setenv registriert die Wiederherstellung, Unsetenv entfernt den Wert für diesen Test.
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	_, err := Load()
	assert.Error(t, err)
}
