package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"API_ADDR", "PUBLIC_ID_SEED", "BULK_PACING_MS", "FEED_CACHE_TTL_SECONDS", "GOOGLE_SHEET_ID", "MINIO_USE_SSL"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, ":5000", cfg.Addr)
	assert.Equal(t, 2290, cfg.PublicIDSeed)
	assert.Equal(t, time.Second, cfg.BulkPacing)
	assert.Equal(t, 5*time.Minute, cfg.FeedCacheTTL)
	assert.Equal(t, "Published_Confessions", cfg.SheetPublishedTitle)
	assert.False(t, cfg.SheetsEnabled())
	assert.False(t, cfg.MinioUseSSL)
}

func TestLoadOverridesFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PUBLIC_ID_SEED=100\nGOOGLE_SHEET_ID=sheet-1\n"), 0o600))
	t.Setenv("PUBLIC_ID_SEED", "")
	t.Setenv("GOOGLE_SHEET_ID", "")

	cfg := Load()
	assert.Equal(t, 100, cfg.PublicIDSeed)
	assert.True(t, cfg.SheetsEnabled())
}

func TestGetenvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("BULK_PACING_MS", "soon")
	assert.Equal(t, 7, getenvInt("BULK_PACING_MS", 7))
	t.Setenv("MINIO_USE_SSL", "yes please")
	assert.True(t, getenvBool("MINIO_USE_SSL", true))
}
