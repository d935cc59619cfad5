package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "pipeline.db", cfg.DatabaseDSN)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, 250, cfg.ChunkSize)
	assert.Equal(t, 3, cfg.ChunkRetries)
	assert.Equal(t, 10*time.Second, cfg.StorageTimeout)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.False(t, cfg.Debug)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PIPELINE_ADDR", ":9999")
	t.Setenv("PIPELINE_DB_DSN", "postgres://pipeline@db/pipeline")
	t.Setenv("PIPELINE_CHUNK_SIZE", "500")
	t.Setenv("PIPELINE_STORAGE_TIMEOUT", "30s")
	t.Setenv("PIPELINE_DEBUG", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "postgres://pipeline@db/pipeline", cfg.DatabaseDSN)
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 30*time.Second, cfg.StorageTimeout)
	assert.True(t, cfg.Debug)
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("PIPELINE_CHUNK_SIZE", "lots")
	t.Setenv("PIPELINE_STORAGE_TIMEOUT", "soon")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.ChunkSize)
	assert.Equal(t, 10*time.Second, cfg.StorageTimeout)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	_, err := Load("does-not-exist.env")
	assert.Error(t, err)
}
