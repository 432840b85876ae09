package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv("VOTEPOOL_DB", "")
	os.Unsetenv("VOTEPOOL_DB")
	t.Setenv("VOTEPOOL_LOG_LEVEL", "")
	os.Unsetenv("VOTEPOOL_LOG_LEVEL")

	cfg, err := New(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "votepool.db", cfg.DB)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestNew_Environment(t *testing.T) {
	t.Setenv("VOTEPOOL_DB", "/tmp/chain.db")
	t.Setenv("VOTEPOOL_FROM", "0x00000000000000000000000000000000000000a1")
	t.Setenv("VOTEPOOL_LOG_LEVEL", "debug")

	cfg, err := New(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/chain.db", cfg.DB)
	assert.Equal(t, "0x00000000000000000000000000000000000000a1", cfg.From)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestNew_EnvFile(t *testing.T) {
	// godotenv never overrides variables that are already set.
	t.Setenv("VOTEPOOL_PARAMS", "")
	os.Unsetenv("VOTEPOOL_PARAMS")
	t.Setenv("VOTEPOOL_LOG_LEVEL", "error")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("VOTEPOOL_PARAMS=deploy.cue\nVOTEPOOL_LOG_LEVEL=debug\n"), 0o600))

	cfg, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, "deploy.cue", cfg.Params)
	assert.Equal(t, "error", cfg.LogLevel)

	os.Unsetenv("VOTEPOOL_PARAMS")
}
