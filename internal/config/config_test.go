package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServer_Defaults(t *testing.T) {
	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "hearthsyncd.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadServer_Environment(t *testing.T) {
	t.Setenv("HEARTHSYNC_ADDR", ":9999")
	t.Setenv("HEARTHSYNC_DB", "/tmp/custom.db")
	t.Setenv("HEARTHSYNC_LOG_LEVEL", "debug")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "/tmp/custom.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
}
