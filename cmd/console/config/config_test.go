package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/defistate/microswap/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("chain by name", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, "stateStreamURL: ws://localhost:8546\nchain: router\n"))
		require.NoError(t, err)
		assert.Equal(t, "console.log", cfg.LogFile)
		id, err := cfg.ChainID()
		require.NoError(t, err)
		assert.Equal(t, engine.NewChainID("router"), id)
	})

	t.Run("chain by id", func(t *testing.T) {
		want := engine.NewChainID("router")
		cfg, err := LoadConfig(writeConfig(t, "stateStreamURL: ws://localhost:8546\nchain: "+want.String()+"\n"))
		require.NoError(t, err)
		id, err := cfg.ChainID()
		require.NoError(t, err)
		assert.Equal(t, want, id)
	})

	t.Run("missing url", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "chain: router\n"))
		assert.ErrorContains(t, err, "stateStreamURL is required")
	})

	t.Run("bad chain id", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "stateStreamURL: ws://x\nchain: 0xzz\n"))
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
