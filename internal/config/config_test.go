package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("LATTICED_PORT")
	os.Unsetenv("LATTICED_DATA_DIR")
	os.Unsetenv("LATTICED_KEY_DIR")
	os.Unsetenv("LATTICED_HOST")
	os.Unsetenv("LATTICED_BOOTSTRAP")

	cfg := Load()
	require.Equal(t, DefaultPrimaryPort, cfg.Port)
	require.Equal(t, DefaultEntrypoints, cfg.BootstrapPeers)
	require.Equal(t, cfg.Port+1, cfg.SyncPort())
}

func TestLoadOverridesFromEnv(t *testing.T) {
	os.Setenv("LATTICED_PORT", "7000")
	os.Setenv("LATTICED_BOOTSTRAP", "ws://a:1,ws://b:2")
	defer os.Unsetenv("LATTICED_PORT")
	defer os.Unsetenv("LATTICED_BOOTSTRAP")

	cfg := Load()
	require.Equal(t, 7000, cfg.Port)
	require.Equal(t, []string{"ws://a:1", "ws://b:2"}, cfg.BootstrapPeers)
	require.Equal(t, 7001, cfg.SyncPort())
}
