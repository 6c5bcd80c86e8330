// Package config loads the node's runtime configuration from the
// environment: godotenv for local .env files, viper.AutomaticEnv for
// process environment overrides.
package config

import (
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultPrimaryPort  = 6969
	FallbackPrimaryPort = 5858
)

// DefaultEntrypoints is the hardcoded bootstrap list tried, in order, when
// no LATTICED_BOOTSTRAP override is configured.
var DefaultEntrypoints = []string{"ws://entrypoint.latticed.local:6969"}

// Config is the full set of knobs a running node reads at startup.
type Config struct {
	Port           int
	DataDir        string
	KeyDir         string
	BootstrapPeers []string
	SelfHost       string
}

// Load reads LATTICED_* environment variables, optionally seeded from a
// local .env file.
func Load() Config {
	_ = godotenv.Load(".env")
	viper.AutomaticEnv()

	cfg := Config{
		Port:     DefaultPrimaryPort,
		DataDir:  ".",
		KeyDir:   ".",
		SelfHost: "127.0.0.1",
	}

	if p := viper.GetString("LATTICED_PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			cfg.Port = n
		}
	}
	if d := viper.GetString("LATTICED_DATA_DIR"); d != "" {
		cfg.DataDir = d
	}
	if k := viper.GetString("LATTICED_KEY_DIR"); k != "" {
		cfg.KeyDir = k
	}
	if h := viper.GetString("LATTICED_HOST"); h != "" {
		cfg.SelfHost = h
	}
	if b := viper.GetString("LATTICED_BOOTSTRAP"); b != "" {
		for _, u := range strings.Split(b, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				cfg.BootstrapPeers = append(cfg.BootstrapPeers, u)
			}
		}
	}
	if len(cfg.BootstrapPeers) == 0 {
		cfg.BootstrapPeers = append(cfg.BootstrapPeers, DefaultEntrypoints...)
	}
	return cfg
}

// SyncPort is always the primary port + 1.
func (c Config) SyncPort() int { return c.Port + 1 }
