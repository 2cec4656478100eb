// Package config loads the runtime's configuration through a
// golobby/config/v3 feeder chain: built-in defaults, overridden by an
// optional file read from $DTCORE_HOME, overridden in turn by
// environment variables — the highest-precedence source wins.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golobby/config/v3"
	"github.com/golobby/config/v3/pkg/feeder"
)

// HomeEnvVar names the environment variable whose value is the directory
// a "dtcore.toml" or "dtcore.yaml" file is read from.
const HomeEnvVar = "DTCORE_HOME"

// Settings is the full set of recognized configuration options.
type Settings struct {
	ListenAuthority           string `toml:"listen_authority" yaml:"listen_authority" env:"LISTEN_AUTHORITY"`
	AskTimeoutMS              int    `toml:"ask_timeout_ms" yaml:"ask_timeout_ms" env:"ASK_TIMEOUT_MS"`
	ManagedSubscribeEnabled   bool   `toml:"managed_subscribe_enabled" yaml:"managed_subscribe_enabled" env:"MANAGED_SUBSCRIBE_ENABLED"`
	ManagedSubscribeBrokerURI string `toml:"managed_subscribe_broker_uri" yaml:"managed_subscribe_broker_uri" env:"MANAGED_SUBSCRIBE_BROKER_URI"`
	NameServiceURI            string `toml:"name_service_uri" yaml:"name_service_uri" env:"NAME_SERVICE_URI"`
	GraphEnabled              bool   `toml:"graph_enabled" yaml:"graph_enabled" env:"GRAPH_ENABLED"`
	RegistryEnabled           bool   `toml:"registry_enabled" yaml:"registry_enabled" env:"REGISTRY_ENABLED"`
	WatchConfig               bool   `toml:"watch_config" yaml:"watch_config" env:"WATCH_CONFIG"`
}

// AskTimeout is AskTimeoutMS as a time.Duration, for direct use by the
// graph facade.
func (s Settings) AskTimeout() time.Duration {
	return time.Duration(s.AskTimeoutMS) * time.Millisecond
}

// defaults returns the built-in, lowest-precedence Settings.
func defaults() Settings {
	return Settings{
		ListenAuthority: "0.0.0.0:50010",
		AskTimeoutMS:    5000,
		GraphEnabled:    true,
		RegistryEnabled: true,
	}
}

// Load builds Settings from defaults, an optional config file under
// $DTCORE_HOME, and environment variables, in that ascending order of
// precedence. The config file is "dtcore.toml" or "dtcore.yaml" —
// whichever is present — and is entirely optional.
func Load() (Settings, error) {
	cfg := defaults()

	builder := config.New()
	if fileFeeder, ok := fileFeeder(); ok {
		builder = builder.AddFeeder(fileFeeder)
	}
	builder = builder.AddFeeder(feeder.Env{})
	builder.AddStruct(&cfg)

	if err := builder.Feed(); err != nil {
		return Settings{}, fmt.Errorf("config: feed settings: %w", err)
	}
	return cfg, nil
}

// fileFeeder returns the file feeder to use, if $DTCORE_HOME names a
// directory containing a dtcore.toml or dtcore.yaml file.
func fileFeeder() (config.Feeder, bool) {
	home := os.Getenv(HomeEnvVar)
	if home == "" {
		return nil, false
	}

	tomlPath := filepath.Join(home, "dtcore.toml")
	if fileExists(tomlPath) {
		return feeder.Toml{Path: tomlPath}, true
	}

	yamlPath := filepath.Join(home, "dtcore.yaml")
	if fileExists(yamlPath) {
		return feeder.Yaml{Path: yamlPath}, true
	}

	return nil, false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ConfigFilePath returns the path of the config file Load would read:
// $DTCORE_HOME/dtcore.toml if it exists, else $DTCORE_HOME/dtcore.yaml if
// it exists. It returns "" when $DTCORE_HOME is unset or neither file is
// present, so the watcher only watches a directory that already holds a
// config file.
func ConfigFilePath() string {
	home := os.Getenv(HomeEnvVar)
	if home == "" {
		return ""
	}
	for _, name := range []string{"dtcore.toml", "dtcore.yaml"} {
		p := filepath.Join(home, name)
		if fileExists(p) {
			return p
		}
	}
	return ""
}
