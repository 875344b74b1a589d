// Package config loads the vcgraph command line settings from defaults, an
// optional vcgraph.yaml and VCGRAPH_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

const (
	DefaultFile = "vcgraph.yaml"
	EnvPrefix   = "VCGRAPH_"

	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

type Config struct {
	Store  StoreConfig  `koanf:"store"`
	Diff   DiffConfig   `koanf:"diff"`
	Log    LogConfig    `koanf:"log"`
	Branch BranchConfig `koanf:"branch"`
}

type StoreConfig struct {
	Driver    string `koanf:"driver"`
	Path      string `koanf:"path"`
	CacheSize int    `koanf:"cache_size"`
}

type DiffConfig struct {
	MaxConcurrentLoads int `koanf:"max_concurrent_loads"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

type BranchConfig struct {
	Default string `koanf:"default"`
}

func defaults() map[string]any {
	return map[string]any{
		"store.driver":              DriverSQLite,
		"store.path":                ".vcgraph/store.db",
		"store.cache_size":          4096,
		"diff.max_concurrent_loads": 16,
		"log.level":                 "warn",
		"log.pretty":                true,
		"branch.default":            "master",
	}
}

// envKey maps VCGRAPH_STORE_CACHE_SIZE to store.cache_size: the first
// underscore separates the section from the key.
func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
}

// Load reads the configuration. An empty path means DefaultFile, which may
// be missing; an explicitly named file must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			result = multierror.Append(result, errors.New("store.path is required for the sqlite driver"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Store.CacheSize < 0 {
		result = multierror.Append(result, fmt.Errorf("store.cache_size must not be negative, got %d", c.Store.CacheSize))
	}
	if c.Diff.MaxConcurrentLoads < 0 {
		result = multierror.Append(result, fmt.Errorf("diff.max_concurrent_loads must not be negative, got %d", c.Diff.MaxConcurrentLoads))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		result = multierror.Append(result, fmt.Errorf("log.level: %w", err))
	}
	return result.ErrorOrNil()
}
