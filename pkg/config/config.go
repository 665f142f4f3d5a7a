// Package config loads nomad configuration from the data directory and
// the environment. The config file is YAML under .nomad; every option can
// be overridden with a NOMAD_-prefixed environment variable, and a .env
// file in the working directory is honored.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cyypherus/nomad/pkg/utils"
)

// Config is the full nomad configuration.
type Config struct {
	Network struct {
		// Testnet is the interface endpoint joined at startup.
		Testnet string `mapstructure:"testnet" yaml:"testnet"`
		// CustomInterface, when set, replaces the testnet endpoint.
		CustomInterface string `mapstructure:"custom_interface" yaml:"custom_interface"`
	} `mapstructure:"network" yaml:"network"`

	Node struct {
		// Enabled turns on page hosting.
		Enabled bool `mapstructure:"enabled" yaml:"enabled"`
		// PagesPath is the directory served when hosting is enabled.
		PagesPath string `mapstructure:"pages_path" yaml:"pages_path"`
	} `mapstructure:"node" yaml:"node"`

	Cache struct {
		// Dir is the page cache directory.
		Dir string `mapstructure:"dir" yaml:"dir"`
	} `mapstructure:"cache" yaml:"cache"`

	Logging struct {
		Level string `mapstructure:"level" yaml:"level"`
		File  string `mapstructure:"file" yaml:"file"`
	} `mapstructure:"logging" yaml:"logging"`
}

// DataDir is where nomad keeps its state: config, node registry, page
// cache and logs.
func DataDir() string {
	return utils.EnvOrDefault("NOMAD_DATA_DIR", ".nomad")
}

// NodesPath is the node registry file inside the data directory.
func NodesPath() string {
	return filepath.Join(DataDir(), "nodes.toml")
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Network.Testnet = "amsterdam.connect.reticulum.network:4965"
	cfg.Node.Enabled = false
	cfg.Node.PagesPath = "pages"
	cfg.Cache.Dir = filepath.Join(DataDir(), "cache")
	cfg.Logging.Level = "info"
	cfg.Logging.File = filepath.Join(DataDir(), "nomad.log")
	return cfg
}

// Load reads the config file, creating it from defaults when missing, and
// applies environment overrides.
func Load() (*Config, error) {
	// A .env in the working directory is optional.
	_ = godotenv.Load()

	dir := DataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, utils.Wrap(err, "create data dir")
	}

	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NOMAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaults()
	v.SetDefault("network.testnet", def.Network.Testnet)
	v.SetDefault("network.custom_interface", def.Network.CustomInterface)
	v.SetDefault("node.enabled", def.Node.Enabled)
	v.SetDefault("node.pages_path", def.Node.PagesPath)
	v.SetDefault("cache.dir", def.Cache.Dir)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.file", def.Logging.File)

	if err := v.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "read config")
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return cfg, nil
}

func writeDefault(path string) error {
	raw, err := yaml.Marshal(defaults())
	if err != nil {
		return utils.Wrap(err, "encode default config")
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return utils.Wrap(err, "write default config")
	}
	return nil
}

// Dump renders the configuration as YAML, for `nomad config show`.
func (c *Config) Dump() (string, error) {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return "", utils.Wrap(err, "encode config")
	}
	return string(raw), nil
}
