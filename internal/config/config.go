// Package config loads kvs-server's configuration from an optional
// YAML file and .env overrides, grounded on the same pattern used for
// jassi-singh-aether-kv's internal/config package (godotenv + yaml.v2,
// environment variables expanded into the YAML before unmarshalling).
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config holds kvs-server's settings. Flags passed on the command line
// take precedence over anything loaded here (see cmd/kvs-server).
type Config struct {
	Addr    string `yaml:"addr"`
	Engine  string `yaml:"engine"`
	DataDir string `yaml:"data_dir"`
}

// Default returns the built-in defaults, used when no config file is
// given at all.
func Default() Config {
	return Config{
		Addr:    "127.0.0.1:13131",
		Engine:  "kvs",
		DataDir: ".",
	}
}

// Load reads a YAML config file at path, expanding any ${VAR} /
// $VAR references against the environment (after first loading the
// .env file in the current working directory, if present, as
// godotenv.Load does when called with no arguments). A missing .env file
// is not an error.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}

	expanded := os.ExpandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}

	return cfg, nil
}
