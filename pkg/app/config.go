package app

import (
	"os"
	"strconv"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"

	"cashfity/pkg/storage"
)

// Config holds everything Run needs. Values resolve as defaults, then the YAML
// file, then environment variables, then explicitly set flags.
type Config struct {
	Port     int            `yaml:"port"`
	Domain   string         `yaml:"domain"`
	Catalog  string         `yaml:"catalog"`
	LogLevel string         `yaml:"log_level"`
	Storage  storage.Config `yaml:"storage"`
}

// DefaultConfig serves the bundled catalog over sqlite on port 8765.
func DefaultConfig() Config {
	return Config{
		Port:     8765,
		Catalog:  "devices.json",
		LogLevel: "info",
		Storage:  storage.Config{Type: storage.TypeSQLite},
	}
}

// LoadConfig reads path over the defaults. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return Config{}, errors.Wrap(err, "read config")
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, errors.Wrap(err, "parse config")
			}
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "PORT %q", v)
		}
		c.Port = port
	}
	if v := os.Getenv("CASHFITY_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("CASHFITY_CATALOG"); v != "" {
		c.Catalog = v
	}
	return nil
}

// Validate rejects values the server cannot start with.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.Errorf("port %d out of range", c.Port)
	}
	switch c.Storage.Type {
	case storage.TypeSQLite, storage.TypeMemory:
	default:
		return errors.Errorf("unsupported db type %q", c.Storage.Type)
	}
	if c.Catalog == "" {
		return errors.New("catalog location is required")
	}
	return nil
}

// address converts the port into a binding string.
func (c Config) address() string {
	return ":" + strconv.Itoa(c.Port)
}
