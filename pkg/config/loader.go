package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/kart-io/trackhub/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. TRACKHUB_TIMEOUT or
// TRACKHUB_COOKIE_ADDR.
const EnvPrefix = "TRACKHUB_"

// Load builds a configuration from defaults, the file at path (skipped
// when path is empty), TRACKHUB_* environment variables and opts, in that
// order, then validates it.
func Load(path string, opts ...Option) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.ReadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ParseEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Apply(opts...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile overlays the file at path, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json
func (c *Config) ReadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfigLoadFailed, "read config file").WithContext("path", path)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", ".json":
		if err := c.decode(data); err != nil {
			return errors.Wrapf(err, errors.ErrConfigLoadFailed, "parse %s", strings.TrimPrefix(ext, ".")).
				WithContext("path", path)
		}
		return nil
	default:
		return errors.Newf(errors.ErrConfigLoadFailed, "unsupported config file extension: %s", ext)
	}
}

// decode overlays a YAML or JSON document. JSON goes through the YAML
// parser so durations accept "300ms" in both formats.
func (c *Config) decode(data []byte) error {
	return yaml.Unmarshal(data, c)
}

// FromYAML parses YAML data over the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigLoadFailed, "parse yaml")
	}
	return cfg, nil
}

// ParseEnv overlays TRACKHUB_* environment variables.
func (c *Config) ParseEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return errors.Wrap(err, errors.ErrConfigLoadFailed, "parse env")
	}
	return nil
}
