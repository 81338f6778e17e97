// Package config loads rxdao configuration from defaults, YAML files and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	envprovider "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultFile is read when Load is called without explicit paths.
const DefaultFile = "config.yaml"

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. YAML configuration files, in the given order
// 3. Default values (lowest priority)
//
// Without paths, config.yaml and config.<app.env>.yaml are tried. Missing
// files are skipped.
func Load(paths ...string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if len(paths) == 0 {
		if err := loadOptionalYAML(k, DefaultFile); err != nil {
			return nil, err
		}
		if env := k.String("app.env"); env != "" {
			paths = []string{fmt.Sprintf("config.%s.yaml", env)}
		}
	}
	for _, p := range paths {
		if err := loadOptionalYAML(k, p); err != nil {
			return nil, err
		}
	}

	if err := k.Load(envprovider.Provider(".", envprovider.Opt{
		TransformFunc: func(key, value string) (string, any) {
			// UPPER_CASE becomes lower.case for koanf
			return strings.ReplaceAll(strings.ToLower(key), "_", "."), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadOptionalYAML(k *koanf.Koanf, path string) error {
	err := k.Load(file.Provider(path), yaml.Parser())
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name": "rxdao-service",
		"app.env":  EnvDevelopment,

		"log.level":  "info",
		"log.pretty": false,

		// Database connection defaults are not provided; the database is
		// only opened when explicitly configured.
		"database.query.slow.threshold":  defaultSlowQueryThreshold.String(),
		"database.query.log.maxlength":   defaultMaxQueryLength,
		"database.query.log.parameters":  false,
		"database.pool.max.connections":  defaultMaxConnections,
		"database.pool.idle.connections": defaultIdleConnections,
		"database.pool.idle.time":        defaultIdleTime.String(),
		"database.pool.lifetime.max":     defaultConnLifetime.String(),

		"dao.debug":             false,
		"dao.buffer.size":       DefaultBufferSize,
		"dao.scheduler.workers": 0,

		"telemetry.enabled":           false,
		"telemetry.endpoint":          TelemetryStdout,
		"telemetry.protocol":          TelemetryHTTP,
		"telemetry.trace.sample.rate": 1.0,
		"telemetry.metrics.interval":  defaultMetricsInterval.String(),
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}
