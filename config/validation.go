package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	defaultSlowQueryThreshold = 200 * time.Millisecond
	defaultMaxQueryLength     = 1000
	defaultMaxConnections     = 25
	defaultIdleConnections    = 2
	defaultIdleTime           = 5 * time.Minute
	defaultConnLifetime       = 30 * time.Minute
	defaultMetricsInterval    = 30 * time.Second

	// DefaultBufferSize is the backpressure buffer capacity used when none is configured.
	DefaultBufferSize = 100000
)

// Database type constants
const (
	PostgreSQL = "postgresql"
	Oracle     = "oracle"
)

// Telemetry endpoint and protocol constants
const (
	TelemetryStdout = "stdout"
	TelemetryHTTP   = "http"
	TelemetryGRPC   = "grpc"
)

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
			return name
		})
	})
	return validate
}

// Validate checks cfg for structural errors and applies database defaults.
func Validate(cfg *Config) error {
	if err := structValidator().Struct(cfg); err != nil {
		return translateValidationError(err)
	}

	if cfg.DAO.Buffer.Size == 0 {
		cfg.DAO.Buffer.Size = DefaultBufferSize
	}

	if IsDatabaseConfigured(&cfg.Database) {
		if err := validateDatabase(&cfg.Database); err != nil {
			return fmt.Errorf("database config: %w", err)
		}
	}

	return nil
}

// IsDatabaseConfigured reports whether any connection setting was provided.
func IsDatabaseConfigured(cfg *DatabaseConfig) bool {
	return cfg.Type != "" || cfg.Host != "" || cfg.ConnectionString != ""
}

func validateDatabase(cfg *DatabaseConfig) error {
	supported := []string{PostgreSQL, Oracle}
	if cfg.Type == "" {
		return NewMissingFieldError("database.type")
	}
	if !slices.Contains(supported, cfg.Type) {
		return NewInvalidFieldError("database.type", fmt.Sprintf("unsupported type %q", cfg.Type), supported)
	}

	if cfg.ConnectionString == "" {
		if cfg.Host == "" {
			return NewMissingFieldError("database.host")
		}
		if cfg.Port == 0 {
			return NewMissingFieldError("database.port")
		}
	}

	applyPoolDefaults(&cfg.Pool)
	return nil
}

func applyPoolDefaults(pool *PoolConfig) {
	if pool.Max.Connections == 0 {
		pool.Max.Connections = defaultMaxConnections
	}
	if pool.Idle.Connections == 0 {
		pool.Idle.Connections = defaultIdleConnections
	}
	if pool.Idle.Time == 0 {
		pool.Idle.Time = defaultIdleTime
	}
	if pool.Lifetime.Max == 0 {
		pool.Lifetime.Max = defaultConnLifetime
	}
}

// translateValidationError converts the first validator failure into a ConfigError.
func translateValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	// Namespace is "Config.database.pool.max.connections"; drop the root.
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}

	switch fe.Tag() {
	case "required":
		return NewMissingFieldError(field)
	case "oneof":
		return NewInvalidFieldError(field, fmt.Sprintf("unsupported value %q", fe.Value()), strings.Fields(fe.Param()))
	default:
		return NewInvalidFieldError(field, fmt.Sprintf("failed %s=%s (got %v)", fe.Tag(), fe.Param(), fe.Value()), nil)
	}
}
