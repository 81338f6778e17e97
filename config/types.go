package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

// Config represents the overall configuration of an rxdao application.
// The embedded koanf.Koanf instance allows access to custom keys not
// modelled by the struct.
type Config struct {
	App      AppConfig      `koanf:"app" json:"app" yaml:"app" mapstructure:"app"`
	Log      LogConfig      `koanf:"log" json:"log" yaml:"log" mapstructure:"log"`
	Database DatabaseConfig `koanf:"database" json:"database" yaml:"database" mapstructure:"database"`
	DAO      DAOConfig      `koanf:"dao" json:"dao" yaml:"dao" mapstructure:"dao"`

	Telemetry TelemetryConfig `koanf:"telemetry" json:"telemetry" yaml:"telemetry" mapstructure:"telemetry"`

	k *koanf.Koanf `json:"-" yaml:"-" mapstructure:"-"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name string `koanf:"name" json:"name" yaml:"name" mapstructure:"name" validate:"required"`
	Env  string `koanf:"env" json:"env" yaml:"env" mapstructure:"env" validate:"oneof=development staging production"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" mapstructure:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty" mapstructure:"pretty"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string `koanf:"type" json:"type" yaml:"type" mapstructure:"type"`
	Host     string `koanf:"host" json:"host" yaml:"host" mapstructure:"host"`
	Port     int    `koanf:"port" json:"port" yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
	Database string `koanf:"database" json:"database" yaml:"database" mapstructure:"database"`
	Username string `koanf:"username" json:"username" yaml:"username" mapstructure:"username"`
	Password string `koanf:"password" json:"password" yaml:"password" mapstructure:"password"`

	ConnectionString string `koanf:"connectionstring" json:"connectionstring" yaml:"connectionstring" mapstructure:"connectionstring"`

	Pool  PoolConfig  `koanf:"pool" json:"pool" yaml:"pool" mapstructure:"pool"`
	Query QueryConfig `koanf:"query" json:"query" yaml:"query" mapstructure:"query"`
}

// PoolConfig holds connection pool settings.
// Defaults applied when the database is configured:
//   - Max.Connections: 25
//   - Idle.Connections: 2
//   - Idle.Time: 5m
//   - Lifetime.Max: 30m
type PoolConfig struct {
	Max      PoolMaxConfig  `koanf:"max" json:"max" yaml:"max" mapstructure:"max"`
	Idle     PoolIdleConfig `koanf:"idle" json:"idle" yaml:"idle" mapstructure:"idle"`
	Lifetime LifetimeConfig `koanf:"lifetime" json:"lifetime" yaml:"lifetime" mapstructure:"lifetime"`
}

// PoolMaxConfig holds maximum connections settings.
type PoolMaxConfig struct {
	Connections int32 `koanf:"connections" json:"connections" yaml:"connections" mapstructure:"connections" validate:"gte=0"`
}

// PoolIdleConfig holds idle connections settings.
type PoolIdleConfig struct {
	Connections int32         `koanf:"connections" json:"connections" yaml:"connections" mapstructure:"connections" validate:"gte=0"`
	Time        time.Duration `koanf:"time" json:"time" yaml:"time" mapstructure:"time" validate:"gte=0"`
}

// LifetimeConfig holds maximum lifetime settings for connections.
type LifetimeConfig struct {
	Max time.Duration `koanf:"max" json:"max" yaml:"max" mapstructure:"max" validate:"gte=0"`
}

// QueryConfig holds settings related to query logging and slow query detection.
type QueryConfig struct {
	Slow SlowQueryConfig `koanf:"slow" json:"slow" yaml:"slow" mapstructure:"slow"`
	Log  QueryLogConfig  `koanf:"log" json:"log" yaml:"log" mapstructure:"log"`
}

// SlowQueryConfig holds settings for slow query detection.
type SlowQueryConfig struct {
	Threshold time.Duration `koanf:"threshold" json:"threshold" yaml:"threshold" mapstructure:"threshold" validate:"gte=0"`
}

// QueryLogConfig holds settings for query logging.
type QueryLogConfig struct {
	Parameters bool `koanf:"parameters" json:"parameters" yaml:"parameters" mapstructure:"parameters"`
	MaxLength  int  `koanf:"maxlength" json:"maxlength" yaml:"maxlength" mapstructure:"maxlength" validate:"gte=0"`
}

// DAOConfig holds settings of the reactive statement engine.
type DAOConfig struct {
	// Debug rebuilds method handlers on every call and enriches query
	// errors with the application call site.
	Debug bool `koanf:"debug" json:"debug" yaml:"debug" mapstructure:"debug"`

	Buffer    BufferConfig    `koanf:"buffer" json:"buffer" yaml:"buffer" mapstructure:"buffer"`
	Scheduler SchedulerConfig `koanf:"scheduler" json:"scheduler" yaml:"scheduler" mapstructure:"scheduler"`
}

// BufferConfig holds the backpressure buffer settings.
type BufferConfig struct {
	// Size is the number of rows buffered between the database worker and
	// the consumer before the result terminates with an overflow error.
	// Default: 100000.
	Size int `koanf:"size" json:"size" yaml:"size" mapstructure:"size" validate:"gt=0"`
}

// SchedulerConfig holds connection scheduler settings.
type SchedulerConfig struct {
	// Workers bounds concurrently executing statements.
	// 0 means the pool's maximum connection count.
	Workers int `koanf:"workers" json:"workers" yaml:"workers" mapstructure:"workers" validate:"gte=0"`
}

// Koanf returns the underlying koanf instance, or nil when the config was built by hand.
func (c *Config) Koanf() *koanf.Koanf {
	return c.k
}

// TelemetryConfig holds OpenTelemetry export settings for the metrics and
// spans emitted by the statement engine.
type TelemetryConfig struct {
	Enabled bool `koanf:"enabled" json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// Endpoint is an OTLP collector address, or "stdout" to print telemetry.
	Endpoint string `koanf:"endpoint" json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	Protocol string `koanf:"protocol" json:"protocol" yaml:"protocol" mapstructure:"protocol" validate:"omitempty,oneof=http grpc"`
	Insecure bool   `koanf:"insecure" json:"insecure" yaml:"insecure" mapstructure:"insecure"`

	Headers map[string]string `koanf:"headers" json:"headers" yaml:"headers" mapstructure:"headers"`

	Trace   TelemetryTraceConfig   `koanf:"trace" json:"trace" yaml:"trace" mapstructure:"trace"`
	Metrics TelemetryMetricsConfig `koanf:"metrics" json:"metrics" yaml:"metrics" mapstructure:"metrics"`
}

// TelemetryTraceConfig holds span sampling settings.
type TelemetryTraceConfig struct {
	Sample SampleConfig `koanf:"sample" json:"sample" yaml:"sample" mapstructure:"sample"`
}

// SampleConfig holds the trace sampling ratio.
type SampleConfig struct {
	Rate float64 `koanf:"rate" json:"rate" yaml:"rate" mapstructure:"rate" validate:"gte=0,lte=1"`
}

// TelemetryMetricsConfig holds metric export settings.
type TelemetryMetricsConfig struct {
	Interval time.Duration `koanf:"interval" json:"interval" yaml:"interval" mapstructure:"interval" validate:"gte=0"`
}
