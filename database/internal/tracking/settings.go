// Package tracking records logs, spans and metrics for executed statements.
package tracking

import (
	"time"

	"github.com/gaborage/rxdao/config"
)

const (
	// DefaultSlowQueryThreshold defines the default threshold for slow query detection
	DefaultSlowQueryThreshold = 200 * time.Millisecond
	// DefaultMaxQueryLength defines the default maximum query length for logging
	DefaultMaxQueryLength = 1000
)

// Settings holds configuration for statement tracking and logging.
type Settings struct {
	slowQueryThreshold time.Duration
	maxQueryLength     int
	logQueryParameters bool
}

// NewSettings creates Settings populated from the database configuration.
// Non-positive values and a nil cfg fall back to the defaults.
func NewSettings(cfg *config.DatabaseConfig) Settings {
	settings := Settings{
		slowQueryThreshold: DefaultSlowQueryThreshold,
		maxQueryLength:     DefaultMaxQueryLength,
	}
	if cfg == nil {
		return settings
	}

	if cfg.Query.Slow.Threshold > 0 {
		settings.slowQueryThreshold = cfg.Query.Slow.Threshold
	}
	if cfg.Query.Log.MaxLength > 0 {
		settings.maxQueryLength = cfg.Query.Log.MaxLength
	}
	settings.logQueryParameters = cfg.Query.Log.Parameters
	return settings
}

// SlowQueryThreshold returns the duration above which a statement is reported as slow.
func (s Settings) SlowQueryThreshold() time.Duration {
	return s.slowQueryThreshold
}

// MaxQueryLength returns the maximum query length for logging
func (s Settings) MaxQueryLength() int {
	return s.maxQueryLength
}

// LogQueryParameters returns whether bound arguments are logged
func (s Settings) LogQueryParameters() bool {
	return s.logQueryParameters
}

// Truncate clamps query text to the configured maximum length.
func (s Settings) Truncate(query string) string {
	return TruncateString(query, s.maxQueryLength)
}
