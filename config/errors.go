package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured reports that an optional section, such as the database,
// was left empty on purpose.
var ErrNotConfigured = errors.New("not configured")

// ConfigError categories.
const (
	CategoryMissing       = "missing"
	CategoryInvalid       = "invalid"
	CategoryNotConfigured = "not_configured"
)

// ConfigError describes a bad configuration value together with the action
// that fixes it. Messages are lowercase.
//
//nolint:revive // the config prefix reads better at call sites
type ConfigError struct {
	Category string
	Field    string // koanf path, e.g. "database.host"
	Message  string
	Action   string
}

func (e *ConfigError) Error() string {
	parts := make([]string, 0, 4)
	if e.Category != "" {
		parts = append(parts, "config_"+e.Category+":")
	}
	for _, p := range []string{e.Field, e.Message, e.Action} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Is matches ErrNotConfigured for errors of the not_configured category.
func (e *ConfigError) Is(target error) bool {
	return target == ErrNotConfigured && e.Category == CategoryNotConfigured
}

// envName maps a koanf path to the environment variable overriding it.
func envName(field string) string {
	return strings.ToUpper(strings.ReplaceAll(field, ".", "_"))
}

// NewMissingFieldError reports a required field without a value.
func NewMissingFieldError(field string) *ConfigError {
	return &ConfigError{
		Category: CategoryMissing,
		Field:    field,
		Message:  "required",
		Action:   fmt.Sprintf("set %s env var or add %s to config.yaml", envName(field), field),
	}
}

// NewInvalidFieldError reports a value outside validOptions, or otherwise rejected.
func NewInvalidFieldError(field, message string, validOptions []string) *ConfigError {
	err := &ConfigError{Category: CategoryInvalid, Field: field, Message: message}
	if len(validOptions) > 0 {
		err.Action = "must be one of: " + strings.Join(validOptions, ", ")
	}
	return err
}

// NewNotConfiguredError reports that section was required but left empty.
func NewNotConfiguredError(section string) *ConfigError {
	return &ConfigError{
		Category: CategoryNotConfigured,
		Field:    section,
		Action:   fmt.Sprintf("set %s_TYPE env var or add %s.type to config.yaml", envName(section), section),
	}
}

// IsNotConfigured reports whether err signals an intentionally absent section.
func IsNotConfigured(err error) bool {
	return errors.Is(err, ErrNotConfigured)
}
