package database

import (
	"database/sql"
	"fmt"
	"slices"

	"github.com/gaborage/rxdao/config"
	"github.com/gaborage/rxdao/database/oracle"
	"github.com/gaborage/rxdao/database/postgresql"
	"github.com/gaborage/rxdao/logger"
)

// openers maps each supported vendor to its pool constructor.
var openers = map[string]func(*config.DatabaseConfig, logger.Logger) (*sql.DB, error){
	PostgreSQL: postgresql.Open,
	Oracle:     oracle.Open,
}

// Open creates the connection pool for cfg.Type (supported: "postgresql",
// "oracle"). An empty section yields an error matching config.ErrNotConfigured;
// driver connection failures are returned unchanged.
func Open(cfg *config.DatabaseConfig, log logger.Logger) (*sql.DB, error) {
	if cfg == nil || !config.IsDatabaseConfigured(cfg) {
		return nil, config.NewNotConfiguredError("database")
	}
	if err := ValidateDatabaseType(cfg.Type); err != nil {
		return nil, err
	}
	return openers[cfg.Type](cfg, log)
}

// ValidateDatabaseType returns nil if dbType is one of the supported database types.
// If dbType is not supported, it returns an error describing the invalid value and listing the supported types.
func ValidateDatabaseType(dbType string) error {
	supportedTypes := GetSupportedDatabaseTypes()
	if !slices.Contains(supportedTypes, dbType) {
		return fmt.Errorf("unsupported database type: %s (supported: %v)", dbType, supportedTypes)
	}
	return nil
}

// GetSupportedDatabaseTypes returns a list of supported database types
func GetSupportedDatabaseTypes() []string {
	return []string{PostgreSQL, Oracle}
}
