package database

import "github.com/gaborage/rxdao/config"

// Re-export database vendor identifiers so callers wiring a DAO factory do
// not need the config package for them.
const (
	PostgreSQL = config.PostgreSQL
	Oracle     = config.Oracle
)
