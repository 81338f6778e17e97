// Package testutil provides shared constants and helpers for rxdao tests.
package testutil

// Test Error Messages
const (
	// TestError is a generic error message for test error scenarios.
	TestError = "test error"

	// TestConnectionRefused is the common network error message for connection failures.
	TestConnectionRefused = "connection refused"
)

// Test SQL
//
// Queries shared by the statement, tracking and dao tests.
const (
	TestQuerySelectUsers    = "SELECT id, name FROM users"
	TestQuerySelectUserByID = "SELECT id, name FROM users WHERE id = $1"
	TestQueryInsertUser     = "INSERT INTO users (name) VALUES ($1)"
	TestQueryUpdateUserName = "UPDATE users SET name = $1 WHERE id = $2"
	TestQueryDeleteUsers    = "DELETE FROM users"
	TestQueryCountUsers     = "SELECT COUNT(*) FROM users"
	TestVendorPostgreSQL    = "postgresql"
	TestLoggerLevelDisabled = "disabled"
	TestLoggerLevelDebug    = "debug"
)
