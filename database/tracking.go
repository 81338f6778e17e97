// Package database opens vendor connection pools and exposes the statement
// tracking settings shared by the DAO layer.
package database

import (
	"github.com/gaborage/rxdao/database/internal/tracking"
)

// Re-export the internal tracking implementation as the public API
type (
	TrackingSettings = tracking.Settings
	TrackingContext  = tracking.Context
	PoolStatsSource  = tracking.StatsSource
)

// Re-export internal functions as public API
var (
	NewTrackingSettings           = tracking.NewSettings
	TrackDBOperation              = tracking.TrackDBOperation
	RecordCloseFailure            = tracking.RecordCloseFailure
	RegisterConnectionPoolMetrics = tracking.RegisterConnectionPoolMetrics
	TruncateString                = tracking.TruncateString
	SanitizeArgs                  = tracking.SanitizeArgs
)

// Re-export internal constants
const (
	DefaultSlowQueryThreshold = tracking.DefaultSlowQueryThreshold
	DefaultMaxQueryLength     = tracking.DefaultMaxQueryLength
)
