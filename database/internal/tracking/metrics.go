package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	dbMeterName = "rxdao/database"

	// Metric names following OpenTelemetry semantic conventions
	metricDBCalls    = "db.client.calls"
	metricDBDuration = "db.client.operation.duration"

	metricRowsAffected  = "db.rows.affected"
	metricCloseFailures = "db.connection.close.failures"

	metricPoolActive  = "db.connection.pool.active"
	metricPoolIdle    = "db.connection.pool.idle"
	metricPoolTotal   = "db.connection.pool.total"
	metricPoolWaiting = "db.connection.pool.wait_count"

	attrDBSystem    = "db.system"
	attrDBOperation = "db.operation.name"
	attrDBTable     = "db.sql.table"
)

// instruments groups the metric instruments created on one meter provider.
type instruments struct {
	provider      metric.MeterProvider
	meter         metric.Meter
	calls         metric.Int64Counter
	duration      metric.Float64Histogram
	rowsAffected  metric.Int64Counter
	closeFailures metric.Int64Counter
}

// dbMetrics caches the instruments of the current global meter provider.
var dbMetrics atomic.Pointer[instruments]

// logMetricError reports an instrument failure without breaking the caller.
func logMetricError(metricName string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to initialize metric %s: %v\n", metricName, err)
	}
}

func initDBMeter(provider metric.MeterProvider) *instruments {
	meter := provider.Meter(dbMeterName)
	m := &instruments{provider: provider, meter: meter}

	var err error
	m.calls, err = meter.Int64Counter(metricDBCalls,
		metric.WithDescription("Total number of database client calls"))
	logMetricError(metricDBCalls, err)

	m.duration, err = meter.Float64Histogram(metricDBDuration,
		metric.WithDescription("Duration of database operations in milliseconds"),
		metric.WithUnit("ms"))
	logMetricError(metricDBDuration, err)

	m.rowsAffected, err = meter.Int64Counter(metricRowsAffected,
		metric.WithDescription("Number of rows affected by database operations"))
	logMetricError(metricRowsAffected, err)

	m.closeFailures, err = meter.Int64Counter(metricCloseFailures,
		metric.WithDescription("Number of connections that failed to return to the pool"))
	logMetricError(metricCloseFailures, err)

	return m
}

// getDBMetrics returns the instruments of the global meter provider,
// recreating them when the provider was replaced.
func getDBMetrics() *instruments {
	provider := otel.GetMeterProvider()
	if m := dbMetrics.Load(); m != nil && m.provider == provider {
		return m
	}
	m := initDBMeter(provider)
	dbMetrics.Store(m)
	return m
}

// recordDBMetrics records the call counter, duration histogram and rows affected for one statement.
func recordDBMetrics(ctx context.Context, tc *Context, query string, duration time.Duration, rowsAffected int64, err error) {
	m := getDBMetrics()

	isError := err != nil && !isCancellation(err)
	commonAttrs := []attribute.KeyValue{
		attribute.String(attrDBSystem, normalizeDBVendor(tc.Vendor)),
		attribute.String(attrDBOperation, extractDBOperation(query)),
		attribute.String(attrDBTable, extractTableName(query)),
	}

	if m.calls != nil {
		counterAttrs := append(commonAttrs[:len(commonAttrs):len(commonAttrs)], attribute.Bool("error", isError))
		m.calls.Add(ctx, 1, metric.WithAttributes(counterAttrs...))
	}
	if m.duration != nil {
		m.duration.Record(ctx, float64(duration.Nanoseconds())/1e6, metric.WithAttributes(commonAttrs...))
	}
	if m.rowsAffected != nil && rowsAffected > 0 && !isError {
		m.rowsAffected.Add(ctx, rowsAffected, metric.WithAttributes(commonAttrs...))
	}
}

// RecordCloseFailure counts a connection whose release back to the pool failed.
func RecordCloseFailure(ctx context.Context, vendor string) {
	m := getDBMetrics()
	if m.closeFailures == nil {
		return
	}
	m.closeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(attrDBSystem, normalizeDBVendor(vendor))))
}

var (
	selectTableRegex = regexp.MustCompile("(?i)FROM\\s+(?:[`\"']?\\w+[`\"']?\\.)?[`\"']?(\\w+)[`\"']?")
	insertTableRegex = regexp.MustCompile("(?i)INSERT\\s+INTO\\s+(?:[`\"']?\\w+[`\"']?\\.)?[`\"']?(\\w+)[`\"']?")
	updateTableRegex = regexp.MustCompile("(?i)UPDATE\\s+(?:[`\"']?\\w+[`\"']?\\.)?[`\"']?(\\w+)[`\"']?")
	deleteTableRegex = regexp.MustCompile("(?i)DELETE\\s+FROM\\s+(?:[`\"']?\\w+[`\"']?\\.)?[`\"']?(\\w+)[`\"']?")

	tablePatterns = map[string]*regexp.Regexp{
		"select": selectTableRegex,
		"insert": insertTableRegex,
		"update": updateTableRegex,
		"delete": deleteTableRegex,
	}
)

// extractTableName returns the first table named by a DML statement, or "unknown".
func extractTableName(query string) string {
	pattern, ok := tablePatterns[extractDBOperation(query)]
	if !ok {
		return "unknown"
	}
	if matches := pattern.FindStringSubmatch(query); len(matches) > 1 {
		return strings.ToLower(matches[1])
	}
	return "unknown"
}

// StatsSource is implemented by *sql.DB.
type StatsSource interface {
	Stats() sql.DBStats
}

// RegisterConnectionPoolMetrics registers observable gauges reporting the pool
// state of db: active, idle and maximum connections plus the total wait count.
// The returned function unregisters the callback.
func RegisterConnectionPoolMetrics(db StatsSource, vendor string) func() {
	meter := getDBMetrics().meter
	attrs := metric.WithAttributes(attribute.String(attrDBSystem, normalizeDBVendor(vendor)))

	var gauges []metric.Int64ObservableGauge
	for _, g := range []struct{ name, desc string }{
		{metricPoolActive, "Number of active database connections"},
		{metricPoolIdle, "Number of idle database connections"},
		{metricPoolTotal, "Maximum number of database connections configured"},
		{metricPoolWaiting, "Total number of waits for a database connection"},
	} {
		gauge, err := meter.Int64ObservableGauge(g.name, metric.WithDescription(g.desc))
		logMetricError(g.name, err)
		if err != nil {
			return func() {}
		}
		gauges = append(gauges, gauge)
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := db.Stats()
		o.ObserveInt64(gauges[0], int64(stats.InUse), attrs)
		o.ObserveInt64(gauges[1], int64(stats.Idle), attrs)
		o.ObserveInt64(gauges[2], int64(stats.MaxOpenConnections), attrs)
		o.ObserveInt64(gauges[3], stats.WaitCount, attrs)
		return nil
	}, gauges[0], gauges[1], gauges[2], gauges[3])
	if err != nil {
		logMetricError("pool_metrics_callback", err)
		return func() {}
	}

	return func() {
		if err := registration.Unregister(); err != nil {
			logMetricError("pool_metrics_unregister", err)
		}
	}
}
