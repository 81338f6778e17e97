package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/rxdao/logger"
)

const (
	// Default operation type for unidentified queries
	defaultOperation = "query"

	dbVendorPostgreSQL = "postgresql"
	dbVendorOracle     = "oracle"

	dbTracerName      = "rxdao/database"
	maxDBQueryAttrLen = 2000
)

// Context groups the parameters shared by every tracked statement.
type Context struct {
	Logger   logger.Logger
	Vendor   string
	Settings Settings
}

// TrackDBOperation records a completed statement execution.
//
// It bumps the request-scoped counters, emits a client span starting at start,
// records metrics and logs the statement at debug level, or at error level when
// err is set. Cancellation by the consumer is not an error and logs at debug.
// Slow statements are reported by the reactive layer, which sees the whole
// result stream and not just the driver round trip.
//
// TrackDBOperation is a no-op if tc or its Logger is nil.
func TrackDBOperation(ctx context.Context, tc *Context, query string, args []any, start time.Time, rowsAffected int64, err error) {
	if tc == nil || tc.Logger == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	elapsed := time.Since(start)

	logger.RecordDBCall(ctx, elapsed)

	createDBSpan(ctx, tc, query, start, err)
	recordDBMetrics(ctx, tc, query, elapsed, rowsAffected, err)

	logEvent := tc.Logger.WithContext(ctx).WithFields(map[string]any{
		"vendor":      tc.Vendor,
		"duration_ms": elapsed.Milliseconds(),
		"duration_ns": elapsed.Nanoseconds(),
		"query":       tc.Settings.Truncate(query),
	})

	if tc.Settings.LogQueryParameters() && len(args) > 0 {
		logEvent = logEvent.WithFields(map[string]any{
			"args": SanitizeArgs(args, tc.Settings.MaxQueryLength()),
		})
	}

	switch {
	case err == nil:
		logEvent.Debug().Int64("rows_affected", rowsAffected).Msg("Statement executed")
	case isCancellation(err):
		logEvent.Debug().Err(err).Msg("Statement cancelled")
	default:
		logEvent.Error().Err(err).Msg("Statement execution failed")
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// TruncateString truncates value to at most maxLen runes, adding "..." when space allows.
// If maxLen <= 0 the original value is returned unchanged.
func TruncateString(value string, maxLen int) string {
	if maxLen <= 0 {
		return value
	}
	r := []rune(value)
	if len(r) <= maxLen {
		return value
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// SanitizeArgs returns a copy of args suitable for logging.
// Strings are truncated to maxLen runes, byte slices are replaced with
// "<bytes len=N>" and other values are formatted with %v and truncated.
func SanitizeArgs(args []any, maxLen int) []any {
	if len(args) == 0 {
		return nil
	}
	sanitized := make([]any, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case string:
			sanitized[i] = TruncateString(v, maxLen)
		case []byte:
			sanitized[i] = fmt.Sprintf("<bytes len=%d>", len(v))
		case nil:
			sanitized[i] = nil
		default:
			sanitized[i] = TruncateString(fmt.Sprintf("%v", v), maxLen)
		}
	}
	return sanitized
}

// createDBSpan emits a client span covering [start, now].
func createDBSpan(ctx context.Context, tc *Context, query string, start time.Time, err error) {
	tracer := otel.Tracer(dbTracerName)

	operation := extractDBOperation(query)
	_, span := tracer.Start(ctx, "db."+operation,
		trace.WithTimestamp(start),
		trace.WithSpanKind(trace.SpanKindClient),
	)

	attrs := []attribute.KeyValue{
		attribute.String("db.system", normalizeDBVendor(tc.Vendor)),
		semconv.DBQueryText(TruncateString(query, maxDBQueryAttrLen)),
	}
	if operation != defaultOperation {
		attrs = append(attrs, semconv.DBOperationName(operation))
	}
	span.SetAttributes(attrs...)

	if err != nil && !isCancellation(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}

// extractDBOperation returns the lowercase SQL verb of query.
func extractDBOperation(query string) string {
	parts := strings.Fields(query)
	if len(parts) == 0 {
		return defaultOperation
	}

	switch first := strings.ToUpper(parts[0]); first {
	case "BEGIN", "COMMIT", "ROLLBACK":
		return strings.ToLower(first)
	case "SELECT", "INSERT", "UPDATE", "DELETE", "MERGE", "WITH", "CALL":
		return strings.ToLower(first)
	default:
		return defaultOperation
	}
}

// normalizeDBVendor normalizes the database vendor name to match OTel semantic conventions.
func normalizeDBVendor(vendor string) string {
	vendor = strings.ToLower(vendor)
	switch vendor {
	case "postgres", "pgx", dbVendorPostgreSQL:
		return dbVendorPostgreSQL
	case dbVendorOracle:
		return dbVendorOracle
	default:
		return vendor
	}
}
