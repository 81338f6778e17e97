package logger

import (
	"context"
	"sync/atomic"
	"time"
)

type dbStatsKey struct{}

// dbStats accumulates the statements executed on behalf of one request.
// Subscriptions run on scheduler goroutines, so the fields are atomic.
type dbStats struct {
	calls   atomic.Int64
	elapsed atomic.Int64
}

// WithDBCounter returns a context that counts the statements executed with it.
func WithDBCounter(ctx context.Context) context.Context {
	return context.WithValue(ctx, dbStatsKey{}, &dbStats{})
}

func statsFrom(ctx context.Context) *dbStats {
	s, _ := ctx.Value(dbStatsKey{}).(*dbStats)
	return s
}

// RecordDBCall adds one statement taking elapsed to the counters in ctx.
// It does nothing when ctx carries no counters.
func RecordDBCall(ctx context.Context, elapsed time.Duration) {
	if s := statsFrom(ctx); s != nil {
		s.calls.Add(1)
		s.elapsed.Add(int64(elapsed))
	}
}

// GetDBCounter returns the number of statements recorded in ctx.
func GetDBCounter(ctx context.Context) int64 {
	if s := statsFrom(ctx); s != nil {
		return s.calls.Load()
	}
	return 0
}

// GetDBElapsed returns the total database time recorded in ctx.
func GetDBElapsed(ctx context.Context) time.Duration {
	if s := statsFrom(ctx); s != nil {
		return time.Duration(s.elapsed.Load())
	}
	return 0
}
