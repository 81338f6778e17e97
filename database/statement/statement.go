// Package statement implements the execution protocol shared by every
// compiled DAO statement and the factories that create argument-bound
// statement instances: select, update returning the affected count, update
// returning nothing and update returning generated keys.
//
// A statement instance executes once. Results flow into the ResultSink it
// was created with; the caller then settles the sink through OnCompleted or
// OnError. Update statements can instead be folded into a Batch sharing one
// prepared statement.
package statement

import (
	"context"
	"database/sql"
	"time"

	"github.com/gaborage/rxdao/database/internal/tracking"
	"github.com/gaborage/rxdao/database/sqlspec"
	"github.com/gaborage/rxdao/logger"
)

// Conn is the connection surface statements run against. Both *sql.Conn and
// *sql.Tx satisfy it.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

var (
	_ Conn = (*sql.Conn)(nil)
	_ Conn = (*sql.Tx)(nil)
)

// Statement is one argument-bound execution of a compiled specification.
type Statement interface {
	// Execute runs the statement on conn and delivers its results. The
	// returned error has not been signalled yet; pass it to OnError.
	Execute(ctx context.Context, conn Conn) error
	// Batch adds the statement's arguments to batch, preparing a new batch
	// on conn when batch is nil, and returns the batch to use for the next
	// compatible statement.
	Batch(ctx context.Context, conn Conn, batch *Batch) (*Batch, error)
	// BatchExecuted receives the rows affected by this statement's batch entry.
	BatchExecuted(affected int64) error
	// SameBatch reports whether other can share this statement's batch.
	SameBatch(other Statement) bool
	// OnCompleted settles the result after a successful execution.
	OnCompleted()
	// OnError settles the result with err.
	OnError(err error)
	// String returns the statement text.
	String() string
}

// Factory creates statement instances from bound driver arguments.
type Factory interface {
	Create(args []any, sink *ResultSink) Statement
	// Spec returns the compiled specification the factory executes.
	Spec() *sqlspec.Spec
}

// Options carries what every factory needs besides its specification.
type Options struct {
	// Method is the qualified DAO method name.
	Method string
	// Logger receives statement debug and error logs.
	Logger logger.Logger
	// Vendor is the database vendor name reported in logs, spans and metrics.
	Vendor string
	// Settings controls query truncation and parameter logging.
	Settings tracking.Settings
}

func (o Options) tracker() *tracking.Context {
	return &tracking.Context{Logger: o.Logger, Vendor: o.Vendor, Settings: o.Settings}
}

// base implements the parts of Statement common to every variant.
type base struct {
	spec    *sqlspec.Spec
	args    []any
	sink    *ResultSink
	tracker *tracking.Context
}

func (b *base) Batch(context.Context, Conn, *Batch) (*Batch, error) {
	return nil, ErrBatchUnsupported
}

func (b *base) BatchExecuted(int64) error {
	return ErrBatchUnsupported
}

func (b *base) SameBatch(Statement) bool {
	return false
}

func (b *base) OnCompleted() {
	b.sink.Complete()
}

func (b *base) OnError(err error) {
	b.sink.Fail(err)
}

func (b *base) String() string {
	return b.spec.SQL
}

func (b *base) track(ctx context.Context, start time.Time, rowsAffected int64, err error) {
	tracking.TrackDBOperation(ctx, b.tracker, b.spec.SQL, b.args, start, rowsAffected, err)
}

func checkMinimum(minimum, affected int64, sqlText string) error {
	if affected < minimum {
		return &MinimumAffectedRowsError{Minimum: minimum, Actual: affected, SQL: sqlText}
	}
	return nil
}
