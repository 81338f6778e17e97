package dao

import (
	"context"
	"database/sql"
	"io"
	"reflect"
	"time"

	"golang.org/x/time/rate"

	"github.com/gaborage/rxdao/database"
	"github.com/gaborage/rxdao/database/statement"
	"github.com/gaborage/rxdao/logger"
	"github.com/gaborage/rxdao/reactive"
)

// closeWarnInterval throttles connection release warnings.
const closeWarnInterval = 10 * time.Second

// Scheduler hands out pooled connections. *scheduler.Scheduler satisfies it.
//
// Schedule either fails synchronously, invoking neither callback, or later
// invokes exactly one of them. onConn owns the connection it receives.
type Scheduler interface {
	Schedule(ctx context.Context, onError func(error), onConn func(*sql.Conn)) error
}

// enginePackages are skipped when capturing the call site of a DAO call.
var enginePackages = []string{
	"reflect",
	reflect.TypeFor[executor]().PkgPath(),
}

// executor builds the result pipeline of every call: statement execution on
// a scheduled connection, value conversion, debug error enrichment, paging,
// timing and the backpressure buffer, in that order.
type executor struct {
	scheduler  Scheduler
	log        logger.Logger
	vendor     string
	settings   database.TrackingSettings
	debug      bool
	bufferSize int
	closeWarn  *rate.Sometimes
}

func (e *executor) publisher(sc *StatementContext) reactive.Publisher {
	pub := e.execute(sc)
	if convert := sc.handler.convert; convert != nil {
		pub = reactive.Map(pub, convert)
	}
	if e.debugging() {
		pub = e.enrich(pub, sc)
	}
	if sc.Mode() == statement.Many {
		pub = page(pub, sc.pager())
	}
	pub = e.measure(pub, sc)
	return reactive.Buffer(pub, e.bufferSize)
}

func (e *executor) debugging() bool {
	return e.debug || e.log.DebugEnabled()
}

// execute runs the call's statement once per subscription. The terminal
// signal is held back until the connection has been released.
func (e *executor) execute(sc *StatementContext) reactive.Publisher {
	return func(ctx context.Context, sink reactive.Sink) {
		terminal := &deferredTerminal{downstream: sink}
		stmt, err := sc.newStatement(statement.NewResultSink(sc.Mode(), sc.Method().Name, terminal))
		if err != nil {
			sink.Error(err)
			return
		}

		err = e.scheduler.Schedule(ctx, sink.Error, func(conn *sql.Conn) {
			if err := stmt.Execute(ctx, conn); err != nil {
				stmt.OnError(err)
			} else {
				stmt.OnCompleted()
			}
			e.release(ctx, conn, sc.Method().Name)
			terminal.flush()
		})
		if err != nil {
			sink.Error(err)
		}
	}
}

// release closes conn. Failures are counted and logged, never propagated.
func (e *executor) release(ctx context.Context, conn io.Closer, method string) {
	err := conn.Close()
	if err == nil {
		return
	}
	database.RecordCloseFailure(ctx, e.vendor)
	e.closeWarn.Do(func() {
		e.log.Warn().
			Err(err).
			Str("method", method).
			Str("subscription_id", SubscriptionID(ctx)).
			Msg("Failed to release database connection")
	})
}

// enrich wraps failures in a *QueryFailedError carrying the call site of
// the DAO call.
func (e *executor) enrich(pub reactive.Publisher, sc *StatementContext) reactive.Publisher {
	return reactive.MapError(pub, func(err error) error {
		return &QueryFailedError{Method: sc.Method().Name, SQL: sc.SQL(), Err: err, callSite: sc.callSite}
	})
}

// measure records the call duration and warns about calls slower than the
// configured threshold.
func (e *executor) measure(pub reactive.Publisher, sc *StatementContext) reactive.Publisher {
	return func(ctx context.Context, sink reactive.Sink) {
		reactive.Measure(pub, func(elapsed time.Duration, err error) {
			slow := elapsed > e.settings.SlowQueryThreshold()
			sc.handler.metrics.record(ctx, elapsed, err, slow)
			if !slow {
				return
			}
			e.log.Warn().
				Str("query", e.settings.Truncate(sc.SQL())).
				Dur("duration", elapsed).
				Str("method", sc.Method().Name).
				Str("subscription_id", SubscriptionID(ctx)).
				Msg("Slow DAO call")
		})(ctx, sink)
	}
}

// page limits a Flux to the window of opts and records whether the window
// reached the last row.
func page(pub reactive.Publisher, opts *CollectionOptions) reactive.Publisher {
	if opts == nil {
		return pub
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	return func(ctx context.Context, sink reactive.Sink) {
		opts.LastRecord = true
		reactive.Take(pub, limit, func() { opts.LastRecord = false })(ctx, sink)
	}
}

// deferredTerminal forwards values immediately and replays the terminal
// signal on flush. A statement that stopped early without signalling
// completes on flush.
type deferredTerminal struct {
	downstream reactive.Sink
	done       bool
	err        error
}

func (d *deferredTerminal) Next(v any) bool {
	return d.downstream.Next(v)
}

func (d *deferredTerminal) Error(err error) {
	if !d.done {
		d.done, d.err = true, err
	}
}

func (d *deferredTerminal) Complete() {
	d.done = true
}

func (d *deferredTerminal) flush() {
	if d.err != nil {
		d.downstream.Error(d.err)
		return
	}
	d.downstream.Complete()
}
