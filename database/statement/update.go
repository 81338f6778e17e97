package statement

import (
	"context"
	"errors"
	"time"

	"github.com/gaborage/rxdao/database/sqlspec"
)

// UpdateFactory creates update statements. Count factories deliver the
// affected row count; void factories deliver nothing.
type UpdateFactory struct {
	spec    *sqlspec.Spec
	minimum int64
	count   bool
	opts    Options
}

// NewUpdateFactory returns a factory whose statements deliver the affected
// row count after checking it against minimum.
func NewUpdateFactory(spec *sqlspec.Spec, minimum int64, opts Options) *UpdateFactory {
	return &UpdateFactory{spec: spec, minimum: minimum, count: true, opts: opts}
}

// NewVoidUpdateFactory returns a factory whose statements only check the
// affected row count against minimum.
func NewVoidUpdateFactory(spec *sqlspec.Spec, minimum int64, opts Options) *UpdateFactory {
	return &UpdateFactory{spec: spec, minimum: minimum, opts: opts}
}

// Spec implements Factory.
func (f *UpdateFactory) Spec() *sqlspec.Spec {
	return f.spec
}

// Create implements Factory.
func (f *UpdateFactory) Create(args []any, sink *ResultSink) Statement {
	return &updateStatement{
		base:    base{spec: f.spec, args: args, sink: sink, tracker: f.opts.tracker()},
		minimum: f.minimum,
		count:   f.count,
	}
}

type updateStatement struct {
	base
	minimum int64
	count   bool
}

func (s *updateStatement) Execute(ctx context.Context, conn Conn) (err error) {
	start := time.Now()
	var affected int64
	defer func() {
		s.track(ctx, start, affected, err)
	}()

	res, err := conn.ExecContext(ctx, s.spec.SQL, s.args...)
	if err != nil {
		return err
	}
	if affected, err = res.RowsAffected(); err != nil {
		return err
	}
	return s.settle(affected)
}

// settle applies the minimum check and delivers the count.
func (s *updateStatement) settle(affected int64) error {
	if err := checkMinimum(s.minimum, affected, s.spec.SQL); err != nil {
		return err
	}
	if s.count {
		if err := s.sink.Deliver(affected); err != nil && !errors.Is(err, errStopped) {
			return err
		}
	}
	return nil
}

func (s *updateStatement) Batch(ctx context.Context, conn Conn, batch *Batch) (*Batch, error) {
	if batch == nil {
		var err error
		if batch, err = PrepareBatch(ctx, conn, s.spec.SQL); err != nil {
			return nil, err
		}
	} else if batch.Query() != s.spec.SQL {
		return nil, errBatchMismatch
	}
	batch.Add(s.args)
	return batch, nil
}

func (s *updateStatement) BatchExecuted(affected int64) error {
	return s.settle(affected)
}

// SameBatch reports whether other is an update with identical statement text.
func (s *updateStatement) SameBatch(other Statement) bool {
	o, ok := other.(*updateStatement)
	return ok && o.spec.SQL == s.spec.SQL
}
