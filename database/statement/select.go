package statement

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/jmoiron/sqlx/reflectx"

	"github.com/gaborage/rxdao/database/rowmapper"
	"github.com/gaborage/rxdao/database/sqlspec"
)

// SelectFactory creates statements reading rows of one type.
type SelectFactory struct {
	spec *sqlspec.Spec
	rows *rowmapper.RowMapper
	opts Options
}

// NewSelectFactory returns a factory deserializing rows into rowType.
func NewSelectFactory(spec *sqlspec.Spec, rowType reflect.Type, mapper *reflectx.Mapper, opts Options) (*SelectFactory, error) {
	rows, err := rowmapper.New(rowType, mapper)
	if err != nil {
		return nil, err
	}
	return &SelectFactory{spec: spec, rows: rows, opts: opts}, nil
}

// Spec implements Factory.
func (f *SelectFactory) Spec() *sqlspec.Spec {
	return f.spec
}

// Create implements Factory.
func (f *SelectFactory) Create(args []any, sink *ResultSink) Statement {
	return &selectStatement{
		base: base{spec: f.spec, args: args, sink: sink, tracker: f.opts.tracker()},
		rows: f.rows,
	}
}

type selectStatement struct {
	base
	rows *rowmapper.RowMapper
}

// Execute delivers every row in cursor order. A single-value sink stops the
// read at the second row.
func (s *selectStatement) Execute(ctx context.Context, conn Conn) (err error) {
	start := time.Now()
	defer func() {
		s.track(ctx, start, 0, err)
	}()

	rows, err := conn.QueryContext(ctx, s.spec.SQL, s.args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	cursor := s.rows.Cursor(rows)
	for cursor.Next() {
		value, err := cursor.Value()
		if err != nil {
			return err
		}
		if err := s.sink.Deliver(value); err != nil {
			if errors.Is(err, errStopped) {
				return nil
			}
			return err
		}
	}
	return cursor.Err()
}
