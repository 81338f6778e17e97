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

// GeneratedKeyFactory creates inserts delivering the keys they generated.
// Keys are read from the RETURNING cursor when the specification has one,
// otherwise from the driver's last insert id.
type GeneratedKeyFactory struct {
	spec    *sqlspec.Spec
	keys    *rowmapper.RowMapper
	keyType reflect.Type
	minimum int64
	opts    Options
}

// NewGeneratedKeyFactory returns a factory deserializing keys into keyType.
func NewGeneratedKeyFactory(spec *sqlspec.Spec, keyType reflect.Type, mapper *reflectx.Mapper, minimum int64, opts Options) (*GeneratedKeyFactory, error) {
	keys, err := rowmapper.New(keyType, mapper)
	if err != nil {
		return nil, err
	}
	return &GeneratedKeyFactory{spec: spec, keys: keys, keyType: keyType, minimum: minimum, opts: opts}, nil
}

// Spec implements Factory.
func (f *GeneratedKeyFactory) Spec() *sqlspec.Spec {
	return f.spec
}

// Create implements Factory.
func (f *GeneratedKeyFactory) Create(args []any, sink *ResultSink) Statement {
	return &generatedKeyStatement{
		base:    base{spec: f.spec, args: args, sink: sink, tracker: f.opts.tracker()},
		factory: f,
	}
}

type generatedKeyStatement struct {
	base
	factory *GeneratedKeyFactory
}

// Execute runs the insert, checks the affected rows and only then delivers
// the keys: all of them to a Many sink, the first to a One sink.
func (s *generatedKeyStatement) Execute(ctx context.Context, conn Conn) (err error) {
	start := time.Now()
	var keys []any
	defer func() {
		s.track(ctx, start, int64(len(keys)), err)
	}()

	if s.spec.Returning {
		keys, err = s.returningKeys(ctx, conn)
	} else {
		keys, err = s.lastInsertKey(ctx, conn)
	}
	if err != nil {
		return err
	}

	if s.sink.Mode() == One && len(keys) > 1 {
		keys = keys[:1]
	}
	for _, key := range keys {
		if err := s.sink.Deliver(key); err != nil {
			if errors.Is(err, errStopped) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *generatedKeyStatement) returningKeys(ctx context.Context, conn Conn) ([]any, error) {
	rows, err := conn.QueryContext(ctx, s.spec.SQL, s.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []any
	cursor := s.factory.keys.Cursor(rows)
	for cursor.Next() {
		key, err := cursor.Value()
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	if err := checkMinimum(s.factory.minimum, int64(len(keys)), s.spec.SQL); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *generatedKeyStatement) lastInsertKey(ctx context.Context, conn Conn) ([]any, error) {
	res, err := conn.ExecContext(ctx, s.spec.SQL, s.args...)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if err := checkMinimum(s.factory.minimum, affected, s.spec.SQL); err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	key, err := rowmapper.FromInt64(id, s.factory.keyType)
	if err != nil {
		return nil, err
	}
	return []any{key}, nil
}
