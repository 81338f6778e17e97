package dao

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/rxdao/database"
	"github.com/gaborage/rxdao/database/sqlspec"
	"github.com/gaborage/rxdao/database/statement"
	"github.com/gaborage/rxdao/internal/testutil"
	"github.com/gaborage/rxdao/logger"
	"github.com/gaborage/rxdao/reactive"
)

type account struct {
	ID      int64  `db:"id"`
	Balance int64  `db:"balance"`
	Owner   string `db:"owner"`
}

type accountDao struct {
	Find    func(id int64) Mono[account]                              `query:"SELECT id, balance, owner FROM accounts WHERE id = :id" params:"id"`
	ByOwner func(owner string, opts *CollectionOptions) Flux[account] `query:"SELECT id, balance, owner FROM accounts WHERE owner = :owner" params:"owner"`
	Credit  func(id, amount int64) Mono[int32]                        `update:"UPDATE accounts SET balance = balance + :amount WHERE id = :id" params:"id,amount" minimumAffected:"1"`
}

// parkedScheduler records callbacks without running them.
type parkedScheduler struct {
	onError func(error)
	onConn  func(*sql.Conn)
}

func (s *parkedScheduler) Schedule(_ context.Context, onError func(error), onConn func(*sql.Conn)) error {
	s.onError, s.onConn = onError, onConn
	return nil
}

// countingStatements counts compilations of the default factory.
type countingStatements struct {
	StatementFactoryFactory
	calls atomic.Int32
}

func (c *countingStatements) Create(m *Method) (statement.Factory, error) {
	c.calls.Add(1)
	return c.StatementFactoryFactory.Create(m)
}

func newCountingStatements() *countingStatements {
	return &countingStatements{StatementFactoryFactory: NewStatementFactories(
		sqlspec.NewCompiler(sqlspec.PostgreSQL, 0),
		statement.Options{
			Logger:   logger.New(testutil.TestLoggerLevelDisabled, false),
			Vendor:   testutil.TestVendorPostgreSQL,
			Settings: database.NewTrackingSettings(nil),
		},
	)}
}

func TestHandlersAreCached(t *testing.T) {
	statements := newCountingStatements()
	f := NewFactory(&parkedScheduler{}, Options{Vendor: testutil.TestVendorPostgreSQL, Statements: statements})
	accounts, err := Create[accountDao](f)
	require.NoError(t, err)

	first := accounts.Find(1)
	second := accounts.Find(2)
	assert.Equal(t, int32(1), statements.calls.Load())
	assert.Same(t, first.Decoration().handler, second.Decoration().handler)

	require.NoError(t, f.Preload(accounts))
	assert.Equal(t, int32(3), statements.calls.Load(), "preload compiles only the methods not yet cached")
}

func TestDebugRebuildsHandlers(t *testing.T) {
	log, capture := testutil.NewLogCapture(testutil.TestLoggerLevelDebug)
	statements := newCountingStatements()
	f := NewFactory(&parkedScheduler{}, Options{
		Vendor:     testutil.TestVendorPostgreSQL,
		Logger:     log,
		Debug:      true,
		Statements: statements,
	})
	accounts, err := Create[accountDao](f)
	require.NoError(t, err)

	accounts.Find(1)
	accounts.Find(1)
	assert.Equal(t, int32(2), statements.calls.Load())

	var rebuilds []map[string]any
	for _, e := range capture.ByLevel(t, "debug") {
		if e["message"] == "Rebuilt DAO method handler" {
			rebuilds = append(rebuilds, e)
		}
	}
	require.Len(t, rebuilds, 2)
	assert.Equal(t,
		"query github.com/gaborage/rxdao/dao.accountDao.Find(1) SELECT id, balance, owner FROM accounts WHERE id = :id",
		rebuilds[0]["declaration"])
}

func TestStatementFactoryErrorsBecomeConfigurationErrors(t *testing.T) {
	failing := statementFactoryFunc(func(*Method) (statement.Factory, error) {
		return nil, errors.New(testutil.TestError)
	})
	f := NewFactory(&parkedScheduler{}, Options{Statements: failing})

	err := f.Preload(&accountDao{})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, testutil.TestError, cfgErr.Reason)
}

type statementFactoryFunc func(*Method) (statement.Factory, error)

func (fn statementFactoryFunc) Create(m *Method) (statement.Factory, error) { return fn(m) }

func TestParseMethod(t *testing.T) {
	owner := reflect.TypeFor[accountDao]()
	field, _ := owner.FieldByName("Credit")

	m, err := parseMethod(owner, field)
	require.NoError(t, err)
	assert.Equal(t, "github.com/gaborage/rxdao/dao.accountDao.Credit", m.Name)
	assert.Equal(t, []string{"id", "amount"}, m.Params)
	assert.Equal(t, reflect.TypeFor[int32](), m.Elem)
	assert.Equal(t, statement.One, m.Mode)
	assert.Equal(t, int64(1), m.MinimumAffected)
	assert.Equal(t, "update github.com/gaborage/rxdao/dao.accountDao.Credit(2) UPDATE accounts SET balance = balance + :amount WHERE id = :id", m.String())
}

func TestParseMethodRejections(t *testing.T) {
	type invalid struct {
		Variadic func(ids ...int64) Flux[account] `query:"SELECT 1"`
		TwoOut   func() (Mono[account], error)    `query:"SELECT 1"`
		PlainOut func() account                   `query:"SELECT 1"`
		Both     func() Mono[int64]               `query:"SELECT 1" update:"DELETE FROM t"`
		TooMany  func(id int64) Mono[int64]       `update:"DELETE FROM t" params:"id,other"`
		BadMin   func() Mono[int64]               `update:"DELETE FROM t" minimumAffected:"-1"`
		NotFunc  string                           `query:"SELECT 1"`
	}
	reasons := map[string]string{
		"Variadic": "variadic",
		"TwoOut":   "exactly one",
		"PlainOut": "unsupported return type",
		"Both":     "both",
		"TooMany":  "params tag",
		"BadMin":   "minimumAffected",
		"NotFunc":  "not a function",
	}

	owner := reflect.TypeFor[invalid]()
	for name, reason := range reasons {
		t.Run(name, func(t *testing.T) {
			field, _ := owner.FieldByName(name)
			_, err := parseMethod(owner, field)
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Reason, reason)
		})
	}
}

func TestCompilingFactoriesSelectVariant(t *testing.T) {
	statements := newCountingStatements()
	type variants struct {
		Keys    func(a account) Mono[GeneratedKey[int64]] `update:"INSERT INTO accounts (owner) VALUES (:a.owner)" params:"a" keys:"id"`
		NoKeys  func(a account) Mono[GeneratedKey[int64]] `update:"INSERT INTO accounts (owner) VALUES (:a.owner)" params:"a"`
		KeysTag func() Mono[int64]                        `update:"DELETE FROM accounts" keys:"id"`
		Void    func() Flux[Void]                         `update:"DELETE FROM accounts"`
		BadElem func() Mono[string]                       `update:"DELETE FROM accounts"`
		KeySel  func() Flux[GeneratedKey[int64]]          `query:"SELECT id FROM accounts"`
	}
	owner := reflect.TypeFor[variants]()
	create := func(name string) (statement.Factory, error) {
		field, _ := owner.FieldByName(name)
		m, err := parseMethod(owner, field)
		require.NoError(t, err)
		return statements.Create(m)
	}

	sf, err := create("Keys")
	require.NoError(t, err)
	assert.IsType(t, &statement.GeneratedKeyFactory{}, sf)
	assert.Equal(t, "INSERT INTO accounts (owner) VALUES ($1) RETURNING id", sf.Spec().SQL)

	sf, err = create("Void")
	require.NoError(t, err)
	assert.IsType(t, &statement.UpdateFactory{}, sf)

	for _, name := range []string{"NoKeys", "KeysTag", "BadElem", "KeySel"} {
		_, err := create(name)
		var cfgErr *ConfigurationError
		assert.ErrorAs(t, err, &cfgErr, name)
	}
}

func TestPagingRequiresMultiValueSelect(t *testing.T) {
	statements := newCountingStatements()
	type paged struct {
		List  func(opts *CollectionOptions) Flux[account] `query:"SELECT id, balance, owner FROM accounts ORDER BY id"`
		First func(opts *CollectionOptions) Mono[account] `query:"SELECT id, balance, owner FROM accounts ORDER BY id"`
		Bump  func(opts *CollectionOptions) Mono[int64]   `update:"UPDATE accounts SET balance = balance + 1"`
		Purge func(opts *CollectionOptions) Flux[Void]    `update:"DELETE FROM accounts"`
	}
	owner := reflect.TypeFor[paged]()
	create := func(name string) (statement.Factory, error) {
		field, _ := owner.FieldByName(name)
		m, err := parseMethod(owner, field)
		require.NoError(t, err)
		return statements.Create(m)
	}

	sf, err := create("List")
	require.NoError(t, err)
	assert.True(t, sf.Spec().Paged)
	assert.Equal(t, "SELECT id, balance, owner FROM accounts ORDER BY id LIMIT $1 OFFSET $2", sf.Spec().SQL)

	for _, name := range []string{"First", "Bump", "Purge"} {
		t.Run(name, func(t *testing.T) {
			_, err := create(name)
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Reason, "requires a multi-value select")
		})
	}
}

type failingCloser struct{ closed int }

func (c *failingCloser) Close() error {
	c.closed++
	return errors.New(testutil.TestConnectionRefused)
}

func TestMetrics(t *testing.T) {
	capture := testutil.InstallMeterProvider(t)
	log, logs := testutil.NewLogCapture("warn")
	f := NewFactory(&parkedScheduler{}, Options{Vendor: testutil.TestVendorPostgreSQL, Logger: log})

	t.Run("close failures are counted and throttled", func(t *testing.T) {
		closer := &failingCloser{}
		f.exec.release(context.Background(), closer, "accounts.Find")
		f.exec.release(context.Background(), closer, "accounts.Find")

		assert.Equal(t, 2, closer.closed)
		assert.Len(t, logs.ByLevel(t, "warn"), 1)
		assert.Equal(t, int64(2), testutil.SumInt64(t, capture.Collect(t), "db.connection.close.failures"))
	})

	t.Run("method durations and slow calls", func(t *testing.T) {
		field, _ := reflect.TypeFor[accountDao]().FieldByName("Find")
		m, err := parseMethod(reflect.TypeFor[accountDao](), field)
		require.NoError(t, err)

		mm := newMethodMetrics(m)
		mm.record(context.Background(), 3*time.Millisecond, nil, false)
		mm.record(context.Background(), 300*time.Millisecond, errors.New(testutil.TestError), true)
		mm.record(context.Background(), time.Millisecond, context.Canceled, false)

		rm := capture.Collect(t)
		assert.Equal(t, uint64(3), testutil.HistogramCount(t, rm, "dao.method.duration"))
		assert.Equal(t, int64(1), testutil.SumInt64(t, rm, "dao.method.slow"))
	})
}

func TestReleaseSucceedsSilently(t *testing.T) {
	log, logs := testutil.NewLogCapture("warn")
	f := NewFactory(&parkedScheduler{}, Options{Logger: log})

	f.exec.release(context.Background(), nopCloser{}, "accounts.Find")
	assert.Empty(t, logs.Entries(t))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func TestSchedulerRejectionFailsSubscription(t *testing.T) {
	f := NewFactory(schedulerFunc(func() error { return errors.New(testutil.TestConnectionRefused) }), Options{
		Vendor: testutil.TestVendorPostgreSQL,
	})
	accounts, err := Create[accountDao](f)
	require.NoError(t, err)

	_, _, err = accounts.Find(1).Get(context.Background())
	assert.ErrorContains(t, err, testutil.TestConnectionRefused)
}

type schedulerFunc func() error

func (fn schedulerFunc) Schedule(context.Context, func(error), func(*sql.Conn)) error { return fn() }

func TestAcquisitionFailureFailsSubscription(t *testing.T) {
	sched := &parkedScheduler{}
	f := NewFactory(sched, Options{Vendor: testutil.TestVendorPostgreSQL})
	accounts, err := Create[accountDao](f)
	require.NoError(t, err)

	done := make(chan error, 1)
	accounts.Find(1).Subscribe(context.Background(), ObserverFuncs[account]{
		Error:    func(err error) { done <- err },
		Complete: func() { done <- nil },
	})
	require.NotNil(t, sched.onError)
	sched.onError(errors.New(testutil.TestConnectionRefused))

	select {
	case err := <-done:
		assert.ErrorContains(t, err, testutil.TestConnectionRefused)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not terminate")
	}
}

func TestSubscriptionCancel(t *testing.T) {
	sched := &parkedScheduler{}
	f := NewFactory(sched, Options{Vendor: testutil.TestVendorPostgreSQL})
	accounts, err := Create[accountDao](f)
	require.NoError(t, err)

	var signals atomic.Int32
	sub := accounts.Find(1).Subscribe(context.Background(), ObserverFuncs[account]{
		Next:     func(account) { signals.Add(1) },
		Error:    func(error) { signals.Add(1) },
		Complete: func() { signals.Add(1) },
	})
	sub.Cancel()

	<-sub.Done()
	assert.ErrorIs(t, sub.Err(), context.Canceled)

	sched.onError(context.Canceled)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, signals.Load())
}

func TestParentContextEndsSubscription(t *testing.T) {
	sched := &parkedScheduler{}
	f := NewFactory(sched, Options{Vendor: testutil.TestVendorPostgreSQL})
	accounts, err := Create[accountDao](f)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	sub := accounts.Find(1).Subscribe(ctx, ObserverFuncs[account]{
		Error:    func(err error) { done <- err },
		Complete: func() { done <- nil },
	})
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("observer not notified")
	}
	<-sub.Done()
}

func TestConverter(t *testing.T) {
	assert.Nil(t, converter(reflect.TypeFor[account]()))

	tests := []struct {
		name string
		elem reflect.Type
		in   any
		want any
	}{
		{"int32 count", reflect.TypeFor[int32](), int64(5), int32(5)},
		{"uint count", reflect.TypeFor[uint](), int64(5), uint(5)},
		{"int64 count", reflect.TypeFor[int64](), int64(5), int64(5)},
		{"string key", reflect.TypeFor[GeneratedKey[string]](), "k1", GeneratedKey[string]{Key: "k1"}},
		{"nil key", reflect.TypeFor[GeneratedKey[int64]](), nil, GeneratedKey[int64]{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := converter(tt.elem)(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConverterRejectsLossyValues(t *testing.T) {
	_, err := converter(reflect.TypeFor[int8]())(int64(300))
	assert.ErrorContains(t, err, "overflows int8")

	_, err = converter(reflect.TypeFor[uint16]())(int64(-1))
	assert.ErrorContains(t, err, "overflows uint16")

	_, err = converter(reflect.TypeFor[GeneratedKey[int64]]())("k1")
	assert.ErrorContains(t, err, "generated key of type string is not a int64")
}

func TestCollectionOptionsPageWindow(t *testing.T) {
	var pager sqlspec.Pager = &CollectionOptions{Limit: 10, Offset: 20}
	limit, offset := pager.PageWindow()
	assert.Equal(t, 10, limit)
	assert.Equal(t, 20, offset)
}

func TestPulledSubscriptionsCarryIDs(t *testing.T) {
	var ids []string
	pub := func(ctx context.Context, sink reactive.Sink) {
		ids = append(ids, SubscriptionID(ctx))
		sink.Complete()
	}

	for range 2 {
		for _, err := range pull[account](context.Background(), pub) {
			require.NoError(t, err)
		}
	}
	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[0])
	assert.NotEqual(t, ids[0], ids[1])
}
