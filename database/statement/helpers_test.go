package statement

import (
	"database/sql"
	"reflect"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/rxdao/database/internal/tracking"
	"github.com/gaborage/rxdao/database/sqlspec"
	"github.com/gaborage/rxdao/internal/testutil"
	"github.com/gaborage/rxdao/logger"
)

const testMethod = "users.Dao.Find"

type user struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

// recordingSink captures the signals of one result.
type recordingSink struct {
	mu        sync.Mutex
	values    []any
	err       error
	completed bool
	terminals int
}

func (r *recordingSink) Next(v any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
	return true
}

func (r *recordingSink) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	r.terminals++
}

func (r *recordingSink) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = true
	r.terminals++
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

func testOptions() Options {
	return Options{
		Method:   testMethod,
		Logger:   logger.New(testutil.TestLoggerLevelDisabled, false),
		Vendor:   testutil.TestVendorPostgreSQL,
		Settings: tracking.NewSettings(nil),
	}
}

func compile(t *testing.T, dialect sqlspec.Dialect, query string, params []string, types []reflect.Type, keys ...string) *sqlspec.Spec {
	t.Helper()
	spec, err := sqlspec.NewCompiler(dialect, 0).Compile(query, sqlspec.Method{
		Name:   testMethod,
		Params: params,
		Types:  types,
		Keys:   keys,
	})
	require.NoError(t, err)
	return spec
}

func int64Types(n int) []reflect.Type {
	types := make([]reflect.Type, n)
	for i := range types {
		types[i] = reflect.TypeFor[int64]()
	}
	return types
}
