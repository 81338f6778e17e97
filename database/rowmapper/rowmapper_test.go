package rowmapper

import (
	"database/sql"
	"reflect"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type account struct {
	ID      int64  `db:"id"`
	Name    string `db:"name"`
	Balance sql.NullFloat64
}

func queryRows(t *testing.T, rows *sqlmock.Rows) *sql.Rows {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery("SELECT").WillReturnRows(rows)
	result, err := db.Query("SELECT")
	require.NoError(t, err)
	t.Cleanup(func() { _ = result.Close() })
	return result
}

func collect(t *testing.T, rm *RowMapper, rows *sql.Rows) []any {
	t.Helper()
	cursor := rm.Cursor(rows)
	var out []any
	for cursor.Next() {
		v, err := cursor.Value()
		require.NoError(t, err)
		out = append(out, v)
	}
	require.NoError(t, cursor.Err())
	return out
}

func TestStructRows(t *testing.T) {
	rm, err := New(reflect.TypeFor[account](), nil)
	require.NoError(t, err)

	rows := queryRows(t, sqlmock.NewRows([]string{"id", "name", "balance"}).
		AddRow(1, "alice", 10.5).
		AddRow(2, "bob", nil))

	values := collect(t, rm, rows)
	require.Len(t, values, 2)
	assert.Equal(t, account{ID: 1, Name: "alice", Balance: sql.NullFloat64{Float64: 10.5, Valid: true}}, values[0])
	assert.Equal(t, account{ID: 2, Name: "bob"}, values[1])
}

func TestPointerStructRows(t *testing.T) {
	rm, err := New(reflect.TypeFor[*account](), nil)
	require.NoError(t, err)
	assert.True(t, rm.ptr)

	rows := queryRows(t, sqlmock.NewRows([]string{"id", "name", "balance"}).AddRow(3, "carol", 1.0))
	values := collect(t, rm, rows)
	require.Len(t, values, 1)

	acc, ok := values[0].(*account)
	require.True(t, ok)
	assert.Equal(t, "carol", acc.Name)
}

func TestStructMissingColumnFails(t *testing.T) {
	rm, err := New(reflect.TypeFor[account](), nil)
	require.NoError(t, err)

	cursor := rm.Cursor(queryRows(t, sqlmock.NewRows([]string{"id", "unknown"}).AddRow(1, "x")))
	require.True(t, cursor.Next())
	_, err = cursor.Value()
	assert.ErrorContains(t, err, "missing destination name unknown")
}

func TestScalarRows(t *testing.T) {
	rm, err := New(reflect.TypeFor[int64](), nil)
	require.NoError(t, err)

	values := collect(t, rm, queryRows(t, sqlmock.NewRows([]string{"count"}).AddRow(42)))
	assert.Equal(t, []any{int64(42)}, values)
}

func TestScannableStructsUseScan(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rm, err := New(reflect.TypeFor[time.Time](), nil)
	require.NoError(t, err)
	assert.Equal(t, []any{now}, collect(t, rm, queryRows(t, sqlmock.NewRows([]string{"ts"}).AddRow(now))))

	rm, err = New(reflect.TypeFor[sql.NullString](), nil)
	require.NoError(t, err)
	assert.Equal(t, []any{sql.NullString{String: "x", Valid: true}},
		collect(t, rm, queryRows(t, sqlmock.NewRows([]string{"s"}).AddRow("x"))))
}

func TestNewRejectsUnmappableTypes(t *testing.T) {
	for _, typ := range []reflect.Type{nil, reflect.TypeFor[chan int](), reflect.TypeFor[func()](), reflect.TypeFor[**account]()} {
		_, err := New(typ, nil)
		assert.Error(t, err, "%v", typ)
	}
}

type code string

func TestFromInt64(t *testing.T) {
	tests := []struct {
		target   reflect.Type
		expected any
	}{
		{reflect.TypeFor[int64](), int64(7)},
		{reflect.TypeFor[int](), 7},
		{reflect.TypeFor[uint32](), uint32(7)},
		{reflect.TypeFor[string](), "7"},
		{reflect.TypeFor[code](), code("7")},
		{reflect.TypeFor[any](), int64(7)},
		{reflect.TypeFor[sql.NullInt64](), sql.NullInt64{Int64: 7, Valid: true}},
	}
	for _, tt := range tests {
		got, err := FromInt64(7, tt.target)
		require.NoError(t, err, tt.target.String())
		assert.Equal(t, tt.expected, got)
	}

	ptr, err := FromInt64(9, reflect.TypeFor[*int64]())
	require.NoError(t, err)
	assert.Equal(t, int64(9), *ptr.(*int64))
}

func TestFromInt64Errors(t *testing.T) {
	_, err := FromInt64(300, reflect.TypeFor[int8]())
	assert.ErrorContains(t, err, "overflows")

	_, err = FromInt64(-1, reflect.TypeFor[uint]())
	assert.ErrorContains(t, err, "overflows")

	_, err = FromInt64(1, reflect.TypeFor[account]())
	assert.ErrorContains(t, err, "cannot convert")
}
