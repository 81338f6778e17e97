package sqlspec

import (
	"math"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type address struct {
	City string `db:"city"`
}

type user struct {
	ID      int64
	Name    string `db:"name"`
	Address *address
}

type window struct {
	limit, offset int
}

func (w *window) PageWindow() (int, int) { return w.limit, w.offset }

func typesOf(values ...any) []reflect.Type {
	types := make([]reflect.Type, len(values))
	for i, v := range values {
		types[i] = reflect.TypeOf(v)
	}
	return types
}

func TestCompileNamedParameters(t *testing.T) {
	c := NewCompiler(PostgreSQL, 0)
	spec, err := c.Compile("SELECT * FROM users WHERE id = :id AND name = :name", Method{
		Name:   "Users.Find",
		Params: []string{"id", "name"},
		Types:  typesOf(int64(0), ""),
	})
	require.NoError(t, err)

	assert.Equal(t, "SELECT * FROM users WHERE id = $1 AND name = $2", spec.SQL)

	args, err := spec.Bind([]any{int64(7), "bob"})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(7), "bob"}, args)
}

func TestCompileRepeatedAndPositionalParameters(t *testing.T) {
	c := NewCompiler(Oracle, 0)
	spec, err := c.Compile("UPDATE t SET a = :1, b = :2 WHERE a <> :1", Method{
		Name:  "T.Set",
		Types: typesOf(1, 2),
	})
	require.NoError(t, err)

	assert.Equal(t, "UPDATE t SET a = :1, b = :2 WHERE a <> :3", spec.SQL)
	args, err := spec.Bind([]any{10, 20})
	require.NoError(t, err)
	assert.Equal(t, []any{10, 20, 10}, args)
}

func TestCompileSkipsLiteralsCommentsAndCasts(t *testing.T) {
	c := NewCompiler(PostgreSQL, 0)
	query := `SELECT ':nope', "col:x", data::jsonb ? 'k' -- :comment
FROM t /* :block */ WHERE id = :id`
	spec, err := c.Compile(query, Method{Name: "T.Get", Params: []string{"id"}, Types: typesOf(0)})
	require.NoError(t, err)

	assert.Equal(t, `SELECT ':nope', "col:x", data::jsonb ? 'k' -- :comment
FROM t /* :block */ WHERE id = $1`, spec.SQL)
}

func TestCompileFieldPaths(t *testing.T) {
	c := NewCompiler(Generic, 0)
	spec, err := c.Compile("INSERT INTO users (id, name, city) VALUES (:u.id, :u.name, :u.address.city)", Method{
		Name:   "Users.Insert",
		Params: []string{"u"},
		Types:  typesOf(&user{}),
	})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users (id, name, city) VALUES (?, ?, ?)", spec.SQL)

	args, err := spec.Bind([]any{&user{ID: 1, Name: "ann", Address: &address{City: "Oslo"}}})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "ann", "Oslo"}, args)

	args, err = spec.Bind([]any{&user{ID: 2, Name: "bo"}})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), "bo", nil}, args, "nil pointers bind NULL")

	args, err = spec.Bind([]any{(*user)(nil)})
	require.NoError(t, err)
	assert.Equal(t, []any{nil, nil, nil}, args)
}

func TestCompileMapPaths(t *testing.T) {
	c := NewCompiler(Generic, 0)
	spec, err := c.Compile("SELECT :m.a, :m.b.c", Method{
		Name:   "M.Get",
		Params: []string{"m"},
		Types:  typesOf(map[string]any{}),
	})
	require.NoError(t, err)

	args, err := spec.Bind([]any{map[string]any{"a": 1, "b": map[string]any{"c": "x"}}})
	require.NoError(t, err)
	assert.Equal(t, []any{1, "x"}, args)
}

func TestCompilePaging(t *testing.T) {
	method := Method{
		Name:     "Users.List",
		Params:   []string{"name"},
		Types:    typesOf("", &window{}),
		Pageable: true,
	}

	spec, err := NewCompiler(PostgreSQL, 0).Compile("SELECT * FROM users WHERE name = :name ORDER BY id", method)
	require.NoError(t, err)
	assert.True(t, spec.Paged)
	assert.Equal(t, "SELECT * FROM users WHERE name = $1 ORDER BY id LIMIT $2 OFFSET $3", spec.SQL)

	args, err := spec.Bind([]any{"a", &window{limit: 10, offset: 20}})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", int64(11), int64(20)}, args, "one extra row detects the last page")

	args, err = spec.Bind([]any{"a", (*window)(nil)})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", int64(math.MaxInt32), int64(0)}, args)

	spec, err = NewCompiler(Oracle, 0).Compile("SELECT * FROM users WHERE name = :name", method)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users WHERE name = :1 OFFSET :2 ROWS FETCH NEXT :3 ROWS ONLY", spec.SQL)
	args, err = spec.Bind([]any{"a", &window{limit: 5, offset: -1}})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", int64(0), int64(6)}, args)
}

func TestCompileReturningKeys(t *testing.T) {
	method := Method{Name: "Users.Insert", Params: []string{"name"}, Types: typesOf(""), Keys: []string{"id"}}
	query := "INSERT INTO users (name) VALUES (:name)"

	spec, err := NewCompiler(PostgreSQL, 0).Compile(query, method)
	require.NoError(t, err)
	assert.True(t, spec.Returning)
	assert.Equal(t, "INSERT INTO users (name) VALUES ($1) RETURNING id", spec.SQL)

	spec, err = NewCompiler(Generic, 0).Compile(query, method)
	require.NoError(t, err)
	assert.False(t, spec.Returning)
	assert.Equal(t, []string{"id"}, spec.Keys)
	assert.Equal(t, "INSERT INTO users (name) VALUES (?)", spec.SQL)
}

func TestCompileErrors(t *testing.T) {
	c := NewCompiler(PostgreSQL, 0)
	tests := []struct {
		name   string
		query  string
		method Method
		reason string
	}{
		{"empty", "  ", Method{}, "empty statement"},
		{"unknown name", "SELECT :x", Method{Params: []string{"y"}, Types: typesOf(0)}, "unknown parameter :x"},
		{"position out of range", "SELECT :2", Method{Types: typesOf(0)}, "out of range"},
		{"zero position", "SELECT :0", Method{Types: typesOf(0)}, "start at :1"},
		{"unterminated quote", "SELECT 'abc", Method{}, "unterminated quote"},
		{"unterminated comment", "SELECT /* x", Method{}, "unterminated comment"},
		{"missing field", "SELECT :u.nope", Method{Params: []string{"u"}, Types: typesOf(user{})}, `no field "nope"`},
		{"field of scalar", "SELECT :n.x", Method{Params: []string{"n"}, Types: typesOf(0)}, "cannot select field"},
		{"too many names", "SELECT 1", Method{Params: []string{"a", "b"}, Types: typesOf(0)}, "2 parameter names"},
		{"pager without paging", "UPDATE t SET a = 1", Method{Types: typesOf(&window{})}, "requires a multi-value select"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method.Name = "Dao.Method"
			_, err := c.Compile(tt.query, tt.method)

			var compileErr *CompileError
			require.ErrorAs(t, err, &compileErr)
			assert.Equal(t, "Dao.Method", compileErr.Method)
			assert.Contains(t, compileErr.Reason, tt.reason)
			assert.Contains(t, err.Error(), "Dao.Method")
		})
	}
}

func TestCompileCachesParsedTemplates(t *testing.T) {
	c := NewCompiler(PostgreSQL, 2)
	method := Method{Name: "T.Get", Params: []string{"id"}, Types: typesOf(0)}

	_, err := c.Compile("SELECT :id", method)
	require.NoError(t, err)
	cached, ok := c.cache.Get("SELECT :id")
	require.True(t, ok)

	_, err = c.Compile("SELECT :id", method)
	require.NoError(t, err)
	again, _ := c.cache.Get("SELECT :id")
	assert.Same(t, cached, again)
}

func TestDialectFor(t *testing.T) {
	assert.Equal(t, PostgreSQL.Name, DialectFor("postgres").Name)
	assert.Equal(t, Oracle.Name, DialectFor("ORACLE").Name)
	assert.Equal(t, Generic.Name, DialectFor("sqlmock").Name)
}
