// Package sqlspec compiles DAO query templates into executable statement
// specifications: dialect SQL text plus the ordered binders that turn a
// method's call arguments into driver arguments.
//
// Templates reference method parameters by name (:id), by field path
// (:user.name, resolved through `db` struct tags) or by position (:1).
package sqlspec

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx/reflectx"
)

// DefaultCacheSize bounds the number of parsed templates kept by a Compiler.
const DefaultCacheSize = 512

// Pager is implemented by method parameters carrying a result window.
// A non-positive limit selects every row.
type Pager interface {
	PageWindow() (limit, offset int)
}

var pagerType = reflect.TypeFor[Pager]()

// Method describes the DAO method a template belongs to.
type Method struct {
	// Name is the qualified method name used in errors.
	Name string
	// Params are the declared parameter names, one per parameter type.
	// Parameters without a name can only be referenced positionally.
	Params []string
	// Types are the method's parameter types.
	Types []reflect.Type
	// Keys are the generated key columns of an insert.
	Keys []string
	// Pageable is set for selects streaming many rows, the only methods a
	// Pager parameter may window.
	Pageable bool
}

// Spec is a compiled, immutable statement specification.
type Spec struct {
	// SQL is the dialect-specific statement text.
	SQL string
	// Template is the source text the spec was compiled from.
	Template string
	// Keys are the generated key columns; Returning reports whether they are
	// read from a RETURNING cursor instead of the driver's last insert id.
	Keys      []string
	Returning bool
	// Paged reports whether a paging clause was appended.
	Paged bool

	binders []binder
}

// Bind resolves the driver arguments of one call.
func (s *Spec) Bind(args []any) ([]any, error) {
	bound := make([]any, len(s.binders))
	for i, b := range s.binders {
		v, err := b(args)
		if err != nil {
			return nil, fmt.Errorf("bind argument %d of %q: %w", i+1, s.Template, err)
		}
		bound[i] = v
	}
	return bound, nil
}

type binder func(args []any) (any, error)

// Compiler turns templates into Specs for one dialect. It is safe for concurrent use.
type Compiler struct {
	dialect Dialect
	mapper  *reflectx.Mapper
	cache   *lru.Cache[string, *template]
}

// NewCompiler creates a compiler caching up to cacheSize parsed templates.
func NewCompiler(dialect Dialect, cacheSize int) *Compiler {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *template](cacheSize)
	if err != nil {
		// only returned for non-positive sizes
		panic(err)
	}
	return &Compiler{
		dialect: dialect,
		mapper:  reflectx.NewMapperFunc("db", strings.ToLower),
		cache:   cache,
	}
}

// Mapper returns the struct field mapper used for :name.field lookups.
func (c *Compiler) Mapper() *reflectx.Mapper {
	return c.mapper
}

// Compile builds the Spec of query for method m.
func (c *Compiler) Compile(query string, m Method) (*Spec, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &CompileError{Method: m.Name, Query: query, Reason: "empty statement"}
	}
	if len(m.Params) > len(m.Types) {
		return nil, &CompileError{Method: m.Name, Query: query,
			Reason: fmt.Sprintf("%d parameter names declared for %d parameters", len(m.Params), len(m.Types))}
	}

	tpl, err := c.parse(query)
	if err != nil {
		return nil, &CompileError{Method: m.Name, Query: query, Reason: err.Error()}
	}

	spec := &Spec{Template: query}
	var sqlText strings.Builder
	for i, ref := range tpl.refs {
		b, err := c.binderFor(ref, m)
		if err != nil {
			return nil, &CompileError{Method: m.Name, Query: query, Reason: err.Error()}
		}
		spec.binders = append(spec.binders, b)
		sqlText.WriteString(c.escape(tpl.literals[i]))
		sqlText.WriteString("?")
	}
	sqlText.WriteString(c.escape(tpl.literals[len(tpl.refs)]))

	if idx := pagerIndex(m.Types); idx >= 0 {
		if !m.Pageable {
			return nil, &CompileError{Method: m.Name, Query: query,
				Reason: fmt.Sprintf("paging parameter %s requires a multi-value select", m.Types[idx])}
		}
		sqlText.WriteString(c.dialect.pagingClause())
		spec.binders = append(spec.binders, c.pagingBinders(idx)...)
		spec.Paged = true
	}

	if len(m.Keys) > 0 {
		spec.Keys = m.Keys
		if c.dialect.Returning {
			sqlText.WriteString(" RETURNING " + strings.Join(m.Keys, ", "))
			spec.Returning = true
		}
	}

	spec.SQL = sqlText.String()
	if c.dialect.Placeholder != nil {
		spec.SQL, err = c.dialect.Placeholder.ReplacePlaceholders(spec.SQL)
		if err != nil {
			return nil, &CompileError{Method: m.Name, Query: query, Reason: err.Error()}
		}
	}
	return spec, nil
}

func (c *Compiler) parse(query string) (*template, error) {
	if tpl, ok := c.cache.Get(query); ok {
		return tpl, nil
	}
	tpl, err := parseTemplate(query)
	if err != nil {
		return nil, err
	}
	c.cache.Add(query, tpl)
	return tpl, nil
}

func (c *Compiler) escape(literal string) string {
	if !c.dialect.escapesMarkers() {
		return literal
	}
	return strings.ReplaceAll(literal, "?", "??")
}

func (c *Compiler) binderFor(ref paramRef, m Method) (binder, error) {
	idx := ref.Position - 1
	if ref.Name != "" {
		idx = slices.Index(m.Params, ref.Name)
		if idx < 0 {
			return nil, fmt.Errorf("unknown parameter %s", ref)
		}
	} else if idx >= len(m.Types) {
		return nil, fmt.Errorf("parameter %s out of range, method has %d parameters", ref, len(m.Types))
	}

	if ref.Path == "" {
		return func(args []any) (any, error) {
			if idx >= len(args) {
				return nil, fmt.Errorf("missing argument %d", idx+1)
			}
			return args[idx], nil
		}, nil
	}
	return c.fieldBinder(ref, idx, m.Types[idx])
}

// fieldBinder resolves ref.Path on the argument at idx, which must be a
// struct (or pointer to one) or a map keyed by string.
func (c *Compiler) fieldBinder(ref paramRef, idx int, t reflect.Type) (binder, error) {
	base := reflectx.Deref(t)

	switch base.Kind() {
	case reflect.Map:
		if base.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("parameter %s: map keys must be strings", ref)
		}
		return func(args []any) (any, error) {
			v := reflect.ValueOf(argAt(args, idx))
			for _, key := range strings.Split(ref.Path, ".") {
				v = reflect.Indirect(v)
				if !v.IsValid() {
					return nil, nil
				}
				if v.Kind() == reflect.Interface {
					v = v.Elem()
				}
				if v.Kind() != reflect.Map {
					return nil, fmt.Errorf("parameter %s: %s is not a map", ref, v.Type())
				}
				v = v.MapIndex(reflect.ValueOf(key))
			}
			if !v.IsValid() {
				return nil, nil
			}
			return v.Interface(), nil
		}, nil

	case reflect.Struct:
		field := c.mapper.TypeMap(base).GetByPath(ref.Path)
		if field == nil {
			field = c.mapper.TypeMap(base).GetByPath(strings.ToLower(ref.Path))
		}
		if field == nil {
			return nil, fmt.Errorf("parameter %s: %s has no field %q", ref, base, ref.Path)
		}
		index := field.Index
		return func(args []any) (any, error) {
			v, ok := fieldByIndex(reflect.ValueOf(argAt(args, idx)), index)
			if !ok {
				return nil, nil
			}
			return v.Interface(), nil
		}, nil

	default:
		return nil, fmt.Errorf("parameter %s: cannot select field of %s", ref, t)
	}
}

// fieldByIndex walks index through v, stopping at nil pointers.
func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for _, i := range index {
		for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		if !v.IsValid() {
			return reflect.Value{}, false
		}
		v = v.Field(i)
	}
	return v, v.IsValid()
}

// pagingBinders bind the extra row used to detect the last page.
func (c *Compiler) pagingBinders(idx int) []binder {
	window := func(args []any) (limit, offset int) {
		p, ok := argAt(args, idx).(Pager)
		if !ok || isNilPointer(p) {
			return math.MaxInt32, 0
		}
		limit, offset = p.PageWindow()
		if limit <= 0 || limit >= math.MaxInt32 {
			limit = math.MaxInt32
		} else {
			limit++
		}
		return limit, max(offset, 0)
	}
	limitArg := func(args []any) (any, error) {
		l, _ := window(args)
		return int64(l), nil
	}
	offsetArg := func(args []any) (any, error) {
		_, o := window(args)
		return int64(o), nil
	}
	if c.dialect.OffsetFetch {
		return []binder{offsetArg, limitArg}
	}
	return []binder{limitArg, offsetArg}
}

func pagerIndex(types []reflect.Type) int {
	for i, t := range types {
		if t.Implements(pagerType) {
			return i
		}
	}
	return -1
}

func argAt(args []any, idx int) any {
	if idx < len(args) {
		return args[idx]
	}
	return nil
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
