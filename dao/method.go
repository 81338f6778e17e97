package dao

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/gaborage/rxdao/database/sqlspec"
	"github.com/gaborage/rxdao/database/statement"
	"github.com/gaborage/rxdao/internal/reflection"
)

// Struct tags recognised on DAO function fields.
const (
	tagQuery           = "query"
	tagUpdate          = "update"
	tagParams          = "params"
	tagMinimumAffected = "minimumAffected"
	tagKeys            = "keys"
)

// defaultMinimumAffected applies to updates without a minimumAffected tag.
const defaultMinimumAffected = 1

// Method is the parsed declaration of one DAO function field.
type Method struct {
	// Name is the qualified name, e.g. "example.com/app/users.Dao.FindByID".
	Name string
	// Query is the select template; Update the update template. Exactly one is set.
	Query  string
	Update string
	// Params names the function's parameters for :name references.
	Params []string
	// Types are the function's parameter types.
	Types []reflect.Type
	// Elem is the element type of the returned Flux or Mono.
	Elem reflect.Type
	// Mode is Many for a Flux and One for a Mono.
	Mode statement.Mode
	// MinimumAffected is the affected-row floor of an update.
	MinimumAffected int64
	// Keys are the generated key columns of an insert returning GeneratedKey.
	Keys []string
}

// Arity returns the number of declared parameters.
func (m *Method) Arity() int {
	return len(m.Types)
}

// StatementFactoryFactory compiles a method declaration into the factory
// creating its statements.
type StatementFactoryFactory interface {
	Create(m *Method) (statement.Factory, error)
}

// parseMethod reads the declaration of field on owner. It fails for fields
// that are not functions returning exactly one Flux or Mono.
func parseMethod(owner reflect.Type, field reflect.StructField) (*Method, error) {
	m := &Method{Name: reflection.MethodName(owner, field.Name)}
	ft := field.Type

	if ft.Kind() != reflect.Func {
		return nil, configError(m.Name, "field of type %s is not a function", ft)
	}
	if ft.IsVariadic() {
		return nil, configError(m.Name, "variadic parameters are not supported")
	}
	if ft.NumOut() != 1 {
		return nil, configError(m.Name, "must return exactly one Flux or Mono, returns %d values", ft.NumOut())
	}
	out := ft.Out(0)
	if !reflect.PointerTo(out).Implements(channelType) {
		return nil, configError(m.Name, "unsupported return type %s, expected dao.Flux or dao.Mono", out)
	}
	ch := reflect.New(out).Interface().(channel)
	m.Elem, m.Mode = ch.elemType(), ch.mode()

	for i := range ft.NumIn() {
		m.Types = append(m.Types, ft.In(i))
	}
	if params, ok := field.Tag.Lookup(tagParams); ok {
		for _, p := range strings.Split(params, ",") {
			m.Params = append(m.Params, strings.TrimSpace(p))
		}
		if len(m.Params) > len(m.Types) {
			return nil, configError(m.Name, "params tag names %d parameters, function declares %d", len(m.Params), len(m.Types))
		}
	}

	m.Query = field.Tag.Get(tagQuery)
	m.Update = field.Tag.Get(tagUpdate)
	switch {
	case m.Query == "" && m.Update == "":
		return nil, configError(m.Name, "missing %s or %s tag", tagQuery, tagUpdate)
	case m.Query != "" && m.Update != "":
		return nil, configError(m.Name, "declares both %s and %s", tagQuery, tagUpdate)
	}

	if m.Update != "" {
		m.MinimumAffected = defaultMinimumAffected
		if v, ok := field.Tag.Lookup(tagMinimumAffected); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				return nil, configError(m.Name, "invalid %s tag %q", tagMinimumAffected, v)
			}
			m.MinimumAffected = n
		}
	}
	if keys := field.Tag.Get(tagKeys); keys != "" {
		for _, k := range strings.Split(keys, ",") {
			m.Keys = append(m.Keys, strings.TrimSpace(k))
		}
	}
	return m, nil
}

// taggedMethod reports whether field is a DAO method declaration.
func taggedMethod(field reflect.StructField) bool {
	if !field.IsExported() || field.Type.Kind() != reflect.Func {
		return false
	}
	_, query := field.Tag.Lookup(tagQuery)
	_, update := field.Tag.Lookup(tagUpdate)
	if query || update {
		return true
	}
	ft := field.Type
	return ft.NumOut() == 1 && reflect.PointerTo(ft.Out(0)).Implements(channelType)
}

// compilingFactories is the default StatementFactoryFactory: it compiles the
// method's template for the configured dialect and picks the statement
// variant from the declared element type.
type compilingFactories struct {
	compiler *sqlspec.Compiler
	opts     statement.Options
}

// NewStatementFactories returns the default StatementFactoryFactory.
// Options.Method is filled in per method.
func NewStatementFactories(compiler *sqlspec.Compiler, opts statement.Options) StatementFactoryFactory {
	return &compilingFactories{compiler: compiler, opts: opts}
}

func (c *compilingFactories) Create(m *Method) (statement.Factory, error) {
	opts := c.opts
	opts.Method = m.Name

	template := m.Query
	if template == "" {
		template = m.Update
	}

	kc, isKey := asKeyCarrier(m.Elem)
	var keys []string
	if isKey {
		if m.Query != "" {
			return nil, configError(m.Name, "select cannot return %s", m.Elem)
		}
		if len(m.Keys) == 0 {
			return nil, configError(m.Name, "returns %s but declares no %s tag", m.Elem, tagKeys)
		}
		keys = m.Keys
	} else if len(m.Keys) > 0 {
		return nil, configError(m.Name, "%s tag requires a dao.GeneratedKey element type, got %s", tagKeys, m.Elem)
	}

	spec, err := c.compiler.Compile(template, sqlspec.Method{
		Name:     m.Name,
		Params:   m.Params,
		Types:    m.Types,
		Keys:     keys,
		Pageable: m.Query != "" && m.Mode == statement.Many,
	})
	if err != nil {
		return nil, configError(m.Name, "%v", err)
	}

	mapper := c.compiler.Mapper()
	switch {
	case m.Query != "":
		if m.Elem == voidType {
			return nil, configError(m.Name, "select cannot return dao.Void")
		}
		f, err := statement.NewSelectFactory(spec, m.Elem, mapper, opts)
		if err != nil {
			return nil, configError(m.Name, "%v", err)
		}
		return f, nil

	case isKey:
		f, err := statement.NewGeneratedKeyFactory(spec, kc.keyType(), mapper, m.MinimumAffected, opts)
		if err != nil {
			return nil, configError(m.Name, "%v", err)
		}
		return f, nil

	case m.Elem == voidType:
		return statement.NewVoidUpdateFactory(spec, m.MinimumAffected, opts), nil

	case isInteger(m.Elem.Kind()):
		return statement.NewUpdateFactory(spec, m.MinimumAffected, opts), nil

	default:
		return nil, configError(m.Name, "update cannot return %s, expected an integer count, dao.Void or dao.GeneratedKey", m.Elem)
	}
}

// String renders the declaration for the debug rebuild log.
func (m *Method) String() string {
	kind, template := "query", m.Query
	if template == "" {
		kind, template = "update", m.Update
	}
	return fmt.Sprintf("%s %s(%d) %s", kind, m.Name, m.Arity(), template)
}
