// Package dao implements DAOs declared as structs of tagged function fields.
//
// A DAO method is an exported function field returning a Flux or a Mono:
//
//	type UserDao struct {
//		FindByName func(name string) dao.Flux[User]                 `query:"SELECT id, name FROM users WHERE name = :name" params:"name"`
//		Rename     func(id int64, name string) dao.Mono[int64]     `update:"UPDATE users SET name = :name WHERE id = :id" params:"id,name"`
//		Insert     func(u User) dao.Mono[dao.GeneratedKey[int64]]  `update:"INSERT INTO users (name) VALUES (:u.name)" params:"u" keys:"id"`
//	}
//
// Factory.Bind installs a dispatcher in every such field. Calling a method
// returns immediately; the statement executes on a scheduled connection
// each time the result is subscribed.
package dao

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"

	"github.com/gaborage/rxdao/config"
	"github.com/gaborage/rxdao/database"
	"github.com/gaborage/rxdao/database/sqlspec"
	"github.com/gaborage/rxdao/database/statement"
	"github.com/gaborage/rxdao/internal/reflection"
	"github.com/gaborage/rxdao/logger"
)

// Options configures a Factory.
type Options struct {
	// Vendor selects the SQL dialect and labels logs and metrics.
	Vendor string
	Logger logger.Logger
	// Debug rebuilds method handlers on every call and wraps failures in
	// *QueryFailedError. Failures are also wrapped while the logger has
	// debug enabled.
	Debug bool
	// BufferSize is the backpressure buffer capacity of every result.
	BufferSize int
	// Tracking controls slow call detection and statement logging.
	Tracking database.TrackingSettings
	// Statements compiles method declarations. Nil uses NewStatementFactories
	// for the vendor's dialect.
	Statements StatementFactoryFactory
}

// OptionsFromConfig derives factory options from the application config.
func OptionsFromConfig(cfg *config.Config, log logger.Logger) Options {
	return Options{
		Vendor:     cfg.Database.Type,
		Logger:     log,
		Debug:      cfg.DAO.Debug,
		BufferSize: cfg.DAO.Buffer.Size,
		Tracking:   database.NewTrackingSettings(&cfg.Database),
	}
}

// Factory binds DAO declarations to executing dispatchers.
type Factory struct {
	exec       *executor
	statements StatementFactoryFactory
	handlers   *xsync.MapOf[string, *methodHandler]
	log        logger.Logger
	debug      bool
}

// NewFactory creates a factory executing statements on connections handed
// out by s.
func NewFactory(s Scheduler, opts Options) *Factory {
	log := opts.Logger
	if log == nil {
		log = logger.New("disabled", false)
	}
	if opts.Tracking == (database.TrackingSettings{}) {
		opts.Tracking = database.NewTrackingSettings(nil)
	}
	statements := opts.Statements
	if statements == nil {
		compiler := sqlspec.NewCompiler(sqlspec.DialectFor(opts.Vendor), 0)
		statements = NewStatementFactories(compiler, statement.Options{
			Logger:   log,
			Vendor:   opts.Vendor,
			Settings: opts.Tracking,
		})
	}

	return &Factory{
		exec: &executor{
			scheduler:  s,
			log:        log,
			vendor:     opts.Vendor,
			settings:   opts.Tracking,
			debug:      opts.Debug,
			bufferSize: opts.BufferSize,
			closeWarn:  &rate.Sometimes{First: 1, Interval: closeWarnInterval},
		},
		statements: statements,
		handlers:   xsync.NewMapOf[string, *methodHandler](),
		log:        log,
		debug:      opts.Debug,
	}
}

// Bind installs a dispatcher in every DAO method field of target, which
// must be a non-nil pointer to a struct. Declaration errors surface when a
// method is first called, as a panic with a *ConfigurationError; use
// Preload to detect them up front.
func (f *Factory) Bind(target any) error {
	s, err := structOf(target)
	if err != nil {
		return err
	}
	t := s.Type()
	for i := range t.NumField() {
		field := t.Field(i)
		if !taggedMethod(field) {
			continue
		}
		s.Field(i).Set(reflect.MakeFunc(field.Type, f.dispatcher(t, field)))
	}
	return nil
}

// Preload resolves the handler of every DAO method of target and returns
// all declaration errors.
func (f *Factory) Preload(target any) error {
	s, err := structOf(target)
	if err != nil {
		return err
	}
	t := s.Type()
	var errs []error
	for i := range t.NumField() {
		field := t.Field(i)
		if !taggedMethod(field) {
			continue
		}
		if _, err := f.handler(t, field); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Create allocates a T and binds it.
func Create[T any](f *Factory) (*T, error) {
	dao := new(T)
	if err := f.Bind(dao); err != nil {
		return nil, err
	}
	return dao, nil
}

func structOf(target any) (reflect.Value, error) {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("dao: expected a non-nil pointer to a struct, got %T", target)
	}
	return v.Elem(), nil
}

func (f *Factory) dispatcher(owner reflect.Type, field reflect.StructField) func([]reflect.Value) []reflect.Value {
	return func(in []reflect.Value) []reflect.Value {
		h, err := f.handler(owner, field)
		if err != nil {
			panic(err)
		}
		return []reflect.Value{h.invoke(f.exec, in)}
	}
}

// handler returns the cached handler of a method, building it on first
// use. Concurrent first calls may build more than one; the cache keeps the
// first stored. In debug mode handlers are rebuilt on every call.
func (f *Factory) handler(owner reflect.Type, field reflect.StructField) (*methodHandler, error) {
	key := reflection.MethodName(owner, field.Name)
	if f.debug {
		h, err := f.build(owner, field)
		if err != nil {
			return nil, err
		}
		f.log.Debug().Str("method", key).Str("declaration", h.method.String()).Msg("Rebuilt DAO method handler")
		return h, nil
	}

	if h, ok := f.handlers.Load(key); ok {
		return h, nil
	}
	h, err := f.build(owner, field)
	if err != nil {
		return nil, err
	}
	h, _ = f.handlers.LoadOrStore(key, h)
	return h, nil
}

func (f *Factory) build(owner reflect.Type, field reflect.StructField) (*methodHandler, error) {
	m, err := parseMethod(owner, field)
	if err != nil {
		return nil, err
	}
	sf, err := f.statements.Create(m)
	if err != nil {
		var ce *ConfigurationError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, configError(m.Name, "%v", err)
	}
	return &methodHandler{
		method:  m,
		factory: sf,
		ret:     field.Type.Out(0),
		convert: converter(m.Elem),
		pager:   pagerIndex(m.Types),
		metrics: newMethodMetrics(m),
	}, nil
}

// methodHandler is the resolved, cacheable form of one DAO method.
type methodHandler struct {
	method  *Method
	factory statement.Factory
	ret     reflect.Type
	convert func(any) (any, error)
	// pager is the index of the *CollectionOptions parameter, or -1.
	pager   int
	metrics *methodMetrics
}

// invoke builds the result of one call.
func (h *methodHandler) invoke(exec *executor, in []reflect.Value) reflect.Value {
	args := make([]any, len(in))
	for i, v := range in {
		args[i] = v.Interface()
	}
	sc := newStatementContext(h, args)
	if exec.debugging() {
		sc.callSite = reflection.CallSite(0, enginePackages...)
	}

	out := reflect.New(h.ret)
	out.Interface().(channel).bind(exec.publisher(sc), sc)
	return out.Elem()
}

var collectionOptionsType = reflect.TypeFor[*CollectionOptions]()

func pagerIndex(types []reflect.Type) int {
	for i, t := range types {
		if t == collectionOptionsType {
			return i
		}
	}
	return -1
}
