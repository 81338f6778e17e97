package dao

import (
	"runtime"
	"sync"

	"github.com/gaborage/rxdao/database/statement"
)

// StatementContext describes one DAO call: the method, its arguments and
// the compiled statement they bind to. It decorates the Flux or Mono the
// call returned, so collaborators such as Transactions can execute the
// call's statement themselves.
type StatementContext struct {
	handler *methodHandler
	args    []any
	bound   func() ([]any, error)

	// callSite is captured at invocation when debugging.
	callSite []runtime.Frame
}

func newStatementContext(h *methodHandler, args []any) *StatementContext {
	return &StatementContext{
		handler: h,
		args:    args,
		bound: sync.OnceValues(func() ([]any, error) {
			return h.factory.Spec().Bind(args)
		}),
	}
}

// Method returns the declaration of the called method.
func (sc *StatementContext) Method() *Method {
	return sc.handler.method
}

// SQL returns the statement text.
func (sc *StatementContext) SQL() string {
	return sc.handler.factory.Spec().SQL
}

// Args returns the call's arguments.
func (sc *StatementContext) Args() []any {
	return sc.args
}

// BoundArgs returns the driver arguments the call binds to. They are
// resolved on first use and memoized.
func (sc *StatementContext) BoundArgs() ([]any, error) {
	return sc.bound()
}

// Mode reports whether the call returned a Flux (Many) or a Mono (One).
func (sc *StatementContext) Mode() statement.Mode {
	return sc.handler.method.Mode
}

// newStatement binds the call's arguments into a statement delivering to sink.
func (sc *StatementContext) newStatement(sink *statement.ResultSink) (statement.Statement, error) {
	args, err := sc.bound()
	if err != nil {
		return nil, err
	}
	return sc.handler.factory.Create(args, sink), nil
}

// pager returns the call's paging options, or nil.
func (sc *StatementContext) pager() *CollectionOptions {
	if sc.handler.pager < 0 {
		return nil
	}
	opts, _ := sc.args[sc.handler.pager].(*CollectionOptions)
	return opts
}
