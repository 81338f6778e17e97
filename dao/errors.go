package dao

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/gaborage/rxdao/internal/reflection"
)

// ErrNotDecorated is returned for results that were not produced by a DAO
// factory and so carry no StatementContext.
var ErrNotDecorated = errors.New("dao: result carries no statement context")

// ConfigurationError reports a DAO declaration that cannot be executed.
// Dispatch panics with it on the first call of the offending method;
// Factory.Preload returns it instead.
type ConfigurationError struct {
	Method string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("dao: invalid method %s: %s", e.Method, e.Reason)
}

func configError(method, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Method: method, Reason: fmt.Sprintf(format, args...)}
}

// QueryFailedError marks a failed DAO call in debug mode. It records the
// application code that invoked the DAO method; Unwrap returns the
// original error.
//
// The call site is captured when the method is called, not when the result
// is subscribed. A result subscribed several times, or from another
// function, reports the code that created it.
type QueryFailedError struct {
	Method string
	SQL    string
	Err    error

	callSite []runtime.Frame
}

func (e *QueryFailedError) Error() string {
	return fmt.Sprintf("query failed: %s: %v", e.Method, e.Err)
}

func (e *QueryFailedError) Unwrap() error {
	return e.Err
}

// CallSite returns the frames of the invoking goroutine, innermost first,
// starting at the first frame outside this module's engine packages.
func (e *QueryFailedError) CallSite() []runtime.Frame {
	return e.callSite
}

// Format prints the call site after the message for %+v.
func (e *QueryFailedError) Format(s fmt.State, verb rune) {
	switch {
	case verb == 'v' && s.Flag('+'):
		fmt.Fprintf(s, "%s\nstatement: %s\ncalled from:\n%s", e.Error(), e.SQL, reflection.FormatFrames(e.callSite))
	case verb == 'q':
		fmt.Fprintf(s, "%q", e.Error())
	default:
		fmt.Fprint(s, e.Error())
	}
}
