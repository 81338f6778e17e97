package sqlspec

import "fmt"

// CompileError reports a template that cannot be compiled for its method.
type CompileError struct {
	Method string
	Query  string
	Reason string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("sqlspec: cannot compile %q for %s: %s", e.Query, e.Method, e.Reason)
}
