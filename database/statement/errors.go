package statement

import (
	"errors"
	"fmt"
)

// ErrBatchUnsupported is returned by Batch and BatchExecuted of statements
// that cannot take part in a batch.
var ErrBatchUnsupported = errors.New("statement: batching not supported")

// MinimumAffectedRowsError reports an update that affected fewer rows than required.
type MinimumAffectedRowsError struct {
	Minimum int64
	Actual  int64
	SQL     string
}

func (e *MinimumAffectedRowsError) Error() string {
	return fmt.Sprintf("minimum affected rows not reached: expected at least %d, got %d, statement: %s",
		e.Minimum, e.Actual, e.SQL)
}

// CardinalityError reports a second value delivered to a single-value result.
type CardinalityError struct {
	Method string
}

func (e *CardinalityError) Error() string {
	return fmt.Sprintf("%s returning a single value received more than one result", e.Method)
}
