package statement

import (
	"errors"

	"github.com/gaborage/rxdao/reactive"
)

// Mode is the cardinality of a ResultSink.
type Mode int

const (
	// Many passes every value through.
	Many Mode = iota
	// One delivers at most one value, on completion.
	One
)

func (m Mode) String() string {
	if m == One {
		return "one"
	}
	return "many"
}

// errStopped signals that the consumer no longer accepts values.
var errStopped = errors.New("statement: consumer stopped")

// ResultSink bridges statement results into a reactive sink of fixed
// cardinality. It is used by a single statement execution and is not safe
// for concurrent use.
type ResultSink struct {
	mode       Mode
	method     string
	downstream reactive.Sink

	delivered int
	value     any
}

// NewResultSink wraps downstream. method names the DAO method in
// cardinality errors.
func NewResultSink(mode Mode, method string, downstream reactive.Sink) *ResultSink {
	return &ResultSink{
		mode:       mode,
		method:     method,
		downstream: reactive.Guard(downstream),
	}
}

// Mode returns the sink's cardinality.
func (s *ResultSink) Mode() Mode {
	return s.mode
}

// Deliver pushes one value.
//
// In Many mode the value is forwarded immediately. In One mode the first
// value is held until Complete; a second one terminates the downstream with a
// *CardinalityError, which is also returned. errStopped is returned when the
// consumer refused the value.
func (s *ResultSink) Deliver(value any) error {
	s.delivered++

	if s.mode == Many {
		if !s.downstream.Next(value) {
			return errStopped
		}
		return nil
	}

	if s.delivered == 1 {
		s.value = value
		return nil
	}
	s.value = nil
	err := &CardinalityError{Method: s.method}
	s.downstream.Error(err)
	return err
}

// Complete signals the end of the results, replaying the held value in One mode.
func (s *ResultSink) Complete() {
	if s.mode == One && s.delivered == 1 {
		if !s.downstream.Next(s.value) {
			return
		}
	}
	s.downstream.Complete()
}

// Fail terminates the downstream with err. In One mode, once more than one
// value was delivered the result is already settled and Fail completes instead.
func (s *ResultSink) Fail(err error) {
	if s.mode == One && s.delivered > 1 {
		s.downstream.Complete()
		return
	}
	s.downstream.Error(err)
}
