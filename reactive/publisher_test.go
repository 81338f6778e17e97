package reactive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Sink capturing every signal; stopAfter > 0 makes Next
// refuse values once that many were accepted.
type recorder struct {
	mu        sync.Mutex
	values    []any
	err       error
	completed bool
	terminals int
	stopAfter int
	done      chan struct{}
	onNext    func(any)
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) Next(v any) bool {
	if r.onNext != nil {
		r.onNext(v)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
	return r.stopAfter == 0 || len(r.values) < r.stopAfter
}

func (r *recorder) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	r.terminal()
}

func (r *recorder) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = true
	r.terminal()
}

func (r *recorder) terminal() {
	r.terminals++
	if r.terminals == 1 {
		close(r.done)
	}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal signal")
	}
}

func (r *recorder) snapshot() ([]any, error, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.values...), r.err, r.completed
}

func TestJust(t *testing.T) {
	rec := newRecorder()
	Just(1, 2, 3)(context.Background(), rec)

	values, err, completed := rec.snapshot()
	assert.Equal(t, []any{1, 2, 3}, values)
	assert.NoError(t, err)
	assert.True(t, completed)
}

func TestJustStopsWhenRefused(t *testing.T) {
	rec := newRecorder()
	rec.stopAfter = 1
	Just(1, 2, 3)(context.Background(), rec)

	values, _, completed := rec.snapshot()
	assert.Equal(t, []any{1}, values)
	assert.False(t, completed)
}

func TestJustHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := newRecorder()
	Just(1)(ctx, rec)

	values, err, _ := rec.snapshot()
	assert.Empty(t, values)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmptyAndFail(t *testing.T) {
	rec := newRecorder()
	Empty()(context.Background(), rec)
	_, err, completed := rec.snapshot()
	assert.NoError(t, err)
	assert.True(t, completed)

	boom := errors.New("boom")
	rec = newRecorder()
	Fail(boom)(context.Background(), rec)
	_, err, completed = rec.snapshot()
	assert.ErrorIs(t, err, boom)
	assert.False(t, completed)
}

func TestGuardForwardsSingleTerminal(t *testing.T) {
	rec := newRecorder()
	g := Guard(rec)

	require.True(t, g.Next(1))
	g.Complete()
	g.Error(errors.New("late"))
	g.Complete()
	assert.False(t, g.Next(2))

	values, err, completed := rec.snapshot()
	assert.Equal(t, []any{1}, values)
	assert.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, 1, rec.terminals)
	assert.Same(t, g, Guard(g))
}

func TestGuardStopsAfterRefusal(t *testing.T) {
	rec := newRecorder()
	rec.stopAfter = 1
	g := Guard(rec)

	assert.False(t, g.Next(1))
	assert.False(t, g.Next(2))
	g.Complete()

	values, _, completed := rec.snapshot()
	assert.Equal(t, []any{1}, values)
	assert.False(t, completed)
}

func TestSinkFuncsDefaults(t *testing.T) {
	var s SinkFuncs
	assert.True(t, s.Next(1))
	assert.NotPanics(t, func() {
		s.Error(errors.New("ignored"))
		s.Complete()
	})
}
