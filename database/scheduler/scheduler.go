// Package scheduler hands pooled connections to DAO statements on bounded
// worker goroutines. Admission is limited by a weighted semaphore sized to
// the connection pool so that waiting statements queue in the scheduler
// instead of inside database/sql.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/gaborage/rxdao/database/internal/tracking"
	"github.com/gaborage/rxdao/logger"
)

// DefaultWorkers is used when neither the options nor the pool bound the
// number of concurrent connections.
const DefaultWorkers = 16

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("scheduler: closed")

// Pool is the connection source. *sql.DB satisfies it.
type Pool interface {
	Conn(ctx context.Context) (*sql.Conn, error)
	Stats() sql.DBStats
}

// Options configures a Scheduler.
type Options struct {
	// Workers bounds concurrent connection holders. Zero sizes it to the
	// pool's maximum open connections.
	Workers int
	// Vendor labels the pool gauges.
	Vendor string
	Logger logger.Logger
}

// Scheduler runs connection callbacks on bounded worker goroutines.
type Scheduler struct {
	pool    Pool
	sem     *semaphore.Weighted
	workers int
	log     logger.Logger

	// ctx is cancelled by Close to abort pending admissions.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	closed     bool
	wg         sync.WaitGroup
	unregister func()
}

// New creates a scheduler over pool and registers its pool gauges.
func New(pool Pool, opts Options) *Scheduler {
	workers := opts.Workers
	if workers <= 0 {
		workers = pool.Stats().MaxOpenConnections
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		pool:       pool,
		sem:        semaphore.NewWeighted(int64(workers)),
		workers:    workers,
		log:        opts.Logger,
		ctx:        ctx,
		cancel:     cancel,
		unregister: tracking.RegisterConnectionPoolMetrics(pool, opts.Vendor),
	}

	if s.log != nil {
		s.log.Debug().
			Int("workers", workers).
			Str("vendor", opts.Vendor).
			Msg("Connection scheduler started")
	}
	return s
}

// Workers returns the admission bound.
func (s *Scheduler) Workers() int {
	return s.workers
}

// Schedule acquires a connection for one unit of work. A non-nil return
// means the work was rejected before any callback was invoked: ErrClosed
// after Close, or the context error when ctx is already done.
//
// Otherwise exactly one callback runs on a worker goroutine: onError when no
// connection could be obtained, onConn with a connection the callback owns
// and must close. The worker slot is held until onConn returns.
func (s *Scheduler) Schedule(ctx context.Context, onError func(error), onConn func(*sql.Conn)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.run(ctx, onError, onConn)
	return nil
}

func (s *Scheduler) run(ctx context.Context, onError func(error), onConn func(*sql.Conn)) {
	defer s.wg.Done()

	// Admission and connection acquisition abort when either the caller's
	// context or the scheduler is done.
	admitCtx, stop := context.WithCancel(ctx)
	defer stop()
	unhook := context.AfterFunc(s.ctx, stop)
	defer unhook()

	if err := s.sem.Acquire(admitCtx, 1); err != nil {
		onError(s.admissionError(err))
		return
	}
	defer s.sem.Release(1)

	conn, err := s.pool.Conn(admitCtx)
	if err != nil {
		onError(s.admissionError(err))
		return
	}
	onConn(conn)
}

// admissionError reports ErrClosed when Close interrupted the admission.
func (s *Scheduler) admissionError(err error) error {
	if s.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return ErrClosed
	}
	return err
}

// Close rejects new work, aborts pending admissions and waits for running
// callbacks to return. It does not close the pool.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.unregister()

	if s.log != nil {
		s.log.Debug().Msg("Connection scheduler closed")
	}
	return nil
}
