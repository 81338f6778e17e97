package dao

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/gaborage/rxdao/config"
	"github.com/gaborage/rxdao/database"
	"github.com/gaborage/rxdao/database/scheduler"
	"github.com/gaborage/rxdao/logger"
)

// Runtime bundles the connection pool, scheduler and factory opened from
// configuration.
type Runtime struct {
	DB        *sql.DB
	Scheduler *scheduler.Scheduler
	Factory   *Factory
}

// Open connects to the configured database and builds a Factory on top of
// a scheduler bounded by the pool.
func Open(cfg *config.Config, log logger.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, config.ErrNotConfigured
	}
	db, err := database.Open(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sched := scheduler.New(db, scheduler.Options{
		Workers: cfg.DAO.Scheduler.Workers,
		Vendor:  cfg.Database.Type,
		Logger:  log,
	})
	return &Runtime{
		DB:        db,
		Scheduler: sched,
		Factory:   NewFactory(sched, OptionsFromConfig(cfg, log)),
	}, nil
}

// Close stops the scheduler, waiting for running statements, then closes
// the pool.
func (r *Runtime) Close() error {
	return errors.Join(r.Scheduler.Close(), r.DB.Close())
}
