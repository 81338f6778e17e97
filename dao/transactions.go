package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/gaborage/rxdao/database/statement"
)

const transactionMethod = "transaction"

// Transactions executes DAO calls together in one database transaction.
type Transactions struct {
	exec *executor
}

// Transactions returns the transaction runner of the factory.
func (f *Factory) Transactions() *Transactions {
	return &Transactions{exec: f.exec}
}

// Execute runs the statements of calls, in order, in a single transaction
// on one scheduled connection. Consecutive updates with identical text are
// batched on a shared prepared statement. The values of every call are
// returned in call order once the transaction committed; on any failure it
// is rolled back and the error returned.
//
// The calls are not subscribed: their Flux or Mono only supplies the
// statement and arguments.
func (t *Transactions) Execute(ctx context.Context, calls ...Decorated) ([][]any, error) {
	units := make([]*txUnit, len(calls))
	for i, call := range calls {
		if call == nil || call.Decoration() == nil {
			return nil, fmt.Errorf("call %d: %w", i+1, ErrNotDecorated)
		}
		sc := call.Decoration()
		u := &txUnit{sc: sc}
		stmt, err := sc.newStatement(statement.NewResultSink(sc.Mode(), sc.Method().Name, &u.values))
		if err != nil {
			return nil, fmt.Errorf("call %d (%s): %w", i+1, sc.Method().Name, err)
		}
		u.stmt = stmt
		units[i] = u
	}
	if len(units) == 0 {
		return nil, nil
	}

	var (
		results [][]any
		txErr   error
		done    = make(chan struct{})
	)
	err := t.exec.scheduler.Schedule(ctx,
		func(err error) {
			txErr = err
			close(done)
		},
		func(conn *sql.Conn) {
			results, txErr = t.run(ctx, conn, units)
			t.exec.release(ctx, conn, transactionMethod)
			close(done)
		})
	if err != nil {
		return nil, err
	}
	<-done
	return results, txErr
}

func (t *Transactions) run(ctx context.Context, conn *sql.Conn, units []*txUnit) ([][]any, error) {
	txID := uuid.NewString()
	debug := t.exec.debugging()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	if debug {
		t.exec.log.Debug().Str("tx_id", txID).Int("statements", len(units)).Msg("Transaction started")
	}

	for i := 0; i < len(units); {
		j := i + 1
		for j < len(units) && units[i].stmt.SameBatch(units[j].stmt) {
			j++
		}

		if j-i > 1 {
			err = executeBatch(ctx, tx, units[i:j])
		} else {
			err = units[i].stmt.Execute(ctx, tx)
		}
		if err != nil {
			t.rollback(tx, txID, err)
			for _, u := range units {
				u.stmt.OnError(err)
			}
			return nil, err
		}
		i = j
	}

	if err := tx.Commit(); err != nil {
		for _, u := range units {
			u.stmt.OnError(err)
		}
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	if debug {
		t.exec.log.Debug().Str("tx_id", txID).Msg("Transaction committed")
	}

	results := make([][]any, len(units))
	for i, u := range units {
		u.stmt.OnCompleted()
		values, err := u.result()
		if err != nil {
			return nil, err
		}
		results[i] = values
	}
	return results, nil
}

func (t *Transactions) rollback(tx *sql.Tx, txID string, cause error) {
	err := tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		t.exec.log.Error().Err(err).Str("tx_id", txID).Msg("Failed to roll back transaction")
		return
	}
	t.exec.log.Debug().Str("tx_id", txID).Err(cause).Msg("Transaction rolled back")
}

// executeBatch runs a group of batch-compatible statements on one prepared
// statement.
func executeBatch(ctx context.Context, conn statement.Conn, group []*txUnit) error {
	var batch *statement.Batch
	for _, u := range group {
		next, err := u.stmt.Batch(ctx, conn, batch)
		if err != nil {
			if batch != nil {
				_ = batch.Close()
			}
			return err
		}
		batch = next
	}
	defer batch.Close()

	counts, err := batch.Execute(ctx)
	for k, n := range counts {
		if settleErr := group[k].stmt.BatchExecuted(n); settleErr != nil {
			return settleErr
		}
	}
	return err
}

// txUnit is one call of a transaction.
type txUnit struct {
	sc     *StatementContext
	stmt   statement.Statement
	values collector
}

func (u *txUnit) result() ([]any, error) {
	if u.values.err != nil {
		return nil, u.values.err
	}
	if convert := u.sc.handler.convert; convert != nil {
		for i, v := range u.values.items {
			converted, err := convert(v)
			if err != nil {
				return nil, err
			}
			u.values.items[i] = converted
		}
	}
	return u.values.items, nil
}

// collector is a reactive sink accumulating every value.
type collector struct {
	items []any
	err   error
}

func (c *collector) Next(v any) bool {
	c.items = append(c.items, v)
	return true
}

func (c *collector) Error(err error) {
	c.err = err
}

func (c *collector) Complete() {}
