package statement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Batch executes one prepared statement once per added argument set.
type Batch struct {
	query string
	stmt  *sql.Stmt
	args  [][]any
}

// PrepareBatch prepares query on conn.
func PrepareBatch(ctx context.Context, conn Conn, query string) (*Batch, error) {
	stmt, err := conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare batch: %w", err)
	}
	return &Batch{query: query, stmt: stmt}, nil
}

// Query returns the batched statement text.
func (b *Batch) Query() string {
	return b.query
}

// Add appends one argument set.
func (b *Batch) Add(args []any) {
	b.args = append(b.args, args)
}

// Len returns the number of argument sets.
func (b *Batch) Len() int {
	return len(b.args)
}

// Execute runs every argument set in insertion order and returns the rows
// affected by each. On failure the counts of the entries executed so far are
// returned along with the error.
func (b *Batch) Execute(ctx context.Context) ([]int64, error) {
	counts := make([]int64, 0, len(b.args))
	for i, args := range b.args {
		res, err := b.stmt.ExecContext(ctx, args...)
		if err != nil {
			return counts, fmt.Errorf("batch entry %d: %w", i+1, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return counts, fmt.Errorf("batch entry %d: %w", i+1, err)
		}
		counts = append(counts, n)
	}
	return counts, nil
}

// Close releases the prepared statement.
func (b *Batch) Close() error {
	return b.stmt.Close()
}

var errBatchMismatch = errors.New("statement: batch prepared for a different statement")
