package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so
// repositories can run the same statements inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (pgx.Tx)(nil)
)

// DefaultTxTimeout applies when RunInTx is called with a zero timeout.
const DefaultTxTimeout = 30 * time.Second

// RunInTx executes fn inside a read-committed transaction. The transaction is
// committed when fn returns nil and rolled back otherwise. A context without a
// deadline gets timeout applied so a stuck transaction cannot hold row locks
// indefinitely.
func RunInTx(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if _, ok := ctx.Deadline(); !ok {
		if timeout <= 0 {
			timeout = DefaultTxTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
	if err != nil && !isCallerError(err) {
		return errors.Join(ErrTxFailed, err)
	}
	return err
}

// isCallerError reports errors that did not originate from the driver; they
// are returned to the caller unwrapped so sentinel checks keep working.
func isCallerError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return false
	}
	return !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, pgx.ErrTxClosed)
}
