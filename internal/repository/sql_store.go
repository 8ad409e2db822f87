package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// querier is satisfied by both *sql.DB and *sql.Tx so the query helpers
// in this package can run inside or outside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// SQLStore implements Store on top of MySQL.  Row locks are taken with
// SELECT ... FOR UPDATE inside an InnoDB transaction, which serialises
// concurrent writers on the same time slot or booking.  All timestamps
// are written and read in UTC (the DSN sets loc=UTC).
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore returns a Store bound to the given database handle.
func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

// DB exposes the underlying handle for health checks and migrations.
func (s *SQLStore) DB() *sql.DB { return s.db }

// WithTx begins a transaction, runs fn and commits when fn succeeds.
// Any error from fn (or from Commit) rolls the transaction back.
func (s *SQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

var (
	_ Store         = (*SQLStore)(nil)
	_ CatalogWriter = (*SQLStore)(nil)
	_ Tx            = (*sqlTx)(nil)
)

// sqlTx is the Tx handed to WithTx callbacks.
type sqlTx struct {
	tx *sql.Tx
}

// notFound maps sql.ErrNoRows to ErrNotFound and leaves other errors as is.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// duplicate maps MySQL duplicate-key errors to ErrConflict.
func duplicate(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return fmt.Errorf("%w: %s", ErrConflict, me.Message)
	}
	return err
}
