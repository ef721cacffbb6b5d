package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/rzpsarthak13/featurestore/internal/core"
)

// Lease is the connection a single cursor runs its statements on. Release
// must be called exactly once on every path; further calls are no-ops.
type Lease struct {
	tx       *Transaction
	conn     *sql.Conn
	querier  core.Querier
	released bool
	logger   *slog.Logger
}

// Acquire leases a pooled connection for AutoCommit, or the transaction's
// own connection otherwise.
func Acquire(ctx context.Context, db *sql.DB, tx *Transaction, logger *slog.Logger) (*Lease, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if tx.IsAutoCommit() {
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire connection: %w", err)
		}
		return &Lease{tx: AutoCommit, conn: conn, querier: conn, logger: logger}, nil
	}
	if tx.Done() {
		return nil, fmt.Errorf("transaction %s: %w", tx.Handle(), ErrTransactionDone)
	}
	return &Lease{tx: tx, querier: tx.tx, logger: logger}, nil
}

// Querier is where statements of the lease run.
func (l *Lease) Querier() core.Querier { return l.querier }

// Transaction returns the transaction the lease belongs to.
func (l *Lease) Transaction() *Transaction { return l.tx }

// Release returns the connection. A shared transaction is rolled back when
// cause is non-nil; external transactions are left alone.
func (l *Lease) Release(cause error) error {
	if l.released {
		return nil
	}
	l.released = true

	switch {
	case l.conn != nil:
		if err := l.conn.Close(); err != nil {
			return fmt.Errorf("failed to release connection: %w", err)
		}
	case l.tx.IsShared() && cause != nil:
		l.logger.Warn("rolling back shared transaction", "transaction", l.tx.Handle(), "cause", cause)
		if err := l.tx.Rollback(); err != nil {
			return err
		}
	}
	return nil
}
