package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrTransactionDone is returned when a finished transaction is used.
var ErrTransactionDone = errors.New("transaction already finished")

type txKind int

const (
	kindAutoCommit txKind = iota
	kindShared
	kindExternal
)

// Transaction says which connection a cursor runs on and who owns it.
//
// AutoCommit cursors lease their own pooled connection. A shared
// transaction from Begin is owned by the store: cursors never close it and
// roll it back on a hard failure. An External transaction belongs to the
// caller and is never committed, rolled back or closed here.
type Transaction struct {
	kind   txKind
	handle string
	tx     *sql.Tx

	mu    sync.Mutex
	done  bool
	hooks []func(ctx context.Context)
}

// AutoCommit is the implicit transaction: every statement commits on its own.
var AutoCommit = &Transaction{kind: kindAutoCommit, handle: "auto-commit"}

// Begin starts a shared transaction. An empty handle gets a random one.
func Begin(ctx context.Context, db *sql.DB, handle string) (*Transaction, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if handle == "" {
		handle = uuid.NewString()
	}
	return &Transaction{kind: kindShared, handle: handle, tx: tx}, nil
}

// External wraps a caller owned transaction.
func External(tx *sql.Tx, handle string) *Transaction {
	if handle == "" {
		handle = uuid.NewString()
	}
	return &Transaction{kind: kindExternal, handle: handle, tx: tx}
}

// Handle names the transaction in events and logs.
func (t *Transaction) Handle() string {
	if t == nil {
		return AutoCommit.handle
	}
	return t.handle
}

// IsAutoCommit reports whether this is AutoCommit.
func (t *Transaction) IsAutoCommit() bool { return t == nil || t.kind == kindAutoCommit }

// IsShared reports whether the store owns the transaction.
func (t *Transaction) IsShared() bool { return t != nil && t.kind == kindShared }

// IsExternal reports whether the caller owns the transaction.
func (t *Transaction) IsExternal() bool { return t != nil && t.kind == kindExternal }

// Done reports whether a shared transaction has committed or rolled back.
func (t *Transaction) Done() bool {
	if !t.IsShared() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// OnCommit registers fn to run after a successful Commit. Hooks of a rolled
// back transaction are dropped.
func (t *Transaction) OnCommit(fn func(ctx context.Context)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, fn)
}

// Commit commits a shared transaction and runs the commit hooks.
func (t *Transaction) Commit(ctx context.Context) error {
	if !t.IsShared() {
		return fmt.Errorf("transaction %s is not store managed", t.Handle())
	}
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return ErrTransactionDone
	}
	t.done = true
	hooks := t.hooks
	t.hooks = nil
	t.mu.Unlock()

	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction %s: %w", t.handle, err)
	}
	for _, fn := range hooks {
		fn(ctx)
	}
	return nil
}

// Rollback rolls back a shared transaction. Rolling back a finished
// transaction is a no-op.
func (t *Transaction) Rollback() error {
	if !t.IsShared() {
		return fmt.Errorf("transaction %s is not store managed", t.Handle())
	}
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	t.hooks = nil
	t.mu.Unlock()

	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back transaction %s: %w", t.handle, err)
	}
	return nil
}
