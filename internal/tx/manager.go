// Package tx wraps units of work in a single pgx transaction and provides
// the after-commit hook queue that keeps non-transactional side effects off
// the critical path: hooks run once, in registration order, strictly after a
// successful commit, and are discarded on rollback.
package tx

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Beginner starts transactions. *pgxpool.Pool satisfies it; tests substitute
// a fake.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Querier is the subset of pgx used by repositories, satisfied by both
// *pgxpool.Pool and pgx.Tx so repository code is transaction-agnostic.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type ctxKey struct{}

type txState struct {
	tx    pgx.Tx
	hooks []Hook
}

// Hook runs after the outermost transaction commits. It receives a fresh
// context because the one that carried the transaction is finished.
type Hook func(ctx context.Context)

// Manager coordinates transactions over one database.
type Manager struct {
	db     Beginner
	pool   Querier
	logger *zap.Logger
}

// NewManager builds a coordinator. db and pool are normally the same
// *pgxpool.Pool.
func NewManager(db Beginner, pool Querier, logger *zap.Logger) *Manager {
	return &Manager{db: db, pool: pool, logger: logger}
}

// WithTransaction runs work inside a transaction. A call made while a
// transaction is already active on ctx joins it, so composed domain
// operations stay atomic as a whole; only the outermost scope commits and
// runs the after-commit hooks. If work returns an error the transaction is
// rolled back and every queued hook is discarded.
func (m *Manager) WithTransaction(ctx context.Context, work func(ctx context.Context) error) error {
	if stateFrom(ctx) != nil {
		return work(ctx)
	}

	dbtx, err := m.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	state := &txState{tx: dbtx}
	txCtx := context.WithValue(ctx, ctxKey{}, state)

	if err := work(txCtx); err != nil {
		if rbErr := dbtx.Rollback(ctx); rbErr != nil {
			m.logger.Warn("transaction rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := dbtx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	m.runHooks(ctx, state.hooks)
	return nil
}

// AfterCommit queues hook to run once the current transaction commits.
// Calling it outside a WithTransaction scope is a programming error.
func AfterCommit(ctx context.Context, hook Hook) error {
	state := stateFrom(ctx)
	if state == nil {
		return fmt.Errorf("AfterCommit called outside a transaction scope")
	}
	state.hooks = append(state.hooks, hook)
	return nil
}

// InTransaction reports whether ctx carries an active transaction.
func InTransaction(ctx context.Context) bool {
	return stateFrom(ctx) != nil
}

// Querier resolves the querier for ctx: the active transaction when inside a
// WithTransaction scope, the pool otherwise.
func (m *Manager) Querier(ctx context.Context) Querier {
	if state := stateFrom(ctx); state != nil {
		return state.tx
	}
	return m.pool
}

// runHooks executes hooks in registration order. A panicking or slow hook is
// isolated: the commit already happened, so failures are logged and siblings
// still run.
func (m *Manager) runHooks(ctx context.Context, hooks []Hook) {
	for i, hook := range hooks {
		m.runHook(ctx, i, hook)
	}
}

func (m *Manager) runHook(ctx context.Context, index int, hook Hook) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("after-commit hook panicked",
				zap.Int("hook_index", index),
				zap.Any("panic", r))
		}
	}()
	hook(ctx)
}

func stateFrom(ctx context.Context) *txState {
	state, _ := ctx.Value(ctxKey{}).(*txState)
	return state
}
