package tx

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTx satisfies pgx.Tx without a database. Only the lifecycle methods
// matter to the manager; query methods are never reached in these tests.
type fakeTx struct {
	committed  bool
	rolledBack bool
	commitErr  error
}

func (f *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return f, nil }
func (f *fakeTx) Commit(ctx context.Context) error {
	f.committed = true
	return f.commitErr
}
func (f *fakeTx) Rollback(ctx context.Context) error {
	f.rolledBack = true
	return nil
}
func (f *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (f *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (f *fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (f *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (f *fakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (f *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (f *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (f *fakeTx) Conn() *pgx.Conn                                               { return nil }

type fakeBeginner struct {
	tx       *fakeTx
	beginErr error
	begun    int
}

func (f *fakeBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.begun++
	return f.tx, nil
}

func newTestManager(b *fakeBeginner) *Manager {
	return NewManager(b, nil, zap.NewNop())
}

func TestWithTransaction_CommitRunsHooksInOrder(t *testing.T) {
	beginner := &fakeBeginner{tx: &fakeTx{}}
	m := newTestManager(beginner)

	var order []int
	err := m.WithTransaction(context.Background(), func(ctx context.Context) error {
		require.NoError(t, AfterCommit(ctx, func(context.Context) { order = append(order, 1) }))
		require.NoError(t, AfterCommit(ctx, func(context.Context) { order = append(order, 2) }))
		require.NoError(t, AfterCommit(ctx, func(context.Context) { order = append(order, 3) }))
		return nil
	})

	require.NoError(t, err)
	assert.True(t, beginner.tx.committed)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestWithTransaction_RollbackDiscardsHooks(t *testing.T) {
	beginner := &fakeBeginner{tx: &fakeTx{}}
	m := newTestManager(beginner)

	ran := false
	boom := errors.New("boom")
	err := m.WithTransaction(context.Background(), func(ctx context.Context) error {
		require.NoError(t, AfterCommit(ctx, func(context.Context) { ran = true }))
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.True(t, beginner.tx.rolledBack)
	assert.False(t, beginner.tx.committed)
	assert.False(t, ran, "hooks must not run after rollback")
}

func TestWithTransaction_CommitErrorSkipsHooks(t *testing.T) {
	beginner := &fakeBeginner{tx: &fakeTx{commitErr: errors.New("commit failed")}}
	m := newTestManager(beginner)

	ran := false
	err := m.WithTransaction(context.Background(), func(ctx context.Context) error {
		return AfterCommit(ctx, func(context.Context) { ran = true })
	})

	require.Error(t, err)
	assert.False(t, ran)
}

func TestWithTransaction_NestedJoinsOuter(t *testing.T) {
	beginner := &fakeBeginner{tx: &fakeTx{}}
	m := newTestManager(beginner)

	var order []string
	err := m.WithTransaction(context.Background(), func(ctx context.Context) error {
		require.NoError(t, AfterCommit(ctx, func(context.Context) { order = append(order, "outer") }))
		return m.WithTransaction(ctx, func(ctx context.Context) error {
			assert.True(t, InTransaction(ctx))
			return AfterCommit(ctx, func(context.Context) { order = append(order, "inner") })
		})
	})

	require.NoError(t, err)
	assert.Equal(t, 1, beginner.begun, "nested scope must join, not begin")
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestWithTransaction_NestedFailureRollsBackWhole(t *testing.T) {
	beginner := &fakeBeginner{tx: &fakeTx{}}
	m := newTestManager(beginner)

	boom := errors.New("inner failure")
	err := m.WithTransaction(context.Background(), func(ctx context.Context) error {
		return m.WithTransaction(ctx, func(ctx context.Context) error {
			return boom
		})
	})

	require.ErrorIs(t, err, boom)
	assert.True(t, beginner.tx.rolledBack)
}

func TestWithTransaction_PanickingHookIsolated(t *testing.T) {
	beginner := &fakeBeginner{tx: &fakeTx{}}
	m := newTestManager(beginner)

	secondRan := false
	err := m.WithTransaction(context.Background(), func(ctx context.Context) error {
		require.NoError(t, AfterCommit(ctx, func(context.Context) { panic("hook panic") }))
		return AfterCommit(ctx, func(context.Context) { secondRan = true })
	})

	require.NoError(t, err)
	assert.True(t, secondRan, "a panicking hook must not stop its siblings")
}

func TestAfterCommit_OutsideScope(t *testing.T) {
	err := AfterCommit(context.Background(), func(context.Context) {})
	require.Error(t, err)
}

func TestManagerQuerier_ResolvesTxInsideScope(t *testing.T) {
	tx := &fakeTx{}
	beginner := &fakeBeginner{tx: tx}
	m := NewManager(beginner, tx, zap.NewNop())

	assert.False(t, InTransaction(context.Background()))
	err := m.WithTransaction(context.Background(), func(ctx context.Context) error {
		assert.Same(t, tx, m.Querier(ctx).(*fakeTx))
		return nil
	})
	require.NoError(t, err)
}

func TestWithTransaction_BeginError(t *testing.T) {
	beginner := &fakeBeginner{beginErr: errors.New("no conn")}
	m := newTestManager(beginner)

	called := false
	err := m.WithTransaction(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
}
