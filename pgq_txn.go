package pgq

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

/*
Transaction isolation level combined with the access mode. The zero value is
`LevelSerializable`.
*/
type IsolationLevel byte

const (
	LevelSerializable IsolationLevel = iota
	LevelSerializableReadOnly
	LevelSerializableReadOnlyDeferrable
	LevelRepeatableRead
	LevelRepeatableReadReadOnly
	LevelReadCommitted
	LevelReadCommittedReadOnly
)

// Implement `fmt.Stringer`. Returns the transaction modes in SQL syntax, as
// used by `begin`.
func (self IsolationLevel) String() string {
	switch self {
	case LevelSerializable:
		return `isolation level serializable`
	case LevelSerializableReadOnly:
		return `isolation level serializable, read only`
	case LevelSerializableReadOnlyDeferrable:
		return `isolation level serializable, read only, deferrable`
	case LevelRepeatableRead:
		return `isolation level repeatable read`
	case LevelRepeatableReadReadOnly:
		return `isolation level repeatable read, read only`
	case LevelReadCommitted:
		return `isolation level read committed`
	case LevelReadCommittedReadOnly:
		return `isolation level read committed, read only`
	default:
		return fmt.Sprintf(`IsolationLevel(%d)`, byte(self))
	}
}

// Isolation part of the level in SQL syntax, such as "serializable".
func (self IsolationLevel) Isolation() string {
	switch self {
	case LevelSerializable, LevelSerializableReadOnly, LevelSerializableReadOnlyDeferrable:
		return `serializable`
	case LevelRepeatableRead, LevelRepeatableReadReadOnly:
		return `repeatable read`
	default:
		return `read committed`
	}
}

// True for read-only levels.
func (self IsolationLevel) ReadOnly() bool {
	switch self {
	case LevelSerializableReadOnly, LevelSerializableReadOnlyDeferrable,
		LevelRepeatableReadReadOnly, LevelReadCommittedReadOnly:
		return true
	default:
		return false
	}
}

// True for the deferrable level.
func (self IsolationLevel) Deferrable() bool {
	return self == LevelSerializableReadOnlyDeferrable
}

func (self IsolationLevel) strictness() int {
	switch self.Isolation() {
	case `serializable`:
		return 3
	case `repeatable read`:
		return 2
	default:
		return 1
	}
}

// True if a transaction at the inner level can run inside a transaction at
// this level without weakening either.
func (self IsolationLevel) covers(inner IsolationLevel) bool {
	return self.strictness() >= inner.strictness() && !(self.ReadOnly() && !inner.ReadOnly())
}

var txnSeq atomic.Uint64

/*
Runs the function in a transaction, committing on success and rolling back on
error or panic. The function receives a handle bound to the transaction and
must use it for every statement of the transaction.

When a statement or the commit fails with a serialization failure (SQLSTATE
40001), the transaction is rolled back and the function is invoked again from
the start, after an exponentially growing delay, up to `Config.TxnAttempts`
attempts in total. Other errors are returned immediately. Since the function
may run several times, it must not have side effects outside of the database.

When the handle is already bound to a transaction, the function runs in that
transaction without retries, provided the existing level is at least as
strict; otherwise this fails with `ErrIsolationLevel`.

The executor of the handle must implement `Beginner`.
*/
func Transaction[A any](ctx context.Context, db *DB, level IsolationLevel, fun func(context.Context, *DB) (A, error)) (A, error) {
	var zero A

	if db.txn != nil {
		if !db.txn.level.covers(level) {
			return zero, ErrIsolationLevel.while(`starting nested transaction`).format(
				`can't run a transaction with %q inside a transaction with %q`, level, db.txn.level,
			)
		}
		return fun(ctx, db)
	}

	beginner, ok := db.executor.(Beginner)
	if !ok {
		return zero, ErrInvalidInput.while(`starting transaction`).format(
			`executor %T can't begin transactions`, db.executor,
		)
	}

	conf := db.conf
	id := txnSeq.Add(1)
	var attempt int

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = conf.txnMinDelay()
	expo.MaxInterval = conf.txnMaxDelay()
	expo.MaxElapsedTime = 0

	policy := backoff.WithContext(
		backoff.WithMaxRetries(expo, uint64(conf.txnAttempts()-1)),
		ctx,
	)

	return backoff.RetryNotifyWithData(
		func() (A, error) {
			attempt++
			out, err := runTxn(ctx, db, beginner, id, level, attempt, fun)
			if err != nil && !IsSerializationFailure(err) {
				return out, backoff.Permanent(err)
			}
			return out, err
		},
		policy,
		func(err error, delay time.Duration) {
			conf.onTxn(ctx, TxnEvent{
				ID:      id,
				Stage:   TxnRetry,
				Level:   level,
				Attempt: attempt,
				Elapsed: delay,
				Err:     err,
			})
		},
	)
}

// Shortcut for `Transaction` with `LevelSerializable`.
func Serializable[A any](ctx context.Context, db *DB, fun func(context.Context, *DB) (A, error)) (A, error) {
	return Transaction(ctx, db, LevelSerializable, fun)
}

// Shortcut for `Transaction` with `LevelRepeatableRead`.
func RepeatableRead[A any](ctx context.Context, db *DB, fun func(context.Context, *DB) (A, error)) (A, error) {
	return Transaction(ctx, db, LevelRepeatableRead, fun)
}

// Shortcut for `Transaction` with `LevelReadCommitted`.
func ReadCommitted[A any](ctx context.Context, db *DB, fun func(context.Context, *DB) (A, error)) (A, error) {
	return Transaction(ctx, db, LevelReadCommitted, fun)
}

func runTxn[A any](
	ctx context.Context,
	db *DB,
	beginner Beginner,
	id uint64,
	level IsolationLevel,
	attempt int,
	fun func(context.Context, *DB) (A, error),
) (out A, err error) {
	conf := db.conf
	start := time.Now()
	event := func(stage TxnStage, err error) {
		conf.onTxn(ctx, TxnEvent{
			ID:      id,
			Stage:   stage,
			Level:   level,
			Attempt: attempt,
			Elapsed: time.Since(start),
			Err:     err,
		})
	}

	tx, err := beginner.Begin(ctx, level)
	if err != nil {
		return out, dbError(err, `begin `+level.String(), nil)
	}
	event(TxnBegin, nil)

	inner := &DB{executor: tx, conf: conf, txn: &txnState{id: id, level: level}}

	defer func() {
		val := recover()
		if val != nil {
			_ = tx.Rollback(ctx)
			event(TxnRollback, fmt.Errorf(`panic: %v`, val))
			panic(val)
		}
	}()

	out, err = fun(ctx, inner)
	if err != nil {
		rollErr := tx.Rollback(ctx)
		if rollErr != nil {
			err = errors.Join(err, dbError(rollErr, `rollback`, nil))
		}
		event(TxnRollback, err)
		return out, err
	}

	err = tx.Commit(ctx)
	if err != nil {
		err = dbError(err, `commit`, nil)
		event(TxnRollback, err)
		return out, err
	}

	event(TxnCommit, nil)
	return out, nil
}
