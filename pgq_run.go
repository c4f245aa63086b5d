package pgq

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

/*
Database handle: an executor paired with a config. Made by `New`. Within a
transaction started by `Transaction`, the callback receives a handle bound to
that transaction; statements issued through it are serialized, and nested
calls to `Transaction` compose with it.

Safe for concurrent use when the executor is, which is the case for connection
pools. A handle over a single connection must not be used concurrently.
*/
type DB struct {
	executor Executor
	conf     *Config
	txn      *txnState
}

type txnState struct {
	id    uint64
	level IsolationLevel
	lock  sync.Mutex
}

// Makes a database handle. Nil config means `DefaultConfig()`.
func New(exec Executor, conf *Config) *DB {
	if conf == nil {
		conf = DefaultConfig()
	}
	return &DB{executor: exec, conf: conf}
}

// Returns the config of the handle.
func (self *DB) Config() *Config { return self.conf }

// Returns the underlying executor. Within a transaction, this is the `Tx`.
func (self *DB) Executor() Executor { return self.executor }

// True if the handle is bound to a transaction.
func (self *DB) InTransaction() bool { return self.txn != nil }

// Compiles the expression with the config of the handle.
func (self *DB) Compile(expr Expr) (Compiled, error) { return Compile(self.conf, expr) }

/*
Compiles and executes an arbitrary expression, such as a fragment, returning
the rows as-is, except that JSON columns are decoded. Shortcut queries have
their own `Run` methods, which shape the results.
*/
func (self *DB) Run(ctx context.Context, expr Expr) ([]Row, error) {
	_, rows, err := self.query(ctx, expr)
	if err != nil {
		return nil, err
	}
	return shapeRaw(rows), nil
}

func (self *DB) query(ctx context.Context, expr Expr) (Compiled, []map[string]any, error) {
	out, err := self.Compile(expr)
	if err != nil {
		return out, nil, err
	}
	rows, err := self.exec(ctx, out)
	return out, rows, err
}

func (self *DB) exec(ctx context.Context, query Compiled) ([]map[string]any, error) {
	var txnID uint64
	if self.txn != nil {
		txnID = self.txn.id
		self.txn.lock.Lock()
		defer self.txn.lock.Unlock()
	}

	self.conf.onQuery(ctx, QueryEvent{Text: query.Text, Args: query.Args, TxnID: txnID})

	start := time.Now()
	rows, err := self.executor.Query(ctx, query.Text, query.Args)
	err = dbError(err, query.Text, query.Args)

	self.conf.onResult(ctx, ResultEvent{
		Text:    query.Text,
		Args:    query.Args,
		TxnID:   txnID,
		Rows:    len(rows),
		Elapsed: time.Since(start),
		Err:     err,
	})
	return rows, err
}

// Runs the query, returning every matching row.
func (self SelectQuery) Run(ctx context.Context, db *DB) ([]Row, error) {
	_, rows, err := db.query(ctx, self)
	if err != nil {
		return nil, err
	}
	return shapeMany(rows)
}

// Runs the query, returning the matching row or nil.
func (self SelectOneQuery) Run(ctx context.Context, db *DB) (Row, error) {
	_, rows, err := db.query(ctx, self)
	if err != nil {
		return nil, err
	}
	return shapeOne(rows)
}

// Runs the query, returning the only matching row. Fails with `ErrNotFound`
// or `ErrManyFound` otherwise.
func (self SelectExactlyOneQuery) Run(ctx context.Context, db *DB) (Row, error) {
	_, rows, err := db.query(ctx, self)
	if err != nil {
		return nil, err
	}
	return shapeExactlyOne(rows, self.Table)
}

// Runs the query, returning the count.
func (self CountQuery) Run(ctx context.Context, db *DB) (int64, error) {
	_, rows, err := db.query(ctx, self)
	if err != nil {
		return 0, err
	}
	return shapeCount(rows)
}

// Runs the query, returning the aggregate, invalid when there were no rows.
func (self AggregateQuery) Run(ctx context.Context, db *DB) (decimal.NullDecimal, error) {
	_, rows, err := db.query(ctx, self)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return shapeNumeric(rows)
}

/*
Runs the query, returning the inserted rows. An insert of zero rows returns an
empty slice without a round trip, unless forced.
*/
func (self InsertQuery) Run(ctx context.Context, db *DB) ([]Row, error) {
	if self.skip() {
		return []Row{}, nil
	}
	return runResults(ctx, db, self)
}

// Runs the query, returning the first inserted row, or nil if there were
// none.
func (self InsertQuery) RunOne(ctx context.Context, db *DB) (Row, error) {
	return firstRow(self.Run(ctx, db))
}

/*
Runs the query, returning the inserted or updated rows. With "do nothing",
conflicting rows are not returned. An upsert of zero rows returns an empty
slice without a round trip, unless forced.
*/
func (self UpsertQuery) Run(ctx context.Context, db *DB) ([]Row, error) {
	if self.skip() {
		return []Row{}, nil
	}
	return runResults(ctx, db, self)
}

// Runs the query, returning the first returned row, or nil if there were none.
func (self UpsertQuery) RunOne(ctx context.Context, db *DB) (Row, error) {
	return firstRow(self.Run(ctx, db))
}

// Runs the query, returning the updated rows.
func (self UpdateQuery) Run(ctx context.Context, db *DB) ([]Row, error) {
	return runResults(ctx, db, self)
}

// Runs the query, returning the deleted rows.
func (self DeleteQuery) Run(ctx context.Context, db *DB) ([]Row, error) {
	return runResults(ctx, db, self)
}

// Runs the query.
func (self TruncateQuery) Run(ctx context.Context, db *DB) error {
	_, _, err := db.query(ctx, self)
	return err
}

func runResults(ctx context.Context, db *DB, expr Expr) ([]Row, error) {
	_, rows, err := db.query(ctx, expr)
	if err != nil {
		return nil, err
	}
	return shapeResults(rows)
}

func firstRow(rows []Row, err error) (Row, error) {
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}
