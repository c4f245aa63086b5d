package pgq

import (
	"context"
	"log/slog"
	"time"
)

/*
Configuration of compilation and execution. Passed explicitly: to `Compile`,
to `New`, and through `Bui.Conf` to every expression. Should be fully
initialized before use and not mutated afterwards; mutating a config while
queries using it are in flight is a data race.
*/
type Config struct {
	// Encode array and slice parameters as JSON text cast to "json".
	CastArrayParamsToJSON bool

	// Encode map and struct parameters as JSON text cast to "json".
	CastObjectParamsToJSON bool

	/*
		Known single-column foreign keys, used to infer the column of a
		`Parent()` reference without an explicit column.
	*/
	ForeignKeys []ForeignKey

	// Observability hooks. All optional.
	Listeners Listeners

	// Maximum number of attempts of a transaction that keeps failing with
	// serialization errors. Zero means the default (5).
	TxnAttempts int

	// Bounds of the exponential delay between attempts. Zero means the
	// defaults (25ms and 250ms).
	TxnMinDelay time.Duration
	TxnMaxDelay time.Duration
}

const (
	defaultTxnAttempts = 5
	defaultTxnMinDelay = 25 * time.Millisecond
	defaultTxnMaxDelay = 250 * time.Millisecond
)

// Returns a new config with both JSON-casting flags enabled and default
// transaction retry settings.
func DefaultConfig() *Config {
	return &Config{
		CastArrayParamsToJSON:  true,
		CastObjectParamsToJSON: true,
		TxnAttempts:            defaultTxnAttempts,
		TxnMinDelay:            defaultTxnMinDelay,
		TxnMaxDelay:            defaultTxnMaxDelay,
	}
}

func (self *Config) txnAttempts() int {
	if self.TxnAttempts > 0 {
		return self.TxnAttempts
	}
	return defaultTxnAttempts
}

func (self *Config) txnMinDelay() time.Duration {
	if self.TxnMinDelay > 0 {
		return self.TxnMinDelay
	}
	return defaultTxnMinDelay
}

func (self *Config) txnMaxDelay() time.Duration {
	if self.TxnMaxDelay > 0 {
		return max(self.TxnMaxDelay, self.txnMinDelay())
	}
	return max(defaultTxnMaxDelay, self.txnMinDelay())
}

/*
Single-column foreign key: `Table.Column` references `RefTable.RefColumn`.
Table names must be spelled the same way as in the queries, including the
schema when queries use one.
*/
type ForeignKey struct {
	Table     string
	Column    string
	RefTable  string
	RefColumn string
}

/*
Observability hooks, invoked synchronously on the calling goroutine. Every
event of a transaction, and every query executed within it, carries the same
transaction id.
*/
type Listeners struct {
	Query       func(context.Context, QueryEvent)
	Result      func(context.Context, ResultEvent)
	Transaction func(context.Context, TxnEvent)
}

// Fired before a statement is sent to the executor.
type QueryEvent struct {
	Text  string
	Args  []any
	TxnID uint64
}

// Fired after a statement completes, successfully or not.
type ResultEvent struct {
	Text    string
	Args    []any
	TxnID   uint64
	Rows    int
	Elapsed time.Duration
	Err     error
}

// Transaction lifecycle stage.
type TxnStage string

const (
	TxnBegin    TxnStage = `begin`
	TxnCommit   TxnStage = `commit`
	TxnRollback TxnStage = `rollback`
	TxnRetry    TxnStage = `retry`
)

// Fired at every stage of a transaction.
type TxnEvent struct {
	ID      uint64
	Stage   TxnStage
	Level   IsolationLevel
	Attempt int
	Elapsed time.Duration
	Err     error
}

func (self *Config) onQuery(ctx context.Context, event QueryEvent) {
	if self.Listeners.Query != nil {
		self.Listeners.Query(ctx, event)
	}
}

func (self *Config) onResult(ctx context.Context, event ResultEvent) {
	if self.Listeners.Result != nil {
		self.Listeners.Result(ctx, event)
	}
}

func (self *Config) onTxn(ctx context.Context, event TxnEvent) {
	if self.Listeners.Transaction != nil {
		self.Listeners.Transaction(ctx, event)
	}
}

/*
Listeners that write structured debug logs. Failed statements and rollbacks
are logged at the warning level.
*/
func LogListeners(log *slog.Logger) Listeners {
	return Listeners{
		Query: func(ctx context.Context, event QueryEvent) {
			log.DebugContext(ctx, `query`,
				slog.String(`text`, event.Text),
				slog.Any(`args`, event.Args),
				slog.Uint64(`txn`, event.TxnID),
			)
		},
		Result: func(ctx context.Context, event ResultEvent) {
			level := slog.LevelDebug
			if event.Err != nil {
				level = slog.LevelWarn
			}
			log.Log(ctx, level, `result`,
				slog.String(`text`, event.Text),
				slog.Int(`rows`, event.Rows),
				slog.Duration(`elapsed`, event.Elapsed),
				slog.Uint64(`txn`, event.TxnID),
				slog.Any(`err`, event.Err),
			)
		},
		Transaction: func(ctx context.Context, event TxnEvent) {
			level := slog.LevelDebug
			if event.Stage == TxnRollback {
				level = slog.LevelWarn
			}
			log.Log(ctx, level, `transaction`,
				slog.Uint64(`id`, event.ID),
				slog.String(`stage`, string(event.Stage)),
				slog.String(`level`, event.Level.String()),
				slog.Int(`attempt`, event.Attempt),
				slog.Duration(`elapsed`, event.Elapsed),
				slog.Any(`err`, event.Err),
			)
		},
	}
}
