package pgq

import "context"

/*
Short for "expression". Defines an arbitrary SQL expression. The method appends
SQL text and arguments to the builder. The builder assigns Postgres-style
ordinal parameters such as "$1", numbering them across the whole statement.

This method is allowed to panic. Use `Compile` or `(*Bui).CatchExprs` to catch
expression-encoding panics and convert them to errors.

Implementations must not mutate themselves while appending. The same
expression may be appended any number of times, into any number of builders.
*/
type Expr interface {
	AppendExpr(*Bui)
}

/*
Narrow contract with the database client. Must execute the statement with the
given ordinal arguments and return every row as a map from column name to
value. JSON and JSONB columns may be returned either decoded or as raw
`[]byte`/`string`; the shaper accepts both.

Errors describing server failures should be `*DatabaseError` with a SQLSTATE
code, which allows the transaction coordinator to detect serialization
failures.
*/
type Executor interface {
	Query(ctx context.Context, text string, args []any) ([]map[string]any, error)
}

// Implemented by executors that can start transactions.
type Beginner interface {
	Begin(context.Context, IsolationLevel) (Tx, error)
}

// Transaction started by a `Beginner`. Also an `Executor` for statements
// within the transaction.
type Tx interface {
	Executor
	Commit(context.Context) error
	Rollback(context.Context) error
}

/*
Dictionary of named arguments for `SQLNamed`. Values may be arbitrary
expressions or plain values.
*/
type Dict map[string]any

// Output of compilation: SQL text with "$N" placeholders and the
// corresponding arguments, directly executable by an `Executor`.
type Compiled struct {
	Text  string
	Args  []any
	Shape Shape
}
