/*
Adapter between `pgq` and `github.com/jackc/pgx/v5`. Wraps a pool or a single
connection as a `pgq.Executor` and `pgq.Beginner`:

	pool, err := pgxpool.New(ctx, url)
	db := pgq.New(pgxq.New(pool), nil)

JSON and JSONB columns are returned as `json.RawMessage` and numerics as
`json.Number`, so that the shaper decodes them without losing precision.
Server errors become `*pgq.DatabaseError` carrying the SQLSTATE.
*/
package pgxq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mitranim/pgq"
)

/*
Runs queries. Implemented by `*pgxpool.Pool`, `*pgxpool.Conn`, `*pgx.Conn` and
`pgx.Tx`.
*/
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

/*
Runs queries and starts transactions. Implemented by `*pgxpool.Pool`,
`*pgxpool.Conn` and `*pgx.Conn`.
*/
type Conn interface {
	Querier
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Implements `pgq.Executor` and `pgq.Beginner` over a pgx pool or connection.
type Adapter struct{ Conn Conn }

var (
	_ = pgq.Executor(Adapter{})
	_ = pgq.Beginner(Adapter{})
	_ = pgq.Tx(Tx{})
)

func New(conn Conn) Adapter { return Adapter{conn} }

// Implement `pgq.Executor`.
func (self Adapter) Query(ctx context.Context, text string, args []any) ([]map[string]any, error) {
	return Query(ctx, self.Conn, text, args)
}

// Implement `pgq.Beginner`.
func (self Adapter) Begin(ctx context.Context, level pgq.IsolationLevel) (pgq.Tx, error) {
	tx, err := self.Conn.BeginTx(ctx, TxOptions(level))
	if err != nil {
		return nil, Error(err)
	}
	return Tx{tx}, nil
}

// Implements `pgq.Tx` over a pgx transaction.
type Tx struct{ Tx pgx.Tx }

// Implement `pgq.Executor`.
func (self Tx) Query(ctx context.Context, text string, args []any) ([]map[string]any, error) {
	return Query(ctx, self.Tx, text, args)
}

// Implement `pgq.Tx`.
func (self Tx) Commit(ctx context.Context) error { return Error(self.Tx.Commit(ctx)) }

// Implement `pgq.Tx`.
func (self Tx) Rollback(ctx context.Context) error {
	err := self.Tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return Error(err)
}

/*
Opens a pool and wraps it in a `pgq.DB`. The caller must close the pool. Nil
config means `pgq.DefaultConfig()`.
*/
func Open(ctx context.Context, url string, conf *pgq.Config) (*pgq.DB, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf(`failed to open pool: %w`, err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, nil, Error(err)
	}
	return pgq.New(New(pool), conf), pool, nil
}

// Converts the level to pgx transaction options.
func TxOptions(level pgq.IsolationLevel) (out pgx.TxOptions) {
	switch level.Isolation() {
	case `serializable`:
		out.IsoLevel = pgx.Serializable
	case `repeatable read`:
		out.IsoLevel = pgx.RepeatableRead
	default:
		out.IsoLevel = pgx.ReadCommitted
	}

	if level.ReadOnly() {
		out.AccessMode = pgx.ReadOnly
	} else {
		out.AccessMode = pgx.ReadWrite
	}

	if level.Deferrable() {
		out.DeferrableMode = pgx.Deferrable
	} else {
		out.DeferrableMode = pgx.NotDeferrable
	}
	return
}

// Runs the query and collects every row into a map.
func Query(ctx context.Context, conn Querier, text string, args []any) ([]map[string]any, error) {
	rows, err := conn.Query(ctx, text, args...)
	if err != nil {
		return nil, Error(err)
	}
	out, err := Collect(rows)
	return out, Error(err)
}

/*
Reads every row into a map from column name to value and closes the rows.
JSON columns become `json.RawMessage`, numerics become `json.Number` (nil for
null), other columns are decoded by pgx.
*/
func Collect(rows pgx.Rows) ([]map[string]any, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := []map[string]any{}

	for rows.Next() {
		dest := make([]any, len(fields))
		for ind, field := range fields {
			dest[ind] = scanTarget(field.DataTypeOID)
		}

		err := rows.Scan(dest...)
		if err != nil {
			return nil, err
		}

		row := make(map[string]any, len(fields))
		for ind, field := range fields {
			row[field.Name] = scanned(dest[ind])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanTarget(oid uint32) any {
	switch oid {
	case pgtype.JSONOID, pgtype.JSONBOID:
		return new(json.RawMessage)
	case pgtype.NumericOID:
		return new(pgtype.Numeric)
	default:
		return new(any)
	}
}

func scanned(val any) any {
	switch val := val.(type) {
	case *json.RawMessage:
		if *val == nil {
			return nil
		}
		return *val
	case *pgtype.Numeric:
		return numericNumber(*val)
	case *any:
		return *val
	default:
		return val
	}
}

func numericNumber(val pgtype.Numeric) any {
	if !val.Valid {
		return nil
	}
	text, err := val.Value()
	if err != nil {
		return nil
	}
	str, _ := text.(string)
	return json.Number(str)
}

/*
Converts a pgx server error into `*pgq.DatabaseError`, copying the SQLSTATE,
message and detail. Other errors, including nil, are returned unchanged.
*/
func Error(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	return &pgq.DatabaseError{
		Code:    pgErr.Code,
		Message: pgErr.Message,
		Detail:  pgErr.Detail,
		Cause:   err,
	}
}
