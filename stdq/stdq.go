/*
Adapter between `pgq` and `database/sql`, for PostgreSQL drivers registered
with it: `github.com/lib/pq` ("postgres") or
`github.com/jackc/pgx/v5/stdlib` ("pgx").

	sqlDB, err := sql.Open(`postgres`, url)
	db := pgq.New(stdq.New(sqlDB), nil)

JSON and JSONB columns are returned as `json.RawMessage` and numerics as
`json.Number`. Slice arguments other than `[]byte` are wrapped with
`pq.Array`. Server errors of either driver become `*pgq.DatabaseError`.
*/
package stdq

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	r "reflect"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mitranim/pgq"
)

// Runs queries. Implemented by `*sql.DB`, `*sql.Conn` and `*sql.Tx`.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Runs queries and starts transactions. Implemented by `*sql.DB` and
// `*sql.Conn`.
type Conn interface {
	Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Implements `pgq.Executor` and `pgq.Beginner` over `database/sql`.
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

/*
Implement `pgq.Beginner`. `database/sql` has no deferrable mode, so deferrable
transactions issue "set transaction deferrable" as their first statement.
*/
func (self Adapter) Begin(ctx context.Context, level pgq.IsolationLevel) (pgq.Tx, error) {
	tx, err := self.Conn.BeginTx(ctx, TxOptions(level))
	if err != nil {
		return nil, Error(err)
	}

	if level.Deferrable() {
		_, err = tx.ExecContext(ctx, `set transaction deferrable`)
		if err != nil {
			return nil, errors.Join(Error(err), tx.Rollback())
		}
	}
	return Tx{tx}, nil
}

// Implements `pgq.Tx` over `*sql.Tx`.
type Tx struct{ Tx *sql.Tx }

// Implement `pgq.Executor`.
func (self Tx) Query(ctx context.Context, text string, args []any) ([]map[string]any, error) {
	return Query(ctx, self.Tx, text, args)
}

// Implement `pgq.Tx`.
func (self Tx) Commit(context.Context) error { return Error(self.Tx.Commit()) }

// Implement `pgq.Tx`.
func (self Tx) Rollback(context.Context) error {
	err := self.Tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return Error(err)
}

/*
Opens a database handle with the given driver name, such as "postgres" or
"pgx", and wraps it in a `pgq.DB`. The caller must close the handle. Nil config
means `pgq.DefaultConfig()`.
*/
func Open(ctx context.Context, driver, url string, conf *pgq.Config) (*pgq.DB, *sql.DB, error) {
	sqlDB, err := sql.Open(driver, url)
	if err != nil {
		return nil, nil, fmt.Errorf(`failed to open database: %w`, err)
	}

	err = sqlDB.PingContext(ctx)
	if err != nil {
		return nil, nil, errors.Join(Error(err), sqlDB.Close())
	}
	return pgq.New(New(sqlDB), conf), sqlDB, nil
}

// Converts the level to `database/sql` transaction options.
func TxOptions(level pgq.IsolationLevel) *sql.TxOptions {
	out := sql.TxOptions{ReadOnly: level.ReadOnly()}
	switch level.Isolation() {
	case `serializable`:
		out.Isolation = sql.LevelSerializable
	case `repeatable read`:
		out.Isolation = sql.LevelRepeatableRead
	default:
		out.Isolation = sql.LevelReadCommitted
	}
	return &out
}

// Runs the query and collects every row into a map.
func Query(ctx context.Context, conn Querier, text string, args []any) ([]map[string]any, error) {
	rows, err := conn.QueryContext(ctx, text, Args(args)...)
	if err != nil {
		return nil, Error(err)
	}
	out, err := Collect(rows)
	return out, Error(err)
}

/*
Prepares arguments for `database/sql`, which accepts only scalar driver values.
Slices and arrays, other than `[]byte`, are wrapped with `pq.Array`. Returns
the input slice when nothing needs wrapping.
*/
func Args(args []any) []any {
	var out []any
	for ind, arg := range args {
		if !isArray(arg) {
			continue
		}
		if out == nil {
			out = make([]any, len(args))
			copy(out, args)
		}
		out[ind] = pq.Array(arg)
	}
	if out == nil {
		return args
	}
	return out
}

func isArray(val any) bool {
	if val == nil {
		return false
	}
	if _, ok := val.([]byte); ok {
		return false
	}
	kind := r.TypeOf(val).Kind()
	return kind == r.Slice || kind == r.Array
}

/*
Reads every row into a map from column name to value and closes the rows.
JSON columns become `json.RawMessage`, numerics become `json.Number`, other
values are kept as the driver returns them.
*/
func Collect(rows *sql.Rows) ([]map[string]any, error) {
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	out := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(types))
		dest := make([]any, len(types))
		for ind := range vals {
			dest[ind] = &vals[ind]
		}

		err := rows.Scan(dest...)
		if err != nil {
			return nil, err
		}

		row := make(map[string]any, len(types))
		for ind, typ := range types {
			row[typ.Name()] = convert(typ.DatabaseTypeName(), vals[ind])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func convert(typ string, val any) any {
	switch strings.ToUpper(typ) {
	case `JSON`, `JSONB`:
		switch val := val.(type) {
		case []byte:
			return json.RawMessage(val)
		case string:
			return json.RawMessage(val)
		}
	case `NUMERIC`:
		switch val := val.(type) {
		case []byte:
			return json.Number(val)
		case string:
			return json.Number(val)
		}
	}
	return val
}

/*
Converts a server error of lib/pq or pgx into `*pgq.DatabaseError`, copying
the SQLSTATE, message and detail. Other errors, including nil, are returned
unchanged.
*/
func Error(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &pgq.DatabaseError{
			Code:    string(pqErr.Code),
			Message: pqErr.Message,
			Detail:  pqErr.Detail,
			Cause:   err,
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &pgq.DatabaseError{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Detail:  pgErr.Detail,
			Cause:   err,
		}
	}
	return err
}
