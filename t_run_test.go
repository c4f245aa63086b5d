package pgq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func Test_DB_Run(t *testing.T) {
	exec := &fakeExec{fun: returning([]map[string]any{
		{`id`: int64(1), `meta`: json.RawMessage(`{"one":1}`), `name`: `Jane`},
	})}
	db := New(exec, nil)

	rows, err := db.Run(ctx, SQL(`select * from $1 where "id" = $2`, Ident(`authors`), 1))
	noErr(t, err)
	eq(t, []Row{{`id`: int64(1), `meta`: map[string]any{`one`: json.Number(`1`)}, `name`: `Jane`}}, rows)
	eq(t, []R{rei(`select * from "authors" where "id" = $1`, 1)}, exec.queries)
}

func Test_DB_Run_compile_error(t *testing.T) {
	exec := &fakeExec{}
	_, err := New(exec, nil).Run(ctx, SQL(`$1`, Self))
	errIs(t, ErrResolution, err)
	eq(t, 0, len(exec.queries))
}

func Test_DB_Run_database_error(t *testing.T) {
	cause := &DatabaseError{Code: SqlStateUniqueViolation, Message: `duplicate key value`}
	exec := &fakeExec{fun: func(string, []any) ([]map[string]any, error) { return nil, cause }}

	_, err := Insert(`users`, Row{`email`: `a`}).Run(ctx, New(exec, nil))

	var dbErr *DatabaseError
	eq(t, true, errors.As(err, &dbErr))
	eq(t, SqlStateUniqueViolation, dbErr.Code)
	eq(t, `insert into "users" ("email") values ($1) returning to_jsonb("users".*) as result`, dbErr.Text)
	eq(t, list{`a`}, dbErr.Args)
	eq(t, true, IsConstraintViolation(err))
	eq(t, false, IsSerializationFailure(err))
	eq(t, ``, cause.Text)

	plain := errors.New(`connection reset`)
	exec.fun = func(string, []any) ([]map[string]any, error) { return nil, plain }
	_, err = New(exec, nil).Run(ctx, SQL(`select 1`))
	errIs(t, plain, err)
	eq(t, true, errors.As(err, &dbErr))
	eq(t, ``, dbErr.Code)
	eq(t, `select 1`, dbErr.Text)
}

func Test_SelectQuery_Run(t *testing.T) {
	t.Run(`rows`, func(t *testing.T) {
		exec := &fakeExec{fun: returning(resultRows(`[{"id":1,"title":"Emma"},{"id":2,"title":"Persuasion"}]`))}
		rows, err := Select(`books`, All).Run(ctx, New(exec, nil))
		noErr(t, err)
		eq(t, []Row{
			{`id`: json.Number(`1`), `title`: `Emma`},
			{`id`: json.Number(`2`), `title`: `Persuasion`},
		}, rows)
	})

	t.Run(`empty`, func(t *testing.T) {
		exec := &fakeExec{fun: returning(resultRows(`[]`))}
		rows, err := Select(`books`, All).Run(ctx, New(exec, nil))
		noErr(t, err)
		eq(t, []Row{}, rows)
	})

	t.Run(`decoded json`, func(t *testing.T) {
		exec := &fakeExec{fun: returning([]map[string]any{
			{resultKey: []any{map[string]any{`id`: json.Number(`1`)}}},
		})}
		rows, err := Select(`books`, All).Run(ctx, New(exec, nil))
		noErr(t, err)
		eq(t, []Row{{`id`: json.Number(`1`)}}, rows)
	})

	t.Run(`lateral results`, func(t *testing.T) {
		exec := &fakeExec{fun: returning(resultRows(
			`[{"id":1,"books":[{"id":10,"price":12.50}],"author":null}]`,
		))}
		rows, err := Select(`authors`, All).Run(ctx, New(exec, nil))
		noErr(t, err)
		eq(t, []Row{{
			`id`:     json.Number(`1`),
			`books`:  []any{map[string]any{`id`: json.Number(`10`), `price`: json.Number(`12.50`)}},
			`author`: nil,
		}}, rows)
	})

	t.Run(`malformed`, func(t *testing.T) {
		exec := &fakeExec{fun: returning(resultRows(`{"id":1}`))}
		_, err := Select(`books`, All).Run(ctx, New(exec, nil))
		errIs(t, ErrInvalidInput, err)
	})
}

func Test_SelectOneQuery_Run(t *testing.T) {
	exec := &fakeExec{fun: returning(resultRows(`{"id":1}`))}
	row, err := SelectOne(`books`, All).Run(ctx, New(exec, nil))
	noErr(t, err)
	eq(t, Row{`id`: json.Number(`1`)}, row)

	exec.fun = returning(nil)
	row, err = SelectOne(`books`, All).Run(ctx, New(exec, nil))
	noErr(t, err)
	eq(t, Row(nil), row)
}

func Test_SelectExactlyOneQuery_Run(t *testing.T) {
	exec := &fakeExec{fun: returning(resultRows(`{"id":1}`))}
	db := New(exec, nil)

	row, err := SelectExactlyOne(`books`, Where{`id`: 1}).Run(ctx, db)
	noErr(t, err)
	eq(t, Row{`id`: json.Number(`1`)}, row)

	exec.fun = returning(nil)
	_, err = SelectExactlyOne(`books`, Where{`id`: 1}).Run(ctx, db)
	errIs(t, ErrNotFound, err)

	exec.fun = returning(resultRows(`{"id":1}`, `{"id":2}`))
	_, err = SelectExactlyOne(`books`, Where{`id`: 1}).Run(ctx, db)
	errIs(t, ErrManyFound, err)
}

func Test_CountQuery_Run(t *testing.T) {
	test := func(exp int64, val any) {
		t.Helper()
		exec := &fakeExec{fun: returning([]map[string]any{{resultKey: val}})}
		out, err := Count(`books`, All).Run(ctx, New(exec, nil))
		noErr(t, err)
		eq(t, exp, out)
	}

	test(0, nil)
	test(3, int64(3))
	test(3, int32(3))
	test(3, float64(3))
	test(3, json.Number(`3`))
	test(3, `3`)
	test(3, []byte(`3`))

	exec := &fakeExec{fun: returning([]map[string]any{{resultKey: 3.5}})}
	_, err := Count(`books`, All).Run(ctx, New(exec, nil))
	errIs(t, ErrInvalidInput, err)
}

func Test_AggregateQuery_Run(t *testing.T) {
	test := func(exp decimal.NullDecimal, val any) {
		t.Helper()
		exec := &fakeExec{fun: returning([]map[string]any{{resultKey: val}})}
		out, err := Sum(`books`, All, SelectOpts{Columns: []string{`price`}}).Run(ctx, New(exec, nil))
		noErr(t, err)
		eq(t, exp.Valid, out.Valid)
		eq(t, exp.Decimal.String(), out.Decimal.String())
	}

	valid := func(src string) decimal.NullDecimal {
		return decimal.NewNullDecimal(decimal.RequireFromString(src))
	}

	test(decimal.NullDecimal{}, nil)
	test(valid(`12.5`), `12.50`)
	test(valid(`12.5`), []byte(`12.50`))
	test(valid(`7`), int64(7))
	test(valid(`0.1`), json.Number(`0.1`))
	test(valid(`123456789012345678901234567890.123456789`), `123456789012345678901234567890.123456789`)

	exec := &fakeExec{fun: returning([]map[string]any{{resultKey: `nope`}})}
	_, err := Avg(`books`, All, SelectOpts{Columns: []string{`price`}}).Run(ctx, New(exec, nil))
	errIs(t, ErrInvalidInput, err)
}

func Test_InsertQuery_Run(t *testing.T) {
	t.Run(`rows`, func(t *testing.T) {
		exec := &fakeExec{fun: returning(resultRows(`{"id":1,"title":"Emma"}`, `{"id":2,"title":"Persuasion"}`))}
		rows, err := Insert(`books`, []Row{{`title`: `Emma`}, {`title`: `Persuasion`}}).Run(ctx, New(exec, nil))
		noErr(t, err)
		eq(t, []Row{
			{`id`: json.Number(`1`), `title`: `Emma`},
			{`id`: json.Number(`2`), `title`: `Persuasion`},
		}, rows)
	})

	t.Run(`one`, func(t *testing.T) {
		exec := &fakeExec{fun: returning(resultRows(`{"id":1}`))}
		row, err := Insert(`books`, Row{`title`: `Emma`}).RunOne(ctx, New(exec, nil))
		noErr(t, err)
		eq(t, Row{`id`: json.Number(`1`)}, row)
	})

	t.Run(`zero rows skip the round trip`, func(t *testing.T) {
		exec := &fakeExec{}
		db := New(exec, nil)

		rows, err := Insert(`books`, []Row{}).Run(ctx, db)
		noErr(t, err)
		eq(t, []Row{}, rows)
		eq(t, 0, len(exec.queries))

		row, err := Insert(`books`, nil).RunOne(ctx, db)
		noErr(t, err)
		eq(t, Row(nil), row)
		eq(t, 0, len(exec.queries))
	})

	t.Run(`forced`, func(t *testing.T) {
		exec := &fakeExec{}
		rows, err := Insert(`books`, []Row{}).Force().Run(ctx, New(exec, nil))
		noErr(t, err)
		eq(t, []Row{}, rows)
		eq(t, []R{rei(`insert into "books" select null where false`+returnAll)}, exec.queries)
	})
}

func Test_UpsertQuery_Run(t *testing.T) {
	exec := &fakeExec{fun: returning(resultRows(
		`{"id":1,"email":"a","$action":"INSERT"}`,
		`{"id":2,"email":"b","$action":"UPDATE"}`,
	))}
	rows, err := Upsert(`users`, []Row{{`email`: `a`}, {`email`: `b`}}, OnColumns(`email`)).Run(ctx, New(exec, nil))
	noErr(t, err)
	eq(t, 2, len(rows))
	eq(t, UpsertInserted, rows[0].UpsertAction())
	eq(t, UpsertUpdated, rows[1].UpsertAction())
	eq(t, UpsertAction(``), Row{`id`: 1}.UpsertAction())

	exec = &fakeExec{}
	rows, err = Upsert(`users`, []Row{}, OnColumns(`email`)).Run(ctx, New(exec, nil))
	noErr(t, err)
	eq(t, []Row{}, rows)
	eq(t, 0, len(exec.queries))

	exec = &fakeExec{}
	rows, err = Upsert(`users`, []Row{}, OnColumns(`id`)).Force().Run(ctx, New(exec, nil))
	noErr(t, err)
	eq(t, []Row{}, rows)
	eq(t, []R{rei(
		`insert into "users" select null where false on conflict ("id") do nothing returning to_jsonb("users".*) as result`,
	)}, exec.queries)
}

func Test_UpdateQuery_Run(t *testing.T) {
	exec := &fakeExec{fun: returning(resultRows(`{"id":1,"balance":110}`))}
	rows, err := Update(`accounts`, Row{`balance`: SQL(`$1 + $2`, Self, 10)}, Where{`id`: 1}).Run(ctx, New(exec, nil))
	noErr(t, err)
	eq(t, []Row{{`id`: json.Number(`1`), `balance`: json.Number(`110`)}}, rows)

	exec.fun = returning(nil)
	rows, err = Update(`accounts`, Row{`balance`: 0}, Where{`id`: 2}).Run(ctx, New(exec, nil))
	noErr(t, err)
	eq(t, []Row{}, rows)
}

func Test_DeleteQuery_Run(t *testing.T) {
	exec := &fakeExec{fun: returning(resultRows(`{"id":1}`))}
	rows, err := Delete(`books`, Where{`id`: 1}).Run(ctx, New(exec, nil))
	noErr(t, err)
	eq(t, []Row{{`id`: json.Number(`1`)}}, rows)
}

func Test_TruncateQuery_Run(t *testing.T) {
	exec := &fakeExec{}
	noErr(t, Truncate(`books`).Run(ctx, New(exec, nil)))
	eq(t, []R{rei(`truncate "books"`)}, exec.queries)
}

func Test_Decode(t *testing.T) {
	type BookOut struct {
		Id     int64           `json:"id"`
		Title  string          `json:"title"`
		Price  decimal.Decimal `json:"price"`
		Author *Author         `json:"author"`
	}

	out, err := Decode[[]BookOut]([]Row{{
		`id`:     json.Number(`1`),
		`title`:  `Emma`,
		`price`:  json.Number(`12.50`),
		`author`: map[string]any{`id`: json.Number(`2`), `name`: `Jane`},
	}})
	noErr(t, err)
	eq(t, 1, len(out))
	eq(t, int64(1), out[0].Id)
	eq(t, `Emma`, out[0].Title)
	eq(t, `12.5`, out[0].Price.String())
	eq(t, &Author{Id: 2, Name: `Jane`}, out[0].Author)

	_, err = Decode[int](Row{`id`: 1})
	errIs(t, ErrInvalidInput, err)
}

func Test_Listeners(t *testing.T) {
	var queries []QueryEvent
	var results []ResultEvent

	conf := DefaultConfig()
	conf.Listeners = Listeners{
		Query:  func(_ context.Context, event QueryEvent) { queries = append(queries, event) },
		Result: func(_ context.Context, event ResultEvent) { results = append(results, event) },
	}

	exec := &fakeExec{fun: returning(resultRows(`{"id":1}`))}
	_, err := Delete(`books`, Where{`id`: 1}).Run(ctx, New(exec, conf))
	noErr(t, err)

	eq(t, 1, len(queries))
	eq(t, `delete from "books" where ("books"."id" = $1)`+returnAll, queries[0].Text)
	eq(t, list{1}, queries[0].Args)
	eq(t, uint64(0), queries[0].TxnID)

	eq(t, 1, len(results))
	eq(t, 1, results[0].Rows)
	eq(t, nil, results[0].Err)
}

func Test_LogListeners(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	conf := DefaultConfig()
	conf.Listeners = LogListeners(log)

	exec := &fakeExec{fun: returning(resultRows(`{"id":1}`))}
	_, err := Serializable(ctx, New(exec, conf), func(ctx context.Context, db *DB) ([]Row, error) {
		return Delete(`books`, Where{`id`: 1}).Run(ctx, db)
	})
	noErr(t, err)

	out := buf.String()
	eq(t, true, strings.Contains(out, `msg=query`))
	eq(t, true, strings.Contains(out, `msg=result`))
	eq(t, true, strings.Contains(out, `msg=transaction`))
	eq(t, true, strings.Contains(out, `stage=commit`))
	eq(t, true, strings.Contains(out, `rows=1`))
}
