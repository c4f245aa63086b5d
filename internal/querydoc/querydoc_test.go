package querydoc_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mitranim/pgq"
	"github.com/mitranim/pgq/cond"
	"github.com/mitranim/pgq/internal/querydoc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, src string) pgq.Compiled {
	t.Helper()
	doc, err := querydoc.Parse([]byte(src))
	require.NoError(t, err)
	expr, err := doc.Build()
	require.NoError(t, err)
	out, err := pgq.Compile(nil, expr)
	require.NoError(t, err)
	return out
}

func compile(t *testing.T, expr pgq.Expr) pgq.Compiled {
	t.Helper()
	out, err := pgq.Compile(nil, expr)
	require.NoError(t, err)
	return out
}

func buildErr(t *testing.T, src string) error {
	t.Helper()
	doc, err := querydoc.Parse([]byte(src))
	if err != nil {
		return err
	}
	_, err = doc.Build()
	return err
}

func TestSelect(t *testing.T) {
	out := build(t, `
kind: select
table: books
where:
  authorId: 1
  price: {$between: [10, 20.5]}
  deletedAt: null
columns: [id, title]
order: [title desc nulls last, id]
limit: 10
offset: 20
`)

	exp := compile(t, pgq.Select(`books`, pgq.Where{
		`authorId`:  int64(1),
		`price`:     cond.Between(int64(10), 20.5),
		`deletedAt`: nil,
	}, pgq.SelectOpts{
		Columns: []string{`id`, `title`},
		Order: []pgq.Order{
			{By: `title`, Dir: pgq.DirDesc, Nulls: pgq.NullsLast},
			{By: `id`},
		},
		Limit:  10,
		Offset: 20,
	}))

	assert.Equal(t, exp, out)
	assert.Equal(t, pgq.ShapeMany, out.Shape)
}

func TestSelectLateral(t *testing.T) {
	out := build(t, `
kind: selectOne
table: authors
where: {id: 3}
lateral:
  books:
    kind: select
    table: books
    where: {authorId: {$parent: id}}
    order: [title]
  bookCount:
    kind: count
    table: books
    where: {authorId: {$parent: id}}
`)

	exp := compile(t, pgq.SelectOne(`authors`, pgq.Where{`id`: int64(3)}, pgq.SelectOpts{
		Lateral: map[string]pgq.Subquery{
			`books`:     pgq.Select(`books`, pgq.Where{`authorId`: pgq.Parent(`id`)}, pgq.SelectOpts{Order: []pgq.Order{{By: `title`}}}),
			`bookCount`: pgq.Count(`books`, pgq.Where{`authorId`: pgq.Parent(`id`)}),
		},
	}))

	assert.Equal(t, exp, out)
	assert.Contains(t, out.Text, `left join lateral`)
	assert.Equal(t, pgq.ShapeOne, out.Shape)
}

func TestConditions(t *testing.T) {
	out := build(t, `
kind: count
table: books
where:
  a: {$gt: 1}
  b: {$in: [1, 2]}
  c: {$notIn: []}
  d: {$null: false}
  e: {$ilike: "%emma%"}
  f: {$or: [{$lt: 0}, {$gte: 100}]}
  g: {$not: {$eq: 5}}
  h: {$sql: "$1 @> $2", $args: [{$self: true}, {$json: [1]}]}
  i: {tags: [x]}
`)

	exp := compile(t, pgq.Count(`books`, pgq.Where{
		`a`: cond.Gt(int64(1)),
		`b`: cond.In(int64(1), int64(2)),
		`c`: cond.NotIn(),
		`d`: cond.IsNotNull(),
		`e`: cond.Ilike(`%emma%`),
		`f`: cond.Or(cond.Lt(int64(0)), cond.Gte(int64(100))),
		`g`: cond.Not(cond.Eq(int64(5))),
		`h`: pgq.SQL(`$1 @> $2`, pgq.Self, pgq.Param{Val: []any{int64(1)}, Cast: pgq.CastJSON}),
		`i`: map[string]any{`tags`: []any{`x`}},
	}))

	assert.Equal(t, exp, out)
}

func TestWhereAll(t *testing.T) {
	out := build(t, "kind: delete\ntable: sessions\nwhere: all\nreturning: [id]\n")
	exp := compile(t, pgq.Delete(`sessions`, pgq.All, pgq.WriteOpts{Returning: []string{`id`}}))
	assert.Equal(t, exp, out)

	err := buildErr(t, "kind: delete\ntable: sessions\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `requires "where"`)
}

func TestInsert(t *testing.T) {
	out := build(t, `
kind: insert
table: books
rows:
  - {title: Emma, authorId: 1}
  - {title: Persuasion, createdAt: {$default: true}}
returning: []
`)

	exp := compile(t, pgq.Insert(`books`, []pgq.Row{
		{`title`: `Emma`, `authorId`: int64(1)},
		{`title`: `Persuasion`, `createdAt`: pgq.Default},
	}, pgq.WriteOpts{Returning: []string{}}))

	assert.Equal(t, exp, out)
}

func TestInsertEmptyForce(t *testing.T) {
	out := build(t, "kind: insert\ntable: books\nforce: true\n")
	assert.Contains(t, out.Text, `select null where false`)
}

func TestUpsert(t *testing.T) {
	out := build(t, `
kind: upsert
table: counters
rows: [{key: home, visits: 1}]
conflict: {columns: [key]}
updateValues:
  visits: {$add: 1}
reportAction: suppress
`)

	exp := compile(t, pgq.Upsert(`counters`, []pgq.Row{{`key`: `home`, `visits`: int64(1)}}, pgq.OnColumns(`key`), pgq.UpsertOpts{
		UpdateValues: map[string]any{`visits`: cond.Add(int64(1))},
		ReportAction: pgq.ReportActionSuppress,
	}))

	assert.Equal(t, exp, out)

	out = build(t, `
kind: upsert
table: users
rows: [{email: a@b.c}]
conflict: {constraint: users_email_key}
updateColumns: []
`)
	assert.Contains(t, out.Text, `on conflict on constraint "users_email_key" do nothing`)
}

func TestUpdate(t *testing.T) {
	out := build(t, `
kind: update
table: accounts
values:
  balance: {$subtract: 10}
  updatedAt: {$raw: now()}
where: {id: 7}
`)

	exp := compile(t, pgq.Update(`accounts`, pgq.Row{
		`balance`:   cond.Subtract(int64(10)),
		`updatedAt`: pgq.Raw(`now()`),
	}, pgq.Where{`id`: int64(7)}))

	assert.Equal(t, exp, out)
}

func TestTruncate(t *testing.T) {
	out := build(t, "kind: truncate\ntables: [books, authors]\nidentity: restart identity\ndeps: cascade\n")
	exp := compile(t, pgq.Truncate(`books`, `authors`).With(pgq.TruncateOpts{
		Identity: pgq.IdentityRestart,
		Deps:     pgq.DepsCascade,
	}))
	assert.Equal(t, exp, out)
}

func TestSQL(t *testing.T) {
	out := build(t, `
kind: sql
sql: select * from books where "authorId" = :author and price < :price
named: {author: 1, price: 9.99}
`)
	assert.Equal(t, `select * from books where "authorId" = $1 and price < $2`, out.Text)
	assert.Equal(t, []any{int64(1), 9.99}, out.Args)

	out = build(t, "kind: sql\nsql: select $1::int + $2\nargs: [1, 2]\n")
	assert.Equal(t, []any{int64(1), int64(2)}, out.Args)
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{"unknown_field", "kind: select\ntable: books\nwhere: all\nlimt: 1\n", `unknown field`},
		{"unknown_kind", "kind: merge\ntable: books\n", `unrecognized query kind "merge"`},
		{"nested_write", "kind: select\ntable: a\nwhere: all\nlateral:\n  b: {kind: delete, table: b, where: all}\n", `can't be nested`},
		{"unknown_operator", "kind: select\ntable: a\nwhere: {x: {$nope: 1}}\n", `unrecognized value operator "$nope"`},
		{"bad_between", "kind: select\ntable: a\nwhere: {x: {$between: [1]}}\n", `two elements`},
		{"bad_order", "kind: select\ntable: a\nwhere: all\norder: [\"a; drop table a\"]\n", `unrecognized ordering`},
		{"mixed_args", "kind: sql\nsql: select 1\nargs: [1]\nnamed: {a: 1}\n", `either ordinal or named`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := buildErr(t, tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), `query.yaml`)
	require.NoError(t, os.WriteFile(path, []byte("kind: count\ntable: books\nwhere: all\n"), 0o644))

	doc, err := querydoc.Load(path)
	require.NoError(t, err)
	assert.Equal(t, querydoc.KindCount, doc.Kind)

	_, err = querydoc.Load(filepath.Join(t.TempDir(), `missing.yaml`))
	require.Error(t, err)
}

type fakeExec struct {
	rows []map[string]any
	text string
}

func (self *fakeExec) Query(_ context.Context, text string, _ []any) ([]map[string]any, error) {
	self.text = text
	return self.rows, nil
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("count", func(t *testing.T) {
		exec := &fakeExec{rows: []map[string]any{{`result`: int64(4)}}}
		doc := querydoc.Doc{Kind: querydoc.KindCount, Table: `books`, Where: `all`}

		out, err := doc.Run(ctx, pgq.New(exec, nil))
		require.NoError(t, err)
		assert.Equal(t, int64(4), out)
	})

	t.Run("select_one", func(t *testing.T) {
		exec := &fakeExec{rows: []map[string]any{{`result`: `{"id": 1}`}}}
		doc := querydoc.Doc{Kind: querydoc.KindSelectOne, Table: `books`, Where: map[string]any{`id`: 1}}

		out, err := doc.Run(ctx, pgq.New(exec, nil))
		require.NoError(t, err)
		assert.Equal(t, pgq.Row{`id`: json.Number(`1`)}, out)
	})

	t.Run("null_aggregate", func(t *testing.T) {
		exec := &fakeExec{rows: []map[string]any{{`result`: nil}}}
		doc := querydoc.Doc{Kind: querydoc.KindSum, Table: `books`, Where: `all`, Columns: []string{`price`}}

		out, err := doc.Run(ctx, pgq.New(exec, nil))
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("raw_sql", func(t *testing.T) {
		exec := &fakeExec{rows: []map[string]any{{`one`: int64(1)}}}
		doc := querydoc.Doc{Kind: querydoc.KindSQL, SQL: `select 1 as one`}

		out, err := doc.Run(ctx, pgq.New(exec, nil))
		require.NoError(t, err)
		assert.Equal(t, []pgq.Row{{`one`: int64(1)}}, out)
		assert.Equal(t, `select 1 as one`, exec.text)
	})
}
