package pgq

import (
	"context"
	"errors"
	"fmt"
	r "reflect"
	"runtime"
	"strings"
	"sync"
	"testing"
)

type Author struct {
	Id   int64  `json:"id"   db:"id"`
	Name string `json:"name" db:"name"`
}

// nolint:govet
type Timestamps struct {
	CreatedAt string `json:"createdAt" db:"createdAt"`
	private   string `db:"private"`
	Untagged  string ``
	Skipped   string `db:"-"`
}

type Book struct {
	Timestamps
	Id       int64   `json:"id"       db:"id"`
	AuthorId int64   `json:"authorId" db:"authorId"`
	Title    string  `json:"title"    db:"title"`
	Tags     *string `json:"tags"     db:"tags"`
	OnlyJson string  `json:"onlyJson"`
}

type list = []any

// Short for "reified".
type R struct {
	Text string
	Args list
}

/*
We don't care about the difference between nil and zero-length arg lists.
The builder preallocates, so empty args are usually non-nil.
*/
func (self R) Norm() R {
	if self.Args == nil {
		self.Args = list{}
	}
	return self
}

// Short for "reified".
func rei(text string, args ...any) R { return R{text, args}.Norm() }

func reify(expr Expr) R { return reifyWith(nil, expr) }

func reifyWith(conf *Config, expr Expr) R {
	out := try1(Compile(conf, expr))
	return R{out.Text, out.Args}.Norm()
}

func testExpr(t testing.TB, exp R, val Expr) {
	t.Helper()
	eq(t, exp, reify(val))
}

func testExprWith(t testing.TB, conf *Config, exp R, val Expr) {
	t.Helper()
	eq(t, exp, reifyWith(conf, val))
}

func testCompileErr(t testing.TB, exp error, msg string, val Expr) {
	t.Helper()
	_, err := Compile(nil, val)
	errIs(t, exp, err)
	if !strings.Contains(err.Error(), msg) {
		t.Fatalf(`expected error message containing %q, found %q`, msg, err.Error())
	}
}

func eq(t testing.TB, exp, act any) {
	t.Helper()
	if !r.DeepEqual(exp, act) {
		t.Fatalf(`
expected (detailed):
	%#[1]v
actual (detailed):
	%#[2]v
expected (simple):
	%[1]v
actual (simple):
	%[2]v
`, exp, act)
	}
}

func notEq(t testing.TB, exp, act any) {
	t.Helper()
	if r.DeepEqual(exp, act) {
		t.Fatalf(`
unexpected equality (detailed):
	%#[1]v
unexpected equality (simple):
	%[1]v
`, exp, act)
	}
}

func errIs(t testing.TB, exp, act error) {
	t.Helper()
	if !errors.Is(act, exp) {
		t.Fatalf(`expected error matching %v, found %v`, exp, act)
	}
}

func noErr(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf(`unexpected error: %+v`, err)
	}
}

func panics(t testing.TB, msg string, fun func()) {
	t.Helper()
	val := catchAny(fun)

	if val == nil {
		t.Fatalf(`expected %v to panic, found no panic`, funcName(fun))
	}

	str := fmt.Sprint(val)
	if !strings.Contains(str, msg) {
		t.Fatalf(
			`expected %v to panic with a message containing %q, found %q`,
			funcName(fun), msg, str,
		)
	}
}

func funcName(val any) string {
	return runtime.FuncForPC(r.ValueOf(val).Pointer()).Name()
}

func catchAny(fun func()) (val any) {
	defer recAny(&val)
	fun()
	return
}

func recAny(ptr *any) { *ptr = recover() }

var ctx = context.Background()

/*
In-memory executor. Records every statement and answers with `fun`, which
defaults to returning no rows. Also implements `Beginner`; transaction events
are recorded into `log` as "begin <level>", "commit" and "rollback".
*/
type fakeExec struct {
	lock    sync.Mutex
	fun     func(text string, args []any) ([]map[string]any, error)
	commit  func() error
	queries []R
	log     []string
}

func (self *fakeExec) Query(_ context.Context, text string, args []any) ([]map[string]any, error) {
	self.lock.Lock()
	self.queries = append(self.queries, R{text, args}.Norm())
	self.log = append(self.log, `query`)
	fun := self.fun
	self.lock.Unlock()

	if fun == nil {
		return nil, nil
	}
	return fun(text, args)
}

func (self *fakeExec) Begin(_ context.Context, level IsolationLevel) (Tx, error) {
	self.record(`begin ` + level.String())
	return fakeTx{self}, nil
}

func (self *fakeExec) record(val string) {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.log = append(self.log, val)
}

func (self *fakeExec) count(val string) (out int) {
	self.lock.Lock()
	defer self.lock.Unlock()
	for _, elem := range self.log {
		if elem == val {
			out++
		}
	}
	return
}

type fakeTx struct{ *fakeExec }

func (self fakeTx) Commit(context.Context) error {
	if self.commit != nil {
		err := self.commit()
		if err != nil {
			self.record(`commit failed`)
			return err
		}
	}
	self.record(`commit`)
	return nil
}

func (self fakeTx) Rollback(context.Context) error {
	self.record(`rollback`)
	return nil
}

// Executor without transaction support.
type plainExec struct{}

func (plainExec) Query(context.Context, string, []any) ([]map[string]any, error) {
	return nil, nil
}

func resultRows(vals ...string) []map[string]any {
	out := make([]map[string]any, len(vals))
	for ind, val := range vals {
		out[ind] = map[string]any{resultKey: []byte(val)}
	}
	return out
}

func returning(rows []map[string]any) func(string, []any) ([]map[string]any, error) {
	return func(string, []any) ([]map[string]any, error) { return rows, nil }
}

var serializationFailure = &DatabaseError{
	Code:    SqlStateSerializationFailure,
	Message: `could not serialize access due to read/write dependencies among transactions`,
}

var authorsBooks = &Config{
	CastArrayParamsToJSON:  true,
	CastObjectParamsToJSON: true,
	ForeignKeys: []ForeignKey{
		{Table: `books`, Column: `authorId`, RefTable: `authors`, RefColumn: `id`},
		{Table: `books`, Column: `editorId`, RefTable: `authors`, RefColumn: `id`},
		{Table: `employees`, Column: `managerId`, RefTable: `employees`, RefColumn: `id`},
	},
}

func counter(val int) []struct{} { return make([]struct{}, val) }
