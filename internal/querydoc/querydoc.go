/*
Query documents: shortcut queries described in YAML (or JSON), used by the
command line tool. A document names the kind of query, its table, condition
and options, mirroring the builders of `pgq`:

	kind: select
	table: books
	where:
	  authorId: 1
	  price: {$between: [10, 20]}
	columns: [id, title]
	order: [title desc nulls last]
	limit: 10
	lateral:
	  author:
	    kind: selectExactlyOne
	    table: authors
	    where: {id: {$parent: authorId}}

Plain values in `where` are compared for equality. Objects whose only keys
start with "$" are operators; see `Condition` and `Value`. Every other object
is a literal JSON value. Matching every row is spelled `where: all`.
*/
package querydoc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mitranim/pgq"
	"github.com/mitranim/pgq/cond"
	"sigs.k8s.io/yaml"
)

type Kind string

const (
	KindSelect           Kind = `select`
	KindSelectOne        Kind = `selectOne`
	KindSelectExactlyOne Kind = `selectExactlyOne`
	KindCount            Kind = `count`
	KindSum              Kind = `sum`
	KindAvg              Kind = `avg`
	KindMin              Kind = `min`
	KindMax              Kind = `max`
	KindInsert           Kind = `insert`
	KindUpsert           Kind = `upsert`
	KindUpdate           Kind = `update`
	KindDelete           Kind = `delete`
	KindTruncate         Kind = `truncate`
	KindSQL              Kind = `sql`
)

const matchAll = `all`

type Doc struct {
	Kind  Kind   `json:"kind"`
	Table string `json:"table,omitempty"`
	Where any    `json:"where,omitempty"`

	// Select options.
	Alias      string         `json:"alias,omitempty"`
	Columns    []string       `json:"columns,omitempty"`
	Extras     map[string]any `json:"extras,omitempty"`
	Lateral    map[string]Doc `json:"lateral,omitempty"`
	Passthru   *Doc           `json:"passthru,omitempty"`
	Order      []string       `json:"order,omitempty"`
	Limit      int            `json:"limit,omitempty"`
	Offset     int            `json:"offset,omitempty"`
	WithTies   bool           `json:"withTies,omitempty"`
	Distinct   bool           `json:"distinct,omitempty"`
	DistinctOn []string       `json:"distinctOn,omitempty"`
	GroupBy    []string       `json:"groupBy,omitempty"`
	Having     any            `json:"having,omitempty"`
	Lock       []Lock         `json:"lock,omitempty"`

	// Write options.
	Rows                []map[string]any `json:"rows,omitempty"`
	Values              map[string]any   `json:"values,omitempty"`
	Returning           []string         `json:"returning,omitempty"`
	Conflict            Conflict         `json:"conflict,omitempty"`
	UpdateColumns       []string         `json:"updateColumns,omitempty"`
	UpdateValues        map[string]any   `json:"updateValues,omitempty"`
	NoNullUpdateColumns []string         `json:"noNullUpdateColumns,omitempty"`
	ReportAction        string           `json:"reportAction,omitempty"`
	Force               bool             `json:"force,omitempty"`

	// Truncate options.
	Tables   []string `json:"tables,omitempty"`
	Identity string   `json:"identity,omitempty"`
	Deps     string   `json:"deps,omitempty"`

	// Raw SQL with ordinal or named arguments.
	SQL   string         `json:"sql,omitempty"`
	Args  []any          `json:"args,omitempty"`
	Named map[string]any `json:"named,omitempty"`
}

type Lock struct {
	For  string   `json:"for"`
	Of   []string `json:"of,omitempty"`
	Wait string   `json:"wait,omitempty"`
}

type Conflict struct {
	Columns    []string `json:"columns,omitempty"`
	Constraint string   `json:"constraint,omitempty"`
}

/*
Decodes a document from YAML or JSON. Unknown fields are rejected. Numbers
are decoded as integers when integral and as floats otherwise.
*/
func Parse(src []byte) (out Doc, err error) {
	err = yaml.UnmarshalStrict(src, &out, func(dec *json.Decoder) *json.Decoder {
		dec.UseNumber()
		return dec
	})
	if err != nil {
		return out, fmt.Errorf(`failed to decode query document: %w`, err)
	}
	return out, nil
}

// Reads and decodes a document file.
func Load(path string) (Doc, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Doc{}, fmt.Errorf(`failed to read query document: %w`, err)
	}
	return Parse(src)
}

// Builds the query described by the document.
func (self Doc) Build() (_ pgq.Expr, err error) {
	defer rec(&err)
	return self.expr(), nil
}

func (self Doc) expr() pgq.Expr {
	switch self.Kind {
	case KindSelect, KindSelectOne, KindSelectExactlyOne,
		KindCount, KindSum, KindAvg, KindMin, KindMax:
		return self.subquery()
	case KindInsert:
		query := pgq.Insert(self.Table, self.rows(), self.writeOpts())
		if self.Force {
			query = query.Force()
		}
		return query
	case KindUpsert:
		query := pgq.Upsert(self.Table, self.rows(), pgq.Conflict(self.Conflict), self.upsertOpts())
		if self.Force {
			query = query.Force()
		}
		return query
	case KindUpdate:
		return pgq.Update(self.Table, values(self.Values, true), self.where(), self.writeOpts())
	case KindDelete:
		return pgq.Delete(self.Table, self.where(), self.writeOpts())
	case KindTruncate:
		tables := self.Tables
		if self.Table != `` {
			tables = append([]string{self.Table}, tables...)
		}
		return pgq.Truncate(tables...).With(pgq.TruncateOpts{
			Identity: pgq.TruncateIdentity(self.Identity),
			Deps:     pgq.TruncateDeps(self.Deps),
		})
	case KindSQL:
		return self.frag()
	default:
		panic(fmt.Errorf(`unrecognized query kind %q`, self.Kind))
	}
}

func (self Doc) subquery() pgq.Subquery {
	where, opts := self.where(), self.selectOpts()

	switch self.Kind {
	case KindSelect:
		return pgq.Select(self.Table, where, opts)
	case KindSelectOne:
		return pgq.SelectOne(self.Table, where, opts)
	case KindSelectExactlyOne:
		return pgq.SelectExactlyOne(self.Table, where, opts)
	case KindCount:
		return pgq.Count(self.Table, where, opts)
	case KindSum:
		return pgq.Sum(self.Table, where, opts)
	case KindAvg:
		return pgq.Avg(self.Table, where, opts)
	case KindMin:
		return pgq.Min(self.Table, where, opts)
	case KindMax:
		return pgq.Max(self.Table, where, opts)
	default:
		panic(fmt.Errorf(`query kind %q can't be nested`, self.Kind))
	}
}

func (self Doc) frag() pgq.Frag {
	if self.Named != nil {
		if self.Args != nil {
			panic(fmt.Errorf(`expected either ordinal or named arguments, got both`))
		}
		dict := make(pgq.Dict, len(self.Named))
		for key, val := range self.Named {
			dict[key] = Value(val)
		}
		return pgq.SQLNamed(self.SQL, dict)
	}

	args := make([]any, len(self.Args))
	for ind, val := range self.Args {
		args[ind] = Value(val)
	}
	return pgq.SQL(self.SQL, args...)
}

func (self Doc) where() pgq.Expr {
	switch where := self.Where.(type) {
	case nil:
		panic(fmt.Errorf(`query kind %q requires "where"; use "where: %s" to match every row`, self.Kind, matchAll))
	case string:
		if where == matchAll {
			return pgq.All
		}
		return pgq.SQL(where)
	case map[string]any:
		if isOperator(where) {
			return asExpr(Value(where))
		}
		out := make(pgq.Where, len(where))
		for key, val := range where {
			out[key] = Condition(val)
		}
		return out
	default:
		panic(fmt.Errorf(`expected "where" to be an object or %q, got %T`, matchAll, where))
	}
}

func (self Doc) selectOpts() (out pgq.SelectOpts) {
	out.Alias = self.Alias
	out.Columns = self.Columns
	out.Limit = self.Limit
	out.Offset = self.Offset
	out.WithTies = self.WithTies
	out.Distinct = self.Distinct
	out.DistinctOn = self.DistinctOn
	out.GroupBy = self.GroupBy

	if self.Extras != nil {
		out.Extras = make(map[string]any, len(self.Extras))
		for key, val := range self.Extras {
			if _, ok := val.(string); ok {
				out.Extras[key] = val
			} else {
				out.Extras[key] = asExpr(Value(val))
			}
		}
	}

	for _, src := range self.Order {
		out.Order = append(out.Order, try1(pgq.ParseOrder(src)))
	}

	if self.Having != nil {
		if text, ok := self.Having.(string); ok {
			out.Having = pgq.SQL(text)
		} else {
			out.Having = asExpr(Value(self.Having))
		}
	}

	for _, src := range self.Lock {
		out.Lock = append(out.Lock, pgq.Lock{
			For:  pgq.LockStrength(src.For),
			Of:   src.Of,
			Wait: pgq.LockWait(src.Wait),
		})
	}

	if self.Lateral != nil {
		out.Lateral = make(map[string]pgq.Subquery, len(self.Lateral))
		for key, doc := range self.Lateral {
			out.Lateral[key] = doc.subquery()
		}
	}

	if self.Passthru != nil {
		out.Passthru = self.Passthru.subquery()
	}
	return
}

func (self Doc) writeOpts() pgq.WriteOpts {
	return pgq.WriteOpts{Returning: self.Returning, Extras: self.extras()}
}

func (self Doc) upsertOpts() pgq.UpsertOpts {
	return pgq.UpsertOpts{
		Returning:           self.Returning,
		Extras:              self.extras(),
		UpdateColumns:       self.UpdateColumns,
		UpdateValues:        values(self.UpdateValues, true),
		NoNullUpdateColumns: self.NoNullUpdateColumns,
		ReportAction:        pgq.ReportAction(self.ReportAction),
	}
}

func (self Doc) extras() map[string]any { return self.selectOpts().Extras }

func (self Doc) rows() []pgq.Row {
	out := make([]pgq.Row, len(self.Rows))
	for ind, row := range self.Rows {
		out[ind] = pgq.Row(values(row, false))
	}
	return out
}

func values(src map[string]any, arithmetic bool) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for key, val := range src {
		if arithmetic {
			if frag, ok := arithmeticOf(val); ok {
				out[key] = frag
				continue
			}
		}
		out[key] = Value(val)
	}
	return out
}

func arithmeticOf(src any) (pgq.Frag, bool) {
	op, arg, ok := operator(src)
	if !ok {
		return pgq.Frag{}, false
	}
	switch op {
	case `$add`:
		return cond.Add(Value(arg)), true
	case `$subtract`:
		return cond.Subtract(Value(arg)), true
	case `$multiply`:
		return cond.Multiply(Value(arg)), true
	case `$divide`:
		return cond.Divide(Value(arg)), true
	default:
		return pgq.Frag{}, false
	}
}

/*
Converts a decoded document value into a `pgq` value. Recognized operators:

	{$sql: "text", $args: [...]}   fragment with ordinal arguments
	{$sql: "text", $named: {...}}  fragment with named arguments
	{$raw: "now()"}                verbatim SQL
	{$default: true}               the "default" keyword
	{$self: true}                  column of the enclosing condition
	{$parent: "col"}               column of the enclosing query; "" infers it
	{$ident: "name"}               quoted identifier
	{$json: value}                 value cast to "json"
	{$jsonb: value}                value cast to "jsonb"

Integral numbers become `int64`, others `float64`. Arrays and objects are
kept as literal values.
*/
func Value(src any) any {
	switch src := src.(type) {
	case json.Number:
		return number(src)
	case []any:
		out := make([]any, len(src))
		for ind, val := range src {
			out[ind] = literal(val)
		}
		return out
	case map[string]any:
		if !isOperator(src) {
			return literal(src)
		}
		return operatorValue(src)
	default:
		return src
	}
}

func operatorValue(src map[string]any) any {
	if text, ok := src[`$sql`]; ok {
		doc := Doc{SQL: asString(`$sql`, text)}
		for key, val := range src {
			switch key {
			case `$sql`:
			case `$args`:
				list, ok := val.([]any)
				if !ok {
					panic(fmt.Errorf(`expected "$args" to be a list, got %T`, val))
				}
				doc.Args = list
			case `$named`:
				dict, ok := val.(map[string]any)
				if !ok {
					panic(fmt.Errorf(`expected "$named" to be an object, got %T`, val))
				}
				doc.Named = dict
			default:
				panic(fmt.Errorf(`unexpected key %q next to "$sql"`, key))
			}
		}
		return doc.frag()
	}

	op, arg, ok := operator(src)
	if !ok {
		panic(fmt.Errorf(`expected exactly one operator, got %q`, sortedKeys(src)))
	}

	switch op {
	case `$raw`:
		return pgq.Raw(asString(op, arg))
	case `$default`:
		return pgq.Default
	case `$self`:
		return pgq.Self
	case `$parent`:
		col := asString(op, arg)
		if col == `` {
			return pgq.Parent()
		}
		return pgq.Parent(col)
	case `$ident`:
		return pgq.Ident(asString(op, arg))
	case `$json`:
		return pgq.Param{Val: literal(arg), Cast: pgq.CastJSON}
	case `$jsonb`:
		return pgq.Param{Val: literal(arg), Cast: pgq.CastJSONB}
	default:
		panic(fmt.Errorf(`unrecognized value operator %q`, op))
	}
}

/*
Converts a decoded `where` value into a per-column condition for `pgq.Where`.
Accepts everything `Value` accepts, compared for equality (null means
"is null"), plus these operators:

	$eq $ne $gt $gte $lt $lte $distinctFrom $notDistinctFrom
	$like $notLike $ilike $notIlike $matches $notMatches $similarTo
	$between: [lower, upper]    $notBetween: [lower, upper]
	$in: [...]                  $notIn: [...]
	$null: true|false
	$and: [...]  $or: [...]     $not: condition
*/
func Condition(src any) any {
	frag, ok := conditionFrag(src)
	if ok {
		return frag
	}
	return Value(src)
}

func conditionFrag(src any) (pgq.Frag, bool) {
	op, arg, ok := operator(src)
	if !ok {
		return pgq.Frag{}, false
	}

	switch op {
	case `$eq`:
		return cond.Eq(Value(arg)), true
	case `$ne`:
		return cond.Ne(Value(arg)), true
	case `$gt`:
		return cond.Gt(Value(arg)), true
	case `$gte`:
		return cond.Gte(Value(arg)), true
	case `$lt`:
		return cond.Lt(Value(arg)), true
	case `$lte`:
		return cond.Lte(Value(arg)), true
	case `$distinctFrom`:
		return cond.IsDistinctFrom(Value(arg)), true
	case `$notDistinctFrom`:
		return cond.IsNotDistinctFrom(Value(arg)), true
	case `$like`:
		return cond.Like(asString(op, arg)), true
	case `$notLike`:
		return cond.NotLike(asString(op, arg)), true
	case `$ilike`:
		return cond.Ilike(asString(op, arg)), true
	case `$notIlike`:
		return cond.NotIlike(asString(op, arg)), true
	case `$matches`:
		return cond.Matches(asString(op, arg)), true
	case `$notMatches`:
		return cond.NotMatches(asString(op, arg)), true
	case `$similarTo`:
		return cond.SimilarTo(asString(op, arg)), true
	case `$between`:
		lower, upper := pair(op, arg)
		return cond.Between(lower, upper), true
	case `$notBetween`:
		lower, upper := pair(op, arg)
		return cond.NotBetween(lower, upper), true
	case `$in`:
		return cond.In(scalars(op, arg)...), true
	case `$notIn`:
		return cond.NotIn(scalars(op, arg)...), true
	case `$null`:
		if asBool(op, arg) {
			return cond.IsNull(), true
		}
		return cond.IsNotNull(), true
	case `$and`:
		return cond.And(conditions(op, arg)...), true
	case `$or`:
		return cond.Or(conditions(op, arg)...), true
	case `$not`:
		return cond.Not(conditionExpr(arg)), true
	default:
		return pgq.Frag{}, false
	}
}

func conditionExpr(src any) pgq.Expr {
	frag, ok := conditionFrag(src)
	if ok {
		return frag
	}
	return cond.Eq(Value(src))
}

func conditions(op string, src any) []pgq.Expr {
	list, ok := src.([]any)
	if !ok {
		panic(fmt.Errorf(`expected %q to be a list, got %T`, op, src))
	}
	out := make([]pgq.Expr, len(list))
	for ind, val := range list {
		out[ind] = conditionExpr(val)
	}
	return out
}

func scalars(op string, src any) []any {
	list, ok := src.([]any)
	if !ok {
		panic(fmt.Errorf(`expected %q to be a list, got %T`, op, src))
	}
	out := make([]any, len(list))
	for ind, val := range list {
		out[ind] = Value(val)
	}
	return out
}

func pair(op string, src any) (any, any) {
	list := scalars(op, src)
	if len(list) != 2 {
		panic(fmt.Errorf(`expected %q to have two elements, got %d`, op, len(list)))
	}
	return list[0], list[1]
}

// Single-key object with a "$"-prefixed key.
func operator(src any) (string, any, bool) {
	dict, ok := src.(map[string]any)
	if !ok || len(dict) != 1 || !isOperator(dict) {
		return ``, nil, false
	}
	for key, val := range dict {
		return key, val, true
	}
	return ``, nil, false
}

func isOperator(src map[string]any) bool {
	if len(src) == 0 {
		return false
	}
	for key := range src {
		if !strings.HasPrefix(key, `$`) {
			return false
		}
	}
	return true
}

// Converts numbers nested in arrays and objects, keeping everything else.
func literal(src any) any {
	switch src := src.(type) {
	case json.Number:
		return number(src)
	case []any:
		out := make([]any, len(src))
		for ind, val := range src {
			out[ind] = literal(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(src))
		for key, val := range src {
			out[key] = literal(val)
		}
		return out
	default:
		return src
	}
}

func number(src json.Number) any {
	if val, err := src.Int64(); err == nil {
		return val
	}
	if val, err := src.Float64(); err == nil {
		return val
	}
	return string(src)
}

func asExpr(val any) pgq.Expr {
	out, ok := val.(pgq.Expr)
	if !ok {
		panic(fmt.Errorf(`expected an expression operator, got %T`, val))
	}
	return out
}

func asString(op string, val any) string {
	out, ok := val.(string)
	if !ok {
		panic(fmt.Errorf(`expected %q to be a string, got %T`, op, val))
	}
	return out
}

func asBool(op string, val any) bool {
	out, ok := val.(bool)
	if !ok {
		panic(fmt.Errorf(`expected %q to be a boolean, got %T`, op, val))
	}
	return out
}

func sortedKeys(src map[string]any) []string {
	out := make([]string, 0, len(src))
	for key := range src {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func try1[A any](val A, err error) A {
	if err != nil {
		panic(err)
	}
	return val
}

func rec(ptr *error) {
	val := recover()
	if val == nil {
		return
	}
	if err, ok := val.(error); ok {
		*ptr = err
		return
	}
	panic(val)
}

/*
Builds and runs the query, returning its shaped result: rows for select and
write queries, a single row for to-one selects, a number for counts and
aggregates, and nil for truncation.
*/
func (self Doc) Run(ctx context.Context, db *pgq.DB) (any, error) {
	expr, err := self.Build()
	if err != nil {
		return nil, err
	}

	switch query := expr.(type) {
	case pgq.SelectQuery:
		return query.Run(ctx, db)
	case pgq.SelectOneQuery:
		return query.Run(ctx, db)
	case pgq.SelectExactlyOneQuery:
		return query.Run(ctx, db)
	case pgq.CountQuery:
		return query.Run(ctx, db)
	case pgq.AggregateQuery:
		val, err := query.Run(ctx, db)
		if err != nil || !val.Valid {
			return nil, err
		}
		return val.Decimal, nil
	case pgq.InsertQuery:
		return query.Run(ctx, db)
	case pgq.UpsertQuery:
		return query.Run(ctx, db)
	case pgq.UpdateQuery:
		return query.Run(ctx, db)
	case pgq.DeleteQuery:
		return query.Run(ctx, db)
	case pgq.TruncateQuery:
		return nil, query.Run(ctx, db)
	default:
		return db.Run(ctx, expr)
	}
}
