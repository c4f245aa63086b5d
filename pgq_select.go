package pgq

/*
Options of select-family shortcut queries. All optional.

`Columns` limits the projected columns: nil means every column, an empty
non-nil slice means no columns. `Extras` adds result keys computed from
expressions, or copied from columns under another name when the value is a
string. `Lateral` adds result keys holding the results of nested queries,
joined laterally; nested queries may refer to this query via `Parent`.
`Passthru` is a single nested query whose result replaces the row of this
query; it excludes `Columns`, `Extras` and `Lateral`.

`Limit` and `Offset` are ignored when zero. `WithTies` requires `Limit` and
`Order`.
*/
type SelectOpts struct {
	Columns    []string
	Extras     map[string]any
	Lateral    map[string]Subquery
	Passthru   Subquery
	Alias      string
	Order      []Order
	Limit      int
	Offset     int
	WithTies   bool
	Distinct   bool
	DistinctOn []string
	GroupBy    []string
	Having     Expr
	Lock       []Lock
}

// Lock strength of a locking clause.
type LockStrength string

const (
	ForUpdate      LockStrength = `update`
	ForNoKeyUpdate LockStrength = `no key update`
	ForShare       LockStrength = `share`
	ForKeyShare    LockStrength = `key share`
)

// Waiting policy of a locking clause.
type LockWait string

const (
	LockWaitDefault LockWait = ``
	LockNoWait      LockWait = `nowait`
	LockSkipLocked  LockWait = `skip locked`
)

// Locking clause such as `for update of "books" nowait`.
type Lock struct {
	For  LockStrength
	Of   []string
	Wait LockWait
}

// Implement the `Expr` interface, making this a sub-expression.
func (self Lock) AppendExpr(bui *Bui) {
	switch self.For {
	case ForUpdate, ForNoKeyUpdate, ForShare, ForKeyShare:
	default:
		panic(ErrInvalidInput.while(`appending lock`).format(`unrecognized lock strength %q`, self.For))
	}

	bui.Str(`for`)
	bui.Str(string(self.For))
	if len(self.Of) > 0 {
		bui.Str(`of`)
		bui.Space()
		Idents(self.Of).AppendExpr(bui)
	}

	switch self.Wait {
	case LockWaitDefault:
	case LockNoWait, LockSkipLocked:
		bui.Str(string(self.Wait))
	default:
		panic(ErrInvalidInput.while(`appending lock`).format(`unrecognized lock wait policy %q`, self.Wait))
	}
}

/*
Query that can be nested into another query via `SelectOpts.Lateral` or
`SelectOpts.Passthru`. Implemented by the select-family queries. To-one
queries produce a single value (null when there are no rows), to-many queries
produce an array (empty when there are no rows).
*/
type Subquery interface {
	Expr
	ToOne() bool
}

type selectMode byte

const (
	modeMany selectMode = iota
	modeOne
	modeExactlyOne
	modeCount
	modeAggregate
)

type selectSpec struct {
	Table string
	Where Expr
	Opts  SelectOpts
	mode  selectMode
	agg   string
	top   bool
}

/*
Selects every matching row as a JSON array of objects. Nested via `Lateral`,
produces an array, empty when nothing matches.

	select coalesce(jsonb_agg(result), '[]') as result from (
		select to_jsonb("books".*) as result from "books" where ...
	) as "sq_books"
*/
type SelectQuery struct{ selectSpec }

// Makes a `SelectQuery`. Takes at most one options struct.
func Select(table string, where Expr, opts ...SelectOpts) SelectQuery {
	return SelectQuery{selectOf(table, where, opts, modeMany, ``)}
}

// Implement the `Expr` interface, making this a sub-expression.
func (self SelectQuery) AppendExpr(bui *Bui) { self.selectSpec.appendExpr(bui) }

// Implement `Subquery`.
func (self SelectQuery) ToOne() bool { return false }

/*
Selects at most one row, with `limit 1`. At the top level, running the query
produces nil when nothing matches. Nested via `Lateral`, produces null when
nothing matches.
*/
type SelectOneQuery struct{ selectSpec }

// Makes a `SelectOneQuery`. Takes at most one options struct.
func SelectOne(table string, where Expr, opts ...SelectOpts) SelectOneQuery {
	return SelectOneQuery{selectOf(table, where, opts, modeOne, ``)}
}

// Implement the `Expr` interface, making this a sub-expression.
func (self SelectOneQuery) AppendExpr(bui *Bui) { self.selectSpec.appendExpr(bui) }

// Implement `Subquery`.
func (self SelectOneQuery) ToOne() bool { return true }

/*
Selects exactly one row. When compiled on its own, the query uses `limit 2`,
and running it fails with `ErrNotFound` or `ErrManyFound` when the number of
matching rows isn't exactly one. Nested via `Lateral` or embedded in another
expression, behaves like `SelectOne`.
*/
type SelectExactlyOneQuery struct{ selectSpec }

// Makes a `SelectExactlyOneQuery`. Takes at most one options struct.
func SelectExactlyOne(table string, where Expr, opts ...SelectOpts) SelectExactlyOneQuery {
	return SelectExactlyOneQuery{selectOf(table, where, opts, modeExactlyOne, ``)}
}

// Implement the `Expr` interface, making this a sub-expression.
func (self SelectExactlyOneQuery) AppendExpr(bui *Bui) { self.selectSpec.appendExpr(bui) }

// Implement `Subquery`.
func (self SelectExactlyOneQuery) ToOne() bool { return true }

func (self SelectExactlyOneQuery) topLevel() Expr {
	self.top = true
	return self
}

/*
Counts matching rows. With one column in `Opts.Columns`, counts non-null
values of that column; with several, counts rows where any of them is non-null.
`Opts.Distinct` counts distinct values. Other options are ignored.
*/
type CountQuery struct{ selectSpec }

// Makes a `CountQuery`. Takes at most one options struct.
func Count(table string, where Expr, opts ...SelectOpts) CountQuery {
	return CountQuery{selectOf(table, where, opts, modeCount, `count`)}
}

// Implement the `Expr` interface, making this a sub-expression.
func (self CountQuery) AppendExpr(bui *Bui) { self.selectSpec.appendExpr(bui) }

// Implement `Subquery`.
func (self CountQuery) ToOne() bool { return true }

/*
Numeric aggregate of exactly one column, given in `Opts.Columns`. Produces
null when there are no matching rows, except for counts. See `Sum`, `Avg`,
`Min`, `Max`.
*/
type AggregateQuery struct{ selectSpec }

// Sum of one column over matching rows.
func Sum(table string, where Expr, opts ...SelectOpts) AggregateQuery {
	return AggregateQuery{selectOf(table, where, opts, modeAggregate, `sum`)}
}

// Average of one column over matching rows.
func Avg(table string, where Expr, opts ...SelectOpts) AggregateQuery {
	return AggregateQuery{selectOf(table, where, opts, modeAggregate, `avg`)}
}

// Minimum of one column over matching rows.
func Min(table string, where Expr, opts ...SelectOpts) AggregateQuery {
	return AggregateQuery{selectOf(table, where, opts, modeAggregate, `min`)}
}

// Maximum of one column over matching rows.
func Max(table string, where Expr, opts ...SelectOpts) AggregateQuery {
	return AggregateQuery{selectOf(table, where, opts, modeAggregate, `max`)}
}

// Implement the `Expr` interface, making this a sub-expression.
func (self AggregateQuery) AppendExpr(bui *Bui) { self.selectSpec.appendExpr(bui) }

// Implement `Subquery`.
func (self AggregateQuery) ToOne() bool { return true }

func selectOf(table string, where Expr, opts []SelectOpts, mode selectMode, agg string) selectSpec {
	return selectSpec{
		Table: table,
		Where: where,
		Opts:  optsOf(`making select query`, opts),
		mode:  mode,
		agg:   agg,
	}
}

func optsOf[A any](while string, opts []A) A {
	switch len(opts) {
	case 0:
		var zero A
		return zero
	case 1:
		return opts[0]
	default:
		panic(ErrInvalidInput.while(while).format(`expected at most one options struct, got %v`, len(opts)))
	}
}

func (self selectSpec) alias() string {
	if self.Opts.Alias != `` {
		return self.Opts.Alias
	}
	return unqualified(self.Table)
}

func (self selectSpec) appendExpr(bui *Bui) {
	if self.Table == `` {
		panic(ErrInvalidInput.while(`appending select query`).format(`missing table`))
	}

	switch self.mode {
	case modeMany:
		bui.Str(`select coalesce(jsonb_agg(result), '[]') as result from (`)
		self.appendRows(bui, 0)
		bui.Str(`) as`)
		bui.Space()
		Identifier{`sq_` + self.alias()}.AppendExpr(bui)

	case modeOne:
		self.appendRows(bui, 1)

	case modeExactlyOne:
		if self.top {
			self.appendRows(bui, 2)
		} else {
			self.appendRows(bui, 1)
		}

	case modeCount, modeAggregate:
		self.appendAggregate(bui)
	}
}

/*
Appends the per-row query. Each row has one column "result" holding the
projected JSON object. A non-zero `limit` overrides `Opts.Limit`.
*/
func (self selectSpec) appendRows(bui *Bui, limit int) {
	opts := self.Opts
	self.validate()

	bui.WithFrame(self.Table, self.alias(), func() {
		bui.Str(`select`)
		self.appendDistinct(bui)
		self.appendProjection(bui)
		bui.Str(`as result from`)
		self.appendFrom(bui)
		self.appendLaterals(bui)

		bui.Str(`where`)
		appendCondition(bui, `appending select query`, self.Where)

		if len(opts.GroupBy) > 0 {
			bui.Str(`group by`)
			appendColumns(bui, opts.GroupBy)
		}

		if opts.Having != nil {
			bui.Str(`having`)
			bui.Expr(opts.Having)
		}

		appendOrders(bui, opts.Order)

		if limit == 0 {
			limit = opts.Limit
		}
		if limit > 0 {
			if opts.WithTies {
				bui.Str(`fetch first`)
				bui.Arg(limit)
				bui.Str(`rows with ties`)
			} else {
				bui.Str(`limit`)
				bui.Arg(limit)
			}
		}

		if opts.Offset > 0 {
			bui.Str(`offset`)
			bui.Arg(opts.Offset)
			bui.Str(`rows`)
		}

		for _, val := range opts.Lock {
			bui.Space()
			val.AppendExpr(bui)
		}
	})
}

func (self selectSpec) validate() {
	opts := self.Opts
	const while = `appending select query`

	if opts.Passthru != nil && (opts.Columns != nil || len(opts.Extras) > 0 || len(opts.Lateral) > 0) {
		panic(ErrInvalidInput.while(while).format(
			`passthrough lateral query on %q excludes columns, extras and keyed laterals`, self.Table,
		))
	}

	if opts.WithTies && (len(opts.Order) == 0 || (opts.Limit <= 0 && self.mode == modeMany)) {
		panic(ErrInvalidInput.while(while).format(
			`"with ties" on %q requires both order and limit`, self.Table,
		))
	}

	if opts.Distinct && len(opts.DistinctOn) > 0 {
		panic(ErrInvalidInput.while(while).format(
			`"distinct" and "distinct on" are mutually exclusive`,
		))
	}
}

func (self selectSpec) appendDistinct(bui *Bui) {
	if self.Opts.Distinct {
		bui.Str(`distinct`)
	} else if len(self.Opts.DistinctOn) > 0 {
		bui.Str(`distinct on (`)
		appendColumns(bui, self.Opts.DistinctOn)
		bui.Str(`)`)
	}
}

func (self selectSpec) appendFrom(bui *Bui) {
	bui.Space()
	Ident(self.Table).AppendExpr(bui)
	if self.alias() != unqualified(self.Table) {
		bui.Str(`as`)
		bui.Space()
		Identifier{self.alias()}.AppendExpr(bui)
	}
}

const passthruKey = `passthru`

func lateralAlias(key string) Identifier { return Identifier{`lateral_` + key} }

func (self selectSpec) appendLaterals(bui *Bui) {
	if self.Opts.Passthru != nil {
		appendLateral(bui, passthruKey, self.Opts.Passthru)
	}
	for _, key := range sortedKeys(self.Opts.Lateral) {
		appendLateral(bui, key, self.Opts.Lateral[key])
	}
}

func appendLateral(bui *Bui, key string, sub Subquery) {
	if sub == nil || isNil(sub) {
		panic(ErrInvalidInput.while(`appending lateral query`).format(`missing query under key %q`, key))
	}
	bui.Str(`left join lateral (`)
	sub.AppendExpr(bui)
	bui.Str(`) as`)
	bui.Space()
	lateralAlias(key).AppendExpr(bui)
	bui.Str(`on true`)
}

/*
Appends the JSON object projected for each row: the table columns, merged with
extras and keyed laterals. The passthrough lateral replaces it entirely.
*/
func (self selectSpec) appendProjection(bui *Bui) {
	if self.Opts.Passthru != nil {
		bui.Space()
		lateralAlias(passthruKey).AppendExpr(bui)
		bui.Raw(`.result`)
		return
	}
	appendObject(bui, self.Opts.Columns, self.Opts.Extras, self.lateralKeys())
}

func (self selectSpec) lateralKeys() []string { return sortedKeys(self.Opts.Lateral) }

/*
Shared by select and write queries. Appends a JSONB object expression built
from the columns of the current frame, the extras, and the results of the
given laterals. Nil columns means every column. Keys are passed as
parameters.
*/
func appendObject(bui *Bui, cols []string, extras map[string]any, laterals []string) {
	var parts int
	next := func() {
		if parts > 0 {
			bui.Str(`||`)
		}
		parts++
	}

	if cols == nil {
		next()
		bui.Str(`to_jsonb(`)
		Identifier{bui.Alias()}.AppendExpr(bui)
		bui.Raw(`.*)`)
	} else if len(cols) > 0 {
		next()
		bui.Str(`jsonb_build_object(`)
		for ind, col := range cols {
			if ind > 0 {
				bui.Raw(`, `)
			}
			appendKey(bui, col)
			bui.Raw(`, `)
			bui.Column(col)
		}
		bui.Raw(`)`)
	}

	if len(extras) > 0 {
		next()
		bui.Str(`jsonb_build_object(`)
		for ind, key := range sortedKeys(extras) {
			if ind > 0 {
				bui.Raw(`, `)
			}
			appendKey(bui, key)
			bui.Raw(`, `)
			appendExtra(bui, key, extras[key])
		}
		bui.Raw(`)`)
	}

	if len(laterals) > 0 {
		next()
		bui.Str(`jsonb_build_object(`)
		for ind, key := range laterals {
			if ind > 0 {
				bui.Raw(`, `)
			}
			appendKey(bui, key)
			bui.Raw(`, `)
			lateralAlias(key).AppendExpr(bui)
			bui.Raw(`.result`)
		}
		bui.Raw(`)`)
	}

	if parts == 0 {
		bui.Str(`jsonb_build_object()`)
	}
}

func appendKey(bui *Bui, key string) {
	Param{Val: key, NoCast: true}.AppendExpr(bui)
	bui.Raw(`::text`)
}

func appendExtra(bui *Bui, key string, val any) {
	switch val := val.(type) {
	case string:
		bui.Column(val)
		return
	case Expr:
		if !isNil(val) {
			val.AppendExpr(bui)
			return
		}
	}
	panic(ErrInvalidInput.while(`appending extras`).format(
		`expected a column name or an expression under key %q, got %T`, key, val,
	))
}

func appendColumns(bui *Bui, cols []string) {
	for ind, col := range cols {
		if ind > 0 {
			bui.Raw(`,`)
		}
		bui.Space()
		bui.Column(col)
	}
}

func (self selectSpec) appendAggregate(bui *Bui) {
	cols := self.Opts.Columns
	if self.mode == modeAggregate && len(cols) != 1 {
		panic(ErrInvalidInput.while(`appending aggregate query`).format(
			`%v requires exactly one column, got %q`, self.agg, cols,
		))
	}

	bui.WithFrame(self.Table, self.alias(), func() {
		bui.Str(`select`)
		bui.Str(self.agg)
		bui.Raw(`(`)
		if self.Opts.Distinct {
			bui.Raw(`distinct `)
		}

		switch len(cols) {
		case 0:
			Identifier{bui.Alias()}.AppendExpr(bui)
			bui.Raw(`.*`)
		case 1:
			bui.Column(cols[0])
		default:
			bui.Raw(`(`)
			appendColumns(bui, cols)
			bui.Raw(`)`)
		}

		bui.Raw(`)`)
		bui.Str(`as result from`)
		self.appendFrom(bui)
		bui.Str(`where`)
		appendCondition(bui, `appending aggregate query`, self.Where)
	})
}

func (self SelectQuery) shape() Shape           { return ShapeMany }
func (self SelectOneQuery) shape() Shape        { return ShapeOne }
func (self SelectExactlyOneQuery) shape() Shape { return ShapeExactlyOne }
func (self CountQuery) shape() Shape            { return ShapeCount }
func (self AggregateQuery) shape() Shape        { return ShapeNumeric }
