package pgq

import r "reflect"

/*
Options of write queries. `Returning` limits the columns of the returned rows:
nil means every column, an empty non-nil slice means none. `Extras` adds
result keys, as in `SelectOpts`.
*/
type WriteOpts struct {
	Returning []string
	Extras    map[string]any
}

/*
Inserts one or more rows. Accepts a single row-like value (map or struct with
`db` tags) or a slice of them. Columns are the union of the keys of all rows;
rows lacking a column get `default`. Returns the inserted rows.

Running an insert of zero rows returns no rows without a round trip, unless
`Force` was used.
*/
type InsertQuery struct {
	Table string
	Rows  []any
	Opts  WriteOpts
	force bool
}

// Makes an `InsertQuery`. Takes at most one options struct.
func Insert(table string, rows any, opts ...WriteOpts) InsertQuery {
	return InsertQuery{
		Table: table,
		Rows:  rowsOf(rows),
		Opts:  optsOf(`making insert query`, opts),
	}
}

/*
Returns a copy that issues a statement even when there are no rows. The
statement inserts nothing.
*/
func (self InsertQuery) Force() InsertQuery {
	self.force = true
	return self
}

// Implement the `Expr` interface, making this a sub-expression.
func (self InsertQuery) AppendExpr(bui *Bui) {
	appendInsert(bui, self.Table, self.Rows)
	bui.WithFrame(self.Table, ``, func() {
		appendReturning(bui, self.Opts.Returning, self.Opts.Extras, false)
	})
}

func (self InsertQuery) skip() bool { return len(self.Rows) == 0 && !self.force }

func (self InsertQuery) shape() Shape { return ShapeResults }

/*
Splits the input of an insert into rows. Slices and arrays, other than
`[]byte`, are lists of rows. Anything else is a single row.
*/
func rowsOf(src any) []any {
	if src == nil {
		return nil
	}

	switch src := src.(type) {
	case []any:
		return src
	case []Row:
		out := make([]any, len(src))
		for ind, val := range src {
			out[ind] = val
		}
		return out
	}

	rval := r.ValueOf(src)
	switch rval.Kind() {
	case r.Slice, r.Array:
		if rval.Type().Elem().Kind() == r.Uint8 {
			break
		}
		out := make([]any, rval.Len())
		for ind := range out {
			out[ind] = rval.Index(ind).Interface()
		}
		return out
	}
	return []any{src}
}

/*
Appends `insert into ... values ...` without the returning clause. A single
row without columns inserts default values; several rows without columns
insert defaults via `generate_series`; zero rows insert nothing.
*/
func appendInsert(bui *Bui, table string, rows []any) {
	if table == `` {
		panic(ErrInvalidInput.while(`appending insert query`).format(`missing table`))
	}

	var cols []string
	var vals []map[string]any

	for _, row := range rows {
		keys, rowVals := rowOf(row)
		dict := make(map[string]any, len(keys))
		for ind, key := range keys {
			dict[key] = rowVals[ind]
			cols = appendNew(cols, key)
		}
		vals = append(vals, dict)
	}

	bui.Str(`insert into`)
	bui.Space()
	Ident(table).AppendExpr(bui)

	switch {
	case len(rows) == 0:
		bui.Str(`select null where false`)
		return

	case len(cols) == 0 && len(rows) == 1:
		bui.Str(`default values`)
		return

	case len(cols) == 0:
		bui.Str(`select from generate_series(1,`)
		bui.Arg(len(rows))
		bui.Str(`)`)
		return
	}

	bui.Str(`(`)
	Idents(cols).AppendExpr(bui)
	bui.Str(`) values`)

	for ind, dict := range vals {
		if ind > 0 {
			bui.Raw(`,`)
		}
		bui.Str(`(`)
		for colInd, col := range cols {
			if colInd > 0 {
				bui.Raw(`, `)
			}
			val, ok := dict[col]
			if !ok {
				Default.AppendExpr(bui)
				continue
			}
			appendValue(bui, val)
		}
		bui.Str(`)`)
	}
}

// Appends `returning <object> as result`, optionally tagged with the upsert
// action.
func appendReturning(bui *Bui, cols []string, extras map[string]any, action bool) {
	bui.Str(`returning`)
	appendObject(bui, cols, extras, nil)
	if action {
		bui.Str(`|| jsonb_build_object(`)
		appendKey(bui, UpsertActionKey)
		bui.Raw(`, case `)
		Identifier{bui.Alias(), `xmax`}.AppendExpr(bui)
		bui.Raw(` when 0 then 'INSERT' else 'UPDATE' end)`)
	}
	bui.Str(`as result`)
}

/*
Updates matching rows. Values are given as a row-like input. Fragment values
are compiled with `Self` bound to their column, which allows relative updates:

	pgq.Update(`accounts`, pgq.Row{`balance`: pgq.SQL(`$1 + $2`, pgq.Self, 10)}, pgq.Where{`id`: 1})
*/
type UpdateQuery struct {
	Table  string
	Values any
	Where  Expr
	Opts   WriteOpts
}

// Makes an `UpdateQuery`. Takes at most one options struct.
func Update(table string, values any, where Expr, opts ...WriteOpts) UpdateQuery {
	return UpdateQuery{
		Table:  table,
		Values: values,
		Where:  where,
		Opts:   optsOf(`making update query`, opts),
	}
}

// Implement the `Expr` interface, making this a sub-expression.
func (self UpdateQuery) AppendExpr(bui *Bui) {
	if self.Table == `` {
		panic(ErrInvalidInput.while(`appending update query`).format(`missing table`))
	}

	keys, vals := rowOf(self.Values)
	if len(keys) == 0 {
		panic(ErrInvalidInput.while(`appending update query`).format(
			`no values to update in %q`, self.Table,
		))
	}

	bui.WithFrame(self.Table, ``, func() {
		bui.Str(`update`)
		bui.Space()
		Ident(self.Table).AppendExpr(bui)
		bui.Str(`set`)
		for ind, key := range keys {
			if ind > 0 {
				bui.Raw(`,`)
			}
			appendAssign(bui, key, vals[ind])
		}

		bui.Str(`where`)
		appendCondition(bui, `appending update query`, self.Where)
		appendReturning(bui, self.Opts.Returning, self.Opts.Extras, false)
	})
}

func (self UpdateQuery) shape() Shape { return ShapeResults }

// Appends `"col" = <value>`, binding `Self` to the column for fragments.
func appendAssign(bui *Bui, col string, val any) {
	bui.Space()
	Ident(col).AppendExpr(bui)
	bui.Str(`= `)

	frag, ok := val.(Frag)
	if ok {
		nonEmptyFrag(`appending assignment`, col, frag)
		bui.WithSelf(col, func() { frag.AppendExpr(bui) })
		return
	}
	appendValue(bui, val)
}

/*
Conflict target of an upsert: either a list of columns with a unique index,
or the name of a constraint. Exactly one must be specified.
*/
type Conflict struct {
	Columns    []string
	Constraint string
}

// Conflict target consisting of columns.
func OnColumns(cols ...string) Conflict { return Conflict{Columns: cols} }

// Conflict target consisting of a named constraint.
func OnConstraint(name string) Conflict { return Conflict{Constraint: name} }

// Implement the `Expr` interface, making this a sub-expression.
func (self Conflict) AppendExpr(bui *Bui) {
	const while = `appending conflict target`

	if len(self.Columns) > 0 && self.Constraint != `` {
		panic(ErrConflictTarget.while(while).format(
			`expected either columns or a constraint, got columns %q and constraint %q`,
			self.Columns, self.Constraint,
		))
	}

	if self.Constraint != `` {
		bui.Str(`on conflict on constraint`)
		bui.Space()
		Ident(self.Constraint).AppendExpr(bui)
		return
	}

	if len(self.Columns) == 0 {
		panic(ErrConflictTarget.while(while).format(`missing conflict columns or constraint`))
	}
	for _, col := range self.Columns {
		if col == `` {
			panic(ErrConflictTarget.while(while).format(`empty column name in %q`, self.Columns))
		}
	}

	bui.Str(`on conflict (`)
	Idents(self.Columns).AppendExpr(bui)
	bui.Str(`)`)
}

// Policy of tagging upserted rows with `UpsertActionKey`.
type ReportAction string

const (
	ReportActionDefault  ReportAction = ``
	ReportActionSuppress ReportAction = `suppress`
)

/*
Options of upserts. `UpdateColumns` lists the columns overwritten with the
incoming values on conflict: nil means every inserted column, an empty
non-nil slice means "do nothing". `UpdateValues` sets columns on conflict to
the given values instead; fragments are compiled with `Self` bound to their
column, referring to the existing row. `NoNullUpdateColumns` keeps the
existing value when the incoming value is null.
*/
type UpsertOpts struct {
	Returning           []string
	Extras              map[string]any
	UpdateColumns       []string
	UpdateValues        map[string]any
	NoNullUpdateColumns []string
	ReportAction        ReportAction
}

/*
Inserts rows, updating on conflict. Returned rows carry the action tag
`UpsertActionKey` ("INSERT" or "UPDATE", see `Row.UpsertAction`), unless
suppressed by `ReportActionSuppress` or when the conflict action is "do
nothing". When there are no columns to update, such as with zero rows or rows
without columns, the conflict action is "do nothing". Running an upsert of zero
rows returns no rows without a round trip, unless `Force` was used.
*/
type UpsertQuery struct {
	Table    string
	Rows     []any
	Conflict Conflict
	Opts     UpsertOpts
	force    bool
}

// Makes an `UpsertQuery`. Takes at most one options struct.
func Upsert(table string, rows any, conflict Conflict, opts ...UpsertOpts) UpsertQuery {
	return UpsertQuery{
		Table:    table,
		Rows:     rowsOf(rows),
		Conflict: conflict,
		Opts:     optsOf(`making upsert query`, opts),
	}
}

// Same as `InsertQuery.Force`.
func (self UpsertQuery) Force() UpsertQuery {
	self.force = true
	return self
}

func (self UpsertQuery) skip() bool { return len(self.Rows) == 0 && !self.force }

func (self UpsertQuery) shape() Shape { return ShapeResults }

func (self UpsertQuery) doNothing() bool {
	return self.Opts.UpdateColumns != nil && len(self.Opts.UpdateColumns) == 0 && len(self.Opts.UpdateValues) == 0
}

// Columns assigned on conflict, in order: update columns, then the remaining
// keys of `UpdateValues`, sorted.
func (self UpsertQuery) assignedColumns() []string {
	var out []string

	cols := self.Opts.UpdateColumns
	if cols == nil {
		for _, row := range self.Rows {
			keys, _ := rowOf(row)
			for _, key := range keys {
				out = appendNew(out, key)
			}
		}
	} else {
		for _, col := range cols {
			out = appendNew(out, col)
		}
	}

	for _, key := range sortedKeys(self.Opts.UpdateValues) {
		out = appendNew(out, key)
	}
	return out
}

// Implement the `Expr` interface, making this a sub-expression.
func (self UpsertQuery) AppendExpr(bui *Bui) {
	appendInsert(bui, self.Table, self.Rows)

	bui.WithFrame(self.Table, ``, func() {
		bui.Space()
		self.Conflict.AppendExpr(bui)

		cols := self.assignedColumns()
		if self.doNothing() || len(cols) == 0 {
			bui.Str(`do nothing`)
			appendReturning(bui, self.Opts.Returning, self.Opts.Extras, false)
			return
		}

		bui.Str(`do update set`)
		for ind, col := range cols {
			if ind > 0 {
				bui.Raw(`,`)
			}
			self.appendConflictAssign(bui, col)
		}

		appendReturning(bui, self.Opts.Returning, self.Opts.Extras, self.Opts.ReportAction != ReportActionSuppress)
	})
}

func (self UpsertQuery) appendConflictAssign(bui *Bui, col string) {
	val, ok := self.Opts.UpdateValues[col]
	if ok {
		appendAssign(bui, col, val)
		return
	}

	bui.Space()
	Ident(col).AppendExpr(bui)
	bui.Str(`= `)

	if hasString(self.Opts.NoNullUpdateColumns, col) {
		bui.Raw(`case when `)
		Identifier{`excluded`, col}.AppendExpr(bui)
		bui.Raw(` is null then `)
		bui.Column(col)
		bui.Raw(` else `)
		Identifier{`excluded`, col}.AppendExpr(bui)
		bui.Raw(` end`)
		return
	}

	Identifier{`excluded`, col}.AppendExpr(bui)
}

func hasString(list []string, val string) bool {
	for _, elem := range list {
		if elem == val {
			return true
		}
	}
	return false
}

// Deletes matching rows, returning them.
type DeleteQuery struct {
	Table string
	Where Expr
	Opts  WriteOpts
}

// Makes a `DeleteQuery`. Takes at most one options struct.
func Delete(table string, where Expr, opts ...WriteOpts) DeleteQuery {
	return DeleteQuery{Table: table, Where: where, Opts: optsOf(`making delete query`, opts)}
}

// Implement the `Expr` interface, making this a sub-expression.
func (self DeleteQuery) AppendExpr(bui *Bui) {
	if self.Table == `` {
		panic(ErrInvalidInput.while(`appending delete query`).format(`missing table`))
	}

	bui.WithFrame(self.Table, ``, func() {
		bui.Str(`delete from`)
		bui.Space()
		Ident(self.Table).AppendExpr(bui)
		bui.Str(`where`)
		appendCondition(bui, `appending delete query`, self.Where)
		appendReturning(bui, self.Opts.Returning, self.Opts.Extras, false)
	})
}

func (self DeleteQuery) shape() Shape { return ShapeResults }

// Identity option of `truncate`.
type TruncateIdentity string

const (
	IdentityDefault  TruncateIdentity = ``
	IdentityRestart  TruncateIdentity = `restart identity`
	IdentityContinue TruncateIdentity = `continue identity`
)

// Dependency option of `truncate`.
type TruncateDeps string

const (
	DepsDefault  TruncateDeps = ``
	DepsCascade  TruncateDeps = `cascade`
	DepsRestrict TruncateDeps = `restrict`
)

// Options of `Truncate`.
type TruncateOpts struct {
	Identity TruncateIdentity
	Deps     TruncateDeps
}

// Empties one or more tables.
type TruncateQuery struct {
	Tables []string
	Opts   TruncateOpts
}

// Makes a `TruncateQuery` with default options. See `TruncateQuery.With`.
func Truncate(tables ...string) TruncateQuery { return TruncateQuery{Tables: tables} }

// Returns a copy with the given options.
func (self TruncateQuery) With(opts TruncateOpts) TruncateQuery {
	self.Opts = opts
	return self
}

// Implement the `Expr` interface, making this a sub-expression.
func (self TruncateQuery) AppendExpr(bui *Bui) {
	const while = `appending truncate query`

	if len(self.Tables) == 0 {
		panic(ErrInvalidInput.while(while).format(`missing tables`))
	}

	bui.Str(`truncate`)
	bui.Space()
	Idents(self.Tables).AppendExpr(bui)

	switch self.Opts.Identity {
	case IdentityDefault:
	case IdentityRestart, IdentityContinue:
		bui.Str(string(self.Opts.Identity))
	default:
		panic(ErrInvalidInput.while(while).format(`unrecognized identity option %q`, self.Opts.Identity))
	}

	switch self.Opts.Deps {
	case DepsDefault:
	case DepsCascade, DepsRestrict:
		bui.Str(string(self.Opts.Deps))
	default:
		panic(ErrInvalidInput.while(while).format(`unrecognized dependency option %q`, self.Opts.Deps))
	}
}

func (self TruncateQuery) shape() Shape { return ShapeRaw }
