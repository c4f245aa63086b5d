package pgq

import (
	r "reflect"

	"github.com/mitranim/refut"
)

/*
Row of a shaped result: keys are column names or result keys, values are
decoded JSON (`json.Number` for numbers). Also accepted as input wherever a
row is expected.
*/
type Row map[string]any

// Key of the action tag added to upsert results.
const UpsertActionKey = `$action`

// Whether an upserted row was inserted or updated.
type UpsertAction string

const (
	UpsertInserted UpsertAction = `INSERT`
	UpsertUpdated  UpsertAction = `UPDATE`
)

/*
Returns the action tag of a row returned by an upsert. Empty when the upsert
had no tag: either `ReportAction` was suppressed, or the conflict action was
"do nothing".
*/
func (self Row) UpsertAction() UpsertAction {
	val, _ := self[UpsertActionKey].(string)
	return UpsertAction(val)
}

/*
Extracts ordered column names and values from a row-like input. Accepts
`Row`, `Dict` and other maps with string keys (keys sorted), and structs or
struct pointers whose fields have `db` tags (field order, embedded structs
included). Nil pointers produce an empty row.
*/
func rowOf(src any) (keys []string, vals []any) {
	switch src := src.(type) {
	case nil:
		return nil, nil
	case Row:
		return mapRow(src)
	case Dict:
		return mapRow(src)
	case map[string]any:
		return mapRow(src)
	}

	rval := r.ValueOf(src)
	rtype := refut.RtypeDeref(rval.Type())

	switch rtype.Kind() {
	case r.Map:
		if rtype.Key().Kind() != r.String {
			break
		}
		rval = valueDeref(rval)
		if !rval.IsValid() {
			return nil, nil
		}
		dict := make(map[string]any, rval.Len())
		iter := rval.MapRange()
		for iter.Next() {
			dict[iter.Key().String()] = iter.Value().Interface()
		}
		return mapRow(dict)

	case r.Struct:
		if refut.IsRvalNil(rval) {
			return nil, nil
		}
		try(refut.TraverseStructRval(rval, func(rval r.Value, sfield r.StructField, _ []int) error {
			col := refut.TagIdent(sfield.Tag.Get(`db`))
			if col == `` {
				return nil
			}
			keys = append(keys, col)
			vals = append(vals, rval.Interface())
			return nil
		}))
		return keys, vals
	}

	panic(ErrInvalidInput.while(`extracting row`).format(
		`expected a map with string keys or a struct, got %T`, src,
	))
}

func mapRow[A any](src map[string]A) (keys []string, vals []any) {
	keys = sortedKeys(src)
	vals = make([]any, len(keys))
	for ind, key := range keys {
		vals[ind] = src[key]
	}
	return
}

// Column names of a row, rendered as a comma-separated list of quoted
// identifiers. Made by `Cols`.
type ColumnList struct{ Row any }

/*
Renders the column names of a row-like input as `"one", "two"`. Pairs with
`Vals`, which renders the values in the same order. See `rowOf` for accepted
inputs.
*/
func Cols(row any) ColumnList { return ColumnList{row} }

// Implement the `Expr` interface, making this a sub-expression.
func (self ColumnList) AppendExpr(bui *Bui) {
	keys, _ := rowOf(self.Row)
	bui.Text = Idents(keys).Append(bui.Text)
}

// Values of a row, rendered as a comma-separated list. Made by `Vals`.
type ValueList struct{ Row any }

/*
Renders the values of a row-like input as a comma-separated list. Plain values
become parameters; expressions such as `Default` or fragments are appended
as-is.
*/
func Vals(row any) ValueList { return ValueList{row} }

// Implement the `Expr` interface, making this a sub-expression.
func (self ValueList) AppendExpr(bui *Bui) {
	_, vals := rowOf(self.Row)
	for ind, val := range vals {
		if ind > 0 {
			bui.Raw(`, `)
		}
		appendValue(bui, val)
	}
}

// Appends a value hole: expressions as-is, anything else as a parameter.
func appendValue(bui *Bui, val any) {
	expr, ok := val.(Expr)
	if ok {
		expr.AppendExpr(bui)
		return
	}
	Param{Val: val}.AppendExpr(bui)
}
