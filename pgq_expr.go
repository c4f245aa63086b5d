package pgq

import (
	"database/sql/driver"
	"encoding/json"
	r "reflect"
	"strings"

	"github.com/jackc/pgx/v5"
)

/*
Represents an SQL identifier, always quoted. Dots separate the parts of a
schema-qualified name, and every part is quoted separately:

	Ident(`public.books`) -> "public"."books"

Embedded double quotes are doubled. To quote a name that itself contains a
dot, use `Identifier`.
*/
type Ident string

// Implement the `Expr` interface, making this a sub-expression.
func (self Ident) AppendExpr(bui *Bui) { bui.Text = self.Append(bui.Text) }

// Appends the quoted identifier.
func (self Ident) Append(text []byte) []byte {
	return append(text, pgx.Identifier(strings.Split(string(self), `.`)).Sanitize()...)
}

// Implement the `fmt.Stringer` interface for debug purposes.
func (self Ident) String() string { return string(self.Append(nil)) }

/*
Represents a nested SQL identifier where every element is quoted verbatim,
without splitting on dots. Useful for qualified column references such as
`"alias"."col"`.
*/
type Identifier []string

// Implement the `Expr` interface, making this a sub-expression.
func (self Identifier) AppendExpr(bui *Bui) { bui.Text = self.Append(bui.Text) }

// Appends the quoted identifier.
func (self Identifier) Append(text []byte) []byte {
	if len(self) == 0 {
		return text
	}
	return append(text, pgx.Identifier(self).Sanitize()...)
}

// Implement the `fmt.Stringer` interface for debug purposes.
func (self Identifier) String() string { return string(self.Append(nil)) }

/*
List of identifiers rendered as a comma-separated list of individually quoted
names, such as `"one", "two"`. Each element follows the rules of `Ident`.
*/
type Idents []string

// Implement the `Expr` interface, making this a sub-expression.
func (self Idents) AppendExpr(bui *Bui) { bui.Text = self.Append(bui.Text) }

// Appends the quoted identifiers.
func (self Idents) Append(text []byte) []byte {
	for ind, val := range self {
		if ind > 0 {
			text = append(text, `, `...)
		}
		text = Ident(val).Append(text)
	}
	return text
}

// Implement the `fmt.Stringer` interface for debug purposes.
func (self Idents) String() string { return string(self.Append(nil)) }

/*
Raw SQL text, inserted verbatim without any escaping. Never use with
user-provided input.
*/
type Raw string

// Implement the `Expr` interface, making this a sub-expression.
func (self Raw) AppendExpr(bui *Bui) { bui.Raw(string(self)) }

// Implement the `fmt.Stringer` interface for debug purposes.
func (self Raw) String() string { return string(self) }

// Special cast values for `Param.Cast`.
const (
	CastJSON  = `json`
	CastJSONB = `jsonb`
)

/*
Value hole with explicit control over casting. Plain values used as fragment
arguments are equivalent to `Param{Val: val}`.

When `Cast` is empty and `NoCast` is false, arrays and objects are encoded as
JSON text and cast to "json", according to the flags in `Config`. A `Cast` of
`CastJSON` or `CastJSONB` always encodes the value as JSON. Any other `Cast`
is a type name inserted verbatim into `cast($N as <type>)`, with the value
passed as-is. `NoCast` disables casting entirely.

`[]byte` values are always passed through as binary parameters.
*/
type Param struct {
	Val    any
	Cast   string
	NoCast bool
}

// Implement the `Expr` interface, making this a sub-expression.
func (self Param) AppendExpr(bui *Bui) {
	val, cast := self.Val, self.Cast
	if self.NoCast {
		cast = ``
	} else if cast == `` && bui.Config().castsToJSON(val) {
		cast = CastJSON
	}

	if cast == CastJSON || cast == CastJSONB {
		val = jsonText(val)
	}

	if cast == `` {
		bui.OrphanParam(bui.OrphanArg(val))
		return
	}

	bui.Raw(`cast(`)
	bui.OrphanParam(bui.OrphanArg(val))
	bui.Raw(` as `)
	bui.Raw(cast)
	bui.Raw(`)`)
}

func jsonText(val any) any {
	if val == nil {
		return nil
	}
	switch val := val.(type) {
	case []byte:
		return val
	case json.RawMessage:
		return string(val)
	}
	return string(try1(json.Marshal(val)))
}

// True if the value is an array or object that must be bound as JSON.
func (self *Config) castsToJSON(val any) bool {
	if val == nil {
		return false
	}
	if _, ok := val.(driver.Valuer); ok {
		return false
	}
	if _, ok := val.(json.Marshaler); ok {
		return false
	}

	rval := valueDeref(r.ValueOf(val))
	if !rval.IsValid() {
		return false
	}

	switch rval.Kind() {
	case r.Slice:
		if rval.Type() == typeBytes || rval.Type().Elem().Kind() == r.Uint8 {
			return false
		}
		return self.CastArrayParamsToJSON
	case r.Array:
		return self.CastArrayParamsToJSON
	case r.Map:
		return self.CastObjectParamsToJSON
	case r.Struct:
		if rval.Type() == typeTime || r.PointerTo(rval.Type()).Implements(typeValuer) {
			return false
		}
		return self.CastObjectParamsToJSON
	default:
		return false
	}
}

/*
The SQL `default` keyword. Used as a value in inserts and updates to request
the column default.
*/
type DefaultMarker struct{}

// Shortcut for `DefaultMarker{}`.
var Default = DefaultMarker{}

// Implement the `Expr` interface, making this a sub-expression.
func (DefaultMarker) AppendExpr(bui *Bui) { bui.Str(`default`) }

/*
Condition matching every row. Used in place of a `Where` where "no condition"
must be stated explicitly.
*/
type AllMarker struct{}

// Shortcut for `AllMarker{}`.
var All = AllMarker{}

// Implement the `Expr` interface, making this a sub-expression.
func (AllMarker) AppendExpr(bui *Bui) { bui.Str(`true`) }

/*
Marker resolved to the column that the enclosing per-column condition applies
to, qualified with the alias of the current query. Fails with `ErrResolution`
outside of such a condition. See `Where`.
*/
type SelfRef struct{}

// Shortcut for `SelfRef{}`.
var Self = SelfRef{}

// Implement the `Expr` interface, making this a sub-expression.
func (SelfRef) AppendExpr(bui *Bui) { bui.appendSelf() }

/*
Marker resolved to a column of the nearest enclosing query. Only valid inside a
nested query such as a lateral subquery. When the column is omitted, it's
inferred; see `Config.ForeignKeys`.
*/
type ParentRef struct{ Column string }

/*
Makes a parent reference. Takes at most one column name. With no column, the
column is inferred from the foreign keys between the nested and the enclosing
table.
*/
func Parent(col ...string) ParentRef {
	switch len(col) {
	case 0:
		return ParentRef{}
	case 1:
		return ParentRef{col[0]}
	default:
		panic(ErrInvalidInput.while(`making parent reference`).format(
			`expected at most one column, got %q`, col,
		))
	}
}

// Implement the `Expr` interface, making this a sub-expression.
func (self ParentRef) AppendExpr(bui *Bui) { bui.appendParent(self.Column) }
