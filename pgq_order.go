package pgq

import (
	"fmt"
	"strings"
)

// Sort direction. The zero value omits the direction, which Postgres treats
// as ascending.
type Dir byte

const (
	DirNone Dir = iota
	DirAsc
	DirDesc
)

// Appends the keyword, if any, separated by a space.
func (self Dir) Append(text []byte) []byte {
	return appendMaybeSpaced(text, self.String())
}

// Implement `fmt.Stringer` for debug purposes.
func (self Dir) String() string {
	switch self {
	case DirAsc:
		return `asc`
	case DirDesc:
		return `desc`
	default:
		return ``
	}
}

// Parses from a string, which must be empty, "asc" or "desc", in any case.
func (self *Dir) Parse(src string) error {
	switch strings.ToLower(src) {
	case ``:
		*self = DirNone
	case `asc`:
		*self = DirAsc
	case `desc`:
		*self = DirDesc
	default:
		return ErrInvalidInput.while(`parsing order direction`).format(
			`unrecognized direction %q`, src,
		)
	}
	return nil
}

// Implement `encoding.TextMarshaler`.
func (self Dir) MarshalText() ([]byte, error) { return []byte(self.String()), nil }

// Implement `encoding.TextUnmarshaler`.
func (self *Dir) UnmarshalText(src []byte) error { return self.Parse(string(src)) }

// Placement of nulls in an ordering. The zero value omits the clause.
type Nulls byte

const (
	NullsNone Nulls = iota
	NullsFirst
	NullsLast
)

// Appends the clause, if any, separated by a space.
func (self Nulls) Append(text []byte) []byte {
	return appendMaybeSpaced(text, self.String())
}

// Implement `fmt.Stringer` for debug purposes.
func (self Nulls) String() string {
	switch self {
	case NullsFirst:
		return `nulls first`
	case NullsLast:
		return `nulls last`
	default:
		return ``
	}
}

// Parses from a string, which must be empty, "first" or "last", in any case.
func (self *Nulls) Parse(src string) error {
	switch strings.ToLower(src) {
	case ``:
		*self = NullsNone
	case `first`:
		*self = NullsFirst
	case `last`:
		*self = NullsLast
	default:
		return ErrInvalidInput.while(`parsing nulls placement`).format(
			`unrecognized nulls placement %q`, src,
		)
	}
	return nil
}

// Implement `encoding.TextMarshaler`.
func (self Nulls) MarshalText() ([]byte, error) { return []byte(self.String()), nil }

// Implement `encoding.TextUnmarshaler`.
func (self *Nulls) UnmarshalText(src []byte) error { return self.Parse(string(src)) }

/*
One element of an "order by" clause. `By` is a column of the current query,
qualified with its alias. `Expr` is an arbitrary expression used instead of
`By` when set.
*/
type Order struct {
	By    string
	Expr  Expr
	Dir   Dir
	Nulls Nulls
}

// Implement the `Expr` interface, making this a sub-expression.
func (self Order) AppendExpr(bui *Bui) {
	bui.Space()
	if self.Expr != nil {
		self.Expr.AppendExpr(bui)
	} else if self.By != `` {
		bui.Column(self.By)
	} else {
		panic(ErrInvalidInput.while(`appending ordering`).format(`missing column or expression`))
	}
	bui.Text = self.Dir.Append(bui.Text)
	bui.Text = self.Nulls.Append(bui.Text)
}

/*
Parses an ordering such as "col", "col desc" or "col asc nulls last". Useful
for orderings provided by clients or configuration files.
*/
func ParseOrder(src string) (out Order, err error) {
	match := ordReg.FindStringSubmatch(src)
	if match == nil {
		return out, ErrInvalidInput.while(`parsing ordering`).format(
			`unrecognized ordering %q`, src,
		)
	}

	out.By = match[1]
	err = out.Dir.Parse(match[2])
	if err == nil {
		err = out.Nulls.Parse(match[3])
	}
	return
}

/*
Implement `encoding.TextMarshaler`, producing the input of `ParseOrder`.
Orderings by arbitrary expressions can't be encoded.
*/
func (self Order) MarshalText() ([]byte, error) {
	if self.Expr != nil {
		return nil, ErrInvalidInput.while(`encoding ordering`).format(
			`can't encode ordering by expression %v`, self.Expr,
		)
	}
	return []byte(self.String()), nil
}

// Implement `encoding.TextUnmarshaler`, using `ParseOrder`.
func (self *Order) UnmarshalText(src []byte) (err error) {
	*self, err = ParseOrder(string(src))
	return
}

// Implement `fmt.Stringer` for debug purposes.
func (self Order) String() string {
	if self.Expr != nil {
		return fmt.Sprint(self.Expr)
	}
	text := []byte(self.By)
	text = self.Dir.Append(text)
	text = self.Nulls.Append(text)
	return string(text)
}

func appendOrders(bui *Bui, vals []Order) {
	for ind, val := range vals {
		if ind == 0 {
			bui.Str(`order by`)
		} else {
			bui.Raw(`,`)
		}
		val.AppendExpr(bui)
	}
}
