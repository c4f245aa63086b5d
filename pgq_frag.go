package pgq

import (
	"fmt"

	"github.com/mitranim/sqlp"
)

/*
Composable SQL fragment: literal SQL text with typed holes. Made by `SQL`,
`ParseSQL` or `SQLNamed`. Immutable once constructed; may be compiled any
number of times, and nested into other fragments and queries.

Every argument is a hole. Arguments implementing `Expr` are appended as
expressions: identifiers, raw text, markers such as `Self`, `Parent()` and
`Default`, nested fragments, shortcut queries. Any other argument is a value:
it's appended to the arguments and replaced with an ordinal parameter, see
`Param`. Repeated references to the same value within one fragment share one
parameter.

When a fragment is used as a value in `Where` or in an update, `Self` refers
to the column under that key:

	pgq.Where{`age`: pgq.SQL(`$1 > $2`, pgq.Self, 18)}
*/
type Frag struct {
	tpl   *template
	args  []any
	named Dict
}

/*
Makes a fragment from SQL text with ordinal parameters such as "$1" referring
to the arguments. Every argument must be referenced at least once. Panics on
malformed input; see `ParseSQL` for the error-returning version.

	pgq.SQL(`select * from $1 where $2 = $3`, pgq.Ident(`books`), pgq.Ident(`title`), `Emma`)
*/
func SQL(text string, args ...any) Frag { return try1(ParseSQL(text, args...)) }

// Same as `SQL` but returns an error instead of panicking.
func ParseSQL(text string, args ...any) (_ Frag, err error) {
	defer rec(&err)

	tpl := parseTemplate(text)
	if tpl.named != nil {
		return Frag{}, ErrUnexpectedParameter.while(`making fragment`).format(
			`expected only ordinal params, got named param :%v in %q`, tpl.named[0], text,
		)
	}

	for _, ord := range tpl.ords {
		if ord > len(args) {
			return Frag{}, ErrOrdinalOutOfBounds.while(`making fragment`).format(
				`ordinal parameter $%v exceeds argument count %v in %q`, ord, len(args), text,
			)
		}
	}

	for ind, arg := range args {
		if !tpl.hasOrd(ind + 1) {
			return Frag{}, ErrUnusedArgument.while(`making fragment`).format(
				`unused argument %#v at index %v in %q`, arg, ind, text,
			)
		}
	}

	return Frag{tpl: tpl, args: append([]any(nil), args...)}, nil
}

/*
Makes a fragment from SQL text with named parameters such as ":name" referring
to the keys of the dictionary. Every key must be referenced and every
parameter must have a key. Panics on malformed input.
*/
func SQLNamed(text string, args Dict) Frag {
	tpl := parseTemplate(text)
	if tpl.ords != nil {
		panic(ErrUnexpectedParameter.while(`making fragment`).format(
			`expected only named params, got ordinal param $%v in %q`, tpl.ords[0], text,
		))
	}

	for _, key := range tpl.named {
		if _, ok := args[key]; !ok {
			panic(ErrMissingArgument.while(`making fragment`).format(
				`missing named argument %q in %q`, key, text,
			))
		}
	}

	for _, key := range sortedKeys(args) {
		if !tpl.hasNamed(key) {
			panic(ErrUnusedArgument.while(`making fragment`).format(
				`unused named argument %q in %q`, key, text,
			))
		}
	}

	named := make(Dict, len(args))
	for key, val := range args {
		named[key] = val
	}
	return Frag{tpl: tpl, named: named}
}

// Implement the `Expr` interface, making this a sub-expression.
func (self Frag) AppendExpr(bui *Bui) {
	if self.tpl == nil {
		return
	}

	var seen map[any]string

	for _, seg := range self.tpl.segs {
		if seg.ord == 0 && seg.name == `` {
			bui.Raw(seg.text)
			continue
		}

		var key, arg any
		if seg.ord > 0 {
			key, arg = seg.ord, self.args[seg.ord-1]
		} else {
			key, arg = seg.name, self.named[seg.name]
		}

		expr, ok := arg.(Expr)
		if ok {
			expr.AppendExpr(bui)
			continue
		}

		prev, ok := seen[key]
		if ok {
			bui.Raw(prev)
			continue
		}

		start := len(bui.Text)
		Param{Val: arg}.AppendExpr(bui)
		if seen == nil {
			seen = map[any]string{}
		}
		seen[key] = string(bui.Text[start:])
	}
}

// True for the zero fragment and for fragments without any text.
func (self Frag) empty() bool { return self.tpl == nil || len(self.tpl.segs) == 0 }

// Implement the `fmt.Stringer` interface for debug purposes.
func (self Frag) String() string {
	out, err := Compile(nil, self)
	if err != nil {
		return err.Error()
	}
	if len(out.Args) == 0 {
		return out.Text
	}
	return fmt.Sprintf(`%v %v`, out.Text, out.Args)
}

/*
Compiles the expression into SQL text and arguments, catching any panics and
returning them as errors. Nil config means `DefaultConfig()`.
*/
func Compile(conf *Config, expr Expr) (out Compiled, err error) {
	defer rec(&err)

	if val, ok := expr.(topLevel); ok {
		expr = val.topLevel()
	}

	bui := MakeBui(conf, 256, 16)
	if expr != nil {
		expr.AppendExpr(&bui)
	}

	out.Text = string(bui.Text)
	out.Args = bui.Args
	out.Shape = shapeOf(expr)
	return
}

// Implemented by queries that render differently when compiled on their own.
type topLevel interface{ topLevel() Expr }

// Compiles the expression with the default config, panicking on error.
// Convenient in tests and examples.
func Reify(expr Expr) (string, []any) {
	out := try1(Compile(nil, expr))
	return out.Text, out.Args
}

/*
Preparsed template. Text segments are stored verbatim; parameter segments
reference an argument by ordinal or by name.
*/
type template struct {
	segs  []segment
	ords  []int
	named []string
}

type segment struct {
	text string
	ord  int
	name string
}

func (self *template) hasOrd(ord int) bool {
	for _, val := range self.ords {
		if val == ord {
			return true
		}
	}
	return false
}

func (self *template) hasNamed(name string) bool {
	for _, val := range self.named {
		if val == name {
			return true
		}
	}
	return false
}

type templateResult struct {
	tpl *template
	err error
}

var templateCache = cacheOf(func(text string) templateResult {
	var out templateResult
	out.tpl, out.err = tokenizeTemplate(text)
	return out
})

func parseTemplate(text string) *template {
	res := templateCache.Get(text)
	try(res.err)
	return res.tpl
}

func tokenizeTemplate(src string) (_ *template, err error) {
	defer recTokenize(&err, src)

	var tpl template
	var buf []byte
	tokenizer := sqlp.Tokenizer{Source: src}

	flush := func() {
		if len(buf) > 0 {
			tpl.segs = append(tpl.segs, segment{text: string(buf)})
			buf = buf[:0]
		}
	}

	for {
		node := tokenizer.Next()
		if node == nil {
			break
		}

		switch node := node.(type) {
		case sqlp.NodeOrdinalParam:
			flush()
			ord := node.Index() + 1
			if ord < 1 {
				return nil, ErrInvalidInput.while(`parsing fragment`).format(
					`invalid ordinal parameter $%d in %q`, int(node), src,
				)
			}
			tpl.segs = append(tpl.segs, segment{ord: ord})
			if !tpl.hasOrd(ord) {
				tpl.ords = append(tpl.ords, ord)
			}

		case sqlp.NodeNamedParam:
			flush()
			name := string(node)
			tpl.segs = append(tpl.segs, segment{name: name})
			if !tpl.hasNamed(name) {
				tpl.named = append(tpl.named, name)
			}

		default:
			node.Append(&buf)
		}
	}

	flush()
	return &tpl, nil
}

func recTokenize(ptr *error, src string) {
	val := recover()
	if val == nil {
		return
	}
	*ptr = ErrInvalidInput.while(`parsing fragment`).format(`malformed SQL %q: %v`, src, val)
}
