package pgq

/*
Per-column condition object, compiled into a conjunction of column conditions
sorted by key. Empty `Where` matches every row:

	Where{}                                 -> true
	Where{`a`: 10}                          -> ("alias"."a" = $1)
	Where{`a`: nil}                         -> ("alias"."a" is null)
	Where{`a`: Parent(`id`)}                -> ("alias"."a" = "parent"."id")
	Where{`a`: SQL(`$1 > $2`, Self, 10)}    -> (("alias"."a" > $1))

Fragment values are compiled with `Self` bound to the column under their key,
and parenthesized. Other expressions and plain values are compared for
equality; nil values, including typed nil pointers, become `is null`. Columns
are qualified with the alias of the current query, if any.
*/
type Where map[string]any

// Implement the `Expr` interface, making this a sub-expression.
func (self Where) AppendExpr(bui *Bui) {
	if len(self) == 0 {
		bui.Str(`true`)
		return
	}

	bui.Str(`(`)
	for ind, key := range sortedKeys(self) {
		if ind > 0 {
			bui.Str(`and`)
		}
		appendColumnCond(bui, key, self[key])
	}
	bui.Str(`)`)
}

/*
Makes a `Where` from a row-like input: a map or a struct with `db` tags. Every
column is compared for equality.
*/
func WhereOf(row any) Where {
	keys, vals := rowOf(row)
	out := make(Where, len(keys))
	for ind, key := range keys {
		out[key] = vals[ind]
	}
	return out
}

func appendColumnCond(bui *Bui, col string, val any) {
	if isNil(val) {
		bui.Space()
		bui.Column(col)
		bui.Str(`is null`)
		return
	}

	switch val := val.(type) {
	case Frag:
		nonEmptyFrag(`appending column condition`, col, val)
		bui.Str(`(`)
		bui.WithSelf(col, func() { val.AppendExpr(bui) })
		bui.Str(`)`)

	case ParentRef:
		bui.Space()
		bui.Column(col)
		bui.Str(`= `)
		bui.WithSelf(col, func() { val.AppendExpr(bui) })

	case Expr:
		bui.Space()
		bui.Column(col)
		bui.Str(`= `)
		val.AppendExpr(bui)

	default:
		bui.Space()
		bui.Column(col)
		bui.Str(`= `)
		Param{Val: val}.AppendExpr(bui)
	}
}

func nonEmptyFrag(while, col string, val Frag) {
	if val.empty() {
		panic(ErrInvalidInput.while(while).format(`empty fragment under column %q`, col))
	}
}

/*
Appends a condition argument of a shortcut query: `Where`, `All`, a fragment
or any other expression. Nil is rejected, so that matching every row is always
explicit.
*/
func appendCondition(bui *Bui, while string, cond Expr) {
	if cond == nil || isNil(cond) {
		panic(ErrInvalidInput.while(while).format(
			`missing condition; use pgq.All to match every row`,
		))
	}
	bui.Space()
	cond.AppendExpr(bui)
}
