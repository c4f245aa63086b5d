/*
Ready-made per-column conditions for `pgq.Where` and assignments for
`pgq.Update`. Every condition refers to its column via `pgq.Self`, which is
bound to the key the condition is used under:

	pgq.Where{
		`age`:   cond.Between(18, 65),
		`email`: cond.Ilike(`%@example.com`),
		`id`:    cond.In(1, 2, 3),
	}

Outside of a `Where` or an update, compiling a condition fails with
`pgq.ErrResolution`.
*/
package cond

import (
	"strconv"
	"strings"

	"github.com/mitranim/pgq"
)

func binary(op string, val any) pgq.Frag {
	return pgq.SQL(`$1 `+op+` $2`, pgq.Self, val)
}

func unary(suffix string) pgq.Frag {
	return pgq.SQL(`$1 `+suffix, pgq.Self)
}

// Column equals the value. Same as using the plain value in `pgq.Where`,
// except that nil compares with `=` rather than `is null`.
func Eq(val any) pgq.Frag { return binary(`=`, val) }

// Column doesn't equal the value.
func Ne(val any) pgq.Frag { return binary(`<>`, val) }

// Column is greater than the value.
func Gt(val any) pgq.Frag { return binary(`>`, val) }

// Column is greater than or equal to the value.
func Gte(val any) pgq.Frag { return binary(`>=`, val) }

// Column is less than the value.
func Lt(val any) pgq.Frag { return binary(`<`, val) }

// Column is less than or equal to the value.
func Lte(val any) pgq.Frag { return binary(`<=`, val) }

// Column is within the inclusive range.
func Between(lower, upper any) pgq.Frag {
	return pgq.SQL(`$1 between $2 and $3`, pgq.Self, lower, upper)
}

// Column is outside of the inclusive range.
func NotBetween(lower, upper any) pgq.Frag {
	return pgq.SQL(`$1 not between $2 and $3`, pgq.Self, lower, upper)
}

func IsNull() pgq.Frag    { return unary(`is null`) }
func IsNotNull() pgq.Frag { return unary(`is not null`) }
func IsTrue() pgq.Frag    { return unary(`is true`) }
func IsFalse() pgq.Frag   { return unary(`is false`) }

// Null-safe inequality.
func IsDistinctFrom(val any) pgq.Frag { return binary(`is distinct from`, val) }

// Null-safe equality.
func IsNotDistinctFrom(val any) pgq.Frag { return binary(`is not distinct from`, val) }

func Like(pattern string) pgq.Frag     { return binary(`like`, pattern) }
func NotLike(pattern string) pgq.Frag  { return binary(`not like`, pattern) }
func Ilike(pattern string) pgq.Frag    { return binary(`ilike`, pattern) }
func NotIlike(pattern string) pgq.Frag { return binary(`not ilike`, pattern) }

// Column matches the POSIX regular expression.
func Matches(pattern string) pgq.Frag { return binary(`~`, pattern) }

// Case-insensitive `Matches`.
func MatchesInsensitive(pattern string) pgq.Frag { return binary(`~*`, pattern) }

func NotMatches(pattern string) pgq.Frag            { return binary(`!~`, pattern) }
func NotMatchesInsensitive(pattern string) pgq.Frag { return binary(`!~*`, pattern) }
func SimilarTo(pattern string) pgq.Frag             { return binary(`similar to`, pattern) }
func NotSimilarTo(pattern string) pgq.Frag          { return binary(`not similar to`, pattern) }

/*
Column equals one of the values. Every value becomes a separate parameter.
With no values, the condition is always false, instead of the invalid
`in ()`.
*/
func In(vals ...any) pgq.Frag {
	if len(vals) == 0 {
		return pgq.SQL(`false`)
	}
	return list(`in`, vals)
}

// Same as `In` for a typed slice.
func InList[A any](vals []A) pgq.Frag { return In(anys(vals)...) }

// Same as `NotIn` for a typed slice.
func NotInList[A any](vals []A) pgq.Frag { return NotIn(anys(vals)...) }

func anys[A any](vals []A) []any {
	out := make([]any, len(vals))
	for ind, val := range vals {
		out[ind] = val
	}
	return out
}

// Column equals none of the values. With no values, the condition is always
// true.
func NotIn(vals ...any) pgq.Frag {
	if len(vals) == 0 {
		return pgq.SQL(`true`)
	}
	return list(`not in`, vals)
}

// Column equals a value of the subquery, which must select one column.
func InQuery(query pgq.Expr) pgq.Frag { return pgq.SQL(`$1 in ($2)`, pgq.Self, query) }

func list(op string, vals []any) pgq.Frag {
	var buf strings.Builder
	buf.WriteString(`$1 `)
	buf.WriteString(op)
	buf.WriteString(` (`)
	for ind := range vals {
		if ind > 0 {
			buf.WriteString(`, `)
		}
		buf.WriteString(ordinal(ind + 2))
	}
	buf.WriteString(`)`)
	return pgq.SQL(buf.String(), append([]any{pgq.Self}, vals...)...)
}

/*
Conjunction of conditions, each parenthesized. Nil conditions are skipped.
With no conditions, the result is `true`, the identity of "and".
*/
func And(vals ...pgq.Expr) pgq.Frag { return junction(`and`, `true`, vals) }

/*
Disjunction of conditions, each parenthesized. Nil conditions are skipped.
With no conditions, the result is `false`, the identity of "or".
*/
func Or(vals ...pgq.Expr) pgq.Frag { return junction(`or`, `false`, vals) }

// Negation of the condition.
func Not(val pgq.Expr) pgq.Frag { return pgq.SQL(`not ($1)`, val) }

func junction(op, empty string, vals []pgq.Expr) pgq.Frag {
	var buf strings.Builder
	var args []any

	for _, val := range vals {
		if val == nil {
			continue
		}
		if len(args) > 0 {
			buf.WriteString(` ` + op + ` `)
		}
		args = append(args, val)
		buf.WriteString(`(`)
		buf.WriteString(ordinal(len(args)))
		buf.WriteString(`)`)
	}

	if len(args) == 0 {
		return pgq.SQL(empty)
	}
	return pgq.SQL(buf.String(), args...)
}

// Column plus the value. Meant for updates, as in `cond.Add(1)` for an
// increment.
func Add(val any) pgq.Frag { return binary(`+`, val) }

// Column minus the value. Meant for updates.
func Subtract(val any) pgq.Frag { return binary(`-`, val) }

// Column multiplied by the value. Meant for updates.
func Multiply(val any) pgq.Frag { return binary(`*`, val) }

// Column divided by the value. Meant for updates.
func Divide(val any) pgq.Frag { return binary(`/`, val) }

func ordinal(val int) string { return `$` + strconv.Itoa(val) }
