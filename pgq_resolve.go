package pgq

import "strings"

/*
Infers the parent-side column of a `Parent()` reference without an explicit
column. `child` and `parent` are the tables of the innermost and the enclosing
frame. `col` is the current per-column condition column, empty outside of
one.

Inside a per-column condition on column C, the candidates are the foreign
keys from `child.C` to the parent and from the parent to `child.C`. When no
foreign key relates the two tables, the candidate is the same-named column C.
Outside of a per-column condition, every foreign key between the two tables is
a candidate. Exactly one candidate is required.
*/
func (self *Config) inferParentColumn(child, parent, col string) string {
	var found []string
	var related bool

	for _, key := range self.ForeignKeys {
		if sameTable(key.Table, child) && sameTable(key.RefTable, parent) {
			related = true
			if col == `` || key.Column == col {
				found = appendNew(found, key.RefColumn)
			}
		}
		if sameTable(key.Table, parent) && sameTable(key.RefTable, child) {
			related = true
			if col == `` || key.RefColumn == col {
				found = appendNew(found, key.Column)
			}
		}
	}

	if !related && col != `` {
		return col
	}

	switch len(found) {
	case 1:
		return found[0]

	case 0:
		if col == `` {
			panic(ErrNoReference.while(`inferring parent column`).format(
				`no foreign key relates %q to %q; specify the parent column`,
				child, parent,
			))
		}
		panic(ErrNoReference.while(`inferring parent column`).format(
			`no foreign key relates %q.%q to %q; specify the parent column`,
			child, col, parent,
		))

	default:
		panic(ErrAmbiguousReference.while(`inferring parent column`).format(
			`candidate columns %q of %q for a reference from %q; specify the parent column`,
			found, parent, child,
		))
	}
}

// Compares table names, treating the "public" schema as implicit.
func sameTable(one, two string) bool {
	return strings.TrimPrefix(one, `public.`) == strings.TrimPrefix(two, `public.`)
}

func appendNew(list []string, val string) []string {
	for _, prev := range list {
		if prev == val {
			return list
		}
	}
	return append(list, val)
}
