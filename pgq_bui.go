package pgq

import "strings"

/*
Prealloc tool. Makes a `Bui` with the specified capacity of the text and args
buffers, using the given config. Nil config means `DefaultConfig()`.
*/
func MakeBui(conf *Config, textCap, argsCap int) Bui {
	return Bui{
		Text: make([]byte, 0, textCap),
		Args: make([]any, 0, argsCap),
		Conf: conf,
	}
}

/*
Short for "builder". Compilation context threaded through every `Expr`: the
output text, the output arguments, the config, and the stack of enclosing
query frames used to resolve `Self` and `Parent`. Created fresh for every
compilation and discarded afterwards.
*/
type Bui struct {
	Text []byte
	Args []any
	Conf *Config

	self   string
	frames []frame
}

// Query in scope: a table under an alias. Saves the column that was current
// in the enclosing scope, restored when the frame is popped.
type frame struct {
	Table string
	Alias string
	outer string
}

// Returns inner text as a string, performing a free cast.
func (self Bui) String() string {
	return bytesToMutableString(self.Text)
}

// Shortcut for `self.String(), self.Args`.
func (self Bui) Reify() (string, []any) {
	return self.String(), self.Args
}

// Returns the config, falling back on `DefaultConfig()`.
func (self *Bui) Config() *Config {
	if self.Conf == nil {
		self.Conf = DefaultConfig()
	}
	return self.Conf
}

// Adds a space if the preceding text doesn't already end with a terminator.
func (self *Bui) Space() {
	self.Text = maybeAppendSpace(self.Text)
}

// Appends the provided string, delimiting it from the previous text with a
// space if necessary.
func (self *Bui) Str(val string) {
	self.Text = appendMaybeSpaced(self.Text, val)
}

// Appends the provided string verbatim.
func (self *Bui) Raw(val string) {
	self.Text = append(self.Text, val...)
}

/*
Appends an expression, delimited from the preceding text by a space, if
necessary. Nil input is a nop: nothing will be appended.
*/
func (self *Bui) Expr(val Expr) {
	if val != nil {
		self.Space()
		val.AppendExpr(self)
	}
}

// Appends each expr by calling `(*Bui).Expr`. They will be space-separated as
// necessary.
func (self *Bui) Exprs(vals ...Expr) {
	for _, val := range vals {
		self.Expr(val)
	}
}

// Same as `(*Bui).Exprs` but catches panics. Since many functions in this
// package use panics, this should be used for final reification by apps that
// insist on errors-as-values.
func (self *Bui) CatchExprs(vals ...Expr) (err error) {
	defer rec(&err)
	self.Exprs(vals...)
	return
}

/*
Appends an arg to the inner slice of args, returning the corresponding ordinal
index. Requires caution: does not append the corresponding ordinal parameter.
*/
func (self *Bui) OrphanArg(val any) int {
	self.Args = append(self.Args, val)
	return len(self.Args)
}

// Appends an ordinal parameter such as "$1" verbatim. Does not verify the
// existence of the corresponding argument.
func (self *Bui) OrphanParam(ord int) {
	self.Text = appendOrdinal(self.Text, ord)
}

/*
Appends an argument and its ordinal parameter, space-separated from the
previous text if necessary. Arrays and objects are cast to JSON according to
the config. See `Param`.
*/
func (self *Bui) Arg(val any) {
	self.Space()
	Param{Val: val}.AppendExpr(self)
}

/*
Runs the function with the given column as the current "self" column, used by
`Self` and by parent inference. Restores the previous column afterwards.
*/
func (self *Bui) WithSelf(col string, fun func()) {
	prev := self.self
	self.self = col
	defer func() { self.self = prev }()
	fun()
}

/*
Runs the function inside a new query frame. `Parent` markers compiled inside
the function refer to the enclosing frame. The current "self" column is
cleared for the duration of the function. Panics with `ErrAmbiguousReference`
if an enclosing frame already uses the same alias, since the inner alias would
shadow it.
*/
func (self *Bui) WithFrame(table, alias string, fun func()) {
	if alias == `` {
		alias = unqualified(table)
	}

	for _, val := range self.frames {
		if val.Alias == alias {
			panic(ErrAmbiguousReference.while(`entering nested query`).format(
				`alias %q of table %q is already used by an enclosing query on table %q; specify a distinct alias`,
				alias, table, val.Table,
			))
		}
	}

	self.frames = append(self.frames, frame{Table: table, Alias: alias, outer: self.self})
	self.self = ``

	defer func() {
		last := self.frames[len(self.frames)-1]
		self.frames = self.frames[:len(self.frames)-1]
		self.self = last.outer
	}()
	fun()
}

// Alias of the innermost query frame, or an empty string outside of any frame.
func (self *Bui) Alias() string {
	if len(self.frames) == 0 {
		return ``
	}
	return self.frames[len(self.frames)-1].Alias
}

// Appends a column reference qualified with the alias of the innermost frame,
// if any. Names containing dots are treated as already qualified.
func (self *Bui) Column(col string) {
	alias := self.Alias()
	if alias == `` || strings.IndexByte(col, selfDelim) >= 0 {
		Ident(col).AppendExpr(self)
		return
	}
	Identifier{alias, col}.AppendExpr(self)
}

func (self *Bui) appendSelf() {
	if self.self == `` {
		panic(ErrResolution.while(`appending self reference`).format(
			`self reference used outside of a per-column condition`,
		))
	}
	self.Column(self.self)
}

func (self *Bui) appendParent(col string) {
	count := len(self.frames)
	if count < 2 {
		panic(ErrResolution.while(`appending parent reference`).format(
			`parent reference used outside of a nested query`,
		))
	}

	child, parent := self.frames[count-1], self.frames[count-2]
	if col == `` {
		col = self.Config().inferParentColumn(child.Table, parent.Table, self.self)
	}
	Identifier{parent.Alias, col}.AppendExpr(self)
}
