package pgq

import (
	"database/sql/driver"
	r "reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unsafe"
)

const (
	ordinalParamPrefix = '$'
	selfDelim          = '.'
)

var (
	typeTime   = r.TypeOf((*time.Time)(nil)).Elem()
	typeBytes  = r.TypeOf((*[]byte)(nil)).Elem()
	typeValuer = r.TypeOf((*driver.Valuer)(nil)).Elem()

	charsetSpace      = new(charset).addStr(" \t\v")
	charsetNewline    = new(charset).addStr("\r\n")
	charsetWhitespace = new(charset).addSet(charsetSpace).addSet(charsetNewline)
	charsetDelimStart = new(charset).addSet(charsetWhitespace).addStr(`([{.`)
	charsetDelimEnd   = new(charset).addSet(charsetWhitespace).addStr(`,}])`)
)

type charset [256]bool

func (self *charset) has(val byte) bool { return self[val] }

func (self *charset) addStr(vals string) *charset {
	for _, val := range vals {
		self[val] = true
	}
	return self
}

func (self *charset) addSet(vals *charset) *charset {
	for ind, val := range vals {
		if val {
			self[ind] = true
		}
	}
	return self
}

func cacheOf[Key, Val any](fun func(Key) Val) *cache[Key, Val] {
	return &cache[Key, Val]{Func: fun}
}

type cache[Key, Val any] struct {
	sync.Map
	Func func(Key) Val
}

// Susceptible to "thundering herd". An improvement from no caching, but still
// not ideal.
func (self *cache[Key, Val]) Get(key Key) Val {
	iface, ok := self.Load(key)
	if ok {
		return iface.(Val)
	}

	val := self.Func(key)
	self.Store(key, val)
	return val
}

/*
Allocation-free conversion. Reinterprets a byte slice as a string. Borrowed from
the standard library. Reasonably safe. Should not be used when the underlying
byte array is volatile.
*/
func bytesToMutableString(bytes []byte) string {
	return *(*string)(unsafe.Pointer(&bytes))
}

func maybeAppendSpace(val []byte) []byte {
	if hasDelimSuffix(bytesToMutableString(val)) {
		return val
	}
	return append(val, ` `...)
}

func appendMaybeSpaced(text []byte, suffix string) []byte {
	if !hasDelimSuffix(bytesToMutableString(text)) && !hasDelimPrefix(suffix) {
		text = append(text, ` `...)
	}
	text = append(text, suffix...)
	return text
}

func hasDelimPrefix(text string) bool {
	return len(text) == 0 || charsetDelimEnd.has(text[0])
}

func hasDelimSuffix(text string) bool {
	return len(text) == 0 || charsetDelimStart.has(text[len(text)-1])
}

func appendOrdinal(text []byte, ord int) []byte {
	text = append(text, ordinalParamPrefix)
	return strconv.AppendInt(text, int64(ord), 10)
}

var ordReg = regexp.MustCompile(
	`^\s*((?:\w+\.)*\w+)(?i)(?:\s+(asc|desc))?(?:\s+nulls\s+(first|last))?\s*$`,
)

func try(err error) {
	if err != nil {
		panic(err)
	}
}

func try1[A any](val A, err error) A {
	try(err)
	return val
}

// Must be deferred.
func rec(ptr *error) {
	val := recover()
	if val == nil {
		return
	}

	err, _ := val.(error)
	if err != nil {
		*ptr = err
		return
	}

	panic(val)
}

func isNil(val any) bool {
	if val == nil {
		return true
	}
	rval := r.ValueOf(val)
	switch rval.Kind() {
	case r.Chan, r.Func, r.Interface, r.Map, r.Pointer, r.Slice:
		return rval.IsNil()
	default:
		return false
	}
}

func valueDeref(rval r.Value) r.Value {
	for rval.Kind() == r.Pointer {
		if rval.IsNil() {
			return r.Value{}
		}
		rval = rval.Elem()
	}
	return rval
}

func sortedKeys[A any](val map[string]A) []string {
	out := make([]string, 0, len(val))
	for key := range val {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Last dot-separated segment of a possibly schema-qualified name.
func unqualified(name string) string {
	ind := strings.LastIndexByte(name, selfDelim)
	if ind >= 0 {
		return name[ind+1:]
	}
	return name
}
