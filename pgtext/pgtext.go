/*
Conversions between PostgreSQL values and their text form, as found in rows
produced by `to_jsonb` and friends. Shortcut queries return JSON, where
timestamps, dates, intervals, ranges and byte arrays arrive as strings; this
package parses those strings into `pgtype` values and formats values back into
the same strings, so that a value survives a round trip through a JSON row.

Formatting follows PostgreSQL's own output for each type: ISO 8601 timestamps
with a "T" separator (the form used inside JSON), hex-encoded bytea and the
default "postgres" interval style.
*/
package pgtext

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const (
	LayoutTimestamptz = `2006-01-02T15:04:05.999999-07:00`
	LayoutTimestamp   = `2006-01-02T15:04:05.999999`
	LayoutDate        = `2006-01-02`

	layoutTimestamptzParse = `2006-01-02T15:04:05Z07:00`

	infinity    = `infinity`
	negInfinity = `-infinity`
)

var ErrInvalidText = errors.New(`invalid text representation`)

// `pgtype.Map` caches plans and is not safe for concurrent use.
var maps = sync.Pool{New: func() any { return pgtype.NewMap() }}

func withMap[A any](fun func(*pgtype.Map) (A, error)) (A, error) {
	types := maps.Get().(*pgtype.Map)
	defer maps.Put(types)
	return fun(types)
}

func invalid(typ, src string, cause error) error {
	if cause == nil {
		return fmt.Errorf(`%w of %s: %q`, ErrInvalidText, typ, src)
	}
	return fmt.Errorf(`%w of %s: %q: %w`, ErrInvalidText, typ, src, cause)
}

func formatInfinity(mod pgtype.InfinityModifier) (string, bool) {
	switch mod {
	case pgtype.Infinity:
		return infinity, true
	case pgtype.NegativeInfinity:
		return negInfinity, true
	default:
		return ``, false
	}
}

func parseInfinity(src string) pgtype.InfinityModifier {
	switch src {
	case infinity:
		return pgtype.Infinity
	case negInfinity:
		return pgtype.NegativeInfinity
	default:
		return pgtype.Finite
	}
}

/*
Formats a `timestamptz` in the JSON form: "2024-03-01T10:20:30.5+02:00". The
offset is the one of the time's location, where PostgreSQL would use the
session time zone. Trailing zeros of fractional seconds are dropped. Invalid
(null) values format as an empty string.
*/
func FormatTimestamptz(val pgtype.Timestamptz) string {
	if !val.Valid {
		return ``
	}
	if out, ok := formatInfinity(val.InfinityModifier); ok {
		return out
	}
	return val.Time.Format(LayoutTimestamptz)
}

// Inverse of `FormatTimestamptz`. Also accepts "Z" as the offset.
func ParseTimestamptz(src string) (pgtype.Timestamptz, error) {
	if mod := parseInfinity(src); mod != pgtype.Finite {
		return pgtype.Timestamptz{InfinityModifier: mod, Valid: true}, nil
	}
	inst, err := time.Parse(layoutTimestamptzParse, src)
	if err != nil {
		return pgtype.Timestamptz{}, invalid(`timestamptz`, src, err)
	}
	return pgtype.Timestamptz{Time: inst, Valid: true}, nil
}

// Formats a `timestamp` without time zone: "2024-03-01T10:20:30.5". The
// location of the time is ignored.
func FormatTimestamp(val pgtype.Timestamp) string {
	if !val.Valid {
		return ``
	}
	if out, ok := formatInfinity(val.InfinityModifier); ok {
		return out
	}
	return val.Time.Format(LayoutTimestamp)
}

// Inverse of `FormatTimestamp`. The resulting time is in UTC.
func ParseTimestamp(src string) (pgtype.Timestamp, error) {
	if mod := parseInfinity(src); mod != pgtype.Finite {
		return pgtype.Timestamp{InfinityModifier: mod, Valid: true}, nil
	}
	inst, err := time.ParseInLocation(LayoutTimestamp, src, time.UTC)
	if err != nil {
		return pgtype.Timestamp{}, invalid(`timestamp`, src, err)
	}
	return pgtype.Timestamp{Time: inst, Valid: true}, nil
}

func FormatDate(val pgtype.Date) string {
	if !val.Valid {
		return ``
	}
	if out, ok := formatInfinity(val.InfinityModifier); ok {
		return out
	}
	return val.Time.Format(LayoutDate)
}

func ParseDate(src string) (pgtype.Date, error) {
	if mod := parseInfinity(src); mod != pgtype.Finite {
		return pgtype.Date{InfinityModifier: mod, Valid: true}, nil
	}
	inst, err := time.ParseInLocation(LayoutDate, src, time.UTC)
	if err != nil {
		return pgtype.Date{}, invalid(`date`, src, err)
	}
	return pgtype.Date{Time: inst, Valid: true}, nil
}

// Formats bytes in the hex form: `\x0a0b`. Nil formats as an empty string.
func FormatBytea(val []byte) string {
	if val == nil {
		return ``
	}
	out, err := withMap(func(types *pgtype.Map) ([]byte, error) {
		return types.Encode(pgtype.ByteaOID, pgtype.TextFormatCode, val, nil)
	})
	if err != nil {
		panic(err)
	}
	return string(out)
}

// Inverse of `FormatBytea`. Only the hex form is accepted.
func ParseBytea(src string) ([]byte, error) {
	if !strings.HasPrefix(src, `\x`) {
		return nil, invalid(`bytea`, src, nil)
	}
	out, err := withMap(func(types *pgtype.Map) (out []byte, err error) {
		err = types.Scan(pgtype.ByteaOID, pgtype.TextFormatCode, []byte(src), &out)
		return
	})
	if err != nil {
		return nil, invalid(`bytea`, src, err)
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

/*
Formats an interval in PostgreSQL's default "postgres" style:

	1 year 2 mons 3 days 04:05:06.5
	-1 days +02:00:00
	00:00:00

Months are split into years and months. Microseconds are never carried over
into days, matching the database.
*/
func FormatInterval(val pgtype.Interval) string {
	if !val.Valid {
		return ``
	}

	var buf []byte
	zero, before := true, false

	part := func(num int64, unit string) {
		if num == 0 {
			return
		}
		if !zero {
			buf = append(buf, ' ')
		}
		if before && num > 0 {
			buf = append(buf, '+')
		}
		buf = strconv.AppendInt(buf, num, 10)
		buf = append(buf, ' ')
		buf = append(buf, unit...)
		if num != 1 {
			buf = append(buf, 's')
		}
		before = num < 0
		zero = false
	}

	part(int64(val.Months/12), `year`)
	part(int64(val.Months%12), `mon`)
	part(int64(val.Days), `day`)

	micros := val.Microseconds
	if zero || micros != 0 {
		if !zero {
			buf = append(buf, ' ')
		}
		if micros < 0 {
			buf = append(buf, '-')
			micros = -micros
		} else if before {
			buf = append(buf, '+')
		}

		secs := micros / 1_000_000
		frac := micros % 1_000_000
		buf = appendPadded(buf, secs/3600)
		buf = append(buf, ':')
		buf = appendPadded(buf, secs/60%60)
		buf = append(buf, ':')
		buf = appendPadded(buf, secs%60)

		if frac != 0 {
			digits := fmt.Sprintf(`%06d`, frac)
			buf = append(buf, '.')
			buf = append(buf, strings.TrimRight(digits, `0`)...)
		}
	}
	return string(buf)
}

func appendPadded(buf []byte, val int64) []byte {
	if val < 10 {
		buf = append(buf, '0')
	}
	return strconv.AppendInt(buf, val, 10)
}

// Inverse of `FormatInterval`.
func ParseInterval(src string) (pgtype.Interval, error) {
	if src == `` {
		return pgtype.Interval{}, invalid(`interval`, src, nil)
	}

	// The database prefixes the time part with "+" after a negative field.
	text := strings.ReplaceAll(src, ` +`, ` `)

	out, err := withMap(func(types *pgtype.Map) (out pgtype.Interval, err error) {
		err = types.Scan(pgtype.IntervalOID, pgtype.TextFormatCode, []byte(text), &out)
		return
	})
	if err != nil {
		return pgtype.Interval{}, invalid(`interval`, src, err)
	}
	return out, nil
}

/*
Formats a range of the given range type OID, such as `pgtype.Int8rangeOID` or
`pgtype.DaterangeOID`: "[1,10)", "(,5]", "empty". Bounds are written without
quotes, which matches the database for numeric and date ranges.
*/
func FormatRange[A any](oid uint32, val pgtype.Range[A]) (string, error) {
	if !val.Valid {
		return ``, nil
	}
	out, err := withMap(func(types *pgtype.Map) ([]byte, error) {
		return types.Encode(oid, pgtype.TextFormatCode, val, nil)
	})
	if err != nil {
		return ``, fmt.Errorf(`failed to format range: %w`, err)
	}
	return string(out), nil
}

// Inverse of `FormatRange`. Also accepts quoted bounds.
func ParseRange[A any](oid uint32, src string) (pgtype.Range[A], error) {
	out, err := withMap(func(types *pgtype.Map) (out pgtype.Range[A], err error) {
		err = types.Scan(oid, pgtype.TextFormatCode, []byte(src), &out)
		return
	})
	if err != nil {
		return pgtype.Range[A]{}, invalid(`range`, src, err)
	}
	return out, nil
}
