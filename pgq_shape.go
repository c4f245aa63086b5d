package pgq

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

/*
Shape of the rows produced by a compiled query, determined when the query is
built. Tells the shaper how to turn raw rows into results.
*/
type Shape byte

const (
	// Rows as returned by the executor, with JSON columns decoded.
	ShapeRaw Shape = iota

	// Every row has a JSON object in the "result" column.
	ShapeResults

	// One row with a JSON array of objects in the "result" column.
	ShapeMany

	// At most one row with a JSON object in the "result" column.
	ShapeOne

	// Like `ShapeOne`, but zero rows and more than one row are errors.
	ShapeExactlyOne

	// One row with an integer in the "result" column.
	ShapeCount

	// One row with a nullable number in the "result" column.
	ShapeNumeric
)

// Implement `fmt.Stringer` for debug purposes.
func (self Shape) String() string {
	switch self {
	case ShapeRaw:
		return `raw`
	case ShapeResults:
		return `results`
	case ShapeMany:
		return `many`
	case ShapeOne:
		return `one`
	case ShapeExactlyOne:
		return `exactly one`
	case ShapeCount:
		return `count`
	case ShapeNumeric:
		return `numeric`
	default:
		return fmt.Sprintf(`Shape(%d)`, byte(self))
	}
}

type shaped interface{ shape() Shape }

func shapeOf(expr Expr) Shape {
	val, _ := expr.(shaped)
	if val != nil {
		return val.shape()
	}
	return ShapeRaw
}

const resultKey = `result`

/*
Decodes a JSON value received from an executor. Bytes and strings are parsed,
with numbers decoded as `json.Number`. Already-decoded values are returned
as-is.
*/
func decodeJSON(src any) (any, error) {
	var text []byte
	switch src := src.(type) {
	case json.RawMessage:
		text = src
	case []byte:
		text = src
	case string:
		text = []byte(src)
	default:
		return src, nil
	}

	dec := json.NewDecoder(bytes.NewReader(text))
	dec.UseNumber()

	var out any
	err := dec.Decode(&out)
	if err != nil {
		return nil, ErrInvalidInput.while(`decoding JSON result`).because(err)
	}
	return out, nil
}

func resultRow(src map[string]any) (Row, error) {
	val, err := decodeJSON(src[resultKey])
	if err != nil || val == nil {
		return nil, err
	}
	return toRow(val)
}

func toRow(val any) (Row, error) {
	switch val := val.(type) {
	case nil:
		return nil, nil
	case Row:
		return val, nil
	case map[string]any:
		return Row(val), nil
	default:
		return nil, ErrInvalidInput.while(`shaping result`).format(`expected a JSON object, got %T`, val)
	}
}

func shapeRaw(rows []map[string]any) []Row {
	out := make([]Row, len(rows))
	for ind, src := range rows {
		row := make(Row, len(src))
		for key, val := range src {
			if raw, ok := val.(json.RawMessage); ok {
				decoded, err := decodeJSON(raw)
				if err == nil {
					val = decoded
				}
			}
			row[key] = val
		}
		out[ind] = row
	}
	return out
}

func shapeResults(rows []map[string]any) ([]Row, error) {
	out := make([]Row, 0, len(rows))
	for _, src := range rows {
		row, err := resultRow(src)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func shapeMany(rows []map[string]any) ([]Row, error) {
	if len(rows) == 0 {
		return []Row{}, nil
	}

	val, err := decodeJSON(rows[0][resultKey])
	if err != nil {
		return nil, err
	}

	list, ok := val.([]any)
	if !ok && val != nil {
		return nil, ErrInvalidInput.while(`shaping result`).format(`expected a JSON array, got %T`, val)
	}

	out := make([]Row, 0, len(list))
	for _, elem := range list {
		row, err := toRow(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func shapeOne(rows []map[string]any) (Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	return resultRow(rows[0])
}

func shapeExactlyOne(rows []map[string]any, table string) (Row, error) {
	switch len(rows) {
	case 0:
		return nil, ErrNotFound.while(`running select query`).format(`no row in %q`, table)
	case 1:
		return resultRow(rows[0])
	default:
		return nil, ErrManyFound.while(`running select query`).format(`more than one row in %q`, table)
	}
}

func scalarOf(rows []map[string]any) any {
	if len(rows) == 0 {
		return nil
	}
	val := rows[0][resultKey]
	if valuer, ok := val.(driver.Valuer); ok {
		out, err := valuer.Value()
		if err == nil {
			return out
		}
	}
	return val
}

func shapeCount(rows []map[string]any) (int64, error) {
	switch val := scalarOf(rows).(type) {
	case nil:
		return 0, nil
	case int64:
		return val, nil
	case int32:
		return int64(val), nil
	case int:
		return int64(val), nil
	case float64:
		if val == math.Trunc(val) {
			return int64(val), nil
		}
	case json.Number:
		return val.Int64()
	case []byte:
		return json.Number(val).Int64()
	case string:
		return json.Number(val).Int64()
	}
	return 0, ErrInvalidInput.while(`shaping count`).format(`unexpected count %#v`, scalarOf(rows))
}

func shapeNumeric(rows []map[string]any) (decimal.NullDecimal, error) {
	var out decimal.NullDecimal
	var err error

	switch val := scalarOf(rows).(type) {
	case nil:
		return out, nil
	case int64:
		out.Decimal = decimal.NewFromInt(val)
	case int32:
		out.Decimal = decimal.NewFromInt32(val)
	case float64:
		out.Decimal = decimal.NewFromFloat(val)
	case json.Number:
		out.Decimal, err = decimal.NewFromString(string(val))
	case []byte:
		out.Decimal, err = decimal.NewFromString(string(val))
	case string:
		out.Decimal, err = decimal.NewFromString(val)
	default:
		err = fmt.Errorf(`unexpected number %#v`, val)
	}

	if err != nil {
		return out, ErrInvalidInput.while(`shaping numeric aggregate`).because(err)
	}
	out.Valid = true
	return out, nil
}

/*
Converts a shaped result, such as a `Row` or `[]Row`, into the given type via
JSON encoding. Useful for decoding results into structs with `json` tags.
Numbers keep full precision.
*/
func Decode[A any](src any) (out A, err error) {
	text, err := json.Marshal(src)
	if err != nil {
		return out, ErrInvalidInput.while(`decoding result`).because(err)
	}

	dec := json.NewDecoder(bytes.NewReader(text))
	dec.UseNumber()
	err = dec.Decode(&out)
	if err != nil {
		return out, ErrInvalidInput.while(`decoding result`).because(err)
	}
	return out, nil
}
