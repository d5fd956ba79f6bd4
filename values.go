package itemdb

import (
	"bytes"
	"cmp"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"
	"time"
)

// ValueType is the declared type of a literal attribute. TypeAny accepts any
// supported literal.
type ValueType uint8

const (
	TypeAny ValueType = iota
	TypeString
	TypeInt
	TypeFloat
	TypeBool
	TypeTime
	TypeBytes
	TypeList
	TypeDict
	TypeItem
)

var valueTypeNames = [...]string{"any", "string", "int", "float", "bool", "time", "bytes", "list", "dict", "item"}

func (t ValueType) String() string {
	if int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return fmt.Sprintf("type%d", int(t))
}

func ParseValueType(s string) (ValueType, error) {
	for i, n := range valueTypeNames {
		if n == s {
			return ValueType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown value type %q", s)
}

// typeOf returns the type of a normalized literal.
func typeOf(v any) ValueType {
	switch v.(type) {
	case string:
		return TypeString
	case int64:
		return TypeInt
	case float64:
		return TypeFloat
	case bool:
		return TypeBool
	case time.Time:
		return TypeTime
	case []byte:
		return TypeBytes
	case []any:
		return TypeList
	case map[string]any:
		return TypeDict
	case *Item:
		return TypeItem
	default:
		return TypeAny
	}
}

// normalizeValue converts a literal into the canonical representation used by
// the literal store: integers become int64, floats float64, times UTC, and
// composites []any / map[string]any with normalized elements.
func normalizeValue(v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil literal", ErrInvalidValue)
	case string, int64, float64, bool:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrInvalidValue, v)
		}
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrInvalidValue, v)
		}
		return int64(v), nil
	case float32:
		return float64(v), nil
	case time.Time:
		return v.UTC(), nil
	case []byte:
		return slices.Clone(v), nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			n, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			n, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = e
		}
		return out, nil
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			out := make([]any, rv.Len())
			for i := range out {
				n, err := normalizeValue(rv.Index(i).Interface())
				if err != nil {
					return nil, err
				}
				out[i] = n
			}
			return out, nil
		case reflect.String:
			return rv.String(), nil
		}
		return nil, fmt.Errorf("%w: unsupported literal type %T", ErrInvalidValue, v)
	}
}

// cloneValue deep-copies composite literals; scalars are returned as is.
func cloneValue(v any) any {
	switch v := v.(type) {
	case []byte:
		return slices.Clone(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func valuesEqual(a, b any) bool {
	switch a := a.(type) {
	case time.Time:
		bt, ok := b.(time.Time)
		return ok && a.Equal(bt)
	case []byte:
		bb, ok := b.([]byte)
		return ok && bytes.Equal(a, bb)
	case []any:
		bl, ok := b.([]any)
		return ok && slices.EqualFunc(a, bl, valuesEqual)
	case map[string]any:
		bm, ok := b.(map[string]any)
		return ok && maps.EqualFunc(a, bm, valuesEqual)
	default:
		return a == b
	}
}

// compareValues orders literals. Numbers compare numerically across int and
// float, values of different types order by type.
func compareValues(a, b any) int {
	ta, tb := typeOf(a), typeOf(b)
	if (ta == TypeInt || ta == TypeFloat) && (tb == TypeInt || tb == TypeFloat) {
		if ta == TypeInt && tb == TypeInt {
			return cmp.Compare(a.(int64), b.(int64))
		}
		return cmp.Compare(toFloat(a), toFloat(b))
	}
	if ta != tb {
		return cmp.Compare(ta, tb)
	}
	switch a := a.(type) {
	case string:
		return cmp.Compare(a, b.(string))
	case bool:
		bv := b.(bool)
		switch {
		case a == bv:
			return 0
		case !a:
			return -1
		default:
			return 1
		}
	case time.Time:
		return a.Compare(b.(time.Time))
	case []byte:
		return bytes.Compare(a, b.([]byte))
	case []any:
		return slices.CompareFunc(a, b.([]any), compareValues)
	case *Item:
		return bytes.Compare(a.id[:], b.(*Item).id[:])
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch v := v.(type) {
	case int64:
		return float64(v)
	case float64:
		return v
	default:
		return math.NaN()
	}
}

func checkValueType(typ ValueType, v any) error {
	if typ == TypeAny {
		return nil
	}
	if actual := typeOf(v); actual != typ {
		return fmt.Errorf("%w: expected %v, got %v", ErrInvalidValue, typ, actual)
	}
	return nil
}
