package docstore

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Normalize maps Go values onto the store's value space: nil, bool,
// float64, Timestamp, string, []any and map[string]any. Named string types
// (model.Status) become plain strings and every integer becomes float64.
// Containers are copied.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case Timestamp:
		return x
	case time.Time:
		return TimestampOf(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return TimestampOf(*x)
	case string, bool, float64:
		return x
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]any, rv.Len())
		it := rv.MapRange()
		for it.Next() {
			out[it.Key().String()] = Normalize(it.Value().Interface())
		}
		return out
	}
	return v
}

// NormalizeMap is Normalize for document bodies.
func NormalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return Normalize(m).(map[string]any)
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case Timestamp:
		return 3
	case string:
		return 4
	case []any:
		return 5
	case map[string]any:
		return 6
	}
	return 7
}

// Compare orders two normalized values. Values of different types order by
// type: null < bool < number < timestamp < string < list < map.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmpInt(int64(ra), int64(rb))
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case Timestamp:
		y := b.(Timestamp)
		if c := cmpInt(x.Seconds, y.Seconds); c != 0 {
			return c
		}
		return cmpInt(int64(x.Nanos), int64(y.Nanos))
	case string:
		return strings.Compare(x, b.(string))
	case []any:
		y := b.([]any)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := Compare(x[i], y[i]); c != 0 {
				return c
			}
		}
		return cmpInt(int64(len(x)), int64(len(y)))
	}
	return 0
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Matches reports whether data satisfies f. Range and equality filters only
// match values of the same type, and a missing field never matches.
func Matches(data map[string]any, f Filter) bool {
	v, ok := data[f.Field]
	if !ok {
		return false
	}
	want := Normalize(f.Value)
	switch f.Op {
	case OpEq:
		return rank(v) == rank(want) && Compare(v, want) == 0
	case OpGte:
		return rank(v) == rank(want) && Compare(v, want) >= 0
	case OpIn:
		list, _ := want.([]any)
		for _, w := range list {
			if rank(v) == rank(w) && Compare(v, w) == 0 {
				return true
			}
		}
	}
	return false
}

// Apply evaluates q over docs in memory. Ordering on a field excludes
// documents that lack it; ties break on id.
func Apply(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
next:
	for _, d := range docs {
		for _, f := range q.Filters {
			if !Matches(d.Data, f) {
				continue next
			}
		}
		if q.Order != nil {
			if _, ok := d.Data[q.Order.Field]; !ok {
				continue
			}
		}
		out = append(out, d)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if q.Order != nil {
			c := Compare(out[i].Data[q.Order.Field], out[j].Data[q.Order.Field])
			if q.Order.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return out[i].ID < out[j].ID
	})

	if q.Max > 0 && len(out) > q.Max {
		out = out[:q.Max]
	}
	return out
}

const (
	tsSeconds = "_seconds"
	tsNanos   = "_nanoseconds"
)

// EncodeJSON turns a normalized value into a JSON-safe tree. Timestamps
// become {"_seconds": n, "_nanoseconds": n}.
func EncodeJSON(v any) any {
	switch x := v.(type) {
	case Timestamp:
		return map[string]any{tsSeconds: x.Seconds, tsNanos: int64(x.Nanos)}
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = EncodeJSON(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = EncodeJSON(e)
		}
		return out
	}
	return v
}

// DecodeJSON reverses EncodeJSON and normalizes numbers to float64.
func DecodeJSON(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 2 {
			s, okS := number(x[tsSeconds])
			n, okN := number(x[tsNanos])
			if okS && okN {
				return Timestamp{Seconds: int64(s), Nanos: int32(n)}
			}
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = DecodeJSON(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = DecodeJSON(e)
		}
		return out
	case json.Number:
		f, _ := x.Float64()
		return f
	}
	return Normalize(v)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
