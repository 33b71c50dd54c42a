package docstore

import "fmt"

type Op string

const (
	OpEq  Op = "=="
	OpGte Op = ">="
	OpIn  Op = "in"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

type Order struct {
	Field string
	Desc  bool
}

// Query is built with Collection(...).Where(...).OrderBy(...).Limit(...).
// Each builder call returns a new value.
type Query struct {
	Collection string
	Filters    []Filter
	Order      *Order
	Max        int // 0 = unlimited
}

func Collection(name string) Query {
	return Query{Collection: name}
}

func (q Query) Where(field string, op Op, value any) Query {
	fs := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(fs, q.Filters)
	q.Filters = append(fs, Filter{Field: field, Op: op, Value: value})
	return q
}

func (q Query) OrderBy(field string, desc bool) Query {
	q.Order = &Order{Field: field, Desc: desc}
	return q
}

func (q Query) Limit(n int) Query {
	q.Max = n
	return q
}

// FilterOn returns the first filter on field, if any.
func (q Query) FilterOn(field string) (Filter, bool) {
	for _, f := range q.Filters {
		if f.Field == field {
			return f, true
		}
	}
	return Filter{}, false
}

func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("docstore: query without collection")
	}
	if q.Max < 0 {
		return fmt.Errorf("docstore: negative limit %d", q.Max)
	}
	for _, f := range q.Filters {
		switch f.Op {
		case OpEq, OpGte:
		case OpIn:
			if _, ok := Normalize(f.Value).([]any); !ok {
				return fmt.Errorf("docstore: %q in-filter needs a list", f.Field)
			}
		default:
			return fmt.Errorf("docstore: unsupported operator %q", f.Op)
		}
	}
	return nil
}
