package model

import (
	"maps"
	"slices"
	"strconv"
)

// Value is an attribute value: string, int64, float64 or bool. An attribute
// missing from the bag is unknown, which is different from a zero value.
type Value = any

// Attributes is the extensible attribute set of an object.
type Attributes map[string]Value

// Get returns the value and whether it is known.
func (a Attributes) Get(name string) (Value, bool) {
	v, ok := a[name]
	return v, ok
}

func (a Attributes) String(name string) string {
	switch v := a[name].(type) {
	case string:
		return v
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return ""
	}
}

func (a Attributes) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}

func (a Attributes) Int(name string) int64 {
	switch v := a[name].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

// Clone returns an independent copy.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	return maps.Clone(a)
}

// Equal reports whether both bags hold the same known values.
func (a Attributes) Equal(b Attributes) bool {
	return maps.Equal(a, b)
}

// Merge returns a copy of a overlaid with b.
func (a Attributes) Merge(b Attributes) Attributes {
	out := a.Clone()
	maps.Copy(out, b)
	return out
}

// Keys returns the attribute names in sorted order.
func (a Attributes) Keys() []string {
	return slices.Sorted(maps.Keys(a))
}

// Element is an ordered sub-element of an object, such as a column of an
// index. Position is 1-based and significant.
type Element struct {
	Name       string
	Position   int
	Descending bool
}

// Record is one introspected object before it is bound into the graph.
type Record struct {
	Name     string
	Attrs    Attributes
	Elements []Element
}
