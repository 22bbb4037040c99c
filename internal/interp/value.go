package interp

import (
	"fmt"
	"strings"

	"github.com/ppiankov/flowtrace/internal/object"
)

// Value is one runtime value of the traced program together with its
// tracked identity. The payload is one of: nil, int64, float64,
// string, bool, *List, *Dict.
type Value struct {
	id      object.Identity
	data    any
	refs    int
	lit     bool
	evicted bool
}

// List is the builtin mutable sequence.
type List struct {
	Items []*Value
}

// Dict is the builtin string-keyed mutable mapping. Keys keeps
// insertion order so iteration and summaries are deterministic.
type Dict struct {
	Keys []string
	Vals map[string]*Value
}

// NewDict creates an empty Dict.
func NewDict() *Dict {
	return &Dict{Vals: make(map[string]*Value)}
}

// Set inserts or replaces a key, preserving first-insertion order.
func (d *Dict) Set(key string, v *Value) (old *Value) {
	if existing, ok := d.Vals[key]; ok {
		d.Vals[key] = v
		return existing
	}
	d.Keys = append(d.Keys, key)
	d.Vals[key] = v
	return nil
}

// Del removes a key. Returns the removed value, if any.
func (d *Dict) Del(key string) (*Value, bool) {
	v, ok := d.Vals[key]
	if !ok {
		return nil, false
	}
	delete(d.Vals, key)
	for i, k := range d.Keys {
		if k == key {
			d.Keys = append(d.Keys[:i], d.Keys[i+1:]...)
			break
		}
	}
	return v, true
}

// typeTag names the runtime type of a payload.
func typeTag(data any) string {
	switch data.(type) {
	case nil:
		return "none"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "string"
	case bool:
		return "bool"
	case *List:
		return "list"
	case *Dict:
		return "dict"
	default:
		return fmt.Sprintf("%T", data)
	}
}

// render gives the printable form of a value, used by print and str.
func render(v *Value) string {
	switch data := v.data.(type) {
	case nil:
		return "none"
	case string:
		return data
	case *List:
		parts := make([]string, len(data.Items))
		for i, item := range data.Items {
			parts[i] = render(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *Dict:
		parts := make([]string, len(data.Keys))
		for i, k := range data.Keys {
			parts[i] = k + ": " + render(data.Vals[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("%v", data)
	}
}

// truthy reports the boolean interpretation of a value. Only booleans
// are truthy or falsy; everything else is a type error at the caller.
func truthy(v *Value) (bool, bool) {
	b, ok := v.data.(bool)
	return b, ok
}
