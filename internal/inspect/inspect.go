// Package inspect extracts a uniform description of runtime values:
// a type tag, an optional scalar summary, and child references.
// Dispatch is a table keyed by runtime type, extended by registration
// rather than by modifying the core logic.
package inspect

import (
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"
)

// MaxSummary caps the length of a scalar summary attribute. Longer
// values are truncated with a marker rather than rejected.
const MaxSummary = 64

// Summary is the uniform description of one runtime value.
type Summary struct {
	Type     string // type tag, e.g. "int", "string", "list"
	Scalar   string // printable form for scalars, "" for containers
	Children []any  // child references for containers
}

// Func extracts a Summary from values of one registered type.
type Func func(v any) Summary

// Inspector dispatches on the concrete runtime type of a value.
type Inspector struct {
	table    map[reflect.Type]Func
	fallback Func
}

// New creates an inspector with the builtin scalar types registered.
func New() *Inspector {
	in := &Inspector{
		table:    make(map[reflect.Type]Func),
		fallback: fallbackSummary,
	}
	in.Register(int64(0), func(v any) Summary {
		return Summary{Type: "int", Scalar: fmt.Sprintf("%d", v.(int64))}
	})
	in.Register(float64(0), func(v any) Summary {
		return Summary{Type: "float", Scalar: fmt.Sprintf("%g", v.(float64))}
	})
	in.Register("", func(v any) Summary {
		return Summary{Type: "string", Scalar: Truncate(v.(string))}
	})
	in.Register(false, func(v any) Summary {
		return Summary{Type: "bool", Scalar: fmt.Sprintf("%t", v.(bool))}
	})
	return in
}

// Register installs an extractor for the concrete type of sample,
// replacing any previous registration for that type.
func (in *Inspector) Register(sample any, fn Func) {
	in.table[reflect.TypeOf(sample)] = fn
}

// Inspect describes v. Nil is reported as type "none"; types without
// a registration fall back to a reflective description.
func (in *Inspector) Inspect(v any) Summary {
	if v == nil {
		return Summary{Type: "none"}
	}
	if fn, ok := in.table[reflect.TypeOf(v)]; ok {
		return fn(v)
	}
	return in.fallback(v)
}

func fallbackSummary(v any) Summary {
	t := reflect.TypeOf(v)
	tag := t.String()
	if i := strings.LastIndex(tag, "."); i >= 0 {
		tag = tag[i+1:]
	}
	return Summary{Type: strings.ToLower(tag), Scalar: Truncate(fmt.Sprintf("%v", v))}
}

// Truncate makes s safe to carry as a graph attribute: invalid UTF-8
// is replaced and the result is capped at MaxSummary runes.
func Truncate(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	runes := []rune(s)
	if len(runes) <= MaxSummary {
		return s
	}
	return string(runes[:MaxSummary-3]) + "..."
}
