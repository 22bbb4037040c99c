package event

import (
	"fmt"

	"github.com/ppiankov/flowtrace/internal/object"
)

// Kind discriminates the trace event variants.
type Kind string

const (
	KindCall   Kind = "call"
	KindReturn Kind = "return"
	KindRead   Kind = "read"
	KindWrite  Kind = "write"
	KindMutate Kind = "mutate"
	KindDelete Kind = "delete"
)

// Loc is a source location in the traced script.
type Loc struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
	Col  int    `json:"col,omitempty"`
}

func (l Loc) String() string {
	if l.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Col)
}

// Value describes one operand as observed at emission time: its
// identity plus what the inspector could say about it.
type Value struct {
	ID      object.Identity `json:"id"`
	Type    string          `json:"type"`
	Summary string          `json:"summary,omitempty"`
	Literal bool            `json:"literal,omitempty"`
}

// Arg is one named operand of a call.
type Arg struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Event is one atomic observation of the traced program. Seq is
// assigned by the Tracer, is never reused, and defines the
// authoritative total order; no other clock is consulted.
//
// Field use by kind:
//
//	call:   Qual, Atomic, Args
//	return: Qual, Value (nil for void returns)
//	read:   Name, Value
//	write:  Name, Value
//	mutate: Op, Value (the mutated object)
//	delete: Name (binding removed) and/or Value (identity evicted
//	        because its object became unreachable)
type Event struct {
	Seq    uint64 `json:"seq"`
	Kind   Kind   `json:"kind"`
	Loc    Loc    `json:"loc"`
	Qual   string `json:"qual,omitempty"`
	Atomic bool   `json:"atomic,omitempty"`
	Args   []Arg  `json:"args,omitempty"`
	Name   string `json:"name,omitempty"`
	Op     string `json:"op,omitempty"`
	Value  *Value `json:"value,omitempty"`
}
