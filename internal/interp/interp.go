// Package interp executes traced scripts. It is the one
// environment-specific piece of the recorder: it parses a script
// (a Go-syntax subset), walks it, and reports everything it does
// through trace events. Downstream of the event stream, nothing knows
// how execution happened.
//
// Scripts are plain files: a package clause, optional function
// declarations with parameters typed any, and a main function.
// Unsupported syntax is rejected before execution starts.
package interp

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"os"

	"github.com/ppiankov/flowtrace/internal/event"
	"github.com/ppiankov/flowtrace/internal/inspect"
	"github.com/ppiankov/flowtrace/internal/object"
)

// Interp loads and runs one traced script.
type Interp struct {
	reg   *object.Registry
	tr    *event.Tracer
	insp  *inspect.Inspector
	fset  *token.FileSet
	path  string
	pkg   string
	funcs map[string]*ast.FuncDecl
	out   io.Writer // destination of the script's print builtin
	temps []*Value  // statement-scoped temporaries pending eviction
}

// New creates an interpreter emitting through tr and allocating
// identities from reg. The inspector learns the interpreter's
// container types by registration.
func New(reg *object.Registry, tr *event.Tracer, insp *inspect.Inspector) *Interp {
	it := &Interp{
		reg:   reg,
		tr:    tr,
		insp:  insp,
		fset:  token.NewFileSet(),
		funcs: make(map[string]*ast.FuncDecl),
		out:   os.Stdout,
	}
	insp.Register(&List{}, func(v any) inspect.Summary {
		l := v.(*List)
		children := make([]any, len(l.Items))
		for i, item := range l.Items {
			children[i] = item
		}
		return inspect.Summary{Type: "list", Children: children}
	})
	insp.Register(&Dict{}, func(v any) inspect.Summary {
		d := v.(*Dict)
		children := make([]any, 0, len(d.Keys))
		for _, k := range d.Keys {
			children = append(children, d.Vals[k])
		}
		return inspect.Summary{Type: "dict", Children: children}
	})
	return it
}

// SetOutput redirects the traced program's print output.
func (it *Interp) SetOutput(w io.Writer) {
	it.out = w
}

// Load parses and vets the script. Every construct is checked up
// front: a script that cannot be fully hooked is rejected before any
// of it runs.
func (it *Interp) Load(path string) error {
	file, err := parser.ParseFile(it.fset, path, nil, parser.SkipObjectResolution)
	if err != nil {
		return &UnsupportedError{Loc: event.Loc{File: path}, Construct: err.Error()}
	}
	it.path = path
	it.pkg = file.Name.Name

	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok {
			return &UnsupportedError{Loc: it.loc(decl.Pos()), Construct: "non-function declaration"}
		}
		if fn.Recv != nil {
			return &UnsupportedError{Loc: it.loc(fn.Pos()), Construct: "method declaration"}
		}
		if _, dup := it.funcs[fn.Name.Name]; dup {
			return &UnsupportedError{Loc: it.loc(fn.Pos()), Construct: "duplicate function " + fn.Name.Name}
		}
		it.funcs[fn.Name.Name] = fn
	}
	if _, ok := it.funcs["main"]; !ok {
		return &UnsupportedError{Loc: event.Loc{File: path}, Construct: "script has no main function"}
	}

	if main := it.funcs["main"]; len(main.Type.Params.List) != 0 {
		return &UnsupportedError{Loc: it.loc(main.Pos()), Construct: "main takes parameters"}
	}
	for _, fn := range it.funcs {
		if fn.Body == nil {
			return &UnsupportedError{Loc: it.loc(fn.Pos()), Construct: "function without body"}
		}
		if err := it.vetSignature(fn); err != nil {
			return err
		}
		if err := it.vetBlock(fn.Body); err != nil {
			return err
		}
	}
	return nil
}

// Run executes the script's main function. The returned error, if
// any, is a *RuntimeError raised by the traced program; the event
// stream emitted so far remains valid.
func (it *Interp) Run() error {
	scope := newEnv()
	if _, _, err := it.execBlock(it.funcs["main"].Body, scope); err != nil {
		return err
	}
	if err := it.dropEnv(scope); err != nil {
		return err
	}
	return it.flushTemps()
}

// loc converts a token position to an event location.
func (it *Interp) loc(pos token.Pos) event.Loc {
	p := it.fset.Position(pos)
	return event.Loc{File: p.Filename, Line: p.Line, Col: p.Column}
}

// describe reports a value the way events carry operands.
func (it *Interp) describe(v *Value) event.Value {
	s := it.insp.Inspect(v.data)
	return event.Value{ID: v.id, Type: s.Type, Summary: s.Scalar, Literal: v.lit}
}

// newValue allocates an identity for a freshly created value. The
// value starts as a statement-scoped temporary; it survives the
// statement only if something retains it.
func (it *Interp) newValue(data any) *Value {
	v := &Value{id: it.reg.Allocate(), data: data}
	it.temps = append(it.temps, v)
	return v
}

// retain marks one more reference to v.
func retain(v *Value) {
	v.refs++
}

// release drops one reference. When the last reference goes, the
// identity is evicted: an eviction event prunes the registry (and
// recycles the slot), and the value's children are released in turn.
func (it *Interp) release(v *Value) error {
	if v.evicted {
		return nil
	}
	if v.refs > 0 {
		v.refs--
	}
	if v.refs > 0 {
		return nil
	}
	return it.evict(v)
}

func (it *Interp) evict(v *Value) error {
	if v.evicted {
		return nil
	}
	v.evicted = true
	desc := it.describe(v)
	if err := it.tr.Emit(event.Event{Kind: event.KindDelete, Value: &desc}); err != nil {
		return err
	}
	switch data := v.data.(type) {
	case *List:
		for _, item := range data.Items {
			if err := it.release(item); err != nil {
				return err
			}
		}
	case *Dict:
		for _, k := range data.Keys {
			if err := it.release(data.Vals[k]); err != nil {
				return err
			}
		}
	}
	return nil
}

// handOff moves one reference into statement-temporary ownership: the
// value stays alive until the end of the current statement even when
// this was its last reference. Used for values pulled out of their
// holder (function returns, list pop) before the caller decides their
// fate.
func (it *Interp) handOff(v *Value) {
	if v.refs > 0 {
		v.refs--
	}
	it.temps = append(it.temps, v)
}

// flushTemps evicts values created during the last statement that
// nothing retained.
func (it *Interp) flushTemps() error {
	temps := it.temps
	it.temps = nil
	for _, v := range temps {
		if v.refs == 0 && !v.evicted {
			if err := it.evict(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// env is one function scope binding names to values.
type env struct {
	vars map[string]*Value
}

func newEnv() *env {
	return &env{vars: make(map[string]*Value)}
}

// bind sets a name, releasing any previous binding.
func (it *Interp) bind(scope *env, name string, v *Value) error {
	retain(v)
	if old, ok := scope.vars[name]; ok {
		if err := it.release(old); err != nil {
			return err
		}
	}
	scope.vars[name] = v
	return nil
}

// unbind removes a name.
func (it *Interp) unbind(scope *env, name string) error {
	old, ok := scope.vars[name]
	if !ok {
		return nil
	}
	delete(scope.vars, name)
	return it.release(old)
}

// dropEnv releases every binding of a scope that is going away.
func (it *Interp) dropEnv(scope *env) error {
	for name, v := range scope.vars {
		delete(scope.vars, name)
		if err := it.release(v); err != nil {
			return err
		}
	}
	return nil
}

func (it *Interp) qual(name string) string {
	return it.pkg + "." + name
}

func builtinQual(name string) string {
	return "builtin." + name
}

func (it *Interp) runtimeErr(pos token.Pos, format string, args ...any) error {
	return &RuntimeError{Loc: it.loc(pos), Msg: fmt.Sprintf(format, args...)}
}
