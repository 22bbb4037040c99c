package interp

import (
	"fmt"
	"go/ast"
	"go/token"
	"strconv"

	"github.com/ppiankov/flowtrace/internal/event"
)

// ctrl is the non-local exit signal carried up from a statement.
type ctrl int

const (
	ctrlNone ctrl = iota
	ctrlReturn
	ctrlBreak
	ctrlContinue
)

var binopName = map[token.Token]string{
	token.ADD: "add",
	token.SUB: "sub",
	token.MUL: "mul",
	token.QUO: "div",
	token.REM: "mod",
	token.EQL: "eq",
	token.NEQ: "ne",
	token.LSS: "lt",
	token.LEQ: "le",
	token.GTR: "gt",
	token.GEQ: "ge",
}

var unopName = map[token.Token]string{
	token.SUB: "neg",
	token.NOT: "not",
}

var freeBuiltins = map[string]bool{
	"list":  true,
	"dict":  true,
	"len":   true,
	"print": true,
	"str":   true,
	"range": true,
}

func (it *Interp) unsupported(pos token.Pos, format string, args ...any) error {
	return &UnsupportedError{Loc: it.loc(pos), Construct: fmt.Sprintf(format, args...)}
}

// vetSignature checks a function declaration: named parameters typed
// any, at most one result typed any.
func (it *Interp) vetSignature(fn *ast.FuncDecl) error {
	if fn.Type.TypeParams != nil {
		return it.unsupported(fn.Pos(), "type parameters")
	}
	for _, field := range fn.Type.Params.List {
		id, ok := field.Type.(*ast.Ident)
		if !ok || id.Name != "any" {
			return it.unsupported(field.Pos(), "parameter type must be any")
		}
		if len(field.Names) == 0 {
			return it.unsupported(field.Pos(), "unnamed parameter")
		}
	}
	if res := fn.Type.Results; res != nil {
		if len(res.List) > 1 || len(res.List) == 1 && len(res.List[0].Names) > 0 {
			return it.unsupported(res.Pos(), "multiple return values")
		}
		if len(res.List) == 1 {
			id, ok := res.List[0].Type.(*ast.Ident)
			if !ok || id.Name != "any" {
				return it.unsupported(res.Pos(), "result type must be any")
			}
		}
	}
	return nil
}

func (it *Interp) vetBlock(b *ast.BlockStmt) error {
	for _, s := range b.List {
		if err := it.vetStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (it *Interp) vetStmt(s ast.Stmt) error {
	switch s := s.(type) {
	case *ast.AssignStmt:
		if len(s.Lhs) != 1 || len(s.Rhs) != 1 {
			return it.unsupported(s.Pos(), "multiple assignment")
		}
		if s.Tok != token.ASSIGN && s.Tok != token.DEFINE {
			return it.unsupported(s.Pos(), "compound assignment %s", s.Tok)
		}
		switch lhs := s.Lhs[0].(type) {
		case *ast.Ident:
		case *ast.IndexExpr:
			if err := it.vetExpr(lhs.X); err != nil {
				return err
			}
			if err := it.vetExpr(lhs.Index); err != nil {
				return err
			}
		default:
			return it.unsupported(s.Pos(), "assignment target %T", s.Lhs[0])
		}
		return it.vetExpr(s.Rhs[0])
	case *ast.ExprStmt:
		return it.vetExpr(s.X)
	case *ast.ReturnStmt:
		if len(s.Results) > 1 {
			return it.unsupported(s.Pos(), "multiple return values")
		}
		if len(s.Results) == 1 {
			return it.vetExpr(s.Results[0])
		}
		return nil
	case *ast.IfStmt:
		if s.Init != nil {
			return it.unsupported(s.Pos(), "if with init statement")
		}
		if err := it.vetExpr(s.Cond); err != nil {
			return err
		}
		if err := it.vetBlock(s.Body); err != nil {
			return err
		}
		if s.Else != nil {
			return it.vetStmt(s.Else)
		}
		return nil
	case *ast.ForStmt:
		if s.Init != nil {
			if err := it.vetStmt(s.Init); err != nil {
				return err
			}
		}
		if s.Cond != nil {
			if err := it.vetExpr(s.Cond); err != nil {
				return err
			}
		}
		if s.Post != nil {
			if err := it.vetStmt(s.Post); err != nil {
				return err
			}
		}
		return it.vetBlock(s.Body)
	case *ast.BlockStmt:
		return it.vetBlock(s)
	case *ast.BranchStmt:
		if s.Label != nil || (s.Tok != token.BREAK && s.Tok != token.CONTINUE) {
			return it.unsupported(s.Pos(), "branch %s", s.Tok)
		}
		return nil
	case *ast.IncDecStmt:
		if _, ok := s.X.(*ast.Ident); !ok {
			return it.unsupported(s.Pos(), "%s on %T", s.Tok, s.X)
		}
		return nil
	default:
		return it.unsupported(s.Pos(), "statement %T", s)
	}
}

func (it *Interp) vetExpr(e ast.Expr) error {
	switch e := e.(type) {
	case *ast.BasicLit:
		switch e.Kind {
		case token.INT, token.FLOAT, token.STRING:
			return nil
		}
		return it.unsupported(e.Pos(), "%s literal", e.Kind)
	case *ast.Ident:
		return nil
	case *ast.ParenExpr:
		return it.vetExpr(e.X)
	case *ast.BinaryExpr:
		if _, ok := binopName[e.Op]; !ok {
			return it.unsupported(e.Pos(), "operator %s", e.Op)
		}
		if err := it.vetExpr(e.X); err != nil {
			return err
		}
		return it.vetExpr(e.Y)
	case *ast.UnaryExpr:
		if _, ok := unopName[e.Op]; !ok {
			return it.unsupported(e.Pos(), "operator %s", e.Op)
		}
		return it.vetExpr(e.X)
	case *ast.IndexExpr:
		if err := it.vetExpr(e.X); err != nil {
			return err
		}
		return it.vetExpr(e.Index)
	case *ast.CallExpr:
		switch fun := e.Fun.(type) {
		case *ast.Ident:
			if fun.Name == "unbind" {
				if len(e.Args) != 1 {
					return it.unsupported(e.Pos(), "unbind takes exactly one name")
				}
				if _, ok := e.Args[0].(*ast.Ident); !ok {
					return it.unsupported(e.Pos(), "unbind of a non-name")
				}
				return nil
			}
			if _, known := it.funcs[fun.Name]; !known && !freeBuiltins[fun.Name] {
				return it.unsupported(fun.Pos(), "call to undefined function %s", fun.Name)
			}
		case *ast.SelectorExpr:
			if err := it.vetExpr(fun.X); err != nil {
				return err
			}
		default:
			return it.unsupported(e.Pos(), "call through %T", e.Fun)
		}
		for _, arg := range e.Args {
			if err := it.vetExpr(arg); err != nil {
				return err
			}
		}
		return nil
	default:
		return it.unsupported(e.Pos(), "expression %T", e)
	}
}

// execBlock runs statements in order, evicting statement-scoped
// temporaries between them. A non-local exit skips the trailing flush
// so the carried value survives into the caller.
func (it *Interp) execBlock(b *ast.BlockStmt, scope *env) (*Value, ctrl, error) {
	for _, s := range b.List {
		rv, c, err := it.execStmt(s, scope)
		if err != nil {
			return nil, ctrlNone, err
		}
		if c != ctrlNone {
			return rv, c, nil
		}
		if err := it.flushTemps(); err != nil {
			return nil, ctrlNone, err
		}
	}
	return nil, ctrlNone, nil
}

func (it *Interp) execStmt(s ast.Stmt, scope *env) (*Value, ctrl, error) {
	switch s := s.(type) {
	case *ast.AssignStmt:
		return nil, ctrlNone, it.execAssign(s, scope)
	case *ast.ExprStmt:
		_, err := it.evalExpr(s.X, scope)
		return nil, ctrlNone, err
	case *ast.ReturnStmt:
		if len(s.Results) == 0 {
			return nil, ctrlReturn, nil
		}
		v, err := it.evalExpr(s.Results[0], scope)
		if err != nil {
			return nil, ctrlNone, err
		}
		if v == nil {
			return nil, ctrlNone, it.runtimeErr(s.Pos(), "return of a void call")
		}
		return v, ctrlReturn, nil
	case *ast.IfStmt:
		cond, err := it.evalExpr(s.Cond, scope)
		if err != nil {
			return nil, ctrlNone, err
		}
		ok, isBool := condValue(cond)
		if !isBool {
			return nil, ctrlNone, it.runtimeErr(s.Cond.Pos(), "condition is %s, not bool", condTag(cond))
		}
		if ok {
			return it.execBlock(s.Body, scope)
		}
		if s.Else != nil {
			return it.execStmt(s.Else, scope)
		}
		return nil, ctrlNone, nil
	case *ast.ForStmt:
		return it.execFor(s, scope)
	case *ast.BlockStmt:
		return it.execBlock(s, scope)
	case *ast.BranchStmt:
		if s.Tok == token.BREAK {
			return nil, ctrlBreak, nil
		}
		return nil, ctrlContinue, nil
	case *ast.IncDecStmt:
		return nil, ctrlNone, it.execIncDec(s, scope)
	default:
		return nil, ctrlNone, it.runtimeErr(s.Pos(), "cannot execute %T", s)
	}
}

func (it *Interp) execFor(s *ast.ForStmt, scope *env) (*Value, ctrl, error) {
	if s.Init != nil {
		if _, _, err := it.execStmt(s.Init, scope); err != nil {
			return nil, ctrlNone, err
		}
	}
	for {
		if s.Cond != nil {
			cond, err := it.evalExpr(s.Cond, scope)
			if err != nil {
				return nil, ctrlNone, err
			}
			ok, isBool := condValue(cond)
			if !isBool {
				return nil, ctrlNone, it.runtimeErr(s.Cond.Pos(), "condition is %s, not bool", condTag(cond))
			}
			if !ok {
				return nil, ctrlNone, nil
			}
		}
		rv, c, err := it.execBlock(s.Body, scope)
		if err != nil {
			return nil, ctrlNone, err
		}
		if c == ctrlReturn {
			return rv, c, nil
		}
		if c == ctrlBreak {
			return nil, ctrlNone, nil
		}
		if s.Post != nil {
			if _, _, err := it.execStmt(s.Post, scope); err != nil {
				return nil, ctrlNone, err
			}
		}
		// Condition and post temporaries accumulate per iteration.
		if err := it.flushTemps(); err != nil {
			return nil, ctrlNone, err
		}
	}
}

func (it *Interp) execAssign(s *ast.AssignStmt, scope *env) error {
	rhs, err := it.evalExpr(s.Rhs[0], scope)
	if err != nil {
		return err
	}
	if rhs == nil {
		return it.runtimeErr(s.Pos(), "assignment of a void call")
	}
	switch lhs := s.Lhs[0].(type) {
	case *ast.Ident:
		return it.writeName(s.Pos(), lhs.Name, rhs, scope)
	case *ast.IndexExpr:
		_, err := it.setIndex(lhs, rhs, scope)
		return err
	}
	return it.runtimeErr(s.Pos(), "bad assignment target")
}

// writeName emits the write event and rebinds the name.
func (it *Interp) writeName(pos token.Pos, name string, v *Value, scope *env) error {
	desc := it.describe(v)
	if err := it.tr.Emit(event.Event{Kind: event.KindWrite, Loc: it.loc(pos), Name: name, Value: &desc}); err != nil {
		return err
	}
	return it.bind(scope, name, v)
}

func (it *Interp) execIncDec(s *ast.IncDecStmt, scope *env) error {
	ident := s.X.(*ast.Ident)
	cur, err := it.evalIdent(ident, scope)
	if err != nil {
		return err
	}
	one := it.newValue(int64(1))
	one.lit = true
	name := "add"
	if s.Tok == token.DEC {
		name = "sub"
	}
	rv, err := it.atomicCall(s.Pos(), name, []namedArg{{"a", cur}, {"b", one}}, func() (*Value, error) {
		return it.arith(s.Pos(), name, cur, one)
	})
	if err != nil {
		return err
	}
	return it.writeName(s.Pos(), ident.Name, rv, scope)
}

func (it *Interp) evalExpr(e ast.Expr, scope *env) (*Value, error) {
	switch e := e.(type) {
	case *ast.BasicLit:
		return it.evalLit(e)
	case *ast.Ident:
		return it.evalIdent(e, scope)
	case *ast.ParenExpr:
		return it.evalExpr(e.X, scope)
	case *ast.BinaryExpr:
		return it.evalBinary(e, scope)
	case *ast.UnaryExpr:
		return it.evalUnary(e, scope)
	case *ast.IndexExpr:
		return it.getIndex(e, scope)
	case *ast.CallExpr:
		return it.evalCall(e, scope)
	}
	return nil, it.runtimeErr(e.Pos(), "cannot evaluate %T", e)
}

func (it *Interp) evalLit(e *ast.BasicLit) (*Value, error) {
	var data any
	switch e.Kind {
	case token.INT:
		n, err := strconv.ParseInt(e.Value, 0, 64)
		if err != nil {
			return nil, it.runtimeErr(e.Pos(), "bad integer literal %s", e.Value)
		}
		data = n
	case token.FLOAT:
		f, err := strconv.ParseFloat(e.Value, 64)
		if err != nil {
			return nil, it.runtimeErr(e.Pos(), "bad float literal %s", e.Value)
		}
		data = f
	case token.STRING:
		s, err := strconv.Unquote(e.Value)
		if err != nil {
			return nil, it.runtimeErr(e.Pos(), "bad string literal")
		}
		data = s
	default:
		return nil, it.runtimeErr(e.Pos(), "bad literal kind %s", e.Kind)
	}
	v := it.newValue(data)
	v.lit = true
	return v, nil
}

// evalIdent resolves a name and reports the read. The names true,
// false and none are keywords, not bindings.
func (it *Interp) evalIdent(e *ast.Ident, scope *env) (*Value, error) {
	switch e.Name {
	case "true", "false":
		v := it.newValue(e.Name == "true")
		v.lit = true
		return v, nil
	case "none":
		v := it.newValue(nil)
		v.lit = true
		return v, nil
	}
	v, ok := scope.vars[e.Name]
	if !ok {
		return nil, it.runtimeErr(e.Pos(), "undefined name %q", e.Name)
	}
	desc := it.describe(v)
	if err := it.tr.Emit(event.Event{Kind: event.KindRead, Loc: it.loc(e.Pos()), Name: e.Name, Value: &desc}); err != nil {
		return nil, err
	}
	return v, nil
}

func (it *Interp) evalBinary(e *ast.BinaryExpr, scope *env) (*Value, error) {
	x, err := it.evalOperand(e.X, scope)
	if err != nil {
		return nil, err
	}
	y, err := it.evalOperand(e.Y, scope)
	if err != nil {
		return nil, err
	}
	name := binopName[e.Op]
	return it.atomicCall(e.OpPos, name, []namedArg{{"a", x}, {"b", y}}, func() (*Value, error) {
		return it.applyBinary(e.OpPos, name, x, y)
	})
}

func (it *Interp) evalUnary(e *ast.UnaryExpr, scope *env) (*Value, error) {
	x, err := it.evalOperand(e.X, scope)
	if err != nil {
		return nil, err
	}
	name := unopName[e.Op]
	return it.atomicCall(e.OpPos, name, []namedArg{{"a", x}}, func() (*Value, error) {
		return it.applyUnary(e.OpPos, name, x)
	})
}

// evalOperand evaluates a subexpression required to yield a value.
func (it *Interp) evalOperand(e ast.Expr, scope *env) (*Value, error) {
	v, err := it.evalExpr(e, scope)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, it.runtimeErr(e.Pos(), "void call used as a value")
	}
	return v, nil
}

func (it *Interp) evalCall(e *ast.CallExpr, scope *env) (*Value, error) {
	switch fun := e.Fun.(type) {
	case *ast.Ident:
		if fun.Name == "unbind" {
			return nil, it.execUnbind(e, scope)
		}
		if fn, ok := it.funcs[fun.Name]; ok {
			return it.callUser(e, fn, scope)
		}
		return it.callBuiltin(e, fun.Name, scope)
	case *ast.SelectorExpr:
		return it.callMethod(e, fun, scope)
	}
	return nil, it.runtimeErr(e.Pos(), "cannot call %T", e.Fun)
}

// execUnbind removes a name from the current scope, reporting the
// binding removal. If the name held the last reference, the eviction
// is reported separately by the release.
func (it *Interp) execUnbind(e *ast.CallExpr, scope *env) error {
	name := e.Args[0].(*ast.Ident).Name
	if _, ok := scope.vars[name]; !ok {
		return it.runtimeErr(e.Pos(), "unbind of undefined name %q", name)
	}
	if err := it.tr.Emit(event.Event{Kind: event.KindDelete, Loc: it.loc(e.Pos()), Name: name}); err != nil {
		return err
	}
	return it.unbind(scope, name)
}

func (it *Interp) callUser(e *ast.CallExpr, fn *ast.FuncDecl, scope *env) (*Value, error) {
	var params []string
	for _, field := range fn.Type.Params.List {
		for _, name := range field.Names {
			params = append(params, name.Name)
		}
	}
	if len(e.Args) != len(params) {
		return nil, it.runtimeErr(e.Pos(), "%s takes %d arguments, got %d", fn.Name.Name, len(params), len(e.Args))
	}

	args := make([]*Value, len(e.Args))
	evArgs := make([]event.Arg, len(e.Args))
	for i, arg := range e.Args {
		v, err := it.evalOperand(arg, scope)
		if err != nil {
			return nil, err
		}
		args[i] = v
		evArgs[i] = event.Arg{Name: params[i], Value: it.describe(v)}
	}

	qual := it.qual(fn.Name.Name)
	if err := it.tr.Emit(event.Event{Kind: event.KindCall, Loc: it.loc(e.Pos()), Qual: qual, Args: evArgs}); err != nil {
		return nil, err
	}

	callee := newEnv()
	for i, p := range params {
		if err := it.bind(callee, p, args[i]); err != nil {
			return nil, err
		}
	}

	// Isolate the callee's temporaries so its statement flushes cannot
	// touch values pending in the caller's expression.
	saved := it.temps
	it.temps = nil
	rv, _, err := it.execBlock(fn.Body, callee)
	if err != nil {
		it.temps = saved
		return nil, err
	}
	if rv != nil {
		retain(rv)
	}
	if err := it.dropEnv(callee); err != nil {
		it.temps = saved
		return nil, err
	}
	if err := it.flushTemps(); err != nil {
		it.temps = saved
		return nil, err
	}
	it.temps = saved

	var vd *event.Value
	if rv != nil {
		it.handOff(rv)
		d := it.describe(rv)
		vd = &d
	}
	if err := it.tr.Emit(event.Event{Kind: event.KindReturn, Loc: it.loc(e.Pos()), Qual: qual, Value: vd}); err != nil {
		return nil, err
	}
	return rv, nil
}

// namedArg is one operand of a builtin operation.
type namedArg struct {
	name string
	val  *Value
}

// atomicCall wraps a builtin operation in call and return events. The
// body runs between them, so mutation events it emits attribute to
// the builtin operation itself.
func (it *Interp) atomicCall(pos token.Pos, name string, args []namedArg, body func() (*Value, error)) (*Value, error) {
	qual := builtinQual(name)
	evArgs := make([]event.Arg, len(args))
	for i, a := range args {
		evArgs[i] = event.Arg{Name: a.name, Value: it.describe(a.val)}
	}
	if err := it.tr.Emit(event.Event{Kind: event.KindCall, Loc: it.loc(pos), Qual: qual, Atomic: true, Args: evArgs}); err != nil {
		return nil, err
	}
	rv, err := body()
	if err != nil {
		return nil, err
	}
	var vd *event.Value
	if rv != nil {
		d := it.describe(rv)
		vd = &d
	}
	if err := it.tr.Emit(event.Event{Kind: event.KindReturn, Loc: it.loc(pos), Qual: qual, Value: vd}); err != nil {
		return nil, err
	}
	return rv, nil
}

func condValue(v *Value) (value, isBool bool) {
	if v == nil {
		return false, false
	}
	return truthy(v)
}

func condTag(v *Value) string {
	if v == nil {
		return "void"
	}
	return typeTag(v.data)
}
