package interp

import (
	"fmt"
	"go/ast"
	"go/token"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/flowtrace/internal/event"
)

// emitMutate reports an in-place change to self. Emitted after the
// change is applied, inside the surrounding builtin call, so the
// carried description shows the post-mutation state.
func (it *Interp) emitMutate(pos token.Pos, op string, self *Value) error {
	desc := it.describe(self)
	return it.tr.Emit(event.Event{Kind: event.KindMutate, Loc: it.loc(pos), Op: op, Value: &desc})
}

func (it *Interp) evalArgs(e *ast.CallExpr, scope *env) ([]*Value, error) {
	args := make([]*Value, len(e.Args))
	for i, arg := range e.Args {
		v, err := it.evalOperand(arg, scope)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func (it *Interp) arity(e *ast.CallExpr, name string, want int) error {
	if len(e.Args) != want {
		return it.runtimeErr(e.Pos(), "%s takes %d arguments, got %d", name, want, len(e.Args))
	}
	return nil
}

// callBuiltin dispatches the free builtins: list, dict, len, print,
// str. Vet guarantees the name is one of them.
func (it *Interp) callBuiltin(e *ast.CallExpr, name string, scope *env) (*Value, error) {
	args, err := it.evalArgs(e, scope)
	if err != nil {
		return nil, err
	}
	pos := e.Pos()

	switch name {
	case "list":
		if err := it.arity(e, name, 0); err != nil {
			return nil, err
		}
		return it.atomicCall(pos, name, nil, func() (*Value, error) {
			return it.newValue(&List{}), nil
		})
	case "dict":
		if err := it.arity(e, name, 0); err != nil {
			return nil, err
		}
		return it.atomicCall(pos, name, nil, func() (*Value, error) {
			return it.newValue(NewDict()), nil
		})
	case "len":
		if err := it.arity(e, name, 1); err != nil {
			return nil, err
		}
		return it.atomicCall(pos, name, []namedArg{{"value", args[0]}}, func() (*Value, error) {
			switch data := args[0].data.(type) {
			case *List:
				return it.newValue(int64(len(data.Items))), nil
			case *Dict:
				return it.newValue(int64(len(data.Keys))), nil
			case string:
				return it.newValue(int64(utf8.RuneCountInString(data))), nil
			}
			return nil, it.runtimeErr(pos, "len of %s", typeTag(args[0].data))
		})
	case "str":
		if err := it.arity(e, name, 1); err != nil {
			return nil, err
		}
		return it.atomicCall(pos, name, []namedArg{{"value", args[0]}}, func() (*Value, error) {
			return it.newValue(render(args[0])), nil
		})
	case "range":
		if err := it.arity(e, name, 1); err != nil {
			return nil, err
		}
		return it.atomicCall(pos, name, []namedArg{{"stop", args[0]}}, func() (*Value, error) {
			stop, ok := args[0].data.(int64)
			if !ok {
				return nil, it.runtimeErr(pos, "range of %s, not int", typeTag(args[0].data))
			}
			l := &List{}
			for n := int64(0); n < stop; n++ {
				item := it.newValue(n)
				retain(item)
				l.Items = append(l.Items, item)
			}
			return it.newValue(l), nil
		})
	case "print":
		named := make([]namedArg, len(args))
		parts := make([]string, len(args))
		for i, a := range args {
			named[i] = namedArg{fmt.Sprintf("arg%d", i), a}
			parts[i] = render(a)
		}
		return it.atomicCall(pos, name, named, func() (*Value, error) {
			if _, err := fmt.Fprintln(it.out, strings.Join(parts, " ")); err != nil {
				return nil, it.runtimeErr(pos, "print: %v", err)
			}
			return nil, nil
		})
	}
	return nil, it.runtimeErr(pos, "unknown builtin %q", name)
}

// callMethod dispatches container methods: list append, extend, pop
// and dict set, get, del. The receiver is the first traced argument.
func (it *Interp) callMethod(e *ast.CallExpr, sel *ast.SelectorExpr, scope *env) (*Value, error) {
	self, err := it.evalOperand(sel.X, scope)
	if err != nil {
		return nil, err
	}
	args, err := it.evalArgs(e, scope)
	if err != nil {
		return nil, err
	}
	method := sel.Sel.Name
	pos := e.Pos()

	switch data := self.data.(type) {
	case *List:
		switch method {
		case "append":
			if err := it.arity(e, method, 1); err != nil {
				return nil, err
			}
			return it.atomicCall(pos, method, []namedArg{{"self", self}, {"value", args[0]}}, func() (*Value, error) {
				retain(args[0])
				data.Items = append(data.Items, args[0])
				return nil, it.emitMutate(pos, method, self)
			})
		case "extend":
			if err := it.arity(e, method, 1); err != nil {
				return nil, err
			}
			other, ok := args[0].data.(*List)
			if !ok {
				return nil, it.runtimeErr(pos, "extend with %s, not list", typeTag(args[0].data))
			}
			return it.atomicCall(pos, method, []namedArg{{"self", self}, {"other", args[0]}}, func() (*Value, error) {
				for _, item := range other.Items {
					retain(item)
					data.Items = append(data.Items, item)
				}
				return nil, it.emitMutate(pos, method, self)
			})
		case "pop":
			if err := it.arity(e, method, 0); err != nil {
				return nil, err
			}
			return it.atomicCall(pos, method, []namedArg{{"self", self}}, func() (*Value, error) {
				if len(data.Items) == 0 {
					return nil, it.runtimeErr(pos, "pop from empty list")
				}
				item := data.Items[len(data.Items)-1]
				data.Items = data.Items[:len(data.Items)-1]
				if err := it.emitMutate(pos, method, self); err != nil {
					return nil, err
				}
				it.handOff(item)
				return item, nil
			})
		}
	case *Dict:
		switch method {
		case "set":
			if err := it.arity(e, method, 2); err != nil {
				return nil, err
			}
			key, err := it.dictKey(pos, args[0])
			if err != nil {
				return nil, err
			}
			return it.atomicCall(pos, method, []namedArg{{"self", self}, {"key", args[0]}, {"value", args[1]}}, func() (*Value, error) {
				retain(args[1])
				old := data.Set(key, args[1])
				if old != nil {
					if err := it.release(old); err != nil {
						return nil, err
					}
				}
				return nil, it.emitMutate(pos, method, self)
			})
		case "get":
			if err := it.arity(e, method, 1); err != nil {
				return nil, err
			}
			key, err := it.dictKey(pos, args[0])
			if err != nil {
				return nil, err
			}
			return it.atomicCall(pos, method, []namedArg{{"self", self}, {"key", args[0]}}, func() (*Value, error) {
				v, ok := data.Vals[key]
				if !ok {
					return nil, it.runtimeErr(pos, "missing key %q", key)
				}
				return v, nil
			})
		case "del":
			if err := it.arity(e, method, 1); err != nil {
				return nil, err
			}
			key, err := it.dictKey(pos, args[0])
			if err != nil {
				return nil, err
			}
			return it.atomicCall(pos, method, []namedArg{{"self", self}, {"key", args[0]}}, func() (*Value, error) {
				removed, ok := data.Del(key)
				if !ok {
					return nil, it.runtimeErr(pos, "missing key %q", key)
				}
				if err := it.emitMutate(pos, method, self); err != nil {
					return nil, err
				}
				return nil, it.release(removed)
			})
		}
	}
	return nil, it.runtimeErr(pos, "%s has no method %q", typeTag(self.data), method)
}

func (it *Interp) dictKey(pos token.Pos, v *Value) (string, error) {
	key, ok := v.data.(string)
	if !ok {
		return "", it.runtimeErr(pos, "dict key is %s, not string", typeTag(v.data))
	}
	return key, nil
}

// getIndex reads x[i] as the getitem operation.
func (it *Interp) getIndex(e *ast.IndexExpr, scope *env) (*Value, error) {
	self, err := it.evalOperand(e.X, scope)
	if err != nil {
		return nil, err
	}
	idx, err := it.evalOperand(e.Index, scope)
	if err != nil {
		return nil, err
	}
	pos := e.Pos()
	return it.atomicCall(pos, "getitem", []namedArg{{"self", self}, {"key", idx}}, func() (*Value, error) {
		switch data := self.data.(type) {
		case *List:
			i, err := it.listIndex(pos, data, idx)
			if err != nil {
				return nil, err
			}
			return data.Items[i], nil
		case *Dict:
			key, err := it.dictKey(pos, idx)
			if err != nil {
				return nil, err
			}
			v, ok := data.Vals[key]
			if !ok {
				return nil, it.runtimeErr(pos, "missing key %q", key)
			}
			return v, nil
		}
		return nil, it.runtimeErr(pos, "%s is not indexable", typeTag(self.data))
	})
}

// setIndex writes x[i] = v as the setitem operation.
func (it *Interp) setIndex(lhs *ast.IndexExpr, rhs *Value, scope *env) (*Value, error) {
	self, err := it.evalOperand(lhs.X, scope)
	if err != nil {
		return nil, err
	}
	idx, err := it.evalOperand(lhs.Index, scope)
	if err != nil {
		return nil, err
	}
	pos := lhs.Pos()
	return it.atomicCall(pos, "setitem", []namedArg{{"self", self}, {"key", idx}, {"value", rhs}}, func() (*Value, error) {
		switch data := self.data.(type) {
		case *List:
			i, err := it.listIndex(pos, data, idx)
			if err != nil {
				return nil, err
			}
			retain(rhs)
			old := data.Items[i]
			data.Items[i] = rhs
			if err := it.release(old); err != nil {
				return nil, err
			}
		case *Dict:
			key, err := it.dictKey(pos, idx)
			if err != nil {
				return nil, err
			}
			retain(rhs)
			if old := data.Set(key, rhs); old != nil {
				if err := it.release(old); err != nil {
					return nil, err
				}
			}
		default:
			return nil, it.runtimeErr(pos, "%s is not indexable", typeTag(self.data))
		}
		return nil, it.emitMutate(pos, "setitem", self)
	})
}

func (it *Interp) listIndex(pos token.Pos, l *List, idx *Value) (int, error) {
	n, ok := idx.data.(int64)
	if !ok {
		return 0, it.runtimeErr(pos, "list index is %s, not int", typeTag(idx.data))
	}
	if n < 0 || n >= int64(len(l.Items)) {
		return 0, it.runtimeErr(pos, "index %d out of range for length %d", n, len(l.Items))
	}
	return int(n), nil
}

func (it *Interp) applyBinary(pos token.Pos, name string, x, y *Value) (*Value, error) {
	switch name {
	case "add", "sub", "mul", "div", "mod":
		return it.arith(pos, name, x, y)
	case "eq":
		return it.newValue(equal(x, y)), nil
	case "ne":
		return it.newValue(!equal(x, y)), nil
	default:
		return it.compare(pos, name, x, y)
	}
}

func (it *Interp) applyUnary(pos token.Pos, name string, x *Value) (*Value, error) {
	switch name {
	case "neg":
		switch n := x.data.(type) {
		case int64:
			return it.newValue(-n), nil
		case float64:
			return it.newValue(-n), nil
		}
		return nil, it.runtimeErr(pos, "negation of %s", typeTag(x.data))
	case "not":
		b, ok := x.data.(bool)
		if !ok {
			return nil, it.runtimeErr(pos, "not of %s", typeTag(x.data))
		}
		return it.newValue(!b), nil
	}
	return nil, it.runtimeErr(pos, "unknown operator %q", name)
}

func (it *Interp) arith(pos token.Pos, name string, x, y *Value) (*Value, error) {
	if xs, ok := x.data.(string); ok {
		ys, ok := y.data.(string)
		if ok && name == "add" {
			return it.newValue(xs + ys), nil
		}
		return nil, it.runtimeErr(pos, "%s on string and %s", name, typeTag(y.data))
	}

	if xi, ok := x.data.(int64); ok {
		if yi, ok := y.data.(int64); ok {
			switch name {
			case "add":
				return it.newValue(xi + yi), nil
			case "sub":
				return it.newValue(xi - yi), nil
			case "mul":
				return it.newValue(xi * yi), nil
			case "div":
				if yi == 0 {
					return nil, it.runtimeErr(pos, "division by zero")
				}
				return it.newValue(xi / yi), nil
			case "mod":
				if yi == 0 {
					return nil, it.runtimeErr(pos, "division by zero")
				}
				return it.newValue(xi % yi), nil
			}
		}
	}

	xf, xok := toFloat(x.data)
	yf, yok := toFloat(y.data)
	if !xok || !yok {
		return nil, it.runtimeErr(pos, "%s on %s and %s", name, typeTag(x.data), typeTag(y.data))
	}
	switch name {
	case "add":
		return it.newValue(xf + yf), nil
	case "sub":
		return it.newValue(xf - yf), nil
	case "mul":
		return it.newValue(xf * yf), nil
	case "div":
		if yf == 0 {
			return nil, it.runtimeErr(pos, "division by zero")
		}
		return it.newValue(xf / yf), nil
	}
	return nil, it.runtimeErr(pos, "%s on floats", name)
}

func (it *Interp) compare(pos token.Pos, name string, x, y *Value) (*Value, error) {
	var less, eq bool
	if xs, ok := x.data.(string); ok {
		ys, ok := y.data.(string)
		if !ok {
			return nil, it.runtimeErr(pos, "%s on string and %s", name, typeTag(y.data))
		}
		less, eq = xs < ys, xs == ys
	} else {
		xf, xok := toFloat(x.data)
		yf, yok := toFloat(y.data)
		if !xok || !yok {
			return nil, it.runtimeErr(pos, "%s on %s and %s", name, typeTag(x.data), typeTag(y.data))
		}
		less, eq = xf < yf, xf == yf
	}
	switch name {
	case "lt":
		return it.newValue(less), nil
	case "le":
		return it.newValue(less || eq), nil
	case "gt":
		return it.newValue(!less && !eq), nil
	case "ge":
		return it.newValue(!less), nil
	}
	return nil, it.runtimeErr(pos, "unknown comparison %q", name)
}

// equal compares payloads: numbers numerically across int and float,
// strings and bools by value, containers by identity.
func equal(x, y *Value) bool {
	xf, xok := toFloat(x.data)
	yf, yok := toFloat(y.data)
	if xok && yok {
		return xf == yf
	}
	return x.data == y.data
}

func toFloat(data any) (float64, bool) {
	switch n := data.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
