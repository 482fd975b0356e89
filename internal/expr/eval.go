package expr

import (
	"fmt"
	"math"
	"strconv"
)

// Object is a value whose members are resolved on demand, such as a record
// or the lazily evaluated columns namespace.
type Object interface {
	Member(name string) (any, error)
}

// Func is a callable value exposed to expressions.
type Func func(args []any) (any, error)

// Env supplies the identifiers visible to one evaluation. Names are looked
// up in Vars, then the built-in function library, then Fallback.
type Env struct {
	Vars     map[string]any
	Fallback Object
}

// Program is a compiled expression, safe for concurrent evaluation.
type Program struct {
	Source string
	root   node
}

// Eval evaluates the program against env. Runtime faults, including panics
// from host callbacks, are returned as errors.
func (p *Program) Eval(env Env) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("evaluating %q: %v", p.Source, r)
		}
	}()
	e := evaluator{env: env}
	return e.eval(p.root)
}

type evaluator struct {
	env Env
}

func (e *evaluator) eval(n node) (any, error) {
	switch n := n.(type) {
	case literal:
		return n.value, nil

	case ident:
		return e.lookup(n.name)

	case member:
		obj, err := e.eval(n.obj)
		if err != nil {
			return nil, err
		}
		return getMember(obj, n.name)

	case index:
		obj, err := e.eval(n.obj)
		if err != nil {
			return nil, err
		}
		key, err := e.eval(n.key)
		if err != nil {
			return nil, err
		}
		return getIndex(obj, key)

	case call:
		fnv, err := e.eval(n.fn)
		if err != nil {
			return nil, err
		}
		fn, ok := fnv.(Func)
		if !ok {
			return nil, fmt.Errorf("%s is not a function", describe(n.fn))
		}
		args := make([]any, len(n.args))
		for i, a := range n.args {
			if args[i], err = e.eval(a); err != nil {
				return nil, err
			}
		}
		return fn(args)

	case unary:
		x, err := e.eval(n.x)
		if err != nil {
			return nil, err
		}
		switch n.op {
		case "!":
			return !Truthy(x), nil
		case "-":
			f, err := number(x, "-")
			if err != nil {
				return nil, err
			}
			return -f, nil
		default:
			return number(x, "+")
		}

	case binary:
		return e.binary(n)

	case conditional:
		c, err := e.eval(n.cond)
		if err != nil {
			return nil, err
		}
		if Truthy(c) {
			return e.eval(n.then)
		}
		return e.eval(n.els)
	}
	return nil, fmt.Errorf("unknown node %T", n)
}

func (e *evaluator) lookup(name string) (any, error) {
	if v, ok := e.env.Vars[name]; ok {
		return v, nil
	}
	if fn, ok := builtins[name]; ok {
		return fn, nil
	}
	if name == "Math" {
		return mathObject, nil
	}
	if e.env.Fallback != nil {
		return e.env.Fallback.Member(name)
	}
	return nil, fmt.Errorf("unknown identifier %q", name)
}

func (e *evaluator) binary(n binary) (any, error) {
	l, err := e.eval(n.l)
	if err != nil {
		return nil, err
	}

	// Short-circuit operators return operand values.
	switch n.op {
	case "&&":
		if !Truthy(l) {
			return l, nil
		}
		return e.eval(n.r)
	case "||":
		if Truthy(l) {
			return l, nil
		}
		return e.eval(n.r)
	case "??":
		if l != nil {
			return l, nil
		}
		return e.eval(n.r)
	}

	r, err := e.eval(n.r)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==", "===":
		return equal(l, r), nil
	case "!=", "!==":
		return !equal(l, r), nil
	case "+":
		ls, lok := l.(string)
		rs, rok := r.(string)
		if lok || rok {
			if !lok {
				ls = Stringify(l)
			}
			if !rok {
				rs = Stringify(r)
			}
			return ls + rs, nil
		}
	case "<", "<=", ">", ">=":
		if ls, ok := l.(string); ok {
			if rs, ok := r.(string); ok {
				return compareStrings(n.op, ls, rs), nil
			}
		}
	}

	lf, err := number(l, n.op)
	if err != nil {
		return nil, err
	}
	rf, err := number(r, n.op)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		return lf / rf, nil
	case "%":
		return math.Mod(lf, rf), nil
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	}
	return nil, fmt.Errorf("unknown operator %q", n.op)
}

// ---------------------------------------------------------------------------
// Value helpers
// ---------------------------------------------------------------------------

// Truthy applies JavaScript-like truthiness: nil, false, 0, NaN and "" are
// false; everything else is true.
func Truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0 && !math.IsNaN(v)
	case string:
		return v != ""
	}
	return true
}

// Stringify renders a value the way string concatenation does.
func Stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return fmt.Sprint(v)
}

func number(v any, op string) (float64, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case nil:
		return 0, fmt.Errorf("operator %q applied to null", op)
	}
	return 0, fmt.Errorf("operator %q applied to non-number %T", op, v)
}

func equal(l, r any) bool {
	switch l := l.(type) {
	case nil:
		return r == nil
	case float64:
		rf, ok := r.(float64)
		return ok && l == rf
	case string:
		rs, ok := r.(string)
		return ok && l == rs
	case bool:
		rb, ok := r.(bool)
		return ok && l == rb
	}
	return false
}

func compareStrings(op, l, r string) bool {
	switch op {
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	}
	return l >= r
}

func getMember(obj any, name string) (any, error) {
	switch o := obj.(type) {
	case nil:
		return nil, fmt.Errorf("cannot read %q of null", name)
	case Object:
		return o.Member(name)
	case map[string]any:
		return o[name], nil
	case []any:
		if name == "length" {
			return float64(len(o)), nil
		}
		return nil, nil
	case string:
		if name == "length" {
			return float64(len(o)), nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("cannot read %q of %T", name, obj)
}

func getIndex(obj, key any) (any, error) {
	switch o := obj.(type) {
	case nil:
		return nil, fmt.Errorf("cannot index null")
	case []any:
		f, ok := key.(float64)
		if !ok {
			if s, ok := key.(string); ok {
				return getMember(o, s)
			}
			return nil, fmt.Errorf("array index must be a number")
		}
		i := int(f)
		if float64(i) != f || i < 0 || i >= len(o) {
			return nil, nil
		}
		return o[i], nil
	}
	switch k := key.(type) {
	case string:
		return getMember(obj, k)
	case float64:
		return getMember(obj, Stringify(k))
	}
	return nil, fmt.Errorf("invalid index %T", key)
}

func describe(n node) string {
	switch n := n.(type) {
	case ident:
		return n.name
	case member:
		return describe(n.obj) + "." + n.name
	}
	return "expression"
}
