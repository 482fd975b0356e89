package expr

import (
	"fmt"
	"math"
)

// builtins is the fixed function library available to every expression.
var builtins = map[string]Func{
	"slice":  fnSlice,
	"sum":    fnSum,
	"avg":    fnAvg,
	"length": fnLength,
	"field":  fnField,
	"round":  fnRound,
	"floor":  unaryMath("floor", math.Floor),
	"ceil":   unaryMath("ceil", math.Ceil),
	"abs":    unaryMath("abs", math.Abs),
	"sqrt":   unaryMath("sqrt", math.Sqrt),
	"pow":    fnPow,
	"min":    extremum("min", math.Min),
	"max":    extremum("max", math.Max),
}

// mathObject exposes the numeric helpers under Math.<name>.
var mathObject = mapObject{
	"round": builtins["round"],
	"floor": builtins["floor"],
	"ceil":  builtins["ceil"],
	"abs":   builtins["abs"],
	"sqrt":  builtins["sqrt"],
	"pow":   builtins["pow"],
	"min":   builtins["min"],
	"max":   builtins["max"],
}

type mapObject map[string]any

func (m mapObject) Member(name string) (any, error) {
	v, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("unknown member %q", name)
	}
	return v, nil
}

// IsBuiltin reports whether name is part of the function library.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

func argc(name string, args []any, min, max int) error {
	if len(args) < min || len(args) > max {
		if min == max {
			return fmt.Errorf("%s: expected %d arguments, got %d", name, min, len(args))
		}
		return fmt.Errorf("%s: expected %d-%d arguments, got %d", name, min, max, len(args))
	}
	return nil
}

func array(name string, v any) ([]any, error) {
	arr, ok := v.([]any)
	if !ok {
		if v == nil {
			return nil, fmt.Errorf("%s: array is null", name)
		}
		return nil, fmt.Errorf("%s: expected array, got %T", name, v)
	}
	return arr, nil
}

// numbers returns the numeric elements of arr, skipping null and
// non-numeric entries.
func numbers(arr []any) []float64 {
	out := make([]float64, 0, len(arr))
	for _, v := range arr {
		if f, ok := v.(float64); ok && !math.IsNaN(f) {
			out = append(out, f)
		}
	}
	return out
}

// fnSlice mirrors Array.prototype.slice: negative indices count from the
// end and end is exclusive.
func fnSlice(args []any) (any, error) {
	if err := argc("slice", args, 2, 3); err != nil {
		return nil, err
	}
	arr, err := array("slice", args[0])
	if err != nil {
		return nil, err
	}
	n := len(arr)
	clamp := func(v any, def int) (int, error) {
		if v == nil {
			return def, nil
		}
		f, ok := v.(float64)
		if !ok {
			return 0, fmt.Errorf("slice: index must be a number")
		}
		i := int(f)
		if i < 0 {
			i += n
		}
		return max(0, min(i, n)), nil
	}
	start, err := clamp(args[1], 0)
	if err != nil {
		return nil, err
	}
	var endArg any
	if len(args) == 3 {
		endArg = args[2]
	}
	end, err := clamp(endArg, n)
	if err != nil {
		return nil, err
	}
	if start >= end {
		return []any{}, nil
	}
	out := make([]any, end-start)
	copy(out, arr[start:end])
	return out, nil
}

func fnSum(args []any) (any, error) {
	if err := argc("sum", args, 1, 1); err != nil {
		return nil, err
	}
	arr, err := array("sum", args[0])
	if err != nil {
		return nil, err
	}
	total := 0.0
	for _, f := range numbers(arr) {
		total += f
	}
	return total, nil
}

func fnAvg(args []any) (any, error) {
	if err := argc("avg", args, 1, 1); err != nil {
		return nil, err
	}
	arr, err := array("avg", args[0])
	if err != nil {
		return nil, err
	}
	nums := numbers(arr)
	if len(nums) == 0 {
		return nil, nil
	}
	total := 0.0
	for _, f := range nums {
		total += f
	}
	return total / float64(len(nums)), nil
}

func fnLength(args []any) (any, error) {
	if err := argc("length", args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case nil:
		return 0.0, nil
	case []any:
		return float64(len(v)), nil
	case string:
		return float64(len(v)), nil
	}
	return nil, fmt.Errorf("length: expected array, got %T", args[0])
}

// fnField projects a named field out of an array of objects, dropping
// elements where it is null or missing.
func fnField(args []any) (any, error) {
	if err := argc("field", args, 2, 2); err != nil {
		return nil, err
	}
	arr, err := array("field", args[0])
	if err != nil {
		return nil, err
	}
	name, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("field: name must be a string")
	}
	out := make([]any, 0, len(arr))
	for _, el := range arr {
		if el == nil {
			continue
		}
		v, err := getMember(el, name)
		if err != nil || v == nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// fnRound rounds half up like Math.round, with optional decimal places.
func fnRound(args []any) (any, error) {
	if err := argc("round", args, 1, 2); err != nil {
		return nil, err
	}
	x, err := number(args[0], "round")
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		return math.Floor(x + 0.5), nil
	}
	d, err := number(args[1], "round")
	if err != nil {
		return nil, err
	}
	scale := math.Pow(10, math.Trunc(d))
	return math.Floor(x*scale+0.5) / scale, nil
}

func fnPow(args []any) (any, error) {
	if err := argc("pow", args, 2, 2); err != nil {
		return nil, err
	}
	b, err := number(args[0], "pow")
	if err != nil {
		return nil, err
	}
	x, err := number(args[1], "pow")
	if err != nil {
		return nil, err
	}
	return math.Pow(b, x), nil
}

func unaryMath(name string, f func(float64) float64) Func {
	return func(args []any) (any, error) {
		if err := argc(name, args, 1, 1); err != nil {
			return nil, err
		}
		x, err := number(args[0], name)
		if err != nil {
			return nil, err
		}
		return f(x), nil
	}
}

// extremum builds min/max. A single array argument is spread.
func extremum(name string, pick func(a, b float64) float64) Func {
	return func(args []any) (any, error) {
		if len(args) == 1 {
			if arr, ok := args[0].([]any); ok {
				nums := numbers(arr)
				if len(nums) == 0 {
					return nil, nil
				}
				best := nums[0]
				for _, f := range nums[1:] {
					best = pick(best, f)
				}
				return best, nil
			}
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("%s: expected at least 1 argument", name)
		}
		best, err := number(args[0], name)
		if err != nil {
			return nil, err
		}
		for _, a := range args[1:] {
			f, err := number(a, name)
			if err != nil {
				return nil, err
			}
			best = pick(best, f)
		}
		return best, nil
	}
}
