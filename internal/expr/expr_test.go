package expr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fields is a minimal Object backed by a map, standing in for a record.
type fields map[string]any

func (f fields) Member(name string) (any, error) { return f[name], nil }

func eval(t *testing.T, src string, env Env) any {
	t.Helper()
	prog, err := Parse(src)
	require.NoError(t, err)
	v, err := prog.Eval(env)
	require.NoError(t, err, "evaluating %q", src)
	return v
}

func TestOperators(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{"1 + 2 * 3", 7.0},
		{"(1 + 2) * 3", 9.0},
		{"10 % 4", 2.0},
		{"-2 * 3", -6.0},
		{"2 - -1", 3.0},
		{"1.5e3 / 3", 500.0},
		{".5 + .25", 0.75},
		{"1 < 2 && 3 >= 3", true},
		{"1 == 1 && 'a' != 'b'", true},
		{"1 === 1", true},
		{"'1' == 1", false},
		{"!true", false},
		{"null ?? 5", 5.0},
		{"0 || 'fallback'", "fallback"},
		{"0 && 1", 0.0},
		{"1 > 2 ? 'a' : 'b'", "b"},
		{"true ? false ? 1 : 2 : 3", 2.0},
		{"'gp: ' + 1500", "gp: 1500"},
		{"'abc' < 'abd'", true},
		{"null == null", true},
		{"null == 0", false},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, eval(t, tt.src, Env{}))
		})
	}
}

func TestRecordFormulas(t *testing.T) {
	rec := fields{"high": 100.0, "low": 50.0}
	env := Env{Vars: map[string]any{"record": rec}, Fallback: rec}

	assert.Equal(t, 48.0, eval(t, "round((high*0.98) - low)", env))
	assert.InDelta(t, 96.0, eval(t, "((high*0.98-low)/low)*100", env), 1e-9)
	assert.Equal(t, 100.0, eval(t, "record.high", env))
	assert.Equal(t, 150.0, eval(t, "record['high'] + record.low", env))
}

func TestFunctionLibrary(t *testing.T) {
	pts := []any{
		map[string]any{"p": 10.0},
		map[string]any{"p": nil},
		map[string]any{"q": 1.0},
		map[string]any{"p": 30.0},
	}
	env := Env{Vars: map[string]any{
		"xs":     []any{1.0, nil, 3.0, 8.0},
		"empty":  []any{},
		"points": pts,
	}}

	assert.Equal(t, 12.0, eval(t, "sum(xs)", env))
	assert.Equal(t, 4.0, eval(t, "avg(xs)", env))
	assert.Nil(t, eval(t, "avg(empty)", env))
	assert.Equal(t, 0.0, eval(t, "sum(empty)", env))
	assert.Equal(t, 4.0, eval(t, "length(xs)", env))
	assert.Equal(t, 4.0, eval(t, "xs.length", env))
	assert.Equal(t, []any{3.0, 8.0}, eval(t, "slice(xs, -2)", env))
	assert.Equal(t, []any{nil, 3.0}, eval(t, "slice(xs, 1, 3)", env))
	assert.Equal(t, []any{}, eval(t, "slice(xs, 3, 1)", env))
	assert.Equal(t, []any{10.0, 30.0}, eval(t, "field(points, 'p')", env))
	assert.Equal(t, 20.0, eval(t, "avg(field(points, 'p'))", env))
	assert.Equal(t, 8.0, eval(t, "max(xs)", env))
	assert.Equal(t, 5.0, eval(t, "Math.max(1, 5, 3)", env))
	assert.Equal(t, 1.0, eval(t, "min(4, 1)", env))
	assert.Equal(t, 2.5, eval(t, "round(2.456, 1)", env))
	assert.Equal(t, 3.0, eval(t, "Math.floor(3.9)", env))
	assert.Equal(t, 8.0, eval(t, "pow(2, 3)", env))
	assert.Equal(t, 1.0, eval(t, "xs[0]", env))
	assert.Nil(t, eval(t, "xs[10]", env))
}

func TestEvalErrors(t *testing.T) {
	env := Env{Vars: map[string]any{
		"boom": Func(func([]any) (any, error) { panic("host failure") }),
		"n":    nil,
	}}

	for _, src := range []string{
		"null * 2",
		"n + 1",
		"n.price",
		"undefinedName + 1",
		"sum(n)",
		"avg(1, 2)",
		"'x'()",
		"boom()",
		"-'abc'",
	} {
		t.Run(src, func(t *testing.T) {
			prog, err := Parse(src)
			require.NoError(t, err)
			_, err = prog.Eval(env)
			assert.Error(t, err)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	deep := strings.Repeat("(", 300) + "1" + strings.Repeat(")", 300)
	for _, src := range []string{"", "1 +", "foo(", "'unterminated", "a ? b", "1 2", "#", deep} {
		_, err := Parse(src)
		assert.Error(t, err, "Parse(%q)", src)
	}
}

func TestCacheMemoizesBySource(t *testing.T) {
	c := NewCache()

	p1, err := c.Compile("1 + 1")
	require.NoError(t, err)
	p2, err := c.Compile("1 + 1")
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	_, err1 := c.Compile("1 +")
	_, err2 := c.Compile("1 +")
	assert.Error(t, err1)
	assert.Equal(t, err1, err2)

	assert.Equal(t, 2, c.Len())
}

func TestIntrospection(t *testing.T) {
	prog, err := Parse("avg(field(timeseries(record.id, '1h'), 'avgHighPrice')) > length(timeseries(id, '5m')) && columns.profit > 0 && columns['roi'] > 1 && timeseries(id, '1h') != null")
	require.NoError(t, err)

	assert.Equal(t, []string{"1h", "5m"}, prog.StringArgs("timeseries", 1))
	assert.ElementsMatch(t, []string{"profit", "roi"}, prog.References("columns"))
	assert.Empty(t, prog.References("record2"))
}
