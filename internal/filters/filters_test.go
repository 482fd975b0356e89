package filters

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketlens/internal/columns"
	"marketlens/internal/domain"
	"marketlens/internal/expr"
)

func newResolver() *Resolver {
	log := slog.New(slog.DiscardHandler)
	cr := columns.NewResolver(nil, log, columns.WithCompileCache(expr.NewCache()))
	return NewResolver(cr, log)
}

func records() []domain.Record {
	return []domain.Record{
		{ID: 4151, Name: "Abyssal whip", Facts: map[string]any{"high": 1_510_000.0, "low": 1_470_000.0, "members": true}},
		{ID: 995, Name: "Coins", Facts: map[string]any{"high": 1.0, "low": 1.0, "members": false}},
		{ID: 11832, Name: "Bandos chestplate", Facts: map[string]any{"high": 20_000_000.0, "low": 19_500_000.0, "members": true}},
		{ID: 314, Name: "Feather", Facts: map[string]any{"high": 3.0, "low": 2.0, "members": false}},
	}
}

var profitColumns = []domain.Column{
	{ID: "profit", Name: "Profit", Expression: "round((high*0.98) - low)", ValueType: domain.ValueNumber, Enabled: true},
}

func filter(id string, independent bool, codes ...string) domain.Filter {
	f := domain.Filter{ID: id, Name: id, Enabled: true, Independent: independent}
	for _, c := range codes {
		f.Expressions = append(f.Expressions, domain.FilterExpression{Code: c})
	}
	return f
}

func ids(rows []domain.Row) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r.Record.ID
	}
	return out
}

func TestEvaluateFilterBoundaryIsInclusive(t *testing.T) {
	r := newResolver()
	recs := []domain.Record{
		{ID: 1, Name: "exact", Facts: map[string]any{"high": 20000.0, "low": 9600.0}},
		{ID: 2, Name: "below", Facts: map[string]any{"high": 20000.0, "low": 9601.0}},
	}
	f := filter("margin", false, "columns.profit >= 10000")

	assert.True(t, r.EvaluateFilter(&recs[0], &f, profitColumns, recs).Match)
	assert.False(t, r.EvaluateFilter(&recs[1], &f, profitColumns, recs).Match)
}

func TestEvaluateFilterFirstTruthyWins(t *testing.T) {
	r := newResolver()
	recs := records()
	f := domain.Filter{ID: "tiers", Enabled: true, Expressions: []domain.FilterExpression{
		{Code: "high > 10000000", Action: "big"},
		{Code: "high > 1000000", Action: "medium", HighlightTarget: "'Coins'"},
		{Code: "true", Action: "any"},
	}}

	res := r.EvaluateFilter(&recs[2], &f, nil, recs)
	assert.Equal(t, domain.FilterResult{FilterID: "tiers", Match: true, Action: "big"}, res)

	res = r.EvaluateFilter(&recs[0], &f, nil, recs)
	assert.True(t, res.Match)
	assert.Equal(t, "medium", res.Action)
	require.NotNil(t, res.Highlight)
	assert.Equal(t, 995, res.Highlight.ID)

	res = r.EvaluateFilter(&recs[3], &f, nil, recs)
	assert.Equal(t, "any", res.Action)
}

func TestEvaluateFilterErrorsAreNoMatch(t *testing.T) {
	r := newResolver()
	recs := records()
	for _, code := range []string{"", "high >", "missing * 2 > 1", "columns.nope > 0"} {
		f := filter("bad", false, code)
		assert.False(t, r.EvaluateFilter(&recs[0], &f, profitColumns, recs).Match, code)
	}

	// A failing alternative does not stop later ones.
	f := filter("mixed", false, "missing * 2 > 1", "high > 0")
	assert.True(t, r.EvaluateFilter(&recs[0], &f, profitColumns, recs).Match)
}

func TestGetRecord(t *testing.T) {
	r := newResolver()
	recs := records()
	tests := []struct {
		code string
		want bool
	}{
		{"getRecord('coins', 'high') == 1", true},
		{"getRecord(4151).high > getRecord('Feather').high", true},
		{"getRecord('995', 'name') == 'Coins'", true},
		{"getRecord('No such item') == null", true},
		{"getRecord(314, 'members')", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			f := filter("x", false, tt.code)
			assert.Equal(t, tt.want, r.EvaluateFilter(&recs[0], &f, nil, recs).Match)
		})
	}
}

func TestHighlightResolution(t *testing.T) {
	r := newResolver()
	recs := records()
	tests := []struct {
		target string
		want   int
	}{
		{"getRecord('Coins')", 995},
		{"314", 314},
		{"'Bandos chestplate'", 11832},
		{"Abyssal whip", 4151},
		{"  \"feather\"  ", 314},
		{"Coins", 995},
		{"record.id", 4151},
		{"'missing item'", 0},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			f := domain.Filter{ID: "h", Enabled: true, Expressions: []domain.FilterExpression{
				{Code: "true", HighlightTarget: tt.target},
			}}
			res := r.EvaluateFilter(&recs[0], &f, nil, recs)
			if tt.want == 0 {
				assert.Nil(t, res.Highlight)
				return
			}
			require.NotNil(t, res.Highlight)
			assert.Equal(t, tt.want, res.Highlight.ID)
		})
	}
}

func TestEvaluateFilters(t *testing.T) {
	r := newResolver()
	recs := records()
	fs := []domain.Filter{
		filter("members", false, "members"),
		filter("cheap", false, "high < 10"),
	}
	res := r.EvaluateFilters(&recs[1], fs, nil, recs)
	require.Len(t, res, 2)
	assert.False(t, res[0].Match)
	assert.True(t, res[1].Match)
	assert.Equal(t, "cheap", res[1].FilterID)
}

func TestApplyComposition(t *testing.T) {
	r := newResolver()
	recs := records()

	t.Run("no enabled filters passes everything once", func(t *testing.T) {
		disabled := filter("off", false, "false")
		disabled.Enabled = false
		rows := r.Apply(recs, []domain.Filter{disabled}, nil)
		assert.Equal(t, []int{4151, 995, 11832, 314}, ids(rows))
	})

	t.Run("regular filters are AND-combined", func(t *testing.T) {
		fs := []domain.Filter{
			filter("members", false, "members"),
			filter("expensive", false, "high > 5000000"),
		}
		assert.Equal(t, []int{11832}, ids(r.Apply(recs, fs, nil)))
	})

	t.Run("independent only yields only independent rows", func(t *testing.T) {
		fs := []domain.Filter{filter("cheap", true, "high < 10")}
		rows := r.Apply(recs, fs, nil)
		assert.Equal(t, []int{995, 314}, ids(rows))
		for _, row := range rows {
			require.NotNil(t, row.Filter)
			assert.Equal(t, "cheap", row.Filter.ID)
		}
	})

	t.Run("independent rows follow the regular pass", func(t *testing.T) {
		fs := []domain.Filter{
			filter("members", false, "members"),
			filter("cheap", true, "high < 10"),
			filter("margin", true, "columns.profit >= 10000"),
		}
		rows := r.Apply(recs, fs, profitColumns)
		assert.Equal(t, []int{4151, 11832, 995, 314, 11832}, ids(rows))
		assert.Nil(t, rows[0].Filter)
		assert.Equal(t, "margin", rows[4].Filter.ID)
	})

	t.Run("regular action comes from the first filter that sets one", func(t *testing.T) {
		fs := []domain.Filter{
			filter("any", false, "true"),
			{ID: "tag", Enabled: true, Expressions: []domain.FilterExpression{
				{Code: "high > 1000000", Action: "flip", HighlightTarget: "995"},
			}},
		}
		rows := r.Apply(recs, fs, nil)
		require.Len(t, rows, 2)
		assert.Equal(t, "flip", rows[0].Action)
		require.NotNil(t, rows[0].Highlight)
		assert.Equal(t, 995, rows[0].Highlight.ID)
	})
}
