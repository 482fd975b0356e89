package definitions

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketlens/internal/domain"
	"marketlens/internal/expr"
	"marketlens/internal/store"
)

func newService(t *testing.T) (*Service, store.KV) {
	t.Helper()
	kv := store.NewMemoryKV()
	return New(kv, slog.New(slog.NewTextHandler(io.Discard, nil))), kv
}

func columnIDs(cols []domain.Column) []string {
	ids := make([]string, len(cols))
	for i, c := range cols {
		ids[i] = c.ID
	}
	return ids
}

func TestPresetsCompile(t *testing.T) {
	for _, c := range PresetColumns() {
		_, err := expr.Compile(c.Expression)
		assert.NoError(t, err, "column %s", c.ID)
	}
	for _, f := range PresetFilters() {
		for _, fe := range f.Expressions {
			_, err := expr.Compile(fe.Code)
			assert.NoError(t, err, "filter %s", f.ID)
		}
	}
}

func TestColumnsSeedsPresetsOnce(t *testing.T) {
	ctx := context.Background()
	svc, kv := newService(t)

	cols, err := svc.Columns(ctx)
	require.NoError(t, err)
	assert.Equal(t, columnIDs(PresetColumns()), columnIDs(cols))

	_, ok, err := kv.Get(ctx, keyColumns)
	require.NoError(t, err)
	assert.True(t, ok, "presets should be persisted")

	// An emptied list stays empty instead of being reseeded.
	require.NoError(t, store.SetJSON(ctx, kv, keyColumns, []domain.Column{}))
	cols, err = svc.Columns(ctx)
	require.NoError(t, err)
	assert.Empty(t, cols)
}

func TestSaveColumn(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	saved, err := svc.SaveColumn(ctx, domain.Column{Name: "Spread", Expression: "high - low"})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID, "new column should be assigned an id")
	assert.Equal(t, domain.ValueNumber, saved.ValueType)

	saved.Name = "Raw spread"
	_, err = svc.SaveColumn(ctx, saved)
	require.NoError(t, err)

	cols, err := svc.Columns(ctx)
	require.NoError(t, err)
	require.Len(t, cols, len(PresetColumns())+1)
	last := cols[len(cols)-1]
	assert.Equal(t, saved.ID, last.ID)
	assert.Equal(t, "Raw spread", last.Name)
}

func TestSaveColumnRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	tests := []struct {
		name string
		col  domain.Column
	}{
		{"missing name", domain.Column{Expression: "high"}},
		{"syntax error", domain.Column{Name: "x", Expression: "high +"}},
		{"unknown format", domain.Column{Name: "x", Expression: "high", Format: "roman"}},
		{"unknown type", domain.Column{Name: "x", Expression: "high", ValueType: "date"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SaveColumn(ctx, tt.col)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestSetColumnEnabled(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	require.NoError(t, svc.SetColumnEnabled(ctx, "margin", true))
	cols, err := svc.Columns(ctx)
	require.NoError(t, err)
	for _, c := range cols {
		if c.ID == "margin" {
			assert.True(t, c.Enabled)
		}
	}

	assert.ErrorIs(t, svc.SetColumnEnabled(ctx, "nope", true), store.ErrNotFound)
}

func TestReorderColumns(t *testing.T) {
	ctx := context.Background()
	svc, kv := newService(t)
	require.NoError(t, store.SetJSON(ctx, kv, keyColumns, []domain.Column{
		{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"},
	}))

	require.NoError(t, svc.ReorderColumns(ctx, []string{"c", "a"}))
	cols, err := svc.Columns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b", "d"}, columnIDs(cols))

	assert.ErrorIs(t, svc.ReorderColumns(ctx, []string{"z"}), store.ErrNotFound)
	assert.ErrorIs(t, svc.ReorderColumns(ctx, []string{"a", "a"}), ErrInvalid)
}

func TestDeleteColumnReferenced(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	// The highMargin preset filter uses columns.profit.
	err := svc.DeleteColumn(ctx, "profit")
	assert.ErrorIs(t, err, ErrColumnReferenced)

	require.NoError(t, svc.DeleteFilter(ctx, "highMargin"))
	// limitProfit still refers to profit.
	assert.ErrorIs(t, svc.DeleteColumn(ctx, "profit"), ErrColumnReferenced)

	require.NoError(t, svc.DeleteColumn(ctx, "limitProfit"))
	require.NoError(t, svc.DeleteColumn(ctx, "profit"))

	cols, err := svc.Columns(ctx)
	require.NoError(t, err)
	assert.NotContains(t, columnIDs(cols), "profit")

	assert.ErrorIs(t, svc.DeleteColumn(ctx, "profit"), store.ErrNotFound)
}

func TestFilters(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	filters, err := svc.Filters(ctx)
	require.NoError(t, err)
	assert.Len(t, filters, len(PresetFilters()))
	for _, f := range filters {
		assert.False(t, f.Enabled, "preset %s should start disabled", f.ID)
	}

	saved, err := svc.SaveFilter(ctx, domain.Filter{
		Name:        "Cheap",
		Expressions: []domain.FilterExpression{{Code: "low < 100"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	require.NoError(t, svc.SetFilterEnabled(ctx, saved.ID, true))
	filters, err = svc.Filters(ctx)
	require.NoError(t, err)
	assert.True(t, filters[len(filters)-1].Enabled)

	require.NoError(t, svc.DeleteFilter(ctx, saved.ID))
	assert.ErrorIs(t, svc.DeleteFilter(ctx, saved.ID), store.ErrNotFound)
	assert.ErrorIs(t, svc.SetFilterEnabled(ctx, saved.ID, true), store.ErrNotFound)
}

func TestSaveFilterRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.SaveFilter(ctx, domain.Filter{Name: "empty"})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = svc.SaveFilter(ctx, domain.Filter{
		Name:        "broken",
		Expressions: []domain.FilterExpression{{Code: "(("}},
	})
	assert.ErrorIs(t, err, ErrInvalid)

	// Highlight targets are free text.
	_, err = svc.SaveFilter(ctx, domain.Filter{
		Name:        "with target",
		Expressions: []domain.FilterExpression{{Code: "true", HighlightTarget: "Nature rune"}},
	})
	assert.NoError(t, err)
}

func TestToggleFavorite(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	favs, err := svc.Favorites(ctx)
	require.NoError(t, err)
	assert.Empty(t, favs)
	assert.NotNil(t, favs)

	on, err := svc.ToggleFavorite(ctx, 4151)
	require.NoError(t, err)
	assert.True(t, on)
	on, err = svc.ToggleFavorite(ctx, 995)
	require.NoError(t, err)
	assert.True(t, on)

	favs, err = svc.Favorites(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{4151, 995}, favs)

	on, err = svc.ToggleFavorite(ctx, 4151)
	require.NoError(t, err)
	assert.False(t, on)

	favs, err = svc.Favorites(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{995}, favs)
}
