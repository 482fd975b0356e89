// Package definitions stores the user's saved columns, filters and favorite
// records in a KV store.
package definitions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"marketlens/internal/domain"
	"marketlens/internal/expr"
	"marketlens/internal/store"
)

const (
	keyColumns   = "columns"
	keyFilters   = "filters"
	keyFavorites = "favorites"
)

var (
	// ErrColumnReferenced is returned when deleting a column that a saved
	// filter or another column still refers to.
	ErrColumnReferenced = errors.New("column is referenced")

	// ErrInvalid is returned for definitions that cannot be saved.
	ErrInvalid = errors.New("invalid definition")
)

// Service manages saved definitions. Mutations are serialized.
type Service struct {
	kv  store.KV
	log *slog.Logger

	mu sync.Mutex
}

// New creates a Service on top of kv.
func New(kv store.KV, log *slog.Logger) *Service {
	return &Service{kv: kv, log: log}
}

// ---------------------------------------------------------------------------
// Columns
// ---------------------------------------------------------------------------

// Columns returns the saved columns in display order. The first call on an
// empty store seeds and persists the presets.
func (s *Service) Columns(ctx context.Context) ([]domain.Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.columnsLocked(ctx)
}

func (s *Service) columnsLocked(ctx context.Context) ([]domain.Column, error) {
	return loadOrSeed(ctx, s, keyColumns, PresetColumns)
}

// SaveColumn inserts col, or replaces the column with the same id. An empty
// id is assigned a new one. The expression must compile.
func (s *Service) SaveColumn(ctx context.Context, col domain.Column) (domain.Column, error) {
	if err := validateColumn(&col); err != nil {
		return col, err
	}
	if col.ID == "" {
		col.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cols, err := s.columnsLocked(ctx)
	if err != nil {
		return col, err
	}
	if i := slices.IndexFunc(cols, func(c domain.Column) bool { return c.ID == col.ID }); i >= 0 {
		cols[i] = col
	} else {
		cols = append(cols, col)
	}
	if err := store.SetJSON(ctx, s.kv, keyColumns, cols); err != nil {
		return col, fmt.Errorf("saving column %s: %w", col.ID, err)
	}
	s.log.Info("saved column", "id", col.ID, "name", col.Name)
	return col, nil
}

// SetColumnEnabled toggles whether a column is shown.
func (s *Service) SetColumnEnabled(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cols, err := s.columnsLocked(ctx)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(cols, func(c domain.Column) bool { return c.ID == id })
	if i < 0 {
		return fmt.Errorf("column %s: %w", id, store.ErrNotFound)
	}
	cols[i].Enabled = enabled
	return store.SetJSON(ctx, s.kv, keyColumns, cols)
}

// ReorderColumns moves the listed columns to the front in the given order.
// Columns not listed keep their relative order after them.
func (s *Service) ReorderColumns(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cols, err := s.columnsLocked(ctx)
	if err != nil {
		return err
	}

	byID := make(map[string]domain.Column, len(cols))
	for _, c := range cols {
		byID[c.ID] = c
	}
	placed := make(map[string]bool, len(ids))
	out := make([]domain.Column, 0, len(cols))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			return fmt.Errorf("column %s: %w", id, store.ErrNotFound)
		}
		if placed[id] {
			return fmt.Errorf("%w: column %s listed twice", ErrInvalid, id)
		}
		placed[id] = true
		out = append(out, c)
	}
	for _, c := range cols {
		if !placed[c.ID] {
			out = append(out, c)
		}
	}
	return store.SetJSON(ctx, s.kv, keyColumns, out)
}

// DeleteColumn removes a column. It fails with ErrColumnReferenced while any
// saved filter or other column refers to it through columns.<id>.
func (s *Service) DeleteColumn(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cols, err := s.columnsLocked(ctx)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(cols, func(c domain.Column) bool { return c.ID == id })
	if i < 0 {
		return fmt.Errorf("column %s: %w", id, store.ErrNotFound)
	}

	filters, err := s.filtersLocked(ctx)
	if err != nil {
		return err
	}
	for _, f := range filters {
		for _, fe := range f.Expressions {
			if referencesColumn(fe.Code, id) || referencesColumn(fe.HighlightTarget, id) {
				return fmt.Errorf("%w by filter %q", ErrColumnReferenced, f.Name)
			}
		}
	}
	for _, c := range cols {
		if c.ID != id && referencesColumn(c.Expression, id) {
			return fmt.Errorf("%w by column %q", ErrColumnReferenced, c.Name)
		}
	}

	cols = slices.Delete(cols, i, i+1)
	if err := store.SetJSON(ctx, s.kv, keyColumns, cols); err != nil {
		return fmt.Errorf("deleting column %s: %w", id, err)
	}
	s.log.Info("deleted column", "id", id)
	return nil
}

func referencesColumn(src, id string) bool {
	if src == "" {
		return false
	}
	prog, err := expr.Compile(src)
	if err != nil {
		return false
	}
	return slices.Contains(prog.References("columns"), id)
}

func validateColumn(col *domain.Column) error {
	if col.Name == "" {
		return fmt.Errorf("%w: column name is required", ErrInvalid)
	}
	if _, err := expr.Compile(col.Expression); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch col.ValueType {
	case "":
		col.ValueType = domain.ValueNumber
	case domain.ValueNumber, domain.ValueString, domain.ValueBoolean:
	default:
		return fmt.Errorf("%w: unknown value type %q", ErrInvalid, col.ValueType)
	}
	switch col.Format {
	case domain.FormatNone, domain.FormatCurrency, domain.FormatPercentage,
		domain.FormatDecimal, domain.FormatRelativeTime:
	default:
		return fmt.Errorf("%w: unknown format %q", ErrInvalid, col.Format)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Filters
// ---------------------------------------------------------------------------

// Filters returns the saved filters. The first call on an empty store seeds
// and persists the presets.
func (s *Service) Filters(ctx context.Context) ([]domain.Filter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filtersLocked(ctx)
}

func (s *Service) filtersLocked(ctx context.Context) ([]domain.Filter, error) {
	return loadOrSeed(ctx, s, keyFilters, PresetFilters)
}

// SaveFilter inserts f, or replaces the filter with the same id. An empty id
// is assigned a new one. Every expression's code must compile; highlight
// targets may be plain names and are not checked.
func (s *Service) SaveFilter(ctx context.Context, f domain.Filter) (domain.Filter, error) {
	if f.Name == "" {
		return f, fmt.Errorf("%w: filter name is required", ErrInvalid)
	}
	if len(f.Expressions) == 0 {
		return f, fmt.Errorf("%w: filter needs at least one expression", ErrInvalid)
	}
	for _, fe := range f.Expressions {
		if _, err := expr.Compile(fe.Code); err != nil {
			return f, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	filters, err := s.filtersLocked(ctx)
	if err != nil {
		return f, err
	}
	if i := slices.IndexFunc(filters, func(x domain.Filter) bool { return x.ID == f.ID }); i >= 0 {
		filters[i] = f
	} else {
		filters = append(filters, f)
	}
	if err := store.SetJSON(ctx, s.kv, keyFilters, filters); err != nil {
		return f, fmt.Errorf("saving filter %s: %w", f.ID, err)
	}
	s.log.Info("saved filter", "id", f.ID, "name", f.Name)
	return f, nil
}

// SetFilterEnabled toggles whether a filter takes part in composition.
func (s *Service) SetFilterEnabled(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	filters, err := s.filtersLocked(ctx)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(filters, func(f domain.Filter) bool { return f.ID == id })
	if i < 0 {
		return fmt.Errorf("filter %s: %w", id, store.ErrNotFound)
	}
	filters[i].Enabled = enabled
	return store.SetJSON(ctx, s.kv, keyFilters, filters)
}

// DeleteFilter removes a filter.
func (s *Service) DeleteFilter(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	filters, err := s.filtersLocked(ctx)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(filters, func(f domain.Filter) bool { return f.ID == id })
	if i < 0 {
		return fmt.Errorf("filter %s: %w", id, store.ErrNotFound)
	}
	filters = slices.Delete(filters, i, i+1)
	if err := store.SetJSON(ctx, s.kv, keyFilters, filters); err != nil {
		return fmt.Errorf("deleting filter %s: %w", id, err)
	}
	s.log.Info("deleted filter", "id", id)
	return nil
}

// ---------------------------------------------------------------------------
// Favorites
// ---------------------------------------------------------------------------

// Favorites returns the favorite record ids in the order they were added.
func (s *Service) Favorites(ctx context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, _, err := store.GetJSON[[]int](ctx, s.kv, keyFavorites)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []int{}
	}
	return ids, nil
}

// ToggleFavorite adds or removes recordID and reports whether it is now a
// favorite.
func (s *Service) ToggleFavorite(ctx context.Context, recordID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, _, err := store.GetJSON[[]int](ctx, s.kv, keyFavorites)
	if err != nil {
		return false, err
	}
	fav := true
	if i := slices.Index(ids, recordID); i >= 0 {
		ids = slices.Delete(ids, i, i+1)
		fav = false
	} else {
		ids = append(ids, recordID)
	}
	if err := store.SetJSON(ctx, s.kv, keyFavorites, ids); err != nil {
		return false, fmt.Errorf("saving favorites: %w", err)
	}
	return fav, nil
}

// loadOrSeed reads a definition list, seeding it from presets when the key
// has never been written. Must be called with s.mu held.
func loadOrSeed[T any](ctx context.Context, s *Service, key string, presets func() []T) ([]T, error) {
	items, ok, err := store.GetJSON[[]T](ctx, s.kv, key)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", key, err)
	}
	if ok {
		return items, nil
	}
	items = presets()
	if err := store.SetJSON(ctx, s.kv, key, items); err != nil {
		return nil, fmt.Errorf("seeding %s: %w", key, err)
	}
	s.log.Info("seeded preset definitions", "key", key, "count", len(items))
	return items, nil
}
