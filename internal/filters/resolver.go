// Package filters evaluates user-defined filters against market records and
// composes them into table rows.
package filters

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"marketlens/internal/columns"
	"marketlens/internal/domain"
	"marketlens/internal/expr"
)

// Resolver evaluates filters. Column references inside filter code go
// through the column resolver and share its memoization per record.
type Resolver struct {
	columns *columns.Resolver
	log     *slog.Logger
}

// NewResolver creates a filter Resolver on top of a column resolver.
func NewResolver(cr *columns.Resolver, log *slog.Logger) *Resolver {
	return &Resolver{columns: cr, log: log}
}

// EvaluateFilter evaluates one filter against rec. The filter's expressions
// are tried in order and the first truthy one decides the action and
// highlight; later expressions are not evaluated. Failing expressions count
// as no match.
func (r *Resolver) EvaluateFilter(rec *domain.Record, f *domain.Filter, allColumns []domain.Column, allRecords []domain.Record) domain.FilterResult {
	sess := r.columns.NewSession(rec, allColumns)
	return r.evaluate(sess, f, NewIndex(allRecords))
}

// EvaluateFilters evaluates each filter against rec, in order.
func (r *Resolver) EvaluateFilters(rec *domain.Record, filters []domain.Filter, allColumns []domain.Column, allRecords []domain.Record) []domain.FilterResult {
	sess := r.columns.NewSession(rec, allColumns)
	idx := NewIndex(allRecords)
	out := make([]domain.FilterResult, len(filters))
	for i := range filters {
		out[i] = r.evaluate(sess, &filters[i], idx)
	}
	return out
}

func (r *Resolver) evaluate(sess *columns.Session, f *domain.Filter, idx *Index) domain.FilterResult {
	res := domain.FilterResult{FilterID: f.ID}
	env := sess.Env(map[string]any{"getRecord": idx.getRecordFunc()})

	for _, fe := range f.Expressions {
		if !r.truthy(f, fe.Code, env, sess.Record()) {
			continue
		}
		res.Match = true
		res.Action = fe.Action
		if fe.HighlightTarget != "" {
			res.Highlight = r.highlight(fe.HighlightTarget, env, idx)
		}
		return res
	}
	return res
}

func (r *Resolver) truthy(f *domain.Filter, code string, env expr.Env, rec *domain.Record) bool {
	prog, err := r.columns.Compile(code)
	if err != nil {
		r.log.Warn("filter does not compile", "filter", f.ID, "expression", code, "error", err)
		return false
	}
	v, err := prog.Eval(env)
	if err != nil {
		r.log.Debug("filter evaluation failed",
			"filter", f.ID, "record", rec.ID, "expression", code, "error", err)
		return false
	}
	return expr.Truthy(v)
}

// highlight resolves a highlight target to a record. The target is first
// evaluated as an expression; when that fails or does not name a record, the
// literal text is looked up as a record name and then as a numeric id.
func (r *Resolver) highlight(target string, env expr.Env, idx *Index) *domain.Record {
	if prog, err := r.columns.Compile(target); err == nil {
		if v, err := prog.Eval(env); err == nil {
			if rec := idx.resolve(v); rec != nil {
				return rec
			}
		}
	}
	lit := strings.TrimSpace(target)
	if len(lit) >= 2 && (lit[0] == '\'' || lit[0] == '"') && lit[len(lit)-1] == lit[0] {
		lit = lit[1 : len(lit)-1]
	}
	if rec := idx.ByName(lit); rec != nil {
		return rec
	}
	if id, err := strconv.Atoi(lit); err == nil {
		return idx.ByID(id)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Record index
// ---------------------------------------------------------------------------

// Index looks records up by id or case-insensitive name.
type Index struct {
	byID   map[int]*domain.Record
	byName map[string]*domain.Record
}

// NewIndex indexes records. On duplicate names the first record wins.
func NewIndex(records []domain.Record) *Index {
	idx := &Index{
		byID:   make(map[int]*domain.Record, len(records)),
		byName: make(map[string]*domain.Record, len(records)),
	}
	for i := range records {
		rec := &records[i]
		idx.byID[rec.ID] = rec
		key := strings.ToLower(rec.Name)
		if _, dup := idx.byName[key]; !dup {
			idx.byName[key] = rec
		}
	}
	return idx
}

// ByID returns the record with the given id, or nil.
func (idx *Index) ByID(id int) *domain.Record { return idx.byID[id] }

// ByName returns the record with the given name ignoring case, or nil.
func (idx *Index) ByName(name string) *domain.Record {
	return idx.byName[strings.ToLower(name)]
}

// resolve maps an expression value to a record: record values directly,
// numbers by id, strings by name then id.
func (idx *Index) resolve(v any) *domain.Record {
	switch v := v.(type) {
	case columns.RecordObject:
		return v.Record
	case float64:
		return idx.ByID(int(v))
	case string:
		if rec := idx.ByName(v); rec != nil {
			return rec
		}
		if id, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return idx.ByID(id)
		}
	}
	return nil
}

// getRecordFunc implements getRecord(idOrName, property?) for filter code.
// An unknown record yields null; with property it yields that field.
func (idx *Index) getRecordFunc() expr.Func {
	return func(args []any) (any, error) {
		if len(args) < 1 || len(args) > 2 {
			return nil, fmt.Errorf("getRecord: expected 1-2 arguments, got %d", len(args))
		}
		rec := idx.resolve(args[0])
		if rec == nil {
			return nil, nil
		}
		if len(args) == 1 || args[1] == nil {
			return columns.RecordObject{Record: rec}, nil
		}
		prop, ok := args[1].(string)
		if !ok {
			return nil, fmt.Errorf("getRecord: property must be a string")
		}
		v, _ := rec.Field(prop)
		return v, nil
	}
}
