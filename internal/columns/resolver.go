// Package columns evaluates user-defined columns against market records.
//
// A column is an expression over one record. Other columns are reachable as
// columns.<id> and are evaluated lazily against the same record, memoized
// for the duration of one Session. Recursion is bounded by a depth limit and
// a reference cycle is detected explicitly; both yield nil instead of an
// error so a single broken column cannot break a render pass.
package columns

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"marketlens/internal/domain"
	"marketlens/internal/expr"
)

// MaxDepth is the default bound on nested column references.
const MaxDepth = 10

// SeriesReader is the synchronous, memory-only view of the timeseries cache
// that expressions read through timeseries().
type SeriesReader interface {
	GetSync(recordID int, interval domain.Interval) ([]domain.SeriesPoint, bool)
}

// Resolver evaluates columns. It is safe for concurrent use; per-record state
// lives in a Session.
type Resolver struct {
	programs *expr.Cache
	series   SeriesReader
	now      func() time.Time
	maxDepth int
	log      *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the clock used for the now variable.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithMaxDepth overrides the column recursion bound.
func WithMaxDepth(depth int) Option {
	return func(r *Resolver) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// WithCompileCache makes the resolver use a private compile cache instead of
// the process-wide one.
func WithCompileCache(c *expr.Cache) Option {
	return func(r *Resolver) { r.programs = c }
}

// NewResolver creates a Resolver. series may be nil, in which case
// timeseries() always yields null.
func NewResolver(series SeriesReader, log *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		series:   series,
		now:      time.Now,
		maxDepth: MaxDepth,
		log:      log,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Compile compiles src through the resolver's compile cache.
func (r *Resolver) Compile(src string) (*expr.Program, error) {
	if r.programs != nil {
		return r.programs.Compile(src)
	}
	return expr.Compile(src)
}

// Logger returns the resolver's logger.
func (r *Resolver) Logger() *slog.Logger { return r.log }

// EvaluateColumn evaluates col against rec with allColumns visible through
// columns.<id>. Failures of any kind yield nil.
func (r *Resolver) EvaluateColumn(col *domain.Column, rec *domain.Record, allColumns []domain.Column) any {
	return r.NewSession(rec, allColumns).evaluate(col, 0)
}

// EvaluateColumnAt is EvaluateColumn starting at the given recursion depth.
func (r *Resolver) EvaluateColumnAt(col *domain.Column, rec *domain.Record, allColumns []domain.Column, depth int) any {
	return r.NewSession(rec, allColumns).evaluate(col, depth)
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

// Session evaluates columns for a single record. Column values are memoized
// for the lifetime of the session, except values that passed through a depth
// or cycle abort: those depend on where evaluation started and are recomputed.
// A Session is not safe for concurrent use.
type Session struct {
	r      *Resolver
	rec    *domain.Record
	cols   []domain.Column
	byID   map[string]*domain.Column
	memo   map[string]any
	active map[string]bool
	aborts int // depth and cycle aborts so far
	now    float64
}

// NewSession starts an evaluation session for rec.
func (r *Resolver) NewSession(rec *domain.Record, allColumns []domain.Column) *Session {
	byID := make(map[string]*domain.Column, len(allColumns))
	for i := range allColumns {
		byID[allColumns[i].ID] = &allColumns[i]
	}
	return &Session{
		r:      r,
		rec:    rec,
		cols:   allColumns,
		byID:   byID,
		memo:   make(map[string]any),
		active: make(map[string]bool),
		now:    float64(r.now().Unix()),
	}
}

// Record returns the record the session evaluates against.
func (s *Session) Record() *domain.Record { return s.rec }

// Now returns the session's evaluation time in Unix seconds.
func (s *Session) Now() float64 { return s.now }

// Value evaluates the column with the given id, or nil if it does not exist.
func (s *Session) Value(id string) any {
	col, ok := s.byID[id]
	if !ok {
		return nil
	}
	return s.evaluate(col, 0)
}

// Values evaluates every enabled column in order and returns id → value.
func (s *Session) Values() map[string]any {
	out := make(map[string]any, len(s.cols))
	for i := range s.cols {
		if s.cols[i].Enabled {
			out[s.cols[i].ID] = s.evaluate(&s.cols[i], 0)
		}
	}
	return out
}

// Env builds an evaluation environment for a free-standing expression, such
// as a filter, against the session's record. extra adds or overrides
// variables. Columns referenced from it are evaluated at depth 0.
func (s *Session) Env(extra map[string]any) expr.Env {
	env := s.env(-1)
	for k, v := range extra {
		env.Vars[k] = v
	}
	return env
}

func (s *Session) env(depth int) expr.Env {
	rec := RecordObject{Record: s.rec}
	return expr.Env{
		Vars: map[string]any{
			"record":     rec,
			"columns":    columnsObject{s: s, depth: depth},
			"now":        s.now,
			"timeseries": s.timeseriesFunc(),
		},
		Fallback: rec,
	}
}

func (s *Session) evaluate(col *domain.Column, depth int) any {
	log := s.r.log
	if depth > s.r.maxDepth {
		log.Warn("column recursion too deep",
			"column", col.ID, "record", s.rec.ID, "depth", depth, "maxDepth", s.r.maxDepth)
		s.aborts++
		return nil
	}
	if s.active[col.ID] {
		log.Warn("column reference cycle", "column", col.ID, "record", s.rec.ID)
		s.aborts++
		return nil
	}
	if v, ok := s.memo[col.ID]; ok {
		return v
	}

	prog, err := s.r.Compile(col.Expression)
	if err != nil {
		log.Warn("column does not compile", "column", col.ID, "expression", col.Expression, "error", err)
		s.memo[col.ID] = nil
		return nil
	}

	aborts := s.aborts
	s.active[col.ID] = true
	v, err := prog.Eval(s.env(depth))
	delete(s.active, col.ID)
	if err != nil {
		log.Debug("column evaluation failed",
			"column", col.ID, "record", s.rec.ID, "expression", col.Expression, "error", err)
		v = nil
	}

	v = normalize(v)
	if s.aborts == aborts {
		s.memo[col.ID] = v
	}
	return v
}

// normalize maps non-finite numbers to nil and drops values an expression
// should not leak, such as host functions.
func normalize(v any) any {
	switch v := v.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return v
	case string, bool, nil, []any, map[string]any:
		return v
	case RecordObject:
		return v
	}
	return nil
}

func (s *Session) timeseriesFunc() expr.Func {
	return func(args []any) (any, error) {
		var id float64
		var ivArg any
		switch len(args) {
		case 1:
			id, ivArg = float64(s.rec.ID), args[0]
		case 2:
			n, ok := args[0].(float64)
			if !ok {
				return nil, fmt.Errorf("timeseries: record id must be a number")
			}
			id, ivArg = n, args[1]
		default:
			return nil, fmt.Errorf("timeseries: expected 1-2 arguments, got %d", len(args))
		}
		ivs, ok := ivArg.(string)
		if !ok {
			return nil, fmt.Errorf("timeseries: interval must be a string")
		}
		iv, err := domain.ParseInterval(ivs)
		if err != nil {
			return nil, err
		}
		if s.r.series == nil {
			return nil, nil
		}
		points, ok := s.r.series.GetSync(int(id), iv)
		if !ok {
			return nil, nil
		}
		out := make([]any, len(points))
		for i, p := range points {
			out[i] = p.Fields()
		}
		return out, nil
	}
}

// ---------------------------------------------------------------------------
// Expression objects
// ---------------------------------------------------------------------------

// RecordObject exposes a record's fields to expressions. Missing fields
// read as null.
type RecordObject struct {
	Record *domain.Record
}

// Member implements expr.Object.
func (o RecordObject) Member(name string) (any, error) {
	v, _ := o.Record.Field(name)
	return v, nil
}

// columnsObject resolves columns.<id> by evaluating that column one level
// deeper.
type columnsObject struct {
	s     *Session
	depth int
}

func (c columnsObject) Member(id string) (any, error) {
	col, ok := c.s.byID[id]
	if !ok {
		c.s.r.log.Debug("unknown column reference", "column", id, "record", c.s.rec.ID)
		return nil, nil
	}
	return c.s.evaluate(col, c.depth+1), nil
}
