package httpapi

import (
	"cmp"
	"net/http"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"marketlens/internal/columns"
	"marketlens/internal/domain"
	"marketlens/internal/expr"
)

const defaultPageSize = 100

// handleTable evaluates the enabled filters and columns over the record set.
//
// Query parameters:
//
//	q         case-insensitive name substring
//	favorites "1" keeps favorite records only
//	sort      column id to sort by; dir=asc|desc (default desc)
//	offset    first row, default 0
//	limit     page size, default 100
func (s *DashboardServer) handleTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		records []domain.Record
		cols    []domain.Column
		fs      []domain.Filter
		favs    []int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { records, err = s.catalog.Records(gctx); return })
	g.Go(func() (err error) { cols, err = s.defs.Columns(gctx); return })
	g.Go(func() (err error) { fs, err = s.defs.Filters(gctx); return })
	g.Go(func() (err error) { favs, err = s.defs.Favorites(gctx); return })
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error("loading table inputs", "error", err)
		writeError(w, http.StatusBadGateway, "records unavailable")
		return
	}

	favSet := make(map[int]bool, len(favs))
	for _, id := range favs {
		favSet[id] = true
	}

	rows := s.filters.Apply(records, fs, cols)

	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	onlyFavs := r.URL.Query().Get("favorites") == "1"
	if q != "" || onlyFavs {
		rows = slices.DeleteFunc(rows, func(row domain.Row) bool {
			if onlyFavs && !favSet[row.Record.ID] {
				return true
			}
			return q != "" && !strings.Contains(strings.ToLower(row.Record.Name), q)
		})
	}

	var enabled []domain.Column
	for _, c := range cols {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}

	// Evaluate every remaining row so sorting sees all values.
	now := s.now()
	out := make([]RowJSON, len(rows))
	for i, row := range rows {
		sess := s.columns.NewSession(row.Record, cols)
		values := make(map[string]any, len(enabled))
		display := make(map[string]string, len(enabled))
		for _, c := range enabled {
			v := sess.Value(c.ID)
			values[c.ID] = jsonValue(v)
			display[c.ID] = columns.Format(v, c.Format, now)
		}
		out[i] = RowJSON{
			ID:        row.Record.ID,
			Name:      row.Record.Name,
			Favorite:  favSet[row.Record.ID],
			Action:    row.Action,
			Highlight: recordRef(row.Highlight),
			Values:    values,
			Display:   display,
		}
		if row.Filter != nil {
			out[i].FilterID = row.Filter.ID
			out[i].FilterName = row.Filter.Name
		}
	}

	if key := r.URL.Query().Get("sort"); key != "" {
		desc := r.URL.Query().Get("dir") != "asc"
		sortRows(out, key, desc)
	}

	total := len(out)
	offset := min(queryInt(r, "offset", 0), total)
	limit := queryInt(r, "limit", defaultPageSize)
	if limit == 0 {
		limit = defaultPageSize
	}
	page := out[offset:min(offset+limit, total)]

	s.prefetchSeries(page, cols, fs)

	colJSON := make([]ColumnJSON, len(enabled))
	for i, c := range enabled {
		colJSON[i] = ColumnJSON{ID: c.ID, Name: c.Name, ValueType: c.ValueType, Format: c.Format, Group: c.Group}
	}
	writeJSON(w, TableResponse{
		Columns: colJSON,
		Rows:    page,
		Total:   total,
		Offset:  offset,
		Limit:   limit,
	})
}

// sortRows orders rows by one column. Numbers sort numerically, strings
// case-insensitively; nulls always sort last.
func sortRows(rows []RowJSON, key string, desc bool) {
	slices.SortStableFunc(rows, func(a, b RowJSON) int {
		av, bv := a.Values[key], b.Values[key]
		if av == nil || bv == nil {
			switch {
			case av == nil && bv == nil:
				return 0
			case av == nil:
				return 1
			default:
				return -1
			}
		}
		c := compareValues(av, bv)
		if desc {
			c = -c
		}
		return c
	})
}

func compareValues(a, b any) int {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return cmp.Compare(af, bf)
	}
	return cmp.Compare(strings.ToLower(expr.Stringify(a)), strings.ToLower(expr.Stringify(b)))
}

// prefetchSeries warms the cache for every interval that enabled column or
// filter code names literally in a timeseries() call, for the rows about to
// be shown. Favorites are fetched first.
func (s *DashboardServer) prefetchSeries(rows []RowJSON, cols []domain.Column, fs []domain.Filter) {
	var sources []string
	for _, c := range cols {
		if c.Enabled {
			sources = append(sources, c.Expression)
		}
	}
	for _, f := range fs {
		if f.Enabled {
			for _, fe := range f.Expressions {
				sources = append(sources, fe.Code)
			}
		}
	}
	intervals := referencedIntervals(s.columns, sources)
	if len(intervals) == 0 {
		return
	}

	seen := make(map[int]bool, len(rows))
	for _, row := range rows {
		if seen[row.ID] {
			continue
		}
		seen[row.ID] = true
		prio := priorityTable
		if row.Favorite {
			prio = priorityFavorite
		}
		for _, iv := range intervals {
			s.cache.Prefetch(row.ID, iv, prio)
		}
	}
}

// referencedIntervals returns the valid intervals passed as string literals
// to timeseries(id, interval) or timeseries(interval).
func referencedIntervals(cr *columns.Resolver, sources []string) []domain.Interval {
	seen := make(map[domain.Interval]bool)
	var out []domain.Interval
	for _, src := range sources {
		prog, err := cr.Compile(src)
		if err != nil {
			continue
		}
		args := append(prog.StringArgs("timeseries", 1), prog.StringArgs("timeseries", 0)...)
		for _, a := range args {
			iv := domain.Interval(a)
			if iv.Valid() && !seen[iv] {
				seen[iv] = true
				out = append(out, iv)
			}
		}
	}
	return out
}
