package filters

import (
	"marketlens/internal/domain"
)

// Apply composes the enabled filters into table rows.
//
// Regular filters are AND-combined: a record yields one row when it matches
// all of them, carrying the first non-empty action and highlight among
// them. Each independent filter adds a row, tagged with that filter, for
// every record it matches. With no regular filters but at least one
// independent filter the regular pass yields nothing. With no enabled
// filters every record passes once.
//
// Rows from the regular pass come first, in record order, followed by the
// rows of each independent filter in filter order.
func (r *Resolver) Apply(records []domain.Record, filters []domain.Filter, allColumns []domain.Column) []domain.Row {
	var regular, independent []*domain.Filter
	for i := range filters {
		f := &filters[i]
		if !f.Enabled {
			continue
		}
		if f.Independent {
			independent = append(independent, f)
		} else {
			regular = append(regular, f)
		}
	}

	if len(regular) == 0 && len(independent) == 0 {
		rows := make([]domain.Row, len(records))
		for i := range records {
			rows[i] = domain.Row{Record: &records[i]}
		}
		return rows
	}

	idx := NewIndex(records)
	var rows []domain.Row
	extra := make([][]domain.Row, len(independent))

	for i := range records {
		rec := &records[i]
		sess := r.columns.NewSession(rec, allColumns)

		if len(regular) > 0 {
			row := domain.Row{Record: rec}
			matched := true
			for _, f := range regular {
				res := r.evaluate(sess, f, idx)
				if !res.Match {
					matched = false
					break
				}
				if row.Action == "" {
					row.Action = res.Action
				}
				if row.Highlight == nil {
					row.Highlight = res.Highlight
				}
			}
			if matched {
				rows = append(rows, row)
			}
		}

		for j, f := range independent {
			res := r.evaluate(sess, f, idx)
			if res.Match {
				extra[j] = append(extra[j], domain.Row{
					Record:    rec,
					Filter:    f,
					Action:    res.Action,
					Highlight: res.Highlight,
				})
			}
		}
	}

	for _, e := range extra {
		rows = append(rows, e...)
	}
	return rows
}
