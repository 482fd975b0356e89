// Package httpapi provides the dashboard HTTP API: the evaluated table,
// historical series, saved definitions and a WebSocket feed of cache
// updates.
package httpapi

import (
	"marketlens/internal/catalog"
	"marketlens/internal/columns"
	"marketlens/internal/domain"
	"marketlens/internal/seriescache"
)

// ColumnJSON describes one displayed column.
type ColumnJSON struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	ValueType domain.ValueType `json:"valueType"`
	Format    domain.Format    `json:"format,omitempty"`
	Group     string           `json:"group,omitempty"`
}

// RecordRef identifies a record without its facts.
type RecordRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// RowJSON is one evaluated table row.
type RowJSON struct {
	ID         int               `json:"id"`
	Name       string            `json:"name"`
	Favorite   bool              `json:"favorite,omitempty"`
	FilterID   string            `json:"filterId,omitempty"`   // set for independent filter rows
	FilterName string            `json:"filterName,omitempty"` // set for independent filter rows
	Action     string            `json:"action,omitempty"`
	Highlight  *RecordRef        `json:"highlight,omitempty"`
	Values     map[string]any    `json:"values"`
	Display    map[string]string `json:"display"`
}

// TableResponse is the response of GET /api/table.
type TableResponse struct {
	Columns []ColumnJSON `json:"columns"`
	Rows    []RowJSON    `json:"rows"`
	Total   int          `json:"total"`
	Offset  int          `json:"offset"`
	Limit   int          `json:"limit"`
}

// SeriesResponse is the response of the series endpoints.
type SeriesResponse struct {
	RecordID int                  `json:"recordId"`
	Interval domain.Interval      `json:"interval"`
	Points   []domain.SeriesPoint `json:"points"`
}

// EnabledRequest is the body of the enable/disable endpoints.
type EnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// OrderRequest is the body of PUT /api/columns/order.
type OrderRequest struct {
	IDs []string `json:"ids"`
}

// FavoritesResponse lists favorite record ids.
type FavoritesResponse struct {
	IDs []int `json:"ids"`
}

// FavoriteResponse reports the state of one record after a toggle.
type FavoriteResponse struct {
	ID       int  `json:"id"`
	Favorite bool `json:"favorite"`
}

// StatusResponse reports catalog and cache health.
type StatusResponse struct {
	Catalog  string            `json:"catalog"`
	Records  int               `json:"records"`
	LoadedAt int64             `json:"loadedAt,omitempty"` // Unix ms
	Cache    seriescache.Stats `json:"cache"`
}

// WSMessage is one message on the WebSocket feed.
type WSMessage struct {
	Type  string             `json:"type"` // "hello" or "series"
	Item  int                `json:"item,omitempty"`
	Event *seriescache.Event `json:"event,omitempty"`
}

func catalogState(c *catalog.Catalog) string { return c.State().String() }

// jsonValue converts an evaluated value to something encoding/json renders
// sensibly. Record references become {id, name}.
func jsonValue(v any) any {
	switch v := v.(type) {
	case columns.RecordObject:
		if v.Record == nil {
			return nil
		}
		return RecordRef{ID: v.Record.ID, Name: v.Record.Name}
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = jsonValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = jsonValue(e)
		}
		return out
	}
	return v
}

func recordRef(r *domain.Record) *RecordRef {
	if r == nil {
		return nil
	}
	return &RecordRef{ID: r.ID, Name: r.Name}
}
