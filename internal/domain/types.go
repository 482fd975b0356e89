// Package domain defines the core data types shared across marketlens:
// market records, historical series points, user-defined columns and
// filters, and the rows produced by filter composition.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// Record is one market entity with its named facts. Numeric facts are stored
// as float64, flags as bool, text as string. A missing fact is nil.
type Record struct {
	ID    int            `json:"id"`
	Name  string         `json:"name"`
	Facts map[string]any `json:"facts"`
}

// Field returns the named fact. "id" and "name" resolve to the identity
// fields; everything else is looked up in Facts.
func (r *Record) Field(name string) (any, bool) {
	switch name {
	case "id":
		return float64(r.ID), true
	case "name":
		return r.Name, true
	}
	v, ok := r.Facts[name]
	return v, ok
}

// Number returns a numeric fact, or false if it is absent or not a number.
func (r *Record) Number(name string) (float64, bool) {
	v, ok := r.Field(name)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// ---------------------------------------------------------------------------
// Time series
// ---------------------------------------------------------------------------

// Interval is a historical aggregation granularity.
type Interval string

const (
	Interval5m  Interval = "5m"
	Interval1h  Interval = "1h"
	Interval6h  Interval = "6h"
	Interval24h Interval = "24h"
)

// Intervals lists every supported interval in ascending order.
var Intervals = []Interval{Interval5m, Interval1h, Interval6h, Interval24h}

// ErrInvalidInterval is returned (or panicked with) when an interval outside
// the enumerated set is used.
var ErrInvalidInterval = errors.New("invalid interval")

// Valid reports whether iv is one of the enumerated intervals.
func (iv Interval) Valid() bool {
	switch iv {
	case Interval5m, Interval1h, Interval6h, Interval24h:
		return true
	}
	return false
}

// Duration returns the bucket width of the interval.
func (iv Interval) Duration() time.Duration {
	switch iv {
	case Interval5m:
		return 5 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval6h:
		return 6 * time.Hour
	case Interval24h:
		return 24 * time.Hour
	}
	return 0
}

// ParseInterval validates an interval string from untrusted input.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if !iv.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
	return iv, nil
}

// SeriesPoint is one bucket of historical price data. Prices are nil when no
// trades happened on that side during the bucket.
type SeriesPoint struct {
	Timestamp       int64    `json:"timestamp"`
	AvgHighPrice    *float64 `json:"avgHighPrice"`
	AvgLowPrice     *float64 `json:"avgLowPrice"`
	HighPriceVolume int64    `json:"highPriceVolume"`
	LowPriceVolume  int64    `json:"lowPriceVolume"`
}

// Fields returns the point as a name → value map, the shape expressions see.
func (p SeriesPoint) Fields() map[string]any {
	m := map[string]any{
		"timestamp":       float64(p.Timestamp),
		"avgHighPrice":    nil,
		"avgLowPrice":     nil,
		"highPriceVolume": float64(p.HighPriceVolume),
		"lowPriceVolume":  float64(p.LowPriceVolume),
	}
	if p.AvgHighPrice != nil {
		m["avgHighPrice"] = *p.AvgHighPrice
	}
	if p.AvgLowPrice != nil {
		m["avgLowPrice"] = *p.AvgLowPrice
	}
	return m
}

// ---------------------------------------------------------------------------
// Columns
// ---------------------------------------------------------------------------

// ValueType is the declared result type of a column.
type ValueType string

const (
	ValueNumber  ValueType = "number"
	ValueString  ValueType = "string"
	ValueBoolean ValueType = "boolean"
)

// Format selects how a column value is rendered for display.
type Format string

const (
	FormatNone         Format = ""
	FormatCurrency     Format = "currency"
	FormatPercentage   Format = "percentage"
	FormatDecimal      Format = "decimal"
	FormatRelativeTime Format = "relative-time"
)

// Column is a named formula producing a derived value per record.
type Column struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Expression  string    `json:"expression"`
	ValueType   ValueType `json:"valueType"`
	Format      Format    `json:"format,omitempty"`
	Enabled     bool      `json:"enabled"`
	Group       string    `json:"group"`
	Description string    `json:"description"`
}

// ---------------------------------------------------------------------------
// Filters
// ---------------------------------------------------------------------------

// FilterExpression is one alternative inside a filter. The first expression
// whose code is truthy supplies the action and highlight target.
type FilterExpression struct {
	Code            string `json:"code"`
	Action          string `json:"action,omitempty"`
	HighlightTarget string `json:"highlightTarget,omitempty"`
}

// Filter is a named set of boolean expressions. Independent filters add
// their own output rows instead of being AND-combined.
type Filter struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Expressions []FilterExpression `json:"expressions"`
	Enabled     bool               `json:"enabled"`
	Independent bool               `json:"independent"`
	Category    string             `json:"category"`
	Description string             `json:"description"`
}

// FilterResult is the outcome of evaluating one filter against one record.
type FilterResult struct {
	FilterID  string  `json:"filterId"`
	Match     bool    `json:"match"`
	Action    string  `json:"action,omitempty"`
	Highlight *Record `json:"highlight,omitempty"`
}

// Row is one output row of filter composition. Filter is nil for the
// regular (AND-combined) pass.
type Row struct {
	Record    *Record `json:"record"`
	Filter    *Filter `json:"filter,omitempty"`
	Action    string  `json:"action,omitempty"`
	Highlight *Record `json:"highlight,omitempty"`
}
