package domain

import (
	"errors"
	"testing"
	"time"
)

func TestRecordField(t *testing.T) {
	r := Record{
		ID:    2434,
		Name:  "Prayer potion(4)",
		Facts: map[string]any{"high": 9800.0, "members": true, "low": nil},
	}

	if v, ok := r.Field("id"); !ok || v != 2434.0 {
		t.Errorf("Field(id) = %v, %v, want 2434, true", v, ok)
	}
	if v, ok := r.Field("name"); !ok || v != "Prayer potion(4)" {
		t.Errorf("Field(name) = %v, %v, want %q, true", v, ok, "Prayer potion(4)")
	}
	if v, ok := r.Field("members"); !ok || v != true {
		t.Errorf("Field(members) = %v, %v, want true, true", v, ok)
	}
	if _, ok := r.Field("missing"); ok {
		t.Error("Field(missing) reported present")
	}
	if _, ok := r.Number("low"); ok {
		t.Error("Number(low) should be false for a nil fact")
	}
	if n, ok := r.Number("high"); !ok || n != 9800 {
		t.Errorf("Number(high) = %v, %v, want 9800, true", n, ok)
	}
}

func TestIntervals(t *testing.T) {
	for _, iv := range Intervals {
		if !iv.Valid() {
			t.Errorf("%q should be valid", iv)
		}
		if iv.Duration() <= 0 {
			t.Errorf("%q has no duration", iv)
		}
	}
	if Interval6h.Duration() != 6*time.Hour {
		t.Errorf("Interval6h.Duration() = %v, want 6h", Interval6h.Duration())
	}

	if _, err := ParseInterval("15m"); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("ParseInterval(15m) error = %v, want ErrInvalidInterval", err)
	}
	iv, err := ParseInterval("1h")
	if err != nil || iv != Interval1h {
		t.Errorf("ParseInterval(1h) = %q, %v, want 1h, nil", iv, err)
	}
}

func TestSeriesPointFields(t *testing.T) {
	high := 120.0
	p := SeriesPoint{Timestamp: 1700000000, AvgHighPrice: &high, HighPriceVolume: 4}

	m := p.Fields()
	if m["avgHighPrice"] != 120.0 {
		t.Errorf("avgHighPrice = %v, want 120", m["avgHighPrice"])
	}
	if m["avgLowPrice"] != nil {
		t.Errorf("avgLowPrice = %v, want nil", m["avgLowPrice"])
	}
	if m["timestamp"] != 1700000000.0 {
		t.Errorf("timestamp = %v, want 1700000000", m["timestamp"])
	}
}
