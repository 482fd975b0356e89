package columns

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"marketlens/internal/domain"
)

// Format renders a column value for display. nil and non-finite numbers
// render as "-". A format that does not apply to the value's type falls
// back to the default rendering.
func Format(v any, format domain.Format, now time.Time) string {
	switch v := v.(type) {
	case nil:
		return "-"
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "-"
		}
		return formatNumber(v, format, now)
	case bool:
		if v {
			return "Yes"
		}
		return "No"
	case string:
		return v
	case []any:
		return fmt.Sprintf("[%d points]", len(v))
	case RecordObject:
		return v.Record.Name
	}
	return fmt.Sprint(v)
}

func formatNumber(v float64, format domain.Format, now time.Time) string {
	switch format {
	case domain.FormatCurrency:
		return humanize.Comma(int64(math.Round(v)))
	case domain.FormatPercentage:
		return fmt.Sprintf("%.2f%%", v)
	case domain.FormatDecimal:
		return fmt.Sprintf("%.2f", v)
	case domain.FormatRelativeTime:
		return RelativeTime(int64(v), now)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// RelativeTime formats a Unix timestamp as a coarse age relative to now,
// e.g. "42s ago" or "3h ago". Future timestamps read as "0s ago".
func RelativeTime(unix int64, now time.Time) string {
	secs := max(now.Unix()-unix, 0)
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds ago", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm ago", secs/60)
	case secs < 86400:
		return fmt.Sprintf("%dh ago", secs/3600)
	default:
		return fmt.Sprintf("%dd ago", secs/86400)
	}
}

// Compact formats a large quantity with K/M/B suffixes.
func Compact(v float64) string {
	a := math.Abs(v)
	switch {
	case a >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case a >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case a >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
