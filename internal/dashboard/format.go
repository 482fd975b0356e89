// Package dashboard renders marketlens tables for the terminal.
package dashboard

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	return humanize.Comma(int64(n))
}

// FormatCompact formats a coin or volume amount with K/M/B suffixes. Values
// under ten thousand are printed in full.
func FormatCompact(v float64) string {
	a := math.Abs(v)
	switch {
	case a >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case a >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case a >= 1e4:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return humanize.Comma(int64(math.Round(v)))
	}
}

// FormatChange formats a fractional change as "+X.X%" or "-X.X%", or "" if
// zero. Drops the decimal at 100% and above to keep width compact.
func FormatChange(c float64) string {
	if c == 0 || math.IsNaN(c) {
		return ""
	}
	sign := "+"
	if c < 0 {
		sign = "-"
	}
	pct := math.Abs(c) * 100
	if pct >= 100 {
		return fmt.Sprintf("%s%.0f%%", sign, pct)
	}
	return fmt.Sprintf("%s%.1f%%", sign, pct)
}

// padOrTrunc pads s with spaces, or cuts it, to exactly width runes.
func padOrTrunc(s string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) >= width {
		return string(r[:width])
	}
	return s + strings.Repeat(" ", width-len(r))
}

// padLeft right-aligns s in width runes, cutting it if needed.
func padLeft(s string, width int) string {
	r := []rune(s)
	if len(r) >= width {
		return string(r[:width])
	}
	return strings.Repeat(" ", width-len(r)) + s
}
