package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"marketlens/pkg/marketlens"
)

var (
	nameStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	favoriteStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208")) // orange for favorites
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	actionStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	headerBarStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	footerBarStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8"))
)

const (
	nameWidth     = 26
	maxCellWidth  = 16
	filterWidth   = 36
	defaultWidth  = 120
	columnSpacing = 2
)

// View describes how a table page is presented.
type View struct {
	Title     string
	Width     int
	SortBy    string
	Ascending bool
}

// Render draws a table page with a header bar, one line per row and a footer
// bar. Columns that do not fit in the view width are dropped from the right.
func Render(t *marketlens.Table, v View) string {
	width := v.Width
	if width <= 0 {
		width = defaultWidth
	}

	showFilter := false
	for _, r := range t.Rows {
		if r.FilterName != "" {
			showFilter = true
			break
		}
	}

	used := 2 + nameWidth
	if showFilter {
		used += columnSpacing + filterWidth
	}
	var (
		cols   []marketlens.Column
		widths []int
	)
	for _, c := range t.Columns {
		w := cellWidth(c, t.Rows)
		if used+columnSpacing+w > width {
			break
		}
		used += columnSpacing + w
		cols = append(cols, c)
		widths = append(widths, w)
	}

	var b strings.Builder
	b.WriteString(headerBarStyle.Render(padOrTrunc(headerText(t, v), width)))
	b.WriteString("\n")

	// Column headers.
	b.WriteString(colHeaderStyle.Render("  " + padOrTrunc("Name", nameWidth)))
	for i, c := range cols {
		b.WriteString(strings.Repeat(" ", columnSpacing))
		b.WriteString(colHeaderStyle.Render(padLeft(c.Name, widths[i])))
	}
	if showFilter {
		b.WriteString(strings.Repeat(" ", columnSpacing))
		b.WriteString(colHeaderStyle.Render(padOrTrunc("Filter", filterWidth)))
	}
	b.WriteString("\n")

	if len(t.Rows) == 0 {
		b.WriteString(dimStyle.Render("  (no matching records)"))
		b.WriteString("\n")
	}
	for _, r := range t.Rows {
		renderRow(&b, r, cols, widths, showFilter)
	}

	b.WriteString(footerBarStyle.Render(padOrTrunc(footerText(t, len(t.Columns)-len(cols)), width)))
	return b.String()
}

func renderRow(b *strings.Builder, r marketlens.Row, cols []marketlens.Column, widths []int, showFilter bool) {
	if r.Favorite {
		b.WriteString(favoriteStyle.Render("* "))
		b.WriteString(favoriteStyle.Render(padOrTrunc(r.Name, nameWidth)))
	} else {
		b.WriteString("  ")
		b.WriteString(nameStyle.Render(padOrTrunc(r.Name, nameWidth)))
	}

	for i, c := range cols {
		b.WriteString(strings.Repeat(" ", columnSpacing))
		text := r.Display[c.ID]
		if text == "" {
			b.WriteString(dimStyle.Render(padLeft("-", widths[i])))
			continue
		}
		b.WriteString(cellStyle(r.Values[c.ID]).Render(padLeft(text, widths[i])))
	}

	if showFilter && r.FilterName != "" {
		b.WriteString(strings.Repeat(" ", columnSpacing))
		b.WriteString(actionStyleFor(r.Action).Render(padOrTrunc(filterLabel(r), filterWidth)))
	}
	b.WriteString("\n")
}

// filterLabel describes the matching filter, its action and highlight target.
func filterLabel(r marketlens.Row) string {
	label := r.FilterName
	if r.Action != "" {
		label += " [" + r.Action + "]"
	}
	if r.Highlight != nil {
		label += " > " + r.Highlight.Name
	}
	return label
}

func cellWidth(c marketlens.Column, rows []marketlens.Row) int {
	w := len([]rune(c.Name))
	for _, r := range rows {
		w = max(w, len([]rune(r.Display[c.ID])))
	}
	return min(max(w, 1), maxCellWidth)
}

func cellStyle(v any) lipgloss.Style {
	f, ok := v.(float64)
	switch {
	case !ok:
		return valueStyle
	case f < 0:
		return lossStyle
	default:
		return valueStyle
	}
}

func actionStyleFor(action string) lipgloss.Style {
	switch action {
	case "buy":
		return gainStyle
	case "sell":
		return lossStyle
	case "":
		return dimStyle
	default:
		return actionStyle
	}
}

func headerText(t *marketlens.Table, v View) string {
	title := v.Title
	if title == "" {
		title = "marketlens"
	}
	text := fmt.Sprintf(" %s    records: %s", title, FormatInt(t.Total))
	if len(t.Rows) > 0 {
		text += fmt.Sprintf("  showing %s-%s", FormatInt(t.Offset+1), FormatInt(t.Offset+len(t.Rows)))
	}
	if v.SortBy != "" {
		dir := "desc"
		if v.Ascending {
			dir = "asc"
		}
		text += fmt.Sprintf("    sort: %s %s", v.SortBy, dir)
	}
	return text + " "
}

func footerText(t *marketlens.Table, hidden int) string {
	pages := 1
	page := 1
	if t.Limit > 0 {
		pages = max(1, (t.Total+t.Limit-1)/t.Limit)
		page = t.Offset/t.Limit + 1
	}
	text := fmt.Sprintf(" page %d/%d", page, pages)
	if hidden > 0 {
		text += fmt.Sprintf("    %d column(s) hidden, widen the terminal", hidden)
	}
	return text + " "
}

// RenderSeries draws the most recent points of a series, newest first, under
// a header with the change in average high price across the shown window.
func RenderSeries(title string, pts []marketlens.Point, rows, width int) string {
	if width <= 0 {
		width = defaultWidth
	}
	if rows > 0 && len(pts) > rows {
		pts = pts[len(pts)-rows:]
	}

	text := fmt.Sprintf(" %s    points: %s", title, FormatInt(len(pts)))
	if first, last := firstHigh(pts), lastHigh(pts); first != nil && last != nil && *first != 0 {
		text += "    change: " + FormatChange((*last-*first) / *first)
	}

	var b strings.Builder
	b.WriteString(headerBarStyle.Render(padOrTrunc(text+" ", width)))
	b.WriteString("\n")
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("  %-19s %12s %12s %10s %10s", "Time", "High", "Low", "High vol", "Low vol")))
	b.WriteString("\n")
	if len(pts) == 0 {
		b.WriteString(dimStyle.Render("  (no points)"))
		b.WriteString("\n")
	}
	for i := len(pts) - 1; i >= 0; i-- {
		p := pts[i]
		ts := time.Unix(p.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
		b.WriteString("  " + dimStyle.Render(padOrTrunc(ts, 19)))
		b.WriteString(" " + priceCell(p.AvgHighPrice))
		b.WriteString(" " + priceCell(p.AvgLowPrice))
		b.WriteString(" " + valueStyle.Render(padLeft(FormatCompact(float64(p.HighPriceVolume)), 10)))
		b.WriteString(" " + valueStyle.Render(padLeft(FormatCompact(float64(p.LowPriceVolume)), 10)))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func priceCell(p *float64) string {
	if p == nil {
		return dimStyle.Render(padLeft("-", 12))
	}
	return valueStyle.Render(padLeft(FormatCompact(*p), 12))
}

func firstHigh(pts []marketlens.Point) *float64 {
	for _, p := range pts {
		if p.AvgHighPrice != nil {
			return p.AvgHighPrice
		}
	}
	return nil
}

func lastHigh(pts []marketlens.Point) *float64 {
	for i := len(pts) - 1; i >= 0; i-- {
		if pts[i].AvgHighPrice != nil {
			return pts[i].AvgHighPrice
		}
	}
	return nil
}
