package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"marketlens/internal/dashboard"
	"marketlens/pkg/marketlens"
)

func main() {
	addr := "http://localhost:8080"
	if a := os.Getenv("MARKETLENS_ADDR"); a != "" {
		addr = a
	}

	var (
		q        marketlens.TableQuery
		series   string
		refresh  bool
		width    int
		interval time.Duration
		rows     int
	)
	flag.StringVar(&addr, "addr", addr, "marketlens-server base URL")
	flag.StringVar(&q.Search, "q", "", "case-insensitive name filter")
	flag.BoolVar(&q.Favorites, "favorites", false, "show favorite records only")
	flag.StringVar(&q.SortBy, "sort", "", "column id to sort by")
	flag.BoolVar(&q.Ascending, "asc", false, "sort ascending")
	flag.IntVar(&q.Offset, "offset", 0, "first row")
	flag.IntVar(&q.Limit, "limit", 50, "rows per page")
	flag.StringVar(&series, "series", "", "show a series instead of the table, as <record id>:<interval>")
	flag.BoolVar(&refresh, "refresh", false, "with -series, bypass the cache")
	flag.IntVar(&rows, "rows", 24, "with -series, number of points to show")
	flag.IntVar(&width, "width", terminalWidth(), "output width")
	flag.DurationVar(&interval, "watch", 0, "redraw every interval (0 draws once)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := marketlens.NewClient(addr)
	draw := func() (string, error) {
		if series != "" {
			return drawSeries(ctx, client, series, refresh, rows, width)
		}
		t, err := client.Table(ctx, q)
		if err != nil {
			return "", err
		}
		return dashboard.Render(t, dashboard.View{
			Title:     addr,
			Width:     width,
			SortBy:    q.SortBy,
			Ascending: q.Ascending,
		}), nil
	}

	if interval <= 0 {
		out, err := draw()
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		fmt.Println(out)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		out, err := draw()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			out = "error: " + err.Error()
		}
		// Clear the screen and home the cursor before each frame.
		fmt.Print("\033[H\033[2J")
		fmt.Println(out)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func drawSeries(ctx context.Context, client *marketlens.Client, spec string, refresh bool, rows, width int) (string, error) {
	idStr, iv, ok := strings.Cut(spec, ":")
	if !ok {
		return "", fmt.Errorf("series %q: want <record id>:<interval>", spec)
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return "", fmt.Errorf("series %q: invalid record id: %w", spec, err)
	}

	var pts []marketlens.Point
	if refresh {
		pts, err = client.RefreshSeries(ctx, id, iv)
	} else {
		pts, err = client.Series(ctx, id, iv)
	}
	if err != nil {
		return "", err
	}
	return dashboard.RenderSeries(fmt.Sprintf("record %d  %s", id, iv), pts, rows, width), nil
}

// terminalWidth reads $COLUMNS, falling back to 120.
func terminalWidth() int {
	if n, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && n > 0 {
		return n
	}
	return 120
}
