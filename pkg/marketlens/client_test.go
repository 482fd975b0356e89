package marketlens

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/table" {
			t.Errorf("path = %q, want /api/table", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("sort") != "profit" || q.Get("dir") != "asc" || q.Get("limit") != "5" || q.Get("favorites") != "1" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		io.WriteString(w, `{"columns":[{"id":"profit","name":"Profit","valueType":"number","format":"currency"}],
			"rows":[{"id":4151,"name":"Abyssal whip","values":{"profit":20000},"display":{"profit":"20,000"}}],
			"total":1,"offset":0,"limit":5}`)
	}))
	defer srv.Close()

	tbl, err := NewClient(srv.URL).Table(context.Background(), TableQuery{
		Favorites: true, SortBy: "profit", Ascending: true, Limit: 5,
	})
	if err != nil {
		t.Fatalf("Table() error: %v", err)
	}
	if len(tbl.Rows) != 1 || tbl.Rows[0].Display["profit"] != "20,000" {
		t.Errorf("Table() rows = %+v", tbl.Rows)
	}
	if tbl.Columns[0].Format != "currency" {
		t.Errorf("column format = %q, want currency", tbl.Columns[0].Format)
	}
}

func TestSeriesAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/series/4151/1h":
			io.WriteString(w, `{"recordId":4151,"interval":"1h","points":[{"timestamp":1,"avgHighPrice":5,"avgLowPrice":null}]}`)
		case "/api/series/4151/1h/refresh":
			if r.Method != http.MethodPost {
				t.Errorf("refresh method = %s, want POST", r.Method)
			}
			io.WriteString(w, `{"points":[]}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"invalid interval: \"2h\""}`)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL)
	ctx := context.Background()

	pts, err := c.Series(ctx, 4151, "1h")
	if err != nil {
		t.Fatalf("Series() error: %v", err)
	}
	if len(pts) != 1 || pts[0].AvgHighPrice == nil || *pts[0].AvgHighPrice != 5 || pts[0].AvgLowPrice != nil {
		t.Errorf("Series() = %+v", pts)
	}

	if _, err := c.RefreshSeries(ctx, 4151, "1h"); err != nil {
		t.Errorf("RefreshSeries() error: %v", err)
	}

	_, err = c.Series(ctx, 4151, "2h")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("Series(2h) error = %v, want APIError 400", err)
	}
	if apiErr.Message != `invalid interval: "2h"` {
		t.Errorf("APIError.Message = %q", apiErr.Message)
	}
}

func TestDefinitions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "PUT /api/columns":
			var col Column
			if err := json.NewDecoder(r.Body).Decode(&col); err != nil {
				t.Errorf("decoding column: %v", err)
			}
			col.ID = "new-id"
			json.NewEncoder(w).Encode(col)
		case "POST /api/filters/big/enabled":
			var body map[string]bool
			json.NewDecoder(r.Body).Decode(&body)
			if !body["enabled"] {
				t.Errorf("enabled body = %v", body)
			}
			w.WriteHeader(http.StatusNoContent)
		case "POST /api/favorites/995":
			io.WriteString(w, `{"id":995,"favorite":true}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL)
	ctx := context.Background()

	saved, err := c.SaveColumn(ctx, Column{Name: "Spread", Expression: "high - low"})
	if err != nil || saved.ID != "new-id" || saved.Expression != "high - low" {
		t.Errorf("SaveColumn() = %+v, %v", saved, err)
	}
	if err := c.SetFilterEnabled(ctx, "big", true); err != nil {
		t.Errorf("SetFilterEnabled() error: %v", err)
	}
	fav, err := c.ToggleFavorite(ctx, 995)
	if err != nil || !fav {
		t.Errorf("ToggleFavorite() = %v, %v", fav, err)
	}
}
