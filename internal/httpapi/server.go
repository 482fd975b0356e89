package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"marketlens/internal/catalog"
	"marketlens/internal/columns"
	"marketlens/internal/definitions"
	"marketlens/internal/domain"
	"marketlens/internal/filters"
	"marketlens/internal/seriescache"
	"marketlens/internal/store"
)

// Priorities used when the API asks the cache for series.
const (
	priorityTable    = 0
	priorityFavorite = 10
	priorityDirect   = 50
)

// DashboardServer serves the dashboard HTTP API.
type DashboardServer struct {
	catalog *catalog.Catalog
	defs    *definitions.Service
	cache   *seriescache.Cache
	columns *columns.Resolver
	filters *filters.Resolver
	log     *slog.Logger
	now     func() time.Time
}

// NewDashboardServer creates a new dashboard HTTP server.
func NewDashboardServer(
	cat *catalog.Catalog,
	defs *definitions.Service,
	cache *seriescache.Cache,
	cr *columns.Resolver,
	fr *filters.Resolver,
	log *slog.Logger,
) *DashboardServer {
	return &DashboardServer{
		catalog: cat,
		defs:    defs,
		cache:   cache,
		columns: cr,
		filters: fr,
		log:     log,
		now:     time.Now,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *DashboardServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/table", s.handleTable)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("GET /api/series/{id}/{interval}", s.handleSeries)
	mux.HandleFunc("POST /api/series/{id}/{interval}/refresh", s.handleRefreshSeries)

	mux.HandleFunc("GET /api/columns", s.handleListColumns)
	mux.HandleFunc("PUT /api/columns", s.handleSaveColumn)
	mux.HandleFunc("PUT /api/columns/order", s.handleReorderColumns)
	mux.HandleFunc("DELETE /api/columns/{id}", s.handleDeleteColumn)
	mux.HandleFunc("POST /api/columns/{id}/enabled", s.handleColumnEnabled)

	mux.HandleFunc("GET /api/filters", s.handleListFilters)
	mux.HandleFunc("PUT /api/filters", s.handleSaveFilter)
	mux.HandleFunc("DELETE /api/filters/{id}", s.handleDeleteFilter)
	mux.HandleFunc("POST /api/filters/{id}/enabled", s.handleFilterEnabled)

	mux.HandleFunc("GET /api/favorites", s.handleFavorites)
	mux.HandleFunc("POST /api/favorites/{id}", s.handleToggleFavorite)

	mux.HandleFunc("GET /api/ws", s.handleWS)
}

// Handler returns an http.Handler with CORS middleware.
func (s *DashboardServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeServiceError maps service errors to HTTP statuses.
func (s *DashboardServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, definitions.ErrInvalid), errors.Is(err, domain.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, definitions.ErrColumnReferenced):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, seriescache.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// pathRecordID parses the {id} path value as a record id.
func pathRecordID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	return id, err == nil && id >= 0
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (s *DashboardServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Catalog: catalogState(s.catalog),
		Cache:   s.cache.Stats(),
	}
	if t := s.catalog.LoadedAt(); !t.IsZero() {
		resp.LoadedAt = t.UnixMilli()
		if recs, err := s.catalog.Records(r.Context()); err == nil {
			resp.Records = len(recs)
		}
	}
	writeJSON(w, resp)
}
