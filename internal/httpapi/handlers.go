package httpapi

import (
	"net/http"

	"marketlens/internal/domain"
)

// --- Series ---

func (s *DashboardServer) seriesParams(w http.ResponseWriter, r *http.Request) (int, domain.Interval, bool) {
	id, ok := pathRecordID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid record id")
		return 0, "", false
	}
	iv, err := domain.ParseInterval(r.PathValue("interval"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, "", false
	}
	return id, iv, true
}

func (s *DashboardServer) handleSeries(w http.ResponseWriter, r *http.Request) {
	id, iv, ok := s.seriesParams(w, r)
	if !ok {
		return
	}
	pts, err := s.cache.Request(r.Context(), id, iv, priorityDirect)
	s.writeSeries(w, r, id, iv, pts, err)
}

func (s *DashboardServer) handleRefreshSeries(w http.ResponseWriter, r *http.Request) {
	id, iv, ok := s.seriesParams(w, r)
	if !ok {
		return
	}
	pts, err := s.cache.Refresh(r.Context(), id, iv, priorityDirect)
	s.writeSeries(w, r, id, iv, pts, err)
}

func (s *DashboardServer) writeSeries(w http.ResponseWriter, r *http.Request, id int, iv domain.Interval, pts []domain.SeriesPoint, err error) {
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		s.log.Warn("series request failed", "record", id, "interval", iv, "error", err)
		writeError(w, http.StatusBadGateway, "series unavailable")
		return
	}
	if pts == nil {
		pts = []domain.SeriesPoint{}
	}
	writeJSON(w, SeriesResponse{RecordID: id, Interval: iv, Points: pts})
}

// --- Columns ---

func (s *DashboardServer) handleListColumns(w http.ResponseWriter, r *http.Request) {
	cols, err := s.defs.Columns(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, cols)
}

func (s *DashboardServer) handleSaveColumn(w http.ResponseWriter, r *http.Request) {
	var col domain.Column
	if err := decodeBody(w, r, &col); err != nil {
		writeError(w, http.StatusBadRequest, "invalid column: "+err.Error())
		return
	}
	saved, err := s.defs.SaveColumn(r.Context(), col)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, saved)
}

func (s *DashboardServer) handleReorderColumns(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid order: "+err.Error())
		return
	}
	if err := s.defs.ReorderColumns(r.Context(), req.IDs); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *DashboardServer) handleDeleteColumn(w http.ResponseWriter, r *http.Request) {
	if err := s.defs.DeleteColumn(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *DashboardServer) handleColumnEnabled(w http.ResponseWriter, r *http.Request) {
	var req EnabledRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := s.defs.SetColumnEnabled(r.Context(), r.PathValue("id"), req.Enabled); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Filters ---

func (s *DashboardServer) handleListFilters(w http.ResponseWriter, r *http.Request) {
	fs, err := s.defs.Filters(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, fs)
}

func (s *DashboardServer) handleSaveFilter(w http.ResponseWriter, r *http.Request) {
	var f domain.Filter
	if err := decodeBody(w, r, &f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid filter: "+err.Error())
		return
	}
	saved, err := s.defs.SaveFilter(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, saved)
}

func (s *DashboardServer) handleDeleteFilter(w http.ResponseWriter, r *http.Request) {
	if err := s.defs.DeleteFilter(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *DashboardServer) handleFilterEnabled(w http.ResponseWriter, r *http.Request) {
	var req EnabledRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := s.defs.SetFilterEnabled(r.Context(), r.PathValue("id"), req.Enabled); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Favorites ---

func (s *DashboardServer) handleFavorites(w http.ResponseWriter, r *http.Request) {
	ids, err := s.defs.Favorites(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, FavoritesResponse{IDs: ids})
}

func (s *DashboardServer) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathRecordID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid record id")
		return
	}
	fav, err := s.defs.ToggleFavorite(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, FavoriteResponse{ID: id, Favorite: fav})
}
