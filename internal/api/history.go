package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/affinity-cli/internal/history"
	"github.com/sells-group/affinity-cli/internal/model"
)

// parseFilter reads a RecordFilter from query parameters: source, batch_id,
// favorite, tag, protein, since, until, limit, offset.
func parseFilter(r *http.Request) (model.RecordFilter, error) {
	q := r.URL.Query()
	f := model.RecordFilter{
		BatchID: q.Get("batch_id"),
		Tag:     q.Get("tag"),
		Protein: q.Get("protein"),
	}

	switch src := model.Source(q.Get("source")); src {
	case "", model.SourceSingle, model.SourceBatch:
		f.Source = src
	default:
		return f, eris.Errorf("invalid source %q", src)
	}

	if v := q.Get("favorite"); v != "" {
		fav, err := strconv.ParseBool(v)
		if err != nil {
			return f, eris.Errorf("invalid favorite %q", v)
		}
		f.FavoritesOnly = fav
	}

	var err error
	if f.Since, err = history.ParseTime(q.Get("since")); err != nil {
		return f, err
	}
	if f.Until, err = history.ParseTime(q.Get("until")); err != nil {
		return f, err
	}

	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, eris.Errorf("invalid %s %q", name, v)
		}
		*dst = n
	}
	return f, nil
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Limit == 0 {
		f.Limit = 100
	}
	recs, err := s.store.ListRecords(r.Context(), f)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleHistoryStats aggregates every record matching the filter; limit and
// offset are ignored.
func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Limit, f.Offset = 0, 0
	recs, err := s.store.ListRecords(r.Context(), f)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history.ComputeStats(recs))
}

func (s *Server) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := s.store.ListRecords(r.Context(), f)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="history.csv"`)
	if err := history.ExportCSV(w, recs); err != nil {
		zap.L().Warn("api: export history", zap.Error(err))
	}
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handlePatchRecord applies the annotations present in the body in a
// single update. Each field is last-write-wins.
func (s *Server) handlePatchRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req model.Annotation
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Empty() {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if req.Notes != nil {
		notes := strings.TrimSpace(*req.Notes)
		req.Notes = &notes
	}

	ctx := r.Context()
	if err := s.store.Annotate(ctx, id, req); err != nil {
		writeStoreError(w, err)
		return
	}

	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRecord(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := s.store.ListBatchRuns(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetBatchRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
