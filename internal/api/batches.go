package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/affinity-cli/internal/batch"
	"github.com/sells-group/affinity-cli/internal/history"
	"github.com/sells-group/affinity-cli/internal/model"
)

// inputRow is one submitted row. Priority accepts a bool or any string the
// validator recognises.
type inputRow struct {
	ID          string `json:"id"`
	DrugName    string `json:"drug_name"`
	SMILES      string `json:"smiles"`
	ProteinName string `json:"protein_name"`
	FASTA       string `json:"fasta"`
	Priority    any    `json:"priority,omitempty"`
}

func (in inputRow) raw(index int) model.RawRow {
	priority := ""
	if in.Priority != nil {
		priority = fmt.Sprint(in.Priority)
	}
	return model.RawRow{
		Index:       index,
		ID:          in.ID,
		DrugName:    in.DrugName,
		SMILES:      in.SMILES,
		ProteinName: in.ProteinName,
		FASTA:       in.FASTA,
		Priority:    priority,
	}
}

type startBatchRequest struct {
	SourceFile string     `json:"source_file"`
	Rows       []inputRow `json:"rows"`
}

type startBatchResponse struct {
	BatchID  string                    `json:"batch_id"`
	Accepted int                       `json:"accepted"`
	Errors   []model.ValidationError   `json:"errors"`
	Warnings []model.ValidationWarning `json:"warnings"`
}

func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	raws := make([]model.RawRow, len(req.Rows))
	for i, in := range req.Rows {
		raws[i] = in.raw(i + 1)
	}
	parsed := s.validator.ValidateAll(raws, nil, nil)

	resp := startBatchResponse{
		Accepted: len(parsed.Rows),
		Errors:   parsed.Errors,
		Warnings: parsed.Warnings,
	}
	if len(parsed.Rows) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	b := s.startBatch(req.SourceFile, parsed.Rows)
	resp.BatchID = b.id
	writeJSON(w, http.StatusAccepted, resp)
}

// startBatch launches a run and a goroutine that follows its progress, then
// finalizes and persists it.
func (s *Server) startBatch(sourceFile string, rows []model.BatchRow) *trackedBatch {
	b := &trackedBatch{
		id:         uuid.NewString(),
		sourceFile: sourceFile,
		created:    s.now().UTC(),
		state:      BatchRunning,
		progress:   model.BatchProgress{Total: len(rows)},
	}
	b.run = batch.New(s.client, s.opts).Start(s.ctx, rows)
	s.batches.add(b)

	zap.L().Info("api: batch started", zap.String("batch_id", b.id), zap.Int("rows", len(rows)))

	s.batches.wg.Add(1)
	go func() {
		defer s.batches.wg.Done()
		for p := range b.run.Progress() {
			b.setProgress(p)
		}
		results := b.run.Wait()
		started, finished := b.run.Window()
		cancelled := b.run.Cancelled()

		summary := history.Finalize(b.id, results, s.now())
		report := summary.Run(b.sourceFile, started, finished, cancelled)
		// The server context may already be cancelled; the write must still land.
		err := history.Persist(context.WithoutCancel(s.ctx), s.store, summary, report)
		if err != nil {
			zap.L().Error("api: persist batch", zap.String("batch_id", b.id), zap.Error(err))
		}
		b.finish(results, summary, cancelled, err)
	}()
	return b
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	tracked := s.batches.list()
	out := make([]BatchStatus, len(tracked))
	for i, b := range tracked {
		out[i] = b.status(false)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	b, ok := s.batches.get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	writeJSON(w, http.StatusOK, b.status(true))
}

// handleBatchResults exports the results of a finished batch as json, csv
// or yaml.
func (s *Server) handleBatchResults(w http.ResponseWriter, r *http.Request) {
	b, ok := s.batches.get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	st := b.status(true)
	if st.State == BatchRunning {
		writeError(w, http.StatusConflict, "batch is still running")
		return
	}

	switch format := strings.ToLower(r.URL.Query().Get("format")); format {
	case "", "json":
		writeJSON(w, http.StatusOK, st.Results)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "batch-"+st.ID+".csv"))
		if err := history.ExportResultsCSV(w, st.Results); err != nil {
			zap.L().Warn("api: export results", zap.Error(err))
		}
	case "yaml":
		views := make([]model.ResultView, len(st.Results))
		for i, res := range st.Results {
			views[i] = res.View()
		}
		w.Header().Set("Content-Type", "application/yaml")
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(views); err != nil {
			zap.L().Warn("api: export results", zap.Error(err))
		}
		_ = enc.Close()
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
	}
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	b, ok := s.batches.get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if b.finished() {
		writeJSON(w, http.StatusConflict, b.status(false))
		return
	}
	b.run.Cancel()
	zap.L().Info("api: batch cancel requested", zap.String("batch_id", b.id))
	writeJSON(w, http.StatusAccepted, b.status(false))
}
