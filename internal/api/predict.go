package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/affinity-cli/internal/batch"
	"github.com/sells-group/affinity-cli/internal/history"
	"github.com/sells-group/affinity-cli/internal/model"
)

type predictResponse struct {
	Record   model.PredictionRecord    `json:"record"`
	Warnings []model.ValidationWarning `json:"warnings,omitempty"`
}

type validationResponse struct {
	Error    string                    `json:"error"`
	Errors   []model.ValidationError   `json:"errors"`
	Warnings []model.ValidationWarning `json:"warnings,omitempty"`
}

// handlePredict runs one prediction through the same timeout and range
// checks as a batch row and stores it as a single-sourced record.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var in inputRow
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	row, errs, warns := s.validator.Validate(in.raw(1))
	if len(errs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{
			Error:    "validation failed",
			Errors:   errs,
			Warnings: warns,
		})
		return
	}

	results := batch.New(s.client, s.opts).Run(r.Context(), []model.BatchRow{row}, nil)
	rec, err := history.Single(results[0], s.now())
	if err != nil {
		status := http.StatusBadGateway
		kind := ""
		if re, ok := model.AsRowError(err); ok {
			kind = string(re.Kind)
			switch re.Kind {
			case model.ErrorKindTimeout:
				status = http.StatusGatewayTimeout
			case model.ErrorKindCancelled:
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
		return
	}

	if err := s.store.SaveRecords(r.Context(), []model.PredictionRecord{rec}); err != nil {
		writeStoreError(w, err)
		return
	}
	zap.L().Info("api: prediction stored",
		zap.String("id", rec.ID),
		zap.String("protein", rec.ProteinName),
		zap.Float64("pk", rec.PredictedPK),
	)
	writeJSON(w, http.StatusCreated, predictResponse{Record: rec, Warnings: warns})
}
