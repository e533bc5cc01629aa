package api

import (
	"encoding/json"
	goerrors "errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"gocausal/app"
	"gocausal/domain/causal"
	"gocausal/domain/core"
	"gocausal/internal/errors"
)

// estimatePayload is the JSON body of POST /api/estimates. Config and the
// starting directions are optional; omitted fields fall back to defaults.
type estimatePayload struct {
	X [][]float64 `json:"x"`
	Y []float64   `json:"y"`
	T []int       `json:"t"`

	Config    *causal.Config `json:"config,omitempty"`
	DatasetID string         `json:"dataset_id,omitempty"`
	Level     float64        `json:"level,omitempty"`

	Guess1 [][]float64 `json:"guess1,omitempty"`
	Guess0 [][]float64 `json:"guess0,omitempty"`
	GuessP [][]float64 `json:"guess_p,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateEstimate(w http.ResponseWriter, r *http.Request) {
	var payload estimatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	x, err := causal.DenseFromRows(payload.X)
	if err != nil {
		writeError(w, err)
		return
	}
	sample, err := causal.NewSample(x, payload.Y, payload.T)
	if err != nil {
		writeError(w, err)
		return
	}

	cfg := causal.DefaultConfig()
	if payload.Config != nil {
		cfg = *payload.Config
	}

	record, err := s.service.Estimate(r.Context(), app.EstimateRequest{
		Sample:    sample,
		Config:    cfg,
		DatasetID: core.DatasetID(payload.DatasetID),
		Level:     payload.Level,
		Guess1:    payload.Guess1,
		Guess0:    payload.Guess0,
		GuessP:    payload.GuessP,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleGetEstimate(w http.ResponseWriter, r *http.Request) {
	id, err := core.ParseEstimateID(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := s.reader.GetEstimate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListEstimates(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeErrorMessage(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := s.reader.ListEstimates(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"estimates": records,
		"count":     len(records),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps domain and application errors onto HTTP status codes:
// bad input is 400, unknown IDs are 404, estimation failures on valid
// input are 422, everything else is 500.
func writeError(w http.ResponseWriter, err error) {
	var vErr *causal.ValidationError
	if goerrors.As(err, &vErr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
			"code":  errors.CodeValidationError,
		})
		return
	}

	code := errors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.CodeValidationError, errors.CodeInvalidInput, errors.CodeDatasetError, errors.CodeConfigInvalid:
		status = http.StatusBadRequest
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodePropensityBoundary, errors.CodeNoConvergence,
		errors.CodeZeroKernelWeight, errors.CodeSingularSystem:
		status = http.StatusUnprocessableEntity
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}
