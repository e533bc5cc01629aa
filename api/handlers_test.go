package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocausal/adapters/memory"
	"gocausal/app"
	"gocausal/domain/causal"
	"gocausal/internal/errors"
	"gocausal/internal/testkit"
)

func newTestServer() *Server {
	ledger := memory.NewEstimateLedger()
	return NewServer(app.NewEstimationService(ledger), ledger)
}

func doJSON(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	rec := doJSON(t, newTestServer(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateEstimateRejectsBadJSON(t *testing.T) {
	server := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/estimates", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateEstimateRejectsRaggedMatrix(t *testing.T) {
	payload := estimatePayload{
		X: [][]float64{{1, 2}, {3}},
		Y: []float64{1, 2},
		T: []int{1, 0},
	}
	rec := doJSON(t, newTestServer(), http.MethodPost, "/api/estimates", payload)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errors.CodeValidationError, decodeError(t, rec)["code"])
}

func TestCreateEstimateRejectsBadConfig(t *testing.T) {
	cfg := causal.DefaultConfig()
	cfg.Dim = 2 // sample below has p=2, dim must stay below p
	payload := estimatePayload{
		X:      [][]float64{{1, 2}, {3, 4}, {5, 6}, {7, 8}},
		Y:      []float64{1, 2, 3, 4},
		T:      []int{1, 0, 1, 0},
		Config: &cfg,
	}
	rec := doJSON(t, newTestServer(), http.MethodPost, "/api/estimates", payload)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEstimateNotFound(t *testing.T) {
	rec := doJSON(t, newTestServer(), http.MethodGet, "/api/estimates/no-such-id", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errors.CodeNotFound, decodeError(t, rec)["code"])
}

func TestListEstimatesRejectsBadLimit(t *testing.T) {
	rec := doJSON(t, newTestServer(), http.MethodGet, "/api/estimates?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAndFetchEstimate(t *testing.T) {
	if testing.Short() {
		t.Skip("full estimation pipeline")
	}

	server := newTestServer()

	sample, _, err := testkit.Generate(testkit.DefaultScenario())
	require.NoError(t, err)

	// default iteration budget: the scenario needs most of it under the rescue
	cfg := causal.DefaultConfig()
	cfg.Kernel = causal.KernelGaussianCutoff
	cfg.NThreads = 2

	payload := estimatePayload{
		X:         causal.RowsFromDense(sample.X),
		Y:         sample.Y,
		T:         sample.T,
		Config:    &cfg,
		DatasetID: "scenario-default",
		Guess1:    [][]float64{{1}, {0.8}, {-0.5}, {0}, {0}},
		Guess0:    [][]float64{{1}, {0.8}, {-0.5}, {0}, {0}},
		GuessP:    [][]float64{{1}, {-0.8}, {0}, {0}, {0}},
	}

	rec := doJSON(t, server, http.MethodPost, "/api/estimates", payload)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created causal.EstimateRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID.String())
	assert.Equal(t, sample.N(), created.N)
	require.NotNil(t, created.Imp)
	assert.InDelta(t, 2.0, created.Imp.ATE, 0.8)

	rec = doJSON(t, server, http.MethodGet, fmt.Sprintf("/api/estimates/%s", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched causal.EstimateRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, "scenario-default", fetched.DatasetID.String())

	rec = doJSON(t, server, http.MethodGet, "/api/estimates", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Estimates []causal.EstimateRecord `json:"estimates"`
		Count     int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Count)
	require.Len(t, listing.Estimates, 1)
	assert.Equal(t, created.ID, listing.Estimates[0].ID)
}
