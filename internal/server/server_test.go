package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/TAIGA/internal/config"
	"github.com/copyleftdev/TAIGA/internal/logging"
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{
		Environment: "test",
	}

	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.IdleTimeout = 120 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	cfg.Logging.Level = "error"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "stderr"

	cfg.Forest.NumTrees = 10
	cfg.Forest.Bootstrap = false
	cfg.Forest.RatioFeatures = 1.0
	cfg.Forest.MinSamplesSplit = 2
	cfg.Forest.MinSamplesLeaf = 1
	cfg.Forest.MaxDepth = 20
	cfg.Forest.EpsPurity = 1e-8
	cfg.Forest.MaxNodes = 1000
	cfg.Forest.Seed = 42
	cfg.Forest.FitWorkers = 1

	return cfg
}

// testLogger creates a test logger
func testLogger(t *testing.T) *logging.Logger {
	return logging.New(logging.ErrorLevel, io.Discard)
}

func testRouter(t *testing.T) *chi.Mux {
	srv := NewServer(testConfig(t), testLogger(t))
	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	var decoded map[string]interface{}
	if rr.Body.Len() > 0 {
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&decoded))
	}
	return rr, decoded
}

func createTestModel(t *testing.T, r http.Handler) string {
	t.Helper()

	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/models", map[string]interface{}{
		"types": []int{0},
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	id, ok := body["model_id"].(string)
	require.True(t, ok, "response must carry a model ID")
	return id
}

func trainTestModel(t *testing.T, r http.Handler, id string) {
	t.Helper()

	rr, _ := doJSON(t, r, http.MethodPost, "/api/v1/models/"+id+"/train", map[string]interface{}{
		"configs": [][]float64{{0}, {1}, {2}, {3}},
		"targets": []float64{10, 20, 30, 40},
	})
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestNewServer(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t))
	assert.NotNil(t, srv)
	assert.NoError(t, srv.Close())
}

func TestCreateModel(t *testing.T) {
	r := testRouter(t)

	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/models", map[string]interface{}{
		"types": []int{0, 3},
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.NotEmpty(t, body["model_id"])
	assert.Equal(t, float64(2), body["config_width"])
	assert.Equal(t, float64(3), body["feature_width"])
}

func TestCreateModelValidation(t *testing.T) {
	r := testRouter(t)

	rr, _ := doJSON(t, r, http.MethodPost, "/api/v1/models", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "missing types must be rejected")

	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/models", map[string]interface{}{
		"types": []int{0, 100},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, body["error"], "arity")
}

func TestTrainAndPredictFlow(t *testing.T) {
	r := testRouter(t)
	id := createTestModel(t, r)
	trainTestModel(t, r, id)

	// predict takes the full feature width: one config column plus the
	// dummy instance column
	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/models/"+id+"/predict", map[string]interface{}{
		"x": [][]float64{{1, 0}, {3, 0}},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	means, ok := body["means"].([]interface{})
	require.True(t, ok)
	require.Len(t, means, 2)
	assert.InDelta(t, 20.0, means[0].(float64), 1e-9)
	assert.InDelta(t, 40.0, means[1].(float64), 1e-9)

	variances, ok := body["variances"].([]interface{})
	require.True(t, ok)
	require.Len(t, variances, 2)
	for _, v := range variances {
		assert.GreaterOrEqual(t, v.(float64), 1e-5)
	}
}

func TestPredictMarginalizedEndpoint(t *testing.T) {
	r := testRouter(t)
	id := createTestModel(t, r)
	trainTestModel(t, r, id)

	// marginalized prediction takes configuration columns only
	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/models/"+id+"/predict-marginalized", map[string]interface{}{
		"x": [][]float64{{1}},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	means := body["means"].([]interface{})
	assert.InDelta(t, 20.0, means[0].(float64), 1e-9)
}

func TestPredictBeforeTrain(t *testing.T) {
	r := testRouter(t)
	id := createTestModel(t, r)

	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/models/"+id+"/predict", map[string]interface{}{
		"x": [][]float64{{1, 0}},
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, body["error"], "has not been trained")
}

func TestPredictShapeError(t *testing.T) {
	r := testRouter(t)
	id := createTestModel(t, r)
	trainTestModel(t, r, id)

	tests := []struct {
		name string
		x    [][]float64
	}{
		{"too many columns", [][]float64{{1, 0, 0}}},
		{"empty matrix", nil},
		{"ragged rows", [][]float64{{1, 0}, {1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, _ := doJSON(t, r, http.MethodPost, "/api/v1/models/"+id+"/predict", map[string]interface{}{
				"x": tt.x,
			})
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestTrainValidationErrors(t *testing.T) {
	r := testRouter(t)
	id := createTestModel(t, r)

	rr, _ := doJSON(t, r, http.MethodPost, "/api/v1/models/"+id+"/train", map[string]interface{}{
		"configs": [][]float64{{0, 1}},
		"targets": []float64{1},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "configuration width mismatch")

	rr, _ = doJSON(t, r, http.MethodPost, "/api/v1/models/"+id+"/train", map[string]interface{}{
		"configs": [][]float64{{0}},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "missing targets")
}

func TestModelNotFound(t *testing.T) {
	r := testRouter(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/models/nope/train"},
		{http.MethodPost, "/api/v1/models/nope/predict"},
		{http.MethodPost, "/api/v1/models/nope/predict-marginalized"},
		{http.MethodGet, "/api/v1/models/nope/hypers"},
		{http.MethodDelete, "/api/v1/models/nope"},
	}
	for _, tt := range paths {
		t.Run(fmt.Sprintf("%s %s", tt.method, tt.path), func(t *testing.T) {
			rr, _ := doJSON(t, r, tt.method, tt.path, map[string]interface{}{})
			assert.Equal(t, http.StatusNotFound, rr.Code)
		})
	}
}

func TestHypersEndpoint(t *testing.T) {
	r := testRouter(t)
	id := createTestModel(t, r)

	rr, body := doJSON(t, r, http.MethodGet, "/api/v1/models/"+id+"/hypers", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	hypers, ok := body["hypers"].([]interface{})
	require.True(t, ok)
	assert.Len(t, hypers, 10)
	assert.Equal(t, false, body["trained"])
}

func TestDeleteModel(t *testing.T) {
	r := testRouter(t)
	id := createTestModel(t, r)

	rr, _ := doJSON(t, r, http.MethodDelete, "/api/v1/models/"+id, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, _ = doJSON(t, r, http.MethodGet, "/api/v1/models/"+id+"/hypers", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateModelWithOverrides(t *testing.T) {
	r := testRouter(t)

	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/models", map[string]interface{}{
		"types":     []int{0},
		"num_trees": 25,
		"seed":      7,
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	id := body["model_id"].(string)

	_, body = doJSON(t, r, http.MethodGet, "/api/v1/models/"+id+"/hypers", nil)
	hypers := body["hypers"].([]interface{})
	assert.Equal(t, float64(25), hypers[0])
	assert.Equal(t, float64(7), hypers[9])
}
