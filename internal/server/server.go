// Package server exposes the surrogate model registry over HTTP.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/TAIGA/internal/config"
	"github.com/copyleftdev/TAIGA/internal/logging"
	"github.com/copyleftdev/TAIGA/internal/surrogate"
)

// Logger defines the logging interface used by the server.
// This allows us to be flexible with our logging implementation.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// modelState tracks one registered surrogate model. The state is
// thread-safe: Train takes the write lock, predictions take the read lock,
// so predictions against a model mid-retrain never observe partial state.
type modelState struct {
	ID          string
	CreatedAt   time.Time
	TrainedAt   *time.Time
	TrainedRows int

	model *surrogate.Model
	mu    sync.RWMutex
}

// Server implements the HTTP API for the surrogate model service. It
// manages a registry of models and provides endpoints to create, train,
// query and delete them.
type Server struct {
	cfg    *config.Config
	logger Logger

	models   map[string]*modelState
	modelsMu sync.RWMutex // protects the models map
}

// NewServer creates a new server instance with the given config and logger.
// The logger parameter accepts any type that implements the Logger interface.
func NewServer(cfg *config.Config, logger Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		models: make(map[string]*modelState),
	}
}

// RegisterRoutes mounts the model API under /api/v1.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/models", func(r chi.Router) {
		r.Post("/", s.handleCreateModel)
		r.Post("/{id}/train", s.handleTrain)
		r.Post("/{id}/predict", s.handlePredict)
		r.Post("/{id}/predict-marginalized", s.handlePredictMarginalized)
		r.Get("/{id}/hypers", s.handleHypers)
		r.Delete("/{id}", s.handleDeleteModel)
	})
}

type createModelRequest struct {
	Types     []int       `json:"types"`
	Instances [][]float64 `json:"instances,omitempty"`

	// optional hyperparameter overrides; unset fields keep server defaults
	NumTrees        *int     `json:"num_trees,omitempty"`
	Bootstrap       *bool    `json:"bootstrap,omitempty"`
	PointsPerTree   *int     `json:"points_per_tree,omitempty"`
	RatioFeatures   *float64 `json:"ratio_features,omitempty"`
	MinSamplesSplit *int     `json:"min_samples_split,omitempty"`
	MinSamplesLeaf  *int     `json:"min_samples_leaf,omitempty"`
	MaxDepth        *int     `json:"max_depth,omitempty"`
	EpsPurity       *float64 `json:"eps_purity,omitempty"`
	MaxNodes        *int     `json:"max_nodes,omitempty"`
	Seed            *int64   `json:"seed,omitempty"`
}

type trainRequest struct {
	Configs [][]float64 `json:"configs"`
	Pairs   [][2]int    `json:"pairs,omitempty"`
	Targets []float64   `json:"targets"`
}

type predictRequest struct {
	X [][]float64 `json:"x"`
}

type predictResponse struct {
	Means     []float64 `json:"means"`
	Variances []float64 `json:"variances"`
}

// handleCreateModel handles POST /api/v1/models.
func (s *Server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var req createModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if len(req.Types) == 0 {
		s.writeError(w, http.StatusBadRequest, "types is required")
		return
	}

	cfg := s.cfg.SurrogateDefaults()
	applyOverrides(&cfg, &req)

	model, err := surrogate.New(req.Types, req.Instances, cfg)
	if err != nil {
		s.writeError(w, statusForModelError(err), err.Error())
		return
	}

	id := fmt.Sprintf("model_%d", time.Now().UnixNano())
	state := &modelState{
		ID:        id,
		CreatedAt: time.Now(),
		model:     model,
	}

	s.modelsMu.Lock()
	s.models[id] = state
	modelsActive.Set(float64(len(s.models)))
	s.modelsMu.Unlock()

	s.logger.Info("Model created", map[string]interface{}{
		"model_id":      id,
		"dimensions":    len(req.Types),
		"instances":     len(req.Instances),
		"config_width":  model.ConfigWidth(),
		"feature_width": model.FeatureWidth(),
	})

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"model_id":      id,
		"created_at":    state.CreatedAt.Format(time.RFC3339),
		"config_width":  model.ConfigWidth(),
		"feature_width": model.FeatureWidth(),
	})
}

// handleTrain handles POST /api/v1/models/{id}/train.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookupModel(w, r)
	if !ok {
		return
	}

	var req trainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		trainsTotal.WithLabelValues("error").Inc()
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	configs, err := toDense("configs", req.Configs)
	if err != nil {
		trainsTotal.WithLabelValues("error").Inc()
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Targets) == 0 {
		trainsTotal.WithLabelValues("error").Inc()
		s.writeError(w, http.StatusBadRequest, "targets is required")
		return
	}
	targets := mat.NewDense(len(req.Targets), 1, req.Targets)

	start := time.Now()
	state.mu.Lock()
	_, err = state.model.Train(configs, req.Pairs, targets)
	if err == nil {
		now := time.Now()
		state.TrainedAt = &now
		state.TrainedRows = len(req.Targets)
	}
	state.mu.Unlock()

	if err != nil {
		trainsTotal.WithLabelValues("error").Inc()
		s.writeError(w, statusForModelError(err), err.Error())
		return
	}
	trainsTotal.WithLabelValues("ok").Inc()

	s.logger.Info("Model trained", map[string]interface{}{
		"model_id":   state.ID,
		"rows":       state.TrainedRows,
		"latency_ms": float64(time.Since(start).Microseconds()) / 1000.0,
	})

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"model_id":   state.ID,
		"trained_at": state.TrainedAt.Format(time.RFC3339),
		"rows":       state.TrainedRows,
	})
}

// handlePredict handles POST /api/v1/models/{id}/predict.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	s.predict(w, r, "predict", (*surrogate.Model).Predict)
}

// handlePredictMarginalized handles POST /api/v1/models/{id}/predict-marginalized.
func (s *Server) handlePredictMarginalized(w http.ResponseWriter, r *http.Request) {
	s.predict(w, r, "predict_marginalized", (*surrogate.Model).PredictMarginalized)
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request, endpoint string, fn func(*surrogate.Model, mat.Matrix) (*mat.Dense, *mat.Dense, error)) {
	state, ok := s.lookupModel(w, r)
	if !ok {
		return
	}

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		predictionsTotal.WithLabelValues(endpoint, "error").Inc()
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	X, err := toDense("x", req.X)
	if err != nil {
		predictionsTotal.WithLabelValues(endpoint, "error").Inc()
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	state.mu.RLock()
	means, variances, err := fn(state.model, X)
	state.mu.RUnlock()
	predictDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		predictionsTotal.WithLabelValues(endpoint, "error").Inc()
		s.writeError(w, statusForModelError(err), err.Error())
		return
	}
	predictionsTotal.WithLabelValues(endpoint, "ok").Inc()

	s.writeJSON(w, http.StatusOK, predictResponse{
		Means:     mat.Col(nil, 0, means),
		Variances: mat.Col(nil, 0, variances),
	})
}

// handleHypers handles GET /api/v1/models/{id}/hypers.
func (s *Server) handleHypers(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookupModel(w, r)
	if !ok {
		return
	}

	state.mu.RLock()
	hypers := state.model.Hypers()
	trained := state.model.Trained()
	state.mu.RUnlock()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"model_id": state.ID,
		"hypers":   hypers,
		"trained":  trained,
	})
}

// handleDeleteModel handles DELETE /api/v1/models/{id}.
func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.modelsMu.Lock()
	_, exists := s.models[id]
	if exists {
		delete(s.models, id)
		modelsActive.Set(float64(len(s.models)))
	}
	s.modelsMu.Unlock()

	if !exists {
		s.writeError(w, http.StatusNotFound, "model not found")
		return
	}

	s.logger.Info("Model deleted", map[string]interface{}{
		"model_id": id,
	})

	s.writeJSON(w, http.StatusOK, map[string]string{
		"model_id": id,
		"status":   "deleted",
	})
}

// Close cleans up resources.
func (s *Server) Close() error {
	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()

	s.models = make(map[string]*modelState)
	modelsActive.Set(0)
	return nil
}

func (s *Server) lookupModel(w http.ResponseWriter, r *http.Request) (*modelState, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "missing model ID")
		return nil, false
	}

	s.modelsMu.RLock()
	state, exists := s.models[id]
	s.modelsMu.RUnlock()

	if !exists {
		s.writeError(w, http.StatusNotFound, "model not found")
		return nil, false
	}
	return state, true
}

// statusForModelError maps the surrogate error taxonomy onto HTTP status
// codes. Shape and dimension problems are client errors; predicting before
// training is a state conflict.
func statusForModelError(err error) int {
	switch {
	case surrogate.IsShapeError(err), surrogate.IsDimensionMismatch(err):
		return http.StatusBadRequest
	case surrogate.IsInvalidState(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// toDense converts a JSON row matrix into a dense matrix, rejecting empty
// and ragged input before any numeric work happens.
func toDense(name string, rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s must have at least one row", name)
	}
	cols := len(rows[0])
	if cols == 0 {
		return nil, fmt.Errorf("%s rows must not be empty", name)
	}
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("%s row %d has %d entries, row 0 has %d", name, i, len(row), cols)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), cols, data), nil
}

func applyOverrides(cfg *surrogate.Config, req *createModelRequest) {
	if req.NumTrees != nil {
		cfg.NumTrees = *req.NumTrees
	}
	if req.Bootstrap != nil {
		cfg.Bootstrap = *req.Bootstrap
	}
	if req.PointsPerTree != nil {
		cfg.PointsPerTree = *req.PointsPerTree
	}
	if req.RatioFeatures != nil {
		cfg.RatioFeatures = *req.RatioFeatures
	}
	if req.MinSamplesSplit != nil {
		cfg.MinSamplesSplit = *req.MinSamplesSplit
	}
	if req.MinSamplesLeaf != nil {
		cfg.MinSamplesLeaf = *req.MinSamplesLeaf
	}
	if req.MaxDepth != nil {
		cfg.MaxDepth = *req.MaxDepth
	}
	if req.EpsPurity != nil {
		cfg.EpsPurity = *req.EpsPurity
	}
	if req.MaxNodes != nil {
		cfg.MaxNodes = *req.MaxNodes
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.logger.Error("Request error", map[string]interface{}{
		"status":  status,
		"message": message,
	})
	s.writeJSON(w, status, map[string]string{"error": message})
}
