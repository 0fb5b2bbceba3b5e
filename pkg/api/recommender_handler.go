package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mimir-aip/mimir-curation/pkg/models"
	"github.com/mimir-aip/mimir-curation/pkg/recommendation"
	"github.com/mimir-aip/mimir-curation/pkg/scheduler"
)

// TrainRequest asks for a training run of a recommender
type TrainRequest struct {
	User string `json:"user"`
}

// PredictionsResponse lists the current suggestions of a user
type PredictionsResponse struct {
	User        string                                     `json:"user"`
	Generation  int                                        `json:"generation"`
	Suggestions map[string][]recommendation.SpanSuggestion `json:"suggestions"`
}

// RecommenderHandler handles recommender, training task and prediction requests
type RecommenderHandler struct {
	service *scheduler.Service
}

// NewRecommenderHandler creates a new recommender handler
func NewRecommenderHandler(service *scheduler.Service) *RecommenderHandler {
	return &RecommenderHandler{service: service}
}

// Register adds the recommender routes to a server
func (h *RecommenderHandler) Register(s *Server) {
	s.RegisterHandler("/api/recommenders", h.HandleRecommenders)
	s.RegisterHandler("/api/recommenders/", h.HandleRecommender)
	s.RegisterHandler("/api/tasks/", h.HandleTask)
	s.RegisterHandler("/api/predictions/", h.HandlePredictions)
}

// HandleRecommenders lists the configured recommenders (GET)
func (h *RecommenderHandler) HandleRecommenders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSONResponse(w, http.StatusOK, h.service.Recommenders())
}

// HandleRecommender handles /api/recommenders/{id} and /api/recommenders/{id}/train
func (h *RecommenderHandler) HandleRecommender(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/recommenders/")
	recommenderID, action, _ := strings.Cut(path, "/")

	switch {
	case action == "" && r.Method == http.MethodGet:
		rec, ok := h.service.Recommender(recommenderID)
		if !ok {
			writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("recommender not found: %s", recommenderID))
			return
		}
		writeJSONResponse(w, http.StatusOK, rec)
	case action == "train" && r.Method == http.MethodPost:
		h.handleTrain(w, r, recommenderID)
	case action == "" || action == "train":
		writeMethodNotAllowed(w)
	default:
		writeErrorResponse(w, http.StatusNotFound, "Not found")
	}
}

func (h *RecommenderHandler) handleTrain(w http.ResponseWriter, r *http.Request, recommenderID string) {
	var req TrainRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.User == "" {
		writeErrorResponse(w, http.StatusBadRequest, "user is required")
		return
	}
	if _, ok := h.service.Recommender(recommenderID); !ok {
		writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("recommender not found: %s", recommenderID))
		return
	}

	task, err := h.service.Enqueue(req.User, recommenderID, models.TrainingTriggerManual)
	if err != nil {
		writeErrorResponse(w, http.StatusConflict, err.Error())
		return
	}

	writeJSONResponse(w, http.StatusAccepted, task)
}

// HandleTask returns a training task (GET)
func (h *RecommenderHandler) HandleTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	taskID := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	task, err := h.service.Task(taskID)
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSONResponse(w, http.StatusOK, task)
}

// HandlePredictions returns the current suggestions of a user (GET)
func (h *RecommenderHandler) HandlePredictions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	user := strings.TrimPrefix(r.URL.Path, "/api/predictions/")
	predictions := h.service.Predictions(user)
	if predictions == nil {
		writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("no predictions for user: %s", user))
		return
	}

	response := PredictionsResponse{
		User:        user,
		Generation:  predictions.Generation(),
		Suggestions: make(map[string][]recommendation.SpanSuggestion),
	}
	for _, doc := range predictions.Documents() {
		response.Suggestions[doc] = predictions.Suggestions(doc)
	}

	writeJSONResponse(w, http.StatusOK, response)
}
