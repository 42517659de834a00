package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/markdave123-py/contexta-rag/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta-rag/internal/logger"
	"github.com/markdave123-py/contexta-rag/internal/models"
)

type SearchHandler struct {
	ingestor ingestion_engine.Ingestor
	log      *logger.Logger
}

func NewSearchHandler(ing ingestion_engine.Ingestor, log *logger.Logger) *SearchHandler {
	return &SearchHandler{ingestor: ing, log: log.With("handler", "search")}
}

type searchRequest struct {
	Query     string  `json:"query"`
	Threshold *float64 `json:"threshold,omitempty"`
	Count     int     `json:"count"`
}

type searchResponse struct {
	Query   string              `json:"query"`
	Results []models.ChunkMatch `json:"results"`
}

// Search returns the chunks closest to the query. An absent threshold or a
// zero count falls back to the configured defaults.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
		return
	}

	matches, err := h.ingestor.Search(r.Context(), req.Query, req.Threshold, req.Count)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if matches == nil {
		matches = []models.ChunkMatch{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: req.Query, Results: matches})
}
