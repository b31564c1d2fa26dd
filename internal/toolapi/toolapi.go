// Package toolapi exposes the retrieval engine as the single tool-call
// operation perform_rag_query.
package toolapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/docrag-dev/docrag/engine/retrieval"
)

// queryEngine is the slice of *retrieval.Engine the handler needs.
type queryEngine interface {
	Query(ctx context.Context, text string, k int) (retrieval.Response, error)
}

// Handler serves perform_rag_query over HTTP.
type Handler struct {
	Engine queryEngine
}

type request struct {
	Query      string `json:"query"`
	MatchCount int    `json:"match_count"`
}

type successResponse struct {
	Success          bool                `json:"success"`
	Query            string              `json:"query"`
	SearchMode       retrieval.SearchMode `json:"search_mode"`
	RerankingApplied bool                `json:"reranking_applied"`
	Results          []retrieval.Result  `json:"results"`
	Count            int                 `json:"count"`
}

type failureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// PerformRAGQuery implements the perform_rag_query tool-call surface.
func (h *Handler) PerformRAGQuery(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeFailure(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.MatchCount <= 0 {
		req.MatchCount = 5
	}

	resp, err := h.Engine.Query(r.Context(), req.Query, req.MatchCount)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(successResponse{
		Success:          true,
		Query:            req.Query,
		SearchMode:       resp.SearchMode,
		RerankingApplied: resp.RerankingApplied,
		Results:          resp.Results,
		Count:            resp.Count,
	})
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(failureResponse{Success: false, Error: msg})
}
