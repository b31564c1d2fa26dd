// Package dashboardapi serves the read-only observation endpoints used by
// the dashboard UI: paginated pages and chunks listings and corpus-wide
// stats.
package dashboardapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	engmodels "github.com/docrag-dev/docrag/engine/models"
	"github.com/docrag-dev/docrag/engine/store"
)

// reader is the slice of *store.Store the dashboard needs.
type reader interface {
	ListPages(ctx context.Context, sortCol, order, search string) ([]engmodels.Page, error)
	ListChunks(ctx context.Context, page, size int, search string) ([]store.ChunkPage, int, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Handlers bundles the three dashboard endpoints.
type Handlers struct {
	Store reader
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

// Pages implements GET /api/pages?sort=<col>&order=<asc|desc>&search=<q>.
func (h *Handlers) Pages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pages, err := h.Store.ListPages(r.Context(), q.Get("sort"), q.Get("order"), q.Get("search"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    pages,
		"count":   len(pages),
	})
}

type paginationEnvelope struct {
	Page  int `json:"page"`
	Size  int `json:"size"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// Chunks implements GET /api/chunks?page=<n>&size=<n>&search=<q>.
func (h *Handlers) Chunks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := atoiOr(q.Get("page"), 1)
	size := atoiOr(q.Get("size"), 20)

	chunks, total, err := h.Store.ListChunks(r.Context(), page, size, q.Get("search"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	totalPages := total / size
	if total%size != 0 {
		totalPages++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    chunks,
		"pagination": paginationEnvelope{
			Page: page, Size: size, Total: total, Pages: totalPages,
		},
	})
}

// Stats implements GET /api/stats.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"pages_count":           stats.PagesCount,
			"chunks_count":          stats.ChunksCount,
			"pages_with_content":    stats.PagesWithContent,
			"content_percentage":    stats.ContentPercentage,
			"pages_processed":       stats.PagesProcessed,
			"processing_percentage": stats.ProcessingPercentage,
		},
	})
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
