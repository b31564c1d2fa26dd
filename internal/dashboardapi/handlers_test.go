package dashboardapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engmodels "github.com/docrag-dev/docrag/engine/models"
	"github.com/docrag-dev/docrag/engine/store"
)

type stubReader struct {
	pages  []engmodels.Page
	chunks []store.ChunkPage
	total  int
	stats  store.Stats
	err    error
}

func (s stubReader) ListPages(ctx context.Context, sortCol, order, search string) ([]engmodels.Page, error) {
	return s.pages, s.err
}

func (s stubReader) ListChunks(ctx context.Context, page, size int, search string) ([]store.ChunkPage, int, error) {
	return s.chunks, s.total, s.err
}

func (s stubReader) Stats(ctx context.Context) (store.Stats, error) {
	return s.stats, s.err
}

func TestPagesReturnsSuccessEnvelope(t *testing.T) {
	h := &Handlers{Store: stubReader{pages: []engmodels.Page{{URL: "https://a"}, {URL: "https://b"}}}}
	req := httptest.NewRequest(http.MethodGet, "/api/pages", nil)
	rec := httptest.NewRecorder()

	h.Pages(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["count"])
}

func TestChunksComputesPaginationEnvelope(t *testing.T) {
	h := &Handlers{Store: stubReader{chunks: []store.ChunkPage{{ID: 1}}, total: 45}}
	req := httptest.NewRequest(http.MethodGet, "/api/chunks?page=2&size=20", nil)
	rec := httptest.NewRecorder()

	h.Chunks(rec, req)

	var body struct {
		Pagination paginationEnvelope `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Pagination.Page)
	assert.Equal(t, 20, body.Pagination.Size)
	assert.Equal(t, 45, body.Pagination.Total)
	assert.Equal(t, 3, body.Pagination.Pages)
}

func TestStatsReturnsDataEnvelope(t *testing.T) {
	h := &Handlers{Store: stubReader{stats: store.Stats{PagesCount: 10, ChunksCount: 40, ContentPercentage: 80}}}
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()

	h.Stats(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(10), data["pages_count"])
	assert.Equal(t, float64(80), data["content_percentage"])
}

func TestPagesPropagatesStoreErrorAsFailureEnvelope(t *testing.T) {
	h := &Handlers{Store: stubReader{err: assertError{}}}
	req := httptest.NewRequest(http.MethodGet, "/api/pages", nil)
	rec := httptest.NewRecorder()

	h.Pages(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
}

type assertError struct{}

func (assertError) Error() string { return "store unavailable" }
