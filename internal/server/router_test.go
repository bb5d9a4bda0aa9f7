package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloo-solutions/tenderwise/internal/api/handlers"
	"github.com/cloo-solutions/tenderwise/internal/embedding"
	"github.com/cloo-solutions/tenderwise/internal/index"
	"github.com/cloo-solutions/tenderwise/internal/service"
	"github.com/cloo-solutions/tenderwise/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRouter wires the real services over the in-memory index with hash
// embeddings and no LLM provider, so every AI path takes its fallback.
func setupRouter(t *testing.T) http.Handler {
	t.Helper()

	idx, err := index.NewMemoryIndex()
	require.NoError(t, err)
	docs := index.NewDocumentStore()
	embedder := embedding.NewHashEmbedder()
	tm := tokens.NewManager(nil)

	ingestion := service.NewIngestionService(docs, nil, embedder, idx, nil)
	retrieval := service.NewRetrievalService(idx, embedder, tm)

	return NewRouter(RouterConfig{
		DocumentHandler: handlers.NewDocumentHandler(docs, ingestion, nil),
		AnalysisHandler: handlers.NewAnalysisHandler(
			retrieval,
			service.NewGenerationService(nil, retrieval),
			service.NewEvaluationService(nil, retrieval),
			service.NewDraftingService(nil, retrieval),
		),
	})
}

func do(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Body.Len() == 0 {
		return w, nil
	}
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	data, _ := resp["data"].(map[string]interface{})
	return w, data
}

const tenderBody = `{
	"id": "tender-1",
	"title": "Supply of Water Pumps",
	"published": true,
	"sections": [
		{"title": "Eligibility Criteria", "content": "The bidder must hold ISO 9001 certification and have supplied at least 50 pumps in the last three years.", "mandatory": true},
		{"title": "Payment Terms", "content": "Payment will be released within 30 days of delivery. EMD of Rs 2,00,000 is required."}
	]
}`

func TestRouter_HealthEndpoint(t *testing.T) {
	router := setupRouter(t)

	w, data := do(t, router, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", data["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_IngestAndRetrieve(t *testing.T) {
	router := setupRouter(t)

	w, data := do(t, router, http.MethodPost, "/documents?ingest=true", tenderBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ingestion := data["ingestion"].(map[string]interface{})
	assert.Greater(t, ingestion["chunks"].(float64), float64(0))

	w, data = do(t, router, http.MethodPost, "/documents/tender-1/ingest", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, data["skipped"])

	w, data = do(t, router, http.MethodPost, "/retrieve", `{"query": "ISO certification", "document_id": "tender-1", "category": "eligibility"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, strings.HasPrefix(data["context"].(string), service.SessionContextHeader))
	assert.NotEmpty(t, data["session"])
	assert.Empty(t, data["global"])

	w, _ = do(t, router, http.MethodDelete, "/documents/tender-1/chunks", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, data = do(t, router, http.MethodPost, "/retrieve", `{"query": "ISO certification", "document_id": "tender-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, data["session"])
}

func TestRouter_ListDocuments(t *testing.T) {
	router := setupRouter(t)
	do(t, router, http.MethodPost, "/documents", tenderBody)

	w, data := do(t, router, http.MethodGet, "/documents?published=true", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"tender-1"}, data["ids"])
}

func TestRouter_IngestUnknownDocument(t *testing.T) {
	router := setupRouter(t)

	w, _ := do(t, router, http.MethodPost, "/documents/nope/ingest", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_FallbacksWithoutProvider(t *testing.T) {
	router := setupRouter(t)
	do(t, router, http.MethodPost, "/documents?ingest=true", tenderBody)

	w, data := do(t, router, http.MethodPost, "/generate", `{"document_id": "tender-1", "fields": ["emd_amount"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	facts := data["facts"].(map[string]interface{})
	assert.Equal(t, true, facts["fallback"])
	assert.Equal(t, service.NotSpecified, facts["fields"].(map[string]interface{})["emd_amount"])

	w, data = do(t, router, http.MethodPost, "/evaluate", `{"document_id": "tender-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, service.FallbackStepScore, data["overall_score"])
	assert.EqualValues(t, 4, data["fallback_steps"])

	w, data = do(t, router, http.MethodPost, "/draft", `{"section_title": "Payment Terms"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, data["fallback"])
	assert.Equal(t, "financial", data["category"])
}

func TestRouter_BodyLimit(t *testing.T) {
	router := NewRouter(RouterConfig{
		DocumentHandler: handlers.NewDocumentHandler(index.NewDocumentStore(), nil, nil),
		AnalysisHandler: handlers.NewAnalysisHandler(nil, nil, nil, nil),
		MaxBodyBytes:    16,
	})

	w, _ := do(t, router, http.MethodPost, "/documents", tenderBody)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
