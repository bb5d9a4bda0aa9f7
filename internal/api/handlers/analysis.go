package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cloo-solutions/tenderwise/internal/api"
	"github.com/cloo-solutions/tenderwise/internal/api/middleware"
	"github.com/cloo-solutions/tenderwise/internal/domain"
	"github.com/cloo-solutions/tenderwise/internal/service"
)

type Generator interface {
	Generate(ctx context.Context, input service.GenerateInput) (*service.GenerateResult, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, input service.EvaluationInput) (*service.EvaluationReport, error)
}

type Drafter interface {
	Draft(ctx context.Context, input service.DraftInput) (*service.DraftResult, error)
}

// AnalysisHandler serves the retrieval and LLM-backed endpoints.
type AnalysisHandler struct {
	retriever service.Retriever
	generator Generator
	evaluator Evaluator
	drafter   Drafter
}

func NewAnalysisHandler(retriever service.Retriever, generator Generator, evaluator Evaluator, drafter Drafter) *AnalysisHandler {
	return &AnalysisHandler{
		retriever: retriever,
		generator: generator,
		evaluator: evaluator,
		drafter:   drafter,
	}
}

type RetrieveRequest struct {
	Query          string `json:"query"`
	DocumentID     string `json:"document_id,omitempty"`
	Category       string `json:"category,omitempty"`
	Model          string `json:"model,omitempty"`
	ResponseTokens int    `json:"response_tokens,omitempty"`
}

type ChunkResponse struct {
	ID           string   `json:"id"`
	DocumentID   string   `json:"document_id"`
	SectionTitle string   `json:"section_title,omitempty"`
	Category     string   `json:"category"`
	Importance   int      `json:"importance"`
	Distance     float64  `json:"distance"`
	KeyTerms     []string `json:"key_terms,omitempty"`
}

type RetrieveResponse struct {
	Context string                 `json:"context"`
	Session []*ChunkResponse       `json:"session"`
	Global  []*ChunkResponse       `json:"global"`
	Stats   service.RetrievalStats `json:"stats"`
}

type GenerateRequest struct {
	Task       string   `json:"task,omitempty"`
	SourceText string   `json:"source_text,omitempty"`
	DocumentID string   `json:"document_id,omitempty"`
	Query      string   `json:"query,omitempty"`
	Fields     []string `json:"fields,omitempty"`
	Model      string   `json:"model,omitempty"`
	Provider   string   `json:"provider,omitempty"`
}

type EvaluateRequest struct {
	DocumentID   string `json:"document_id,omitempty"`
	ProposalText string `json:"proposal_text,omitempty"`
	Model        string `json:"model,omitempty"`
	Provider     string `json:"provider,omitempty"`
}

type DraftRequest struct {
	DocumentID   string `json:"document_id,omitempty"`
	SectionTitle string `json:"section_title"`
	Notes        string `json:"notes,omitempty"`
	Model        string `json:"model,omitempty"`
	Provider     string `json:"provider,omitempty"`
}

func chunksToResponse(chunks []domain.ScoredChunk) []*ChunkResponse {
	out := make([]*ChunkResponse, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, &ChunkResponse{
			ID:           c.ID,
			DocumentID:   c.SourceID,
			SectionTitle: c.Metadata.SectionTitle,
			Category:     string(c.Metadata.Category),
			Importance:   c.Metadata.Importance,
			Distance:     c.Distance,
			KeyTerms:     c.Metadata.KeyTerms,
		})
	}
	return out
}

func (h *AnalysisHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}
	category, err := domain.ParseAnalysisCategory(req.Category)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	result, err := h.retriever.Retrieve(r.Context(), service.RetrievalInput{
		Query:             req.Query,
		SessionDocumentID: req.DocumentID,
		Category:          category,
		Model:             req.Model,
		ResponseTokens:    req.ResponseTokens,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, &RetrieveResponse{
		Context: result.FormattedContext,
		Session: chunksToResponse(result.SessionChunks),
		Global:  chunksToResponse(result.GlobalChunks),
		Stats:   result.Stats,
	})
}

func (h *AnalysisHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.generator.Generate(r.Context(), service.GenerateInput{
		Task:       req.Task,
		SourceText: req.SourceText,
		DocumentID: req.DocumentID,
		Query:      req.Query,
		Fields:     req.Fields,
		Model:      req.Model,
		ProviderID: req.Provider,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	setProvider(w, result.Presentation.Provider, result.Facts.Provider)
	api.Success(w, http.StatusOK, result)
}

func (h *AnalysisHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	report, err := h.evaluator.Evaluate(r.Context(), service.EvaluationInput{
		DocumentID:   req.DocumentID,
		ProposalText: req.ProposalText,
		Model:        req.Model,
		ProviderID:   req.Provider,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, report)
}

func (h *AnalysisHandler) Draft(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.SectionTitle) == "" {
		api.Error(w, http.StatusBadRequest, "section_title is required")
		return
	}

	result, err := h.drafter.Draft(r.Context(), service.DraftInput{
		DocumentID:   req.DocumentID,
		SectionTitle: req.SectionTitle,
		Notes:        req.Notes,
		Model:        req.Model,
		ProviderID:   req.Provider,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	setProvider(w, result.Provider)
	api.Success(w, http.StatusOK, result)
}

// setProvider reports the first non-empty provider to the access log.
func setProvider(w http.ResponseWriter, providers ...string) {
	for _, p := range providers {
		if p != "" {
			w.Header().Set(middleware.ProviderHeader, p)
			return
		}
	}
}
