package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloo-solutions/tenderwise/internal/api"
	"github.com/cloo-solutions/tenderwise/internal/domain"
	"github.com/cloo-solutions/tenderwise/internal/service"
	"github.com/go-chi/chi/v5"
)

type DocumentStore interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	Upsert(ctx context.Context, d *domain.Document) error
	ListIDs(ctx context.Context, publishedOnly bool) ([]string, error)
}

type DocumentIngester interface {
	IngestDocument(ctx context.Context, doc *domain.Document, force bool) (*service.IngestResult, error)
	IngestByID(ctx context.Context, documentID string, force bool) (*service.IngestResult, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// JobQueue accepts ingestion jobs for the background worker.
type JobQueue interface {
	Create(ctx context.Context, job *domain.IngestionJob) error
}

type DocumentHandler struct {
	docs     DocumentStore
	ingester DocumentIngester
	jobs     JobQueue
	uuidGen  service.UUIDGenerator
}

// NewDocumentHandler creates a document handler. jobs may be nil, in which
// case async requests are rejected.
func NewDocumentHandler(docs DocumentStore, ingester DocumentIngester, jobs JobQueue) *DocumentHandler {
	return &DocumentHandler{
		docs:     docs,
		ingester: ingester,
		jobs:     jobs,
		uuidGen:  &service.DefaultUUIDGenerator{},
	}
}

type SectionRequest struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Mandatory bool   `json:"mandatory"`
}

type UpsertDocumentRequest struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	TextKey   string           `json:"text_key"`
	Published bool             `json:"published"`
	Sections  []SectionRequest `json:"sections"`
}

type DocumentResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Published bool   `json:"published"`
	Sections  int    `json:"sections"`
	UpdatedAt string `json:"updated_at"`

	Ingestion *service.IngestResult `json:"ingestion,omitempty"`
}

type IngestJobResponse struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
	Action     string `json:"action"`
	Status     string `json:"status"`
}

func documentToResponse(d *domain.Document) *DocumentResponse {
	return &DocumentResponse{
		ID:        d.ID,
		Title:     d.Title,
		Published: d.Published,
		Sections:  len(d.Sections),
		UpdatedAt: d.UpdatedAt.Format(time.RFC3339),
	}
}

// Upsert creates or replaces a document. Its chunk set is only rebuilt when
// ingest=true is passed.
func (h *DocumentHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req UpsertDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Title) == "" {
		api.Error(w, http.StatusBadRequest, "title is required")
		return
	}

	doc := &domain.Document{
		ID:        req.ID,
		Title:     req.Title,
		Body:      req.Body,
		TextKey:   req.TextKey,
		Published: req.Published,
		UpdatedAt: time.Now().UTC(),
	}
	if doc.ID == "" {
		doc.ID = h.uuidGen.NewString()
	}
	for i, s := range req.Sections {
		id := s.ID
		if id == "" {
			id = doc.ID + "-s" + strconv.Itoa(i+1)
		}
		doc.Sections = append(doc.Sections, domain.Section{
			ID:        id,
			Title:     s.Title,
			Content:   s.Content,
			Mandatory: s.Mandatory,
			Position:  i,
		})
	}

	if err := h.docs.Upsert(r.Context(), doc); err != nil {
		api.HandleError(w, err)
		return
	}

	resp := documentToResponse(doc)
	if ingest, _ := strconv.ParseBool(r.URL.Query().Get("ingest")); ingest {
		result, err := h.ingester.IngestDocument(r.Context(), doc, false)
		if err != nil {
			api.HandleError(w, err)
			return
		}
		resp.Ingestion = result
	}

	api.Success(w, http.StatusOK, resp)
}

// List returns document ids, newest first.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	publishedOnly, _ := strconv.ParseBool(r.URL.Query().Get("published"))

	ids, err := h.docs.ListIDs(r.Context(), publishedOnly)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]interface{}{"ids": ids})
}

// Ingest rebuilds the document's chunk set. With async=true the work is
// queued for the ingestion worker instead.
func (h *DocumentHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "document id is required")
		return
	}
	query := r.URL.Query()
	force, _ := strconv.ParseBool(query.Get("force"))
	async, _ := strconv.ParseBool(query.Get("async"))

	if async {
		h.enqueue(w, r, id, domain.IngestionActionIngest)
		return
	}

	result, err := h.ingester.IngestByID(r.Context(), id, force)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, result)
}

// DeleteChunks removes the document's chunk set.
func (h *DocumentHandler) DeleteChunks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "document id is required")
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		h.enqueue(w, r, id, domain.IngestionActionDelete)
		return
	}

	if err := h.ingester.DeleteDocument(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) enqueue(w http.ResponseWriter, r *http.Request, documentID string, action domain.IngestionAction) {
	if h.jobs == nil {
		api.Error(w, http.StatusServiceUnavailable, "ingestion queue not configured")
		return
	}

	job := &domain.IngestionJob{
		ID:         h.uuidGen.NewString(),
		DocumentID: documentID,
		Action:     action,
		Status:     domain.IngestionJobStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.jobs.Create(r.Context(), job); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, &IngestJobResponse{
		JobID:      job.ID,
		DocumentID: job.DocumentID,
		Action:     string(job.Action),
		Status:     string(job.Status),
	})
}
