package service

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/cloo-solutions/tenderwise/internal/chunking"
	"github.com/cloo-solutions/tenderwise/internal/domain"
	"github.com/cloo-solutions/tenderwise/internal/telemetry"
)

// UUIDGenerator interface for generating UUIDs (allows mocking in tests)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// DocumentReader loads documents from the relational store.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// TextStorage fetches extracted document text from object storage.
type TextStorage interface {
	GetText(ctx context.Context, key string) (string, error)
}

// IngestResult reports what an ingestion did.
type IngestResult struct {
	DocumentID  string `json:"document_id"`
	Fingerprint string `json:"fingerprint"`
	Chunks      int    `json:"chunks"`
	Skipped     bool   `json:"skipped"`
}

// IngestionService chunks, embeds and stores documents, replacing any
// previous chunk set for the same document.
type IngestionService struct {
	docs     DocumentReader
	storage  TextStorage
	embedder EmbeddingServiceInterface
	tx       TxRunner
	engine   *chunking.Engine
	uuidGen  UUIDGenerator
	now      func() time.Time
}

// NewIngestionService creates a new IngestionService instance. docs and
// storage may be nil when callers only use IngestDocument with inline text.
func NewIngestionService(
	docs DocumentReader,
	storage TextStorage,
	embedder EmbeddingServiceInterface,
	tx TxRunner,
	engine *chunking.Engine,
) *IngestionService {
	if engine == nil {
		engine = chunking.NewEngine(chunking.DefaultConfig())
	}
	return &IngestionService{
		docs:     docs,
		storage:  storage,
		embedder: embedder,
		tx:       tx,
		engine:   engine,
		uuidGen:  &DefaultUUIDGenerator{},
		now:      time.Now,
	}
}

// IngestByID loads the document and ingests it.
func (s *IngestionService) IngestByID(ctx context.Context, documentID string, force bool) (*IngestResult, error) {
	if s.docs == nil {
		return nil, fmt.Errorf("document repository not configured")
	}
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return s.IngestDocument(ctx, doc, force)
}

// IngestDocument replaces the document's chunk set. When the content
// fingerprint matches the stored one and force is false, nothing is written.
func (s *IngestionService) IngestDocument(ctx context.Context, doc *domain.Document, force bool) (*IngestResult, error) {
	if err := domain.ValidateDocument(doc); err != nil {
		return nil, domain.Wrap(domain.ErrMissingRequiredField, err)
	}

	ctx, span := telemetry.StartSpan(ctx, "IngestionService.IngestDocument", telemetry.SpanAttributes{
		DocumentID: doc.ID,
		Operation:  "ingest",
	})
	defer span.End()

	body, err := s.resolveBody(ctx, doc)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	resolved := *doc
	resolved.Body = body
	fingerprint := Fingerprint(&resolved)
	result := &IngestResult{DocumentID: doc.ID, Fingerprint: fingerprint}

	if !force {
		var current string
		err := s.tx.WithDocumentLock(ctx, doc.ID, func(repos TxRepositories) error {
			var err error
			current, err = repos.Chunks().GetFingerprint(ctx, doc.ID)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read fingerprint: %w", err)
		}
		if current == fingerprint {
			result.Skipped = true
			log.Printf("ingestion: document %s unchanged, skipping", doc.ID)
			return result, nil
		}
	}

	chunks := s.engine.Chunk(chunking.Input{
		SourceID: doc.ID,
		Title:    doc.Title,
		Body:     body,
		Sections: doc.Sections,
	})

	createdAt := s.now().UTC()
	for i := range chunks {
		embedText := buildChunkEmbeddingText(doc.Title, chunks[i].Metadata.SectionTitle, chunks[i].Content)
		embedding, err := s.embedder.GenerateEmbedding(ctx, embedText)
		if err != nil {
			span.SetError(err)
			return nil, fmt.Errorf("failed to generate chunk embedding: %w", err)
		}
		chunks[i].ID = s.uuidGen.NewString()
		chunks[i].Embedding = embedding
		chunks[i].CreatedAt = createdAt
	}

	err = s.tx.WithDocumentLock(ctx, doc.ID, func(repos TxRepositories) error {
		store := repos.Chunks()
		if err := store.ReplaceChunks(ctx, doc, chunks); err != nil {
			return fmt.Errorf("failed to replace chunks: %w", err)
		}
		return store.SetFingerprint(ctx, doc.ID, fingerprint, len(chunks))
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	result.Chunks = len(chunks)
	log.Printf("ingestion: document %s stored %d chunks", doc.ID, len(chunks))
	return result, nil
}

// DeleteDocument removes the document's chunk set and fingerprint.
func (s *IngestionService) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return domain.Wrap(domain.ErrMissingRequiredField, fmt.Errorf("document ID is required"))
	}
	return s.tx.WithDocumentLock(ctx, documentID, func(repos TxRepositories) error {
		store := repos.Chunks()
		if err := store.DeleteByDocument(ctx, documentID); err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
		return store.ClearFingerprint(ctx, documentID)
	})
}

func (s *IngestionService) resolveBody(ctx context.Context, doc *domain.Document) (string, error) {
	if strings.TrimSpace(doc.Body) != "" || doc.TextKey == "" {
		return doc.Body, nil
	}
	if s.storage == nil {
		return "", fmt.Errorf("document %s references text %q but object storage is not configured", doc.ID, doc.TextKey)
	}
	text, err := s.storage.GetText(ctx, doc.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to load document text: %w", err)
	}
	return text, nil
}

// Fingerprint hashes everything that shapes a document's chunk set.
func Fingerprint(doc *domain.Document) string {
	h := blake3.New()
	write := func(s string) {
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
		_, _ = h.Write(n[:])
		_, _ = h.Write([]byte(s))
	}
	write(doc.Title)
	write(doc.Body)
	if doc.Published {
		write("published")
	} else {
		write("draft")
	}
	for _, sec := range doc.Sections {
		write(sec.ID)
		write(sec.Title)
		write(sec.Content)
		if sec.Mandatory {
			write("mandatory")
		} else {
			write("optional")
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func buildChunkEmbeddingText(title, sectionTitle, content string) string {
	var parts []string
	if title != "" {
		parts = append(parts, title)
	}
	if sectionTitle != "" {
		parts = append(parts, sectionTitle)
	}
	if content != "" {
		parts = append(parts, content)
	}
	return strings.Join(parts, "\n\n")
}
