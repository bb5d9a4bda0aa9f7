// Package index is the in-process similarity index used when no Postgres
// is configured and by the command line tools.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/cloo-solutions/tenderwise/internal/domain"
	"github.com/cloo-solutions/tenderwise/internal/service"
	"github.com/philippgille/chromem-go"
)

const collectionName = "document_chunks"

// Metadata keys stored with every chromem document.
const (
	metaDocumentID = "document_id"
	metaPublished  = "published"
	metaSectionID  = "section_id"
	metaChunkIndex = "chunk_index"
	metaChunk      = "chunk"
	metaCreatedAt  = "created_at"
)

var errNoEmbedding = errors.New("index: chunks must carry precomputed embeddings")

// MemoryIndex stores chunks in a chromem collection. Exclusive sections
// are per-document mutexes.
type MemoryIndex struct {
	collection *chromem.Collection

	mu           sync.Mutex
	locks        map[string]*sync.Mutex
	fingerprints map[string]string
}

// NewMemoryIndex returns a non-persistent index.
func NewMemoryIndex() (*MemoryIndex, error) {
	return newIndex(chromem.NewDB())
}

// NewPersistentIndex stores the collection under dir so separate command
// invocations share it.
func NewPersistentIndex(dir string) (*MemoryIndex, error) {
	db, err := chromem.NewPersistentDB(dir, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open index at %s: %w", dir, err)
	}
	return newIndex(db)
}

func newIndex(db *chromem.DB) (*MemoryIndex, error) {
	noEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, errNoEmbedding
	}
	c, err := db.GetOrCreateCollection(collectionName, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}

	return &MemoryIndex{
		collection:   c,
		locks:        make(map[string]*sync.Mutex),
		fingerprints: make(map[string]string),
	}, nil
}

// Count returns the number of stored chunks.
func (m *MemoryIndex) Count() int {
	return m.collection.Count()
}

func (m *MemoryIndex) docLock(documentID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[documentID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[documentID] = l
	}
	return l
}

// WithDocumentLock serializes work on one document. Unlike the Postgres
// runner a failure inside fn is not rolled back.
func (m *MemoryIndex) WithDocumentLock(ctx context.Context, documentID string, fn func(repos service.TxRepositories) error) error {
	l := m.docLock(documentID)
	l.Lock()
	defer l.Unlock()
	return fn(memoryRepos{m})
}

type memoryRepos struct {
	idx *MemoryIndex
}

func (r memoryRepos) Chunks() service.ChunkStore {
	return r.idx
}

func (m *MemoryIndex) ReplaceChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error {
	if err := m.DeleteByDocument(ctx, doc.ID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			return errNoEmbedding
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode chunk metadata: %w", err)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		docs = append(docs, chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Embedding: c.Embedding,
			Metadata: map[string]string{
				metaDocumentID: doc.ID,
				metaPublished:  strconv.FormatBool(doc.Published),
				metaSectionID:  c.SectionID,
				metaChunkIndex: strconv.Itoa(i),
				metaChunk:      string(meta),
				metaCreatedAt:  createdAt.Format(time.RFC3339Nano),
			},
		})
	}

	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add chunks: %w", err)
	}
	return nil
}

func (m *MemoryIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := m.collection.Delete(ctx, map[string]string{metaDocumentID: documentID}, nil); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// SearchNearest mirrors the pgvector query. chromem filters on equality
// only, so exclusion is applied after a lookup over the whole collection.
func (m *MemoryIndex) SearchNearest(ctx context.Context, embedding []float32, scope domain.ChunkScope, limit int) ([]domain.ScoredChunk, error) {
	total := m.collection.Count()
	if limit <= 0 || total == 0 {
		return []domain.ScoredChunk{}, nil
	}

	where := map[string]string{}
	if scope.DocumentID != "" {
		where[metaDocumentID] = scope.DocumentID
	}
	if scope.PublishedOnly {
		where[metaPublished] = "true"
	}

	n := limit
	if scope.ExcludeDocumentID != "" {
		n = total
	}
	if n > total {
		n = total
	}
	if len(where) == 0 {
		where = nil
	}

	results, err := m.collection.QueryEmbedding(ctx, embedding, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}

	out := make([]domain.ScoredChunk, 0, limit)
	for _, r := range results {
		docID := r.Metadata[metaDocumentID]
		if scope.ExcludeDocumentID != "" && docID == scope.ExcludeDocumentID {
			continue
		}
		sc := domain.ScoredChunk{
			Chunk: domain.Chunk{
				ID:        r.ID,
				SourceID:  docID,
				SectionID: r.Metadata[metaSectionID],
				Content:   r.Content,
			},
			Distance: 1 - float64(r.Similarity),
		}
		if raw := r.Metadata[metaChunk]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &sc.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode chunk metadata: %w", err)
			}
		}
		if ts, err := time.Parse(time.RFC3339Nano, r.Metadata[metaCreatedAt]); err == nil {
			sc.CreatedAt = ts
		}
		out = append(out, sc)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryIndex) GetFingerprint(_ context.Context, documentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fingerprints[documentID], nil
}

func (m *MemoryIndex) SetFingerprint(_ context.Context, documentID, fingerprint string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fingerprints[documentID] = fingerprint
	return nil
}

func (m *MemoryIndex) ClearFingerprint(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fingerprints, documentID)
	return nil
}
