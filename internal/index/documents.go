package index

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cloo-solutions/tenderwise/internal/domain"
)

// DocumentStore keeps documents in memory for deployments without Postgres.
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[string]domain.Document
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string]domain.Document)}
}

func (s *DocumentStore) GetByID(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	d.Sections = append([]domain.Section(nil), d.Sections...)
	return &d, nil
}

func (s *DocumentStore) Upsert(_ context.Context, d *domain.Document) error {
	if err := domain.ValidateDocument(d); err != nil {
		return err
	}
	cp := *d
	cp.Sections = append([]domain.Section(nil), d.Sections...)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[d.ID] = cp
	return nil
}

// ListIDs returns document ids ordered by last update, newest first.
func (s *DocumentStore) ListIDs(_ context.Context, publishedOnly bool) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]domain.Document, 0, len(s.docs))
	for _, d := range s.docs {
		if publishedOnly && !d.Published {
			continue
		}
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}
