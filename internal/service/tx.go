package service

import (
	"context"

	"github.com/cloo-solutions/tenderwise/internal/domain"
)

// ChunkStore writes a document's chunk set and remembers which content
// version produced it.
type ChunkStore interface {
	ReplaceChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error
	DeleteByDocument(ctx context.Context, documentID string) error
	GetFingerprint(ctx context.Context, documentID string) (string, error)
	SetFingerprint(ctx context.Context, documentID, fingerprint string, chunkCount int) error
	ClearFingerprint(ctx context.Context, documentID string) error
}

// TxRepositories provides repositories bound to one exclusive section.
type TxRepositories interface {
	Chunks() ChunkStore
}

// TxRunner executes fn while holding the exclusive section for documentID.
type TxRunner interface {
	WithDocumentLock(ctx context.Context, documentID string, fn func(repos TxRepositories) error) error
}

// ChunkSearcher answers nearest-neighbour lookups, nearest first.
type ChunkSearcher interface {
	SearchNearest(ctx context.Context, embedding []float32, scope domain.ChunkScope, limit int) ([]domain.ScoredChunk, error)
}
