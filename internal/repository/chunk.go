package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/tenderwise/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository stores chunk embeddings and answers nearest-neighbour
// lookups with pgvector cosine distance.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx dbtx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// ReplaceChunks deletes the existing chunk set of a document and inserts
// the new one.
func (r *ChunkRepository) ReplaceChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error {
	if err := r.DeleteByDocument(ctx, doc.ID); err != nil {
		return err
	}

	for i, c := range chunks {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode chunk metadata: %w", err)
		}
		_, err = r.db.Exec(ctx,
			`INSERT INTO document_chunks
				(id, document_id, section_id, chunk_index, content, metadata, embedding, created_at)
			 VALUES
				($1, $2, $3, $4, $5, $6, $7, $8)`,
			id,
			doc.ID,
			nullableString(c.SectionID),
			i,
			c.Content,
			meta,
			pgvector.NewVector(c.Embedding),
			createdAt,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *ChunkRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	return err
}

func (r *ChunkRepository) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM document_chunks WHERE document_id = $1`, documentID).Scan(&n)
	return n, err
}

// SearchNearest returns up to limit chunks ordered by cosine distance to
// embedding, nearest first.
func (r *ChunkRepository) SearchNearest(ctx context.Context, embedding []float32, scope domain.ChunkScope, limit int) ([]domain.ScoredChunk, error) {
	if limit <= 0 {
		return []domain.ScoredChunk{}, nil
	}

	query := `
		SELECT c.id, c.document_id, c.section_id, c.content, c.metadata, c.created_at,
		       c.embedding <=> $1 AS distance
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE TRUE`
	args := []any{pgvector.NewVector(embedding)}

	if scope.DocumentID != "" {
		args = append(args, scope.DocumentID)
		query += fmt.Sprintf(" AND c.document_id = $%d", len(args))
	}
	if scope.ExcludeDocumentID != "" {
		args = append(args, scope.ExcludeDocumentID)
		query += fmt.Sprintf(" AND c.document_id <> $%d", len(args))
	}
	if scope.PublishedOnly {
		query += " AND d.published"
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY c.embedding <=> $1 LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.ScoredChunk, 0, limit)
	for rows.Next() {
		var sc domain.ScoredChunk
		var sectionID *string
		var meta []byte
		if err := rows.Scan(&sc.ID, &sc.SourceID, &sectionID, &sc.Content, &meta, &sc.CreatedAt, &sc.Distance); err != nil {
			return nil, err
		}
		if sectionID != nil {
			sc.SectionID = *sectionID
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &sc.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode chunk metadata: %w", err)
			}
		}
		results = append(results, sc)
	}

	return results, rows.Err()
}

// GetFingerprint returns the content hash recorded at the last ingestion,
// or "" when the document was never ingested.
func (r *ChunkRepository) GetFingerprint(ctx context.Context, documentID string) (string, error) {
	var fp string
	err := r.db.QueryRow(ctx,
		`SELECT fingerprint FROM document_fingerprints WHERE document_id = $1`,
		documentID,
	).Scan(&fp)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return fp, err
}

func (r *ChunkRepository) SetFingerprint(ctx context.Context, documentID, fingerprint string, chunkCount int) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO document_fingerprints (document_id, fingerprint, chunk_count, ingested_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (document_id) DO UPDATE
		 SET fingerprint = EXCLUDED.fingerprint,
		     chunk_count = EXCLUDED.chunk_count,
		     ingested_at = EXCLUDED.ingested_at`,
		documentID, fingerprint, chunkCount,
	)
	return err
}

func (r *ChunkRepository) ClearFingerprint(ctx context.Context, documentID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM document_fingerprints WHERE document_id = $1`, documentID)
	return err
}
