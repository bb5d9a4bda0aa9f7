package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/tenderwise/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DocumentRepository reads tenders and proposals together with their
// ordered sections.
type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	var d domain.Document
	var textKey pgtype.Text
	err := r.db.QueryRow(ctx,
		`SELECT id, title, body, text_key, published, updated_at
		 FROM documents WHERE id = $1`,
		id,
	).Scan(&d.ID, &d.Title, &d.Body, &textKey, &d.Published, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	if textKey.Valid {
		d.TextKey = textKey.String
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, title, content, mandatory, position
		 FROM document_sections
		 WHERE document_id = $1
		 ORDER BY position ASC, id ASC`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var s domain.Section
		if err := rows.Scan(&s.ID, &s.Title, &s.Content, &s.Mandatory, &s.Position); err != nil {
			return nil, err
		}
		d.Sections = append(d.Sections, s)
	}
	return &d, rows.Err()
}

// Upsert writes the document row and replaces its sections.
func (r *DocumentRepository) Upsert(ctx context.Context, d *domain.Document) error {
	if err := domain.ValidateDocument(d); err != nil {
		return err
	}
	updatedAt := d.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO documents (id, title, body, text_key, published, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET title = EXCLUDED.title,
		     body = EXCLUDED.body,
		     text_key = EXCLUDED.text_key,
		     published = EXCLUDED.published,
		     updated_at = EXCLUDED.updated_at`,
		d.ID, d.Title, d.Body, nullableString(d.TextKey), d.Published, updatedAt,
	)
	if err != nil {
		return err
	}

	if _, err := r.db.Exec(ctx, `DELETE FROM document_sections WHERE document_id = $1`, d.ID); err != nil {
		return err
	}
	for i, s := range d.Sections {
		position := s.Position
		if position == 0 {
			position = i
		}
		_, err := r.db.Exec(ctx,
			`INSERT INTO document_sections (id, document_id, title, content, mandatory, position)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			s.ID, d.ID, s.Title, s.Content, s.Mandatory, position,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListIDs returns document ids ordered by last update, newest first.
func (r *DocumentRepository) ListIDs(ctx context.Context, publishedOnly bool) ([]string, error) {
	query := `SELECT id FROM documents`
	if publishedOnly {
		query += " WHERE published"
	}
	query += " ORDER BY updated_at DESC"

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
