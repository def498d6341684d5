package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsecrm/pulsecrm/internal/domain/document"
)

// DocumentRepository implements document.Repository.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

func (r *DocumentRepository) Create(ctx context.Context, d *document.Document) error {
	perms, err := json.Marshal(d.Permissions)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO documents (document_id, title, content, serialized_state, version, permissions, owner_id, deleted, created_at, last_modified)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, d.ID, d.Title, d.Content, d.SerializedState, d.Version, perms, d.OwnerID, d.Deleted, d.CreatedAt, d.LastModified)
	return err
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*document.Document, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT document_id, title, content, serialized_state, version, permissions, owner_id, deleted, created_at, last_modified
		FROM documents WHERE document_id=$1
	`, id)
	return scanDocument(row)
}

func (r *DocumentRepository) Update(ctx context.Context, d *document.Document) error {
	perms, err := json.Marshal(d.Permissions)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET title=$2, content=$3, serialized_state=$4, version=$5, permissions=$6, deleted=$7, last_modified=$8
		WHERE document_id=$1
	`, d.ID, d.Title, d.Content, d.SerializedState, d.Version, perms, d.Deleted, d.LastModified)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return document.ErrNotFound
	}
	return nil
}

func (r *DocumentRepository) SetDeleted(ctx context.Context, id string, deleted bool, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents SET deleted=$2, last_modified=$3 WHERE document_id=$1
	`, id, deleted, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return document.ErrNotFound
	}
	return nil
}

func (r *DocumentRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*document.Document, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT document_id, title, content, serialized_state, version, permissions, owner_id, deleted, created_at, last_modified
		FROM documents WHERE owner_id=$1 AND deleted=false
		ORDER BY last_modified DESC LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*document.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDocument(row pgx.Row) (*document.Document, error) {
	var d document.Document
	var perms json.RawMessage
	if err := row.Scan(&d.ID, &d.Title, &d.Content, &d.SerializedState, &d.Version, &perms, &d.OwnerID, &d.Deleted, &d.CreatedAt, &d.LastModified); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &d.Permissions); err != nil {
			return nil, err
		}
	}
	return &d, nil
}
