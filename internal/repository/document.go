package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/pagination"
	"github.com/engramhq/engram/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const documentColumns = `id, source_type, title, status, error_message, metadata, created_at`

type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

func (r *DocumentRepository) Create(ctx context.Context, d *domain.Document, rawContent []byte) error {
	meta, err := json.Marshal(d.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO documents (id, source_type, title, status, error_message, metadata, raw_content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.SourceType, d.Title, d.Status, nullableString(d.ErrorMessage), meta, rawContent, d.CreatedAt,
	)
	return err
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepository) GetRawContent(ctx context.Context, id string) ([]byte, error) {
	var raw []byte
	err := r.db.QueryRow(ctx,
		`SELECT raw_content FROM documents WHERE id = $1`, id,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	return raw, nil
}

func (r *DocumentRepository) ListWithCursor(ctx context.Context, cursor *pagination.Cursor, limit int) (*service.DocumentPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+`
			 FROM documents
			 WHERE (created_at, id) < ($1, $2)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`,
			cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+`
			 FROM documents
			 ORDER BY created_at DESC, id DESC
			 LIMIT $1`,
			limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanDocumentRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.CreatedAt)
	}

	return &service.DocumentPageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// MarkProcessing is the per-document compare-and-set that serializes
// dispatch: only a pending document can transition, so a document is
// processed at most once concurrently even under redelivery.
func (r *DocumentRepository) MarkProcessing(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE documents SET status = $1 WHERE id = $2 AND status = $3`,
		domain.StatusProcessing, id, domain.StatusPending,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrAlreadyClaimed
	}
	return nil
}

// ClaimPending atomically claims up to limit pending documents for
// processing, skipping rows locked by concurrent workers.
// TODO: documents stuck in processing after a worker crash are never
// reclaimed; a sweep needs a claimed_at column to tell stale claims apart.
func (r *DocumentRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.Document, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM documents
			 WHERE status = $1
			 ORDER BY created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $2
		 )
		 UPDATE documents
		 SET status = $3
		 FROM cte
		 WHERE documents.id = cte.id
		 RETURNING documents.id, documents.source_type, documents.title, documents.status,
		           documents.error_message, documents.metadata, documents.created_at`,
		domain.StatusPending, limit, domain.StatusProcessing,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDocumentRows(rows)
}

// MarkCompleted transitions processing -> completed and records extracted
// metadata. It participates in the same transaction as the chunk insert.
func (r *DocumentRepository) MarkCompleted(ctx context.Context, id string, meta domain.SourceMetadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE documents SET status = $1, metadata = $2, error_message = NULL
		 WHERE id = $3 AND status = $4`,
		domain.StatusCompleted, metaJSON, id, domain.StatusProcessing,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrIllegalTransition
	}
	return nil
}

func (r *DocumentRepository) MarkFailed(ctx context.Context, id string, cause string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE documents SET status = $1, error_message = $2
		 WHERE id = $3 AND status = $4`,
		domain.StatusFailed, cause, id, domain.StatusProcessing,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrIllegalTransition
	}
	return nil
}

// Delete removes a document; chunks cascade via the foreign key.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	var errMsg pgtype.Text
	var meta []byte
	if err := row.Scan(&d.ID, &d.SourceType, &d.Title, &d.Status, &errMsg, &meta, &d.CreatedAt); err != nil {
		return nil, err
	}
	if errMsg.Valid {
		d.ErrorMessage = errMsg.String
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &d.Metadata); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

func scanDocumentRows(rows pgx.Rows) ([]*domain.Document, error) {
	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
