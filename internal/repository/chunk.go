package repository

import (
	"context"
	"strconv"

	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository handles chunk persistence and the store's ranked and
// time-filtered read capabilities.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// InsertChunks writes all chunks of a document. Callers run this inside the
// transaction that also flips the document to completed.
func (r *ChunkRepository) InsertChunks(ctx context.Context, chunks []*domain.Chunk) error {
	for _, c := range chunks {
		_, err := r.db.Exec(ctx,
			`INSERT INTO chunks (id, document_id, chunk_index, token_start, token_end, content, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, c.DocumentID, c.Index, c.TokenStart, c.TokenEnd, c.Content,
			pgvector.NewVector(c.Embedding), c.CreatedAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// SearchSemantic returns the top chunks by cosine distance to the query
// embedding, restricted to completed documents and, optionally, to a
// creation-time range on the owning document.
func (r *ChunkRepository) SearchSemantic(ctx context.Context, embedding []float32, rng *service.DateRange, limit int) ([]*service.RetrievedChunk, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT c.id, c.document_id, d.title, d.source_type, d.created_at, c.chunk_index, c.content,
		       1.0 / (1.0 + (c.embedding <=> $1)) AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.status = $2`
	args := []any{pgvector.NewVector(embedding), domain.StatusCompleted}

	query, args = appendTimeFilter(query, args, rng)
	query += ` ORDER BY c.embedding <=> $1 LIMIT $` + argNum(len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRetrievedRows(rows)
}

// SearchLexical returns the top chunks by full-text relevance ranking,
// restricted the same way as SearchSemantic.
func (r *ChunkRepository) SearchLexical(ctx context.Context, queryText string, rng *service.DateRange, limit int) ([]*service.RetrievedChunk, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT c.id, c.document_id, d.title, d.source_type, d.created_at, c.chunk_index, c.content,
		       ts_rank(to_tsvector('english', c.content), plainto_tsquery('english', $1)) AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.status = $2
		  AND to_tsvector('english', c.content) @@ plainto_tsquery('english', $1)`
	args := []any{queryText, domain.StatusCompleted}

	query, args = appendTimeFilter(query, args, rng)
	query += ` ORDER BY score DESC, c.id ASC LIMIT $` + argNum(len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRetrievedRows(rows)
}

// ListByTimeRange returns chunks of completed documents within a time range
// with no relevance ranking. Diagnostics only.
func (r *ChunkRepository) ListByTimeRange(ctx context.Context, rng *service.DateRange, limit int) ([]*service.RetrievedChunk, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT c.id, c.document_id, d.title, d.source_type, d.created_at, c.chunk_index, c.content,
		       0::float8 AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.status = $1`
	args := []any{domain.StatusCompleted}

	query, args = appendTimeFilter(query, args, rng)
	query += ` ORDER BY d.created_at DESC, c.document_id, c.chunk_index LIMIT $` + argNum(len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRetrievedRows(rows)
}

// CountByDocument returns the number of chunks persisted for a document.
func (r *ChunkRepository) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_id = $1`, documentID,
	).Scan(&count)
	return count, err
}

// ListByDocument returns a document's chunks ordered by sequence index.
func (r *ChunkRepository) ListByDocument(ctx context.Context, documentID string) ([]*domain.Chunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, document_id, chunk_index, token_start, token_end, content, embedding, created_at
		 FROM chunks WHERE document_id = $1 ORDER BY chunk_index ASC`,
		documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var vec pgvector.Vector
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.TokenStart, &c.TokenEnd, &c.Content, &vec, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Embedding = vec.Slice()
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// appendTimeFilter adds the [start, end) predicate on the owning document's
// creation time when a range is set.
func appendTimeFilter(query string, args []any, rng *service.DateRange) (string, []any) {
	if rng == nil {
		return query, args
	}
	query += ` AND d.created_at >= $` + argNum(len(args)+1) + ` AND d.created_at < $` + argNum(len(args)+2)
	args = append(args, rng.Start, rng.End)
	return query, args
}

func argNum(n int) string {
	return strconv.Itoa(n)
}

func scanRetrievedRows(rows pgx.Rows) ([]*service.RetrievedChunk, error) {
	results := make([]*service.RetrievedChunk, 0)
	for rows.Next() {
		var rc service.RetrievedChunk
		if err := rows.Scan(&rc.ChunkID, &rc.DocumentID, &rc.DocumentTitle, &rc.SourceType,
			&rc.DocumentCreatedAt, &rc.Index, &rc.Content, &rc.Score); err != nil {
			return nil, err
		}
		results = append(results, &rc)
	}
	return results, rows.Err()
}
