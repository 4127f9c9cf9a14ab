package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/extract"
	"github.com/engramhq/engram/internal/pagination"
	"github.com/engramhq/engram/internal/telemetry"
	"github.com/google/uuid"
)

const (
	// maxEmbedAttempts bounds retries of transient embedding-provider
	// failures before the document is marked failed.
	maxEmbedAttempts = 3

	embedBackoffInitial = 500 * time.Millisecond
)

// DocumentRepositoryInterface defines the repository interface for document
// persistence and the status compare-and-set operations.
type DocumentRepositoryInterface interface {
	Create(ctx context.Context, d *domain.Document, rawContent []byte) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	GetRawContent(ctx context.Context, id string) ([]byte, error)
	ListWithCursor(ctx context.Context, cursor *pagination.Cursor, limit int) (*DocumentPageResult, error)

	// MarkProcessing atomically transitions pending -> processing; returns
	// domain.ErrAlreadyClaimed when the document is not pending.
	MarkProcessing(ctx context.Context, id string) error
	// MarkCompleted atomically transitions processing -> completed and
	// records extracted metadata. Only valid inside the chunk-write tx.
	MarkCompleted(ctx context.Context, id string, meta domain.SourceMetadata) error
	// MarkFailed atomically transitions processing -> failed with a
	// human-readable cause.
	MarkFailed(ctx context.Context, id string, cause string) error

	Delete(ctx context.Context, id string) error
}

// ChunkRepositoryInterface defines the repository interface for chunk writes.
type ChunkRepositoryInterface interface {
	InsertChunks(ctx context.Context, chunks []*domain.Chunk) error
}

// EmbeddingClient is the capability "batch of texts -> fixed-dimension
// vectors".
type EmbeddingClient interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// PayloadArchive optionally keeps the raw source bytes for later download.
type PayloadArchive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PresignDownload(ctx context.Context, key string) (string, error)
}

// DocumentPageResult is one page of a cursor-paginated document listing.
type DocumentPageResult struct {
	Items      []*domain.Document
	NextCursor string
	HasMore    bool
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// IngestionCoordinator owns the document state machine. Submit creates a
// pending document and returns immediately; Process drives one document
// through extract -> chunk -> embed -> transactional store write.
type IngestionCoordinator struct {
	docRepo    DocumentRepositoryInterface
	txRunner   TxRunner
	extractors *extract.Registry
	chunker    *Chunker
	embedder   EmbeddingClient
	archive    PayloadArchive
	uuidGen    UUIDGenerator
	now        func() time.Time
}

// CoordinatorOption configures an IngestionCoordinator.
type CoordinatorOption func(*IngestionCoordinator)

// WithPayloadArchive enables raw source archival.
func WithPayloadArchive(archive PayloadArchive) CoordinatorOption {
	return func(c *IngestionCoordinator) { c.archive = archive }
}

// WithUUIDGenerator injects a deterministic ID source for tests.
func WithUUIDGenerator(gen UUIDGenerator) CoordinatorOption {
	return func(c *IngestionCoordinator) { c.uuidGen = gen }
}

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *IngestionCoordinator) { c.now = now }
}

// NewIngestionCoordinator creates a new IngestionCoordinator instance.
func NewIngestionCoordinator(
	docRepo DocumentRepositoryInterface,
	txRunner TxRunner,
	extractors *extract.Registry,
	chunker *Chunker,
	embedder EmbeddingClient,
	opts ...CoordinatorOption,
) *IngestionCoordinator {
	c := &IngestionCoordinator{
		docRepo:    docRepo,
		txRunner:   txRunner,
		extractors: extractors,
		chunker:    chunker,
		embedder:   embedder,
		uuidGen:    &DefaultUUIDGenerator{},
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitInput is raw material handed to the ingestion entry point. Content
// carries the bytes for document/audio/image sources; URL for web sources.
type SubmitInput struct {
	SourceType domain.SourceType
	Title      string
	Content    []byte
	URL        string
}

// Submit creates a pending document and returns it without blocking on
// processing; the ingestion worker picks the document up asynchronously.
func (c *IngestionCoordinator) Submit(ctx context.Context, input SubmitInput) (*domain.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionCoordinator.Submit", telemetry.SpanAttributes{
		Operation: "submit",
	})
	defer span.End()

	if !domain.IsValidSourceType(input.SourceType) {
		return nil, domain.ErrInvalidSourceType
	}
	if input.SourceType == domain.SourceTypeWeb {
		if strings.TrimSpace(input.URL) == "" {
			return nil, domain.NewDomainError(domain.ErrCodeValidation, "web source requires a url")
		}
	} else if len(input.Content) == 0 {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "content is required")
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = defaultTitle(input)
	}

	doc := domain.NewDocument(
		c.uuidGen.NewString(),
		input.SourceType,
		title,
		domain.SourceMetadata{
			SourceURL: input.URL,
			ByteSize:  int64(len(input.Content)),
		},
		c.now(),
	)

	if err := domain.ValidateDocument(doc); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid document", err)
	}

	if err := c.docRepo.Create(ctx, doc, input.Content); err != nil {
		span.SetError(err)
		return nil, domain.NewStoreError("failed to create document", err)
	}

	if c.archive != nil && len(input.Content) > 0 {
		key := "raw/" + doc.ID
		if err := c.archive.Put(ctx, key, input.Content, ""); err != nil {
			// Archival is best-effort; the authoritative copy is in the store.
			log.Printf("payload archive failed for document %s: %v", doc.ID, err)
		}
	}

	return doc, nil
}

// Process drives one document end-to-end. The initial compare-and-set claim
// guarantees at-most-once processing even under redelivery; a document that
// is not pending is skipped with domain.ErrAlreadyClaimed.
func (c *IngestionCoordinator) Process(ctx context.Context, documentID string) error {
	if err := c.docRepo.MarkProcessing(ctx, documentID); err != nil {
		return err
	}

	doc, err := c.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	return c.ProcessClaimed(ctx, doc)
}

// ProcessClaimed runs the pipeline for a document already transitioned to
// processing (the worker claims in batch before dispatching).
func (c *IngestionCoordinator) ProcessClaimed(ctx context.Context, doc *domain.Document) error {
	ctx, span := telemetry.StartSpan(ctx, "IngestionCoordinator.Process", telemetry.SpanAttributes{
		DocumentID: doc.ID,
		Operation:  "process",
	})
	defer span.End()

	if err := c.runPipeline(ctx, doc); err != nil {
		span.SetError(err)
		if failErr := c.docRepo.MarkFailed(ctx, doc.ID, failureCause(err)); failErr != nil {
			log.Printf("failed to mark document %s failed: %v", doc.ID, failErr)
		}
		return err
	}
	return nil
}

func (c *IngestionCoordinator) runPipeline(ctx context.Context, doc *domain.Document) error {
	raw, err := c.docRepo.GetRawContent(ctx, doc.ID)
	if err != nil {
		return domain.NewStoreError("failed to load raw content", err)
	}

	result, err := c.extractors.Extract(ctx, extract.Input{
		SourceType: doc.SourceType,
		Data:       raw,
		URL:        doc.Metadata.SourceURL,
		Title:      doc.Title,
	})
	if err != nil {
		return err
	}

	textChunks := c.chunker.Split(result.Text)
	if len(textChunks) == 0 {
		return domain.NewChunkingError("no content extracted")
	}

	texts := make([]string, len(textChunks))
	for i, tc := range textChunks {
		texts[i] = tc.Content
	}

	vectors, err := c.embedWithRetry(ctx, texts)
	if err != nil {
		return err
	}

	chunks := make([]*domain.Chunk, len(textChunks))
	for i, tc := range textChunks {
		chunks[i] = &domain.Chunk{
			ID:         c.uuidGen.NewString(),
			DocumentID: doc.ID,
			Index:      tc.Index,
			TokenStart: tc.TokenStart,
			TokenEnd:   tc.TokenEnd,
			Content:    tc.Content,
			Embedding:  vectors[i],
			CreatedAt:  doc.CreatedAt,
		}
		if err := domain.ValidateChunk(chunks[i]); err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid chunk", err)
		}
	}

	meta := mergeMetadata(doc.Metadata, result.Metadata)

	// Chunk rows and the completed transition commit together or not at all.
	err = c.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Chunks().InsertChunks(ctx, chunks); err != nil {
			return err
		}
		return repos.Documents().MarkCompleted(ctx, doc.ID, meta)
	})
	if err != nil {
		return domain.NewStoreError("failed to persist chunks", err)
	}

	log.Printf("document %s completed: %d chunks", doc.ID, len(chunks))
	return nil
}

// embedWithRetry retries transient provider failures with bounded
// exponential backoff; fatal failures and exhausted retries fail the
// document.
func (c *IngestionCoordinator) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = embedBackoffInitial

	return backoff.RetryWithData(func() ([][]float32, error) {
		vectors, err := c.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			if !domain.IsTransient(err) {
				return nil, backoff.Permanent(err)
			}
			log.Printf("embedding attempt failed (will retry): %v", err)
			return nil, err
		}
		return vectors, nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxEmbedAttempts-1), ctx))
}

// Status returns the document for a status query.
func (c *IngestionCoordinator) Status(ctx context.Context, documentID string) (*domain.Document, error) {
	return c.docRepo.GetByID(ctx, documentID)
}

// List returns a cursor-paginated page of documents, newest first.
func (c *IngestionCoordinator) List(ctx context.Context, cursorToken string, limit int) (*DocumentPageResult, error) {
	cursor, err := pagination.DecodeCursor(cursorToken)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	return c.docRepo.ListWithCursor(ctx, cursor, limit)
}

// Delete removes a document; chunk deletion cascades in the store.
func (c *IngestionCoordinator) Delete(ctx context.Context, documentID string) error {
	return c.docRepo.Delete(ctx, documentID)
}

// SourceDownloadURL returns a presigned URL for the archived raw payload.
func (c *IngestionCoordinator) SourceDownloadURL(ctx context.Context, documentID string) (string, error) {
	if c.archive == nil {
		return "", domain.NewDomainError(domain.ErrCodeInvalidOperation, "payload archive not configured")
	}
	if _, err := c.docRepo.GetByID(ctx, documentID); err != nil {
		return "", err
	}
	return c.archive.PresignDownload(ctx, "raw/"+documentID)
}

func defaultTitle(input SubmitInput) string {
	if input.URL != "" {
		return input.URL
	}
	return fmt.Sprintf("untitled %s", input.SourceType)
}

// failureCause renders a pipeline error as the human-readable cause recorded
// on the document.
func failureCause(err error) string {
	if domain.ErrorCode(err) == domain.ErrCodeChunking {
		return "no content extracted"
	}
	return err.Error()
}

func mergeMetadata(base, extracted domain.SourceMetadata) domain.SourceMetadata {
	if extracted.SourceURL != "" {
		base.SourceURL = extracted.SourceURL
	}
	if extracted.PageCount > 0 {
		base.PageCount = extracted.PageCount
	}
	if extracted.DurationSeconds > 0 {
		base.DurationSeconds = extracted.DurationSeconds
	}
	if extracted.ByteSize > 0 {
		base.ByteSize = extracted.ByteSize
	}
	return base
}
