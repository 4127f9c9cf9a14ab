package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/engramhq/engram/internal/domain"
	"github.com/panjf2000/ants/v2"
)

const (
	// DefaultClaimBatch is the maximum number of documents claimed per poll
	DefaultClaimBatch = 10
)

// ClaimRepository claims pending documents for exclusive processing
type ClaimRepository interface {
	ClaimPending(ctx context.Context, limit int) ([]*domain.Document, error)
}

// DocumentProcessor runs the ingestion pipeline for a claimed document
type DocumentProcessor interface {
	ProcessClaimed(ctx context.Context, doc *domain.Document) error
}

// IngestWorker claims pending documents and processes them on a bounded
// goroutine pool. A claimed document is owned by exactly one worker run.
type IngestWorker struct {
	repo       ClaimRepository
	processor  DocumentProcessor
	pool       *ants.Pool
	claimBatch int
}

// NewIngestWorker creates an IngestWorker with poolSize concurrent slots
func NewIngestWorker(repo ClaimRepository, processor DocumentProcessor, poolSize int) (*IngestWorker, error) {
	if poolSize <= 0 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	return &IngestWorker{
		repo:       repo,
		processor:  processor,
		pool:       pool,
		claimBatch: DefaultClaimBatch,
	}, nil
}

// ProcessJobs implements the JobProcessor interface
func (w *IngestWorker) ProcessJobs(ctx context.Context) error {
	docs, err := w.repo.ClaimPending(ctx, w.claimBatch)
	if err != nil {
		return fmt.Errorf("failed to claim pending documents: %w", err)
	}

	if len(docs) == 0 {
		return nil
	}

	log.Printf("Processing %d claimed documents", len(docs))

	var wg sync.WaitGroup
	for _, doc := range docs {
		doc := doc
		wg.Add(1)
		if err := w.pool.Submit(func() {
			defer wg.Done()
			if err := w.processor.ProcessClaimed(ctx, doc); err != nil {
				log.Printf("Error processing document %s: %v", doc.ID, err)
			}
		}); err != nil {
			wg.Done()
			log.Printf("Failed to submit document %s to pool: %v", doc.ID, err)
		}
	}
	wg.Wait()

	return nil
}

// Release tears down the goroutine pool
func (w *IngestWorker) Release() {
	w.pool.Release()
}
