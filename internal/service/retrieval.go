package service

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/engramhq/engram/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	// rrfK is the rank-smoothing constant for reciprocal rank fusion.
	rrfK = 60

	defaultTopK          = 20
	defaultTopN          = 10
	defaultBranchTimeout = 5 * time.Second
)

// ErrNoRelevantContext signals that neither search branch found anything, so
// synthesis should answer honestly instead of guessing.
var ErrNoRelevantContext = errors.New("no relevant context found")

// RetrievedChunk is a search hit joined with its owning document's metadata.
type RetrievedChunk struct {
	ChunkID           string
	DocumentID        string
	DocumentTitle     string
	SourceType        domain.SourceType
	DocumentCreatedAt time.Time
	Index             int
	Content           string
	Score             float64
}

// SearchRepository exposes the store's ranked read capabilities. Both queries
// return results best-first, optionally restricted by the owning document's
// creation time.
type SearchRepository interface {
	SearchSemantic(ctx context.Context, embedding []float32, rng *DateRange, limit int) ([]*RetrievedChunk, error)
	SearchLexical(ctx context.Context, query string, rng *DateRange, limit int) ([]*RetrievedChunk, error)
}

// QueryEmbedder produces the query-side embedding for semantic search.
type QueryEmbedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// RetrieverConfig tunes the hybrid search fan-out.
type RetrieverConfig struct {
	// TopK caps each individual search branch.
	TopK int
	// TopN caps the fused result list.
	TopN int
	// BranchTimeout bounds each search branch. A branch that exceeds it is
	// treated as failed; the other branch's results still count.
	BranchTimeout time.Duration
}

func (c *RetrieverConfig) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	if c.TopN <= 0 {
		c.TopN = defaultTopN
	}
	if c.BranchTimeout <= 0 {
		c.BranchTimeout = defaultBranchTimeout
	}
}

// HybridRetriever runs semantic and lexical search concurrently, scoped by an
// optional time range, and fuses the two ranked lists with reciprocal rank
// fusion.
type HybridRetriever struct {
	repo     SearchRepository
	embedder QueryEmbedder
	parser   *TemporalParser
	cfg      RetrieverConfig
}

func NewHybridRetriever(repo SearchRepository, embedder QueryEmbedder, cfg RetrieverConfig) *HybridRetriever {
	cfg.applyDefaults()
	return &HybridRetriever{
		repo:     repo,
		embedder: embedder,
		parser:   NewTemporalParser(),
		cfg:      cfg,
	}
}

// RetrieveInput is a query plus its caller-supplied reference time.
type RetrieveInput struct {
	Query         string
	ReferenceTime time.Time
	TopK          int
}

// Retrieve resolves temporal intent, fans out both search branches, and
// returns the fused top-N chunks. A single failed or timed-out branch
// degrades to the surviving branch's results; the call fails only when both
// branches fail. ErrNoRelevantContext is returned when both succeed empty.
func (r *HybridRetriever) Retrieve(ctx context.Context, input RetrieveInput) ([]*RetrievedChunk, *DateRange, error) {
	topK := input.TopK
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	rng := r.parser.Resolve(input.Query, input.ReferenceTime)

	var semantic, lexical []*RetrievedChunk
	var semanticErr, lexicalErr error

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		branchCtx, cancel := context.WithTimeout(gctx, r.cfg.BranchTimeout)
		defer cancel()

		embedding, err := r.embedder.GenerateEmbedding(branchCtx, input.Query)
		if err != nil {
			semanticErr = err
			return nil
		}
		semantic, semanticErr = r.repo.SearchSemantic(branchCtx, embedding, rng, topK)
		return nil
	})

	g.Go(func() error {
		branchCtx, cancel := context.WithTimeout(gctx, r.cfg.BranchTimeout)
		defer cancel()

		lexical, lexicalErr = r.repo.SearchLexical(branchCtx, input.Query, rng, topK)
		return nil
	})

	// Branch errors are collected, not propagated, so one slow or broken
	// branch cannot sink the other.
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, rng, ctx.Err()
	}
	if semanticErr != nil && lexicalErr != nil {
		return nil, rng, domain.NewStoreError("both search branches failed", errors.Join(semanticErr, lexicalErr))
	}
	if semanticErr != nil {
		log.Printf("hybrid search: semantic branch failed, degrading to lexical-only: %v", semanticErr)
	}
	if lexicalErr != nil {
		log.Printf("hybrid search: lexical branch failed, degrading to semantic-only: %v", lexicalErr)
	}

	fused := FuseResults(semantic, lexical, r.cfg.TopN)
	if len(fused) == 0 {
		return nil, rng, ErrNoRelevantContext
	}
	return fused, rng, nil
}

// FuseResults merges two ranked lists with reciprocal rank fusion:
// score = 1/(rank+k) summed over the lists a chunk appears in, rank 1-based.
// Duplicates are collapsed on chunk identity; ties break by most recent
// document creation time, then by chunk ID, for full determinism.
func FuseResults(semantic, lexical []*RetrievedChunk, topN int) []*RetrievedChunk {
	fusedScores := make(map[string]float64)
	byID := make(map[string]*RetrievedChunk)

	addList := func(list []*RetrievedChunk) {
		for i, c := range list {
			if c == nil {
				continue
			}
			fusedScores[c.ChunkID] += 1.0 / float64(i+1+rrfK)
			if _, ok := byID[c.ChunkID]; !ok {
				clone := *c
				byID[c.ChunkID] = &clone
			}
		}
	}
	addList(semantic)
	addList(lexical)

	out := make([]*RetrievedChunk, 0, len(byID))
	for id, c := range byID {
		c.Score = fusedScores[id]
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].DocumentCreatedAt.Equal(out[j].DocumentCreatedAt) {
			return out[i].DocumentCreatedAt.After(out[j].DocumentCreatedAt)
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}
