package extract

import (
	"context"
	"fmt"

	"github.com/engramhq/engram/internal/domain"
)

// Input is the raw material handed to an extractor. Exactly one of Data or
// URL is populated depending on the source type.
type Input struct {
	SourceType domain.SourceType
	Data       []byte
	URL        string
	Title      string
}

// Result is extracted plain text plus coarse metadata about the source.
type Result struct {
	Text     string
	Metadata domain.SourceMetadata
}

// Extractor converts raw input into plain text, or fails with an extraction
// error. The ingestion coordinator does not know which variant ran.
type Extractor interface {
	Extract(ctx context.Context, in Input) (*Result, error)
}

// Registry maps source types to their extractor variant.
type Registry struct {
	extractors map[domain.SourceType]Extractor
}

// NewRegistry creates an empty extractor registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[domain.SourceType]Extractor)}
}

// Register binds an extractor to a source type, replacing any previous one.
func (r *Registry) Register(sourceType domain.SourceType, e Extractor) {
	r.extractors[sourceType] = e
}

// Extract dispatches to the extractor registered for the input's source type.
func (r *Registry) Extract(ctx context.Context, in Input) (*Result, error) {
	e, ok := r.extractors[in.SourceType]
	if !ok {
		return nil, domain.NewExtractionError(
			fmt.Sprintf("no extractor registered for source type %q", in.SourceType), nil)
	}
	return e.Extract(ctx, in)
}
