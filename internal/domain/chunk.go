package domain

import (
	"fmt"
	"time"
)

// EmbeddingDimensions is the fixed dimensionality of chunk embeddings.
const EmbeddingDimensions = 1536

// Chunk is a bounded fragment of extracted text with its embedding vector.
// CreatedAt is inherited from the owning document so chunks can be filtered
// by time without joining; chunks carry no independent timestamp.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	TokenStart int
	TokenEnd   int
	Content    string
	Embedding  []float32
	CreatedAt  time.Time
}

// ValidateChunk validates a Chunk instance.
func ValidateChunk(c *Chunk) error {
	if c == nil {
		return fmt.Errorf("chunk cannot be nil")
	}
	if c.ID == "" {
		return fmt.Errorf("%w: chunk ID", ErrMissingRequiredField)
	}
	if c.DocumentID == "" {
		return fmt.Errorf("%w: chunk document ID", ErrMissingRequiredField)
	}
	if c.Index < 0 {
		return fmt.Errorf("chunk index must not be negative")
	}
	if c.Content == "" {
		return fmt.Errorf("%w: chunk content", ErrMissingRequiredField)
	}
	if len(c.Embedding) != EmbeddingDimensions {
		return fmt.Errorf("chunk Embedding has %d dimensions, expected %d", len(c.Embedding), EmbeddingDimensions)
	}
	return nil
}
