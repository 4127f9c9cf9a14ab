package domain

import (
	"fmt"
	"time"
)

// SourceType identifies the kind of raw material a document was ingested from.
type SourceType string

const (
	SourceTypeAudio    SourceType = "audio"
	SourceTypeDocument SourceType = "document"
	SourceTypeWeb      SourceType = "web"
	SourceTypeImage    SourceType = "image"
)

// DocumentStatus is the lifecycle stage of an ingested document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// statusTransitions enumerates every legal status transition. Anything not
// listed here is rejected by CanTransition, so terminal states stay terminal.
var statusTransitions = map[DocumentStatus][]DocumentStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to DocumentStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(status DocumentStatus) bool {
	return len(statusTransitions[status]) == 0
}

// SourceMetadata carries coarse, source-specific details captured at
// extraction time. Fields are zero-valued when they do not apply.
type SourceMetadata struct {
	SourceURL       string  `json:"source_url,omitempty"`
	PageCount       int     `json:"page_count,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	ByteSize        int64   `json:"byte_size,omitempty"`
}

// Document is the parent record for a piece of ingested source material.
// Status and ErrorMessage are mutated only by the ingestion coordinator;
// everything else is immutable after creation.
type Document struct {
	ID           string
	SourceType   SourceType
	Title        string
	Status       DocumentStatus
	ErrorMessage string
	Metadata     SourceMetadata
	CreatedAt    time.Time
}

// NewDocument creates a pending document ready for dispatch.
func NewDocument(id string, sourceType SourceType, title string, meta SourceMetadata, createdAt time.Time) *Document {
	return &Document{
		ID:         id,
		SourceType: sourceType,
		Title:      title,
		Status:     StatusPending,
		Metadata:   meta,
		CreatedAt:  createdAt,
	}
}

// ValidateDocument validates a Document instance.
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if d.ID == "" {
		return fmt.Errorf("%w: document ID", ErrMissingRequiredField)
	}
	if d.Title == "" {
		return fmt.Errorf("%w: document title", ErrMissingRequiredField)
	}
	if !IsValidSourceType(d.SourceType) {
		return fmt.Errorf("%w: %s", ErrInvalidSourceType, d.SourceType)
	}
	if !isValidStatus(d.Status) {
		return fmt.Errorf("%w: %s", ErrInvalidDocumentStatus, d.Status)
	}
	return nil
}

// IsValidSourceType checks if a SourceType is one of the supported variants.
func IsValidSourceType(t SourceType) bool {
	switch t {
	case SourceTypeAudio, SourceTypeDocument, SourceTypeWeb, SourceTypeImage:
		return true
	}
	return false
}

func isValidStatus(s DocumentStatus) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}
