package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/engramhq/engram/internal/api"
	"github.com/engramhq/engram/internal/service"
)

type QueryService interface {
	Stream(ctx context.Context, input service.QueryInput) <-chan service.Event
	Search(ctx context.Context, input service.QueryInput) ([]*service.RetrievedChunk, error)
}

type QueryHandler struct {
	svc QueryService
}

func NewQueryHandler(svc QueryService) *QueryHandler {
	return &QueryHandler{svc: svc}
}

type QueryRequest struct {
	Query         string     `json:"query"`
	TopK          int        `json:"top_k,omitempty"`
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

func (r *QueryRequest) toInput() service.QueryInput {
	input := service.QueryInput{
		Query: r.Query,
		TopK:  r.TopK,
	}
	if r.ReferenceTime != nil {
		input.ReferenceTime = *r.ReferenceTime
	}
	return input
}

// Query streams the answer pipeline as server-sent events. The stream stops
// promptly when the client disconnects.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := h.svc.Stream(r.Context(), req.toInput())
	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

type ChunkResponse struct {
	ChunkID           string  `json:"chunk_id"`
	DocumentID        string  `json:"document_id"`
	DocumentTitle     string  `json:"document_title"`
	SourceType        string  `json:"source_type"`
	DocumentCreatedAt string  `json:"document_created_at"`
	Index             int     `json:"index"`
	Content           string  `json:"content"`
	Score             float64 `json:"score"`
}

func chunkToResponse(c *service.RetrievedChunk) *ChunkResponse {
	return &ChunkResponse{
		ChunkID:           c.ChunkID,
		DocumentID:        c.DocumentID,
		DocumentTitle:     c.DocumentTitle,
		SourceType:        string(c.SourceType),
		DocumentCreatedAt: c.DocumentCreatedAt.Format("2006-01-02T15:04:05Z"),
		Index:             c.Index,
		Content:           c.Content,
		Score:             c.Score,
	}
}

type SearchResponse struct {
	Chunks []*ChunkResponse `json:"chunks"`
}

// Search returns the fused retrieval results without answer synthesis.
func (h *QueryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	chunks, err := h.svc.Search(r.Context(), req.toInput())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*ChunkResponse, len(chunks))
	for i, c := range chunks {
		responses[i] = chunkToResponse(c)
	}

	api.Success(w, http.StatusOK, SearchResponse{Chunks: responses})
}
