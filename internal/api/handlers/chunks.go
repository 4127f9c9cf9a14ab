package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/engramhq/engram/internal/api"
	"github.com/engramhq/engram/internal/service"
)

type ChunkBrowser interface {
	ListByTimeRange(ctx context.Context, rng *service.DateRange, limit int) ([]*service.RetrievedChunk, error)
}

// ChunksHandler exposes a raw view of stored chunks for inspection.
type ChunksHandler struct {
	browser ChunkBrowser
}

func NewChunksHandler(browser ChunkBrowser) *ChunksHandler {
	return &ChunksHandler{browser: browser}
}

func (h *ChunksHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var rng *service.DateRange
	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")
	if fromStr != "" && toStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			api.Error(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			api.Error(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		rng = &service.DateRange{Start: from, End: to}
	}

	chunks, err := h.browser.ListByTimeRange(r.Context(), rng, limit)
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
