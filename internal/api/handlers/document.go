package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/engramhq/engram/internal/api"
	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/service"
	"github.com/go-chi/chi/v5"
)

type DocumentService interface {
	Submit(ctx context.Context, input service.SubmitInput) (*domain.Document, error)
	Process(ctx context.Context, documentID string) error
	Status(ctx context.Context, documentID string) (*domain.Document, error)
	List(ctx context.Context, cursor string, limit int) (*service.DocumentPageResult, error)
	Delete(ctx context.Context, documentID string) error
	SourceDownloadURL(ctx context.Context, documentID string) (string, error)
}

type DocumentHandler struct {
	svc DocumentService
}

func NewDocumentHandler(svc DocumentService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

type SubmitDocumentRequest struct {
	SourceType string `json:"source_type"`
	Title      string `json:"title"`
	URL        string `json:"url,omitempty"`
	Content    []byte `json:"content,omitempty"`
}

type DocumentResponse struct {
	ID           string  `json:"id"`
	SourceType   string  `json:"source_type"`
	Title        string  `json:"title"`
	Status       string  `json:"status"`
	ErrorMessage string  `json:"error_message,omitempty"`
	SourceURL    string  `json:"source_url,omitempty"`
	PageCount    int     `json:"page_count,omitempty"`
	Duration     float64 `json:"duration_seconds,omitempty"`
	ByteSize     int64   `json:"byte_size,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

func documentToResponse(d *domain.Document) *DocumentResponse {
	return &DocumentResponse{
		ID:           d.ID,
		SourceType:   string(d.SourceType),
		Title:        d.Title,
		Status:       string(d.Status),
		ErrorMessage: d.ErrorMessage,
		SourceURL:    d.Metadata.SourceURL,
		PageCount:    d.Metadata.PageCount,
		Duration:     d.Metadata.DurationSeconds,
		ByteSize:     d.Metadata.ByteSize,
		CreatedAt:    d.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func (h *DocumentHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.SourceType == "" {
		api.Error(w, http.StatusBadRequest, "source_type is required")
		return
	}

	sourceType := domain.SourceType(req.SourceType)
	if !domain.IsValidSourceType(sourceType) {
		api.Error(w, http.StatusBadRequest, "invalid source type")
		return
	}

	doc, err := h.svc.Submit(r.Context(), service.SubmitInput{
		SourceType: sourceType,
		Title:      req.Title,
		URL:        req.URL,
		Content:    req.Content,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, documentToResponse(doc))
}

// Process triggers processing of a pending document immediately instead of
// waiting for the next worker poll.
func (h *DocumentHandler) Process(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.Process(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}

	doc, err := h.svc.Status(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, documentToResponse(doc))
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	doc, err := h.svc.Status(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, documentToResponse(doc))
}

type DocumentListResponse struct {
	Items   []*DocumentResponse `json:"items"`
	Cursor  string              `json:"cursor,omitempty"`
	HasMore bool                `json:"has_more"`
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")
	limitStr := r.URL.Query().Get("limit")
	limit := 20
	if limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	page, err := h.svc.List(r.Context(), cursor, limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*DocumentResponse, len(page.Items))
	for i, d := range page.Items {
		responses[i] = documentToResponse(d)
	}

	api.Success(w, http.StatusOK, DocumentListResponse{
		Items:   responses,
		Cursor:  page.NextCursor,
		HasMore: page.HasMore,
	})
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusNoContent, nil)
}

type DownloadURLResponse struct {
	DownloadURL string `json:"download_url"`
}

func (h *DocumentHandler) DownloadURL(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	url, err := h.svc.SourceDownloadURL(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, DownloadURLResponse{DownloadURL: url})
}
