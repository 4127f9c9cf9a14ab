package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDocumentService struct {
	mock.Mock
}

func (m *MockDocumentService) Submit(ctx context.Context, input service.SubmitInput) (*domain.Document, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentService) Process(ctx context.Context, documentID string) error {
	args := m.Called(ctx, documentID)
	return args.Error(0)
}

func (m *MockDocumentService) Status(ctx context.Context, documentID string) (*domain.Document, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentService) List(ctx context.Context, cursor string, limit int) (*service.DocumentPageResult, error) {
	args := m.Called(ctx, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DocumentPageResult), args.Error(1)
}

func (m *MockDocumentService) Delete(ctx context.Context, documentID string) error {
	args := m.Called(ctx, documentID)
	return args.Error(0)
}

func (m *MockDocumentService) SourceDownloadURL(ctx context.Context, documentID string) (string, error) {
	args := m.Called(ctx, documentID)
	return args.String(0), args.Error(1)
}

func newTestDocument() *domain.Document {
	return &domain.Document{
		ID:         "doc-123",
		SourceType: domain.SourceTypeDocument,
		Title:      "Meeting Notes",
		Status:     domain.StatusPending,
		Metadata:   domain.SourceMetadata{ByteSize: 11},
		CreatedAt:  time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC),
	}
}

func requestWithID(method, url, id string, body []byte) *http.Request {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestDocumentHandler_Submit(t *testing.T) {
	svc := new(MockDocumentService)
	svc.On("Submit", mock.Anything, mock.MatchedBy(func(in service.SubmitInput) bool {
		return in.SourceType == domain.SourceTypeDocument &&
			in.Title == "Meeting Notes" &&
			string(in.Content) == "hello world"
	})).Return(newTestDocument(), nil)

	body, _ := json.Marshal(SubmitDocumentRequest{
		SourceType: "document",
		Title:      "Meeting Notes",
		Content:    []byte("hello world"),
	})

	req := httptest.NewRequest(http.MethodPost, "/documents", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	NewDocumentHandler(svc).Submit(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Data DocumentResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "doc-123", resp.Data.ID)
	assert.Equal(t, "pending", resp.Data.Status)
	assert.Equal(t, int64(11), resp.Data.ByteSize)
	svc.AssertExpectations(t)
}

func TestDocumentHandler_Submit_InvalidBody(t *testing.T) {
	svc := new(MockDocumentService)
	req := httptest.NewRequest(http.MethodPost, "/documents", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()

	NewDocumentHandler(svc).Submit(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestDocumentHandler_Submit_InvalidSourceType(t *testing.T) {
	svc := new(MockDocumentService)
	body, _ := json.Marshal(SubmitDocumentRequest{SourceType: "video"})

	req := httptest.NewRequest(http.MethodPost, "/documents", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	NewDocumentHandler(svc).Submit(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid source type")
}

func TestDocumentHandler_Submit_MissingSourceType(t *testing.T) {
	svc := new(MockDocumentService)
	body, _ := json.Marshal(SubmitDocumentRequest{Title: "no type"})

	req := httptest.NewRequest(http.MethodPost, "/documents", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	NewDocumentHandler(svc).Submit(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "source_type is required")
}

func TestDocumentHandler_Get(t *testing.T) {
	svc := new(MockDocumentService)
	doc := newTestDocument()
	doc.Status = domain.StatusCompleted
	svc.On("Status", mock.Anything, "doc-123").Return(doc, nil)

	rec := httptest.NewRecorder()
	NewDocumentHandler(svc).Get(rec, requestWithID(http.MethodGet, "/documents/doc-123", "doc-123", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data DocumentResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Data.Status)
	assert.Equal(t, "2024-05-01T10:00:00Z", resp.Data.CreatedAt)
}

func TestDocumentHandler_Get_NotFound(t *testing.T) {
	svc := new(MockDocumentService)
	svc.On("Status", mock.Anything, "missing").Return(nil, domain.ErrDocumentNotFound)

	rec := httptest.NewRecorder()
	NewDocumentHandler(svc).Get(rec, requestWithID(http.MethodGet, "/documents/missing", "missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentHandler_Process_Conflict(t *testing.T) {
	svc := new(MockDocumentService)
	svc.On("Process", mock.Anything, "doc-123").Return(domain.ErrAlreadyClaimed)

	rec := httptest.NewRecorder()
	NewDocumentHandler(svc).Process(rec, requestWithID(http.MethodPost, "/documents/doc-123/process", "doc-123", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDocumentHandler_List(t *testing.T) {
	svc := new(MockDocumentService)
	svc.On("List", mock.Anything, "", 2).Return(&service.DocumentPageResult{
		Items:      []*domain.Document{newTestDocument()},
		NextCursor: "next-token",
		HasMore:    true,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/documents?limit=2", nil)
	rec := httptest.NewRecorder()

	NewDocumentHandler(svc).List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data DocumentListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Items, 1)
	assert.Equal(t, "next-token", resp.Data.Cursor)
	assert.True(t, resp.Data.HasMore)
}

func TestDocumentHandler_List_DefaultLimit(t *testing.T) {
	svc := new(MockDocumentService)
	svc.On("List", mock.Anything, "", 20).Return(&service.DocumentPageResult{
		Items: []*domain.Document{},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	rec := httptest.NewRecorder()

	NewDocumentHandler(svc).List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestDocumentHandler_Delete(t *testing.T) {
	svc := new(MockDocumentService)
	svc.On("Delete", mock.Anything, "doc-123").Return(nil)

	rec := httptest.NewRecorder()
	NewDocumentHandler(svc).Delete(rec, requestWithID(http.MethodDelete, "/documents/doc-123", "doc-123", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDocumentHandler_DownloadURL(t *testing.T) {
	svc := new(MockDocumentService)
	svc.On("SourceDownloadURL", mock.Anything, "doc-123").
		Return("https://s3.example.com/raw/doc-123?sig=abc", nil)

	rec := httptest.NewRecorder()
	NewDocumentHandler(svc).DownloadURL(rec, requestWithID(http.MethodGet, "/documents/doc-123/download", "doc-123", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "download_url")
}

func TestDocumentHandler_DownloadURL_NotConfigured(t *testing.T) {
	svc := new(MockDocumentService)
	svc.On("SourceDownloadURL", mock.Anything, "doc-123").
		Return("", domain.NewDomainError(domain.ErrCodeInvalidOperation, "payload archive not configured"))

	rec := httptest.NewRecorder()
	NewDocumentHandler(svc).DownloadURL(rec, requestWithID(http.MethodGet, "/documents/doc-123/download", "doc-123", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
}
