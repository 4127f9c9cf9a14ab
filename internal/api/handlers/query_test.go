package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockQueryService struct {
	mock.Mock
}

func (m *MockQueryService) Stream(ctx context.Context, input service.QueryInput) <-chan service.Event {
	args := m.Called(ctx, input)
	return args.Get(0).(<-chan service.Event)
}

func (m *MockQueryService) Search(ctx context.Context, input service.QueryInput) ([]*service.RetrievedChunk, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*service.RetrievedChunk), args.Error(1)
}

// eventChannel builds a closed, buffered receive channel of the given events.
func eventChannel(events ...service.Event) <-chan service.Event {
	ch := make(chan service.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func parseSSE(t *testing.T, body string) []service.Event {
	t.Helper()
	var events []service.Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev service.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestQueryHandler_Query(t *testing.T) {
	svc := new(MockQueryService)
	svc.On("Stream", mock.Anything, mock.MatchedBy(func(in service.QueryInput) bool {
		return in.Query == "what is the plan?" && in.TopK == 5
	})).Return(eventChannel(
		service.Event{Type: service.EventStatus, Message: "Searching the knowledge base..."},
		service.Event{Type: service.EventChunks, Chunks: []service.Citation{{ChunkID: "c1"}}},
		service.Event{Type: service.EventToken, Token: "The plan."},
		service.Event{Type: service.EventDone},
	))

	body, _ := json.Marshal(QueryRequest{Query: "what is the plan?", TopK: 5})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	NewQueryHandler(svc).Query(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 4)
	assert.Equal(t, service.EventStatus, events[0].Type)
	assert.Equal(t, service.EventChunks, events[1].Type)
	require.Len(t, events[1].Chunks, 1)
	assert.Equal(t, "c1", events[1].Chunks[0].ChunkID)
	assert.Equal(t, "The plan.", events[2].Token)
	assert.Equal(t, service.EventDone, events[3].Type)
}

func TestQueryHandler_Query_MissingQuery(t *testing.T) {
	svc := new(MockQueryService)
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	NewQueryHandler(svc).Query(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Stream", mock.Anything, mock.Anything)
}

func TestQueryHandler_Query_ReferenceTimePassedThrough(t *testing.T) {
	ref := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)

	svc := new(MockQueryService)
	svc.On("Stream", mock.Anything, mock.MatchedBy(func(in service.QueryInput) bool {
		return in.ReferenceTime.Equal(ref)
	})).Return(eventChannel(service.Event{Type: service.EventDone}))

	body, _ := json.Marshal(QueryRequest{Query: "last week", ReferenceTime: &ref})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	NewQueryHandler(svc).Query(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestQueryHandler_Search(t *testing.T) {
	svc := new(MockQueryService)
	svc.On("Search", mock.Anything, mock.Anything).Return([]*service.RetrievedChunk{
		{
			ChunkID:           "c1",
			DocumentID:        "d1",
			DocumentTitle:     "Notes",
			SourceType:        domain.SourceTypeDocument,
			DocumentCreatedAt: time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC),
			Content:           "the launch plan",
			Score:             0.03,
		},
	}, nil)

	body, _ := json.Marshal(QueryRequest{Query: "launch"})
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	NewQueryHandler(svc).Search(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data SearchResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Chunks, 1)
	assert.Equal(t, "c1", resp.Data.Chunks[0].ChunkID)
	assert.Equal(t, "document", resp.Data.Chunks[0].SourceType)
	assert.Equal(t, "2024-05-01T00:00:00Z", resp.Data.Chunks[0].DocumentCreatedAt)
}

func TestQueryHandler_Search_StoreFailure(t *testing.T) {
	svc := new(MockQueryService)
	svc.On("Search", mock.Anything, mock.Anything).
		Return(nil, domain.NewStoreError("both search branches failed", nil))

	body, _ := json.Marshal(QueryRequest{Query: "anything"})
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	NewQueryHandler(svc).Search(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
