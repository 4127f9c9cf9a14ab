package service

import (
	"bytes"
	"context"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestQueryService(repo *MockSearchRepository, embedder *MockQueryEmbedder, client *MockGenerationClient) *QueryService {
	retriever := NewHybridRetriever(repo, embedder, RetrieverConfig{})
	return NewQueryService(retriever, NewSynthesisStreamer(client))
}

func drainStream(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("query stream did not terminate")
		}
	}
}

func TestQueryService_Stream(t *testing.T) {
	now := time.Now()
	repo := new(MockSearchRepository)
	embedder := new(MockQueryEmbedder)
	client := new(MockGenerationClient)

	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{0.5}, nil)
	repo.On("SearchSemantic", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*RetrievedChunk{hit("a", now)}, nil)
	repo.On("SearchLexical", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*RetrievedChunk{}, nil)
	client.On("GenerateAnswerStream", mock.Anything, mock.Anything, mock.Anything).
		Return(&stubTokenStream{tokens: []string{"The ", "plan."}}, nil)

	svc := newTestQueryService(repo, embedder, client)
	events := drainStream(t, svc.Stream(context.Background(), QueryInput{Query: "what is the plan?"}))

	require.NotEmpty(t, events)
	assert.Equal(t, EventStatus, events[0].Type)
	assert.Equal(t, "Searching the knowledge base...", events[0].Message)
	assert.Equal(t, EventDone, events[len(events)-1].Type)

	var answer strings.Builder
	sawChunks := false
	for _, ev := range events {
		switch ev.Type {
		case EventChunks:
			sawChunks = true
			assert.False(t, answer.Len() > 0, "citations must precede tokens")
		case EventToken:
			answer.WriteString(ev.Token)
		}
	}
	assert.True(t, sawChunks)
	assert.Equal(t, "The plan.", answer.String())
}

func TestQueryService_Stream_NoContext(t *testing.T) {
	repo := new(MockSearchRepository)
	embedder := new(MockQueryEmbedder)
	client := new(MockGenerationClient)

	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{0.5}, nil)
	repo.On("SearchSemantic", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*RetrievedChunk{}, nil)
	repo.On("SearchLexical", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*RetrievedChunk{}, nil)

	svc := newTestQueryService(repo, embedder, client)
	events := drainStream(t, svc.Stream(context.Background(), QueryInput{Query: "anything"}))

	var answer strings.Builder
	for _, ev := range events {
		if ev.Type == EventToken {
			answer.WriteString(ev.Token)
		}
	}
	assert.Contains(t, answer.String(), "don't have information")
	assert.Equal(t, EventDone, events[len(events)-1].Type)
	client.AssertNotCalled(t, "GenerateAnswerStream", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueryService_Stream_SearchFailure(t *testing.T) {
	repo := new(MockSearchRepository)
	embedder := new(MockQueryEmbedder)
	client := new(MockGenerationClient)

	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).
		Return(nil, assert.AnError)
	repo.On("SearchLexical", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, assert.AnError)

	svc := newTestQueryService(repo, embedder, client)
	events := drainStream(t, svc.Stream(context.Background(), QueryInput{Query: "anything"}))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Message, "search failed")
}

func TestQueryService_Stream_CancelledBeforeRetrieval(t *testing.T) {
	repo := new(MockSearchRepository)
	embedder := new(MockQueryEmbedder)
	client := new(MockGenerationClient)

	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).
		Return(nil, context.Canceled).Maybe()
	repo.On("SearchLexical", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, context.Canceled).Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := newTestQueryService(repo, embedder, client)
	events := drainStream(t, svc.Stream(ctx, QueryInput{Query: "anything"}))

	// The channel closes without a terminal done or error event.
	for _, ev := range events {
		assert.NotEqual(t, EventDone, ev.Type)
		assert.NotEqual(t, EventError, ev.Type)
	}
}

func TestQueryService_Stream_CancelledDuringRetrieval(t *testing.T) {
	repo := new(MockSearchRepository)
	embedder := new(MockQueryEmbedder)
	client := new(MockGenerationClient)

	ctx, cancel := context.WithCancel(context.Background())

	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled).Maybe()
	repo.On("SearchLexical", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, context.Canceled).Maybe()

	var logged bytes.Buffer
	log.SetOutput(&logged)
	defer log.SetOutput(os.Stderr)

	svc := newTestQueryService(repo, embedder, client)
	events := drainStream(t, svc.Stream(ctx, QueryInput{Query: "anything"}))

	require.NotEmpty(t, events)
	assert.Equal(t, EventStatus, events[0].Type)
	for _, ev := range events {
		assert.NotEqual(t, EventDone, ev.Type)
		assert.NotEqual(t, EventError, ev.Type)
	}
	assert.Contains(t, logged.String(), "STREAM_CANCELLED")
	client.AssertNotCalled(t, "GenerateAnswerStream", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueryService_Search(t *testing.T) {
	now := time.Now()
	repo := new(MockSearchRepository)
	embedder := new(MockQueryEmbedder)

	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{0.5}, nil)
	repo.On("SearchSemantic", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*RetrievedChunk{hit("a", now)}, nil)
	repo.On("SearchLexical", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*RetrievedChunk{}, nil)

	svc := newTestQueryService(repo, embedder, new(MockGenerationClient))
	chunks, err := svc.Search(context.Background(), QueryInput{Query: "plans"})

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a", chunks[0].ChunkID)
}

func TestQueryService_Search_EmptyIsNotAnError(t *testing.T) {
	repo := new(MockSearchRepository)
	embedder := new(MockQueryEmbedder)

	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{0.5}, nil)
	repo.On("SearchSemantic", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*RetrievedChunk{}, nil)
	repo.On("SearchLexical", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*RetrievedChunk{}, nil)

	svc := newTestQueryService(repo, embedder, new(MockGenerationClient))
	chunks, err := svc.Search(context.Background(), QueryInput{Query: "anything"})

	require.NoError(t, err)
	assert.Empty(t, chunks)
}
