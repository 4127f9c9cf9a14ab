package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// EventType tags a synthesis stream event.
type EventType string

const (
	EventStatus EventType = "status"
	EventChunks EventType = "chunks"
	EventToken  EventType = "token"
	EventDone   EventType = "done"
	EventError  EventType = "error"
)

// Citation identifies a chunk the answer is grounded in.
type Citation struct {
	ChunkID           string    `json:"chunk_id"`
	DocumentTitle     string    `json:"document_title"`
	SourceType        string    `json:"source_type"`
	DocumentCreatedAt time.Time `json:"document_created_at"`
	Score             float64   `json:"score"`
}

// Event is one element of the query response stream. Exactly the field
// matching Type is populated.
type Event struct {
	Type    EventType  `json:"type"`
	Message string     `json:"message,omitempty"`
	Chunks  []Citation `json:"chunks,omitempty"`
	Token   string     `json:"content,omitempty"`
}

// TokenStream is an open, incrementally produced answer. Recv blocks for the
// next token and returns io.EOF at the end; Close releases the provider
// connection early.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// GenerationClient is the capability "prompt -> stream of tokens".
type GenerationClient interface {
	GenerateAnswerStream(ctx context.Context, systemPrompt, userMessage string) (TokenStream, error)
}

// noInformationAnswer is emitted verbatim when retrieval found nothing, so
// the stream never fabricates an answer from an empty context.
const noInformationAnswer = "I don't have information about that in the knowledge base."

const groundingPrompt = `You are a personal knowledge assistant. Answer the question using ONLY the information in the sources below.

Rules:
1. Base your answer exclusively on the provided sources.
2. If the sources do not contain enough information, say "I don't have information about that in the knowledge base."
3. Cite sources by number when making specific claims (e.g. "According to Source 1...").
4. Never invent or infer information that is not present in the sources.

Sources:
%s`

// SynthesisStreamer turns a query and its fused chunk list into an ordered,
// cancellable event sequence.
type SynthesisStreamer struct {
	client GenerationClient
}

func NewSynthesisStreamer(client GenerationClient) *SynthesisStreamer {
	return &SynthesisStreamer{client: client}
}

// Stream emits a status event, a citation event with the chunks actually
// used, incremental token events, then a terminal done event; on failure a
// terminal error event replaces done. Cancellation is cooperative: the loop
// checks ctx between token productions, closes the provider stream, and
// stops without retracting tokens already emitted.
func (s *SynthesisStreamer) Stream(ctx context.Context, query string, chunks []*RetrievedChunk, out chan<- Event) {
	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if len(chunks) == 0 {
		if !emit(Event{Type: EventStatus, Message: "No relevant context found"}) {
			return
		}
		if !emit(Event{Type: EventChunks, Chunks: []Citation{}}) {
			return
		}
		if !emit(Event{Type: EventToken, Token: noInformationAnswer}) {
			return
		}
		emit(Event{Type: EventDone})
		return
	}

	if !emit(Event{Type: EventStatus, Message: "Generating answer..."}) {
		return
	}
	if !emit(Event{Type: EventChunks, Chunks: citations(chunks)}) {
		return
	}

	prompt := fmt.Sprintf(groundingPrompt, buildContext(chunks))
	userMessage := fmt.Sprintf("Question: %s\n\nPlease answer based on the sources provided.", query)

	stream, err := s.client.GenerateAnswerStream(ctx, prompt, userMessage)
	if err != nil {
		emit(Event{Type: EventError, Message: fmt.Sprintf("generation failed: %v", err)})
		return
	}
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			// Consumer is gone; release the provider connection and stop.
			return
		default:
		}

		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			emit(Event{Type: EventDone})
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			emit(Event{Type: EventError, Message: fmt.Sprintf("generation interrupted: %v", err)})
			return
		}
		if token == "" {
			continue
		}
		if !emit(Event{Type: EventToken, Token: token}) {
			return
		}
	}
}

func citations(chunks []*RetrievedChunk) []Citation {
	out := make([]Citation, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, Citation{
			ChunkID:           c.ChunkID,
			DocumentTitle:     c.DocumentTitle,
			SourceType:        string(c.SourceType),
			DocumentCreatedAt: c.DocumentCreatedAt,
			Score:             c.Score,
		})
	}
	return out
}

// buildContext renders the fused chunks as numbered sources for the
// grounding prompt.
func buildContext(chunks []*RetrievedChunk) string {
	var parts []string
	for i, c := range chunks {
		parts = append(parts, fmt.Sprintf("[Source %d] %s (%s, %s)\n%s",
			i+1, c.DocumentTitle, c.SourceType,
			c.DocumentCreatedAt.Format("2006-01-02"), c.Content))
	}
	return strings.Join(parts, "\n---\n")
}
