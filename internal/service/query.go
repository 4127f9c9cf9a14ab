package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/telemetry"
)

// QueryInput is one grounded-answer request.
type QueryInput struct {
	Query         string
	TopK          int
	ReferenceTime time.Time
}

// QueryService wires temporal parsing, hybrid retrieval, and synthesis into
// the live event stream returned to the caller.
type QueryService struct {
	retriever *HybridRetriever
	streamer  *SynthesisStreamer
}

func NewQueryService(retriever *HybridRetriever, streamer *SynthesisStreamer) *QueryService {
	return &QueryService{retriever: retriever, streamer: streamer}
}

// Stream runs the full query pipeline and emits events on the returned
// channel. The channel is closed when the stream terminates for any reason;
// cancelling ctx stops generation promptly and closes the channel.
func (s *QueryService) Stream(ctx context.Context, input QueryInput) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		ctx, span := telemetry.StartSpan(ctx, "QueryService.Stream", telemetry.SpanAttributes{
			Operation: "query",
		})
		defer span.End()

		emit := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(Event{Type: EventStatus, Message: "Searching the knowledge base..."}) {
			return
		}

		referenceTime := input.ReferenceTime
		if referenceTime.IsZero() {
			referenceTime = time.Now().UTC()
		}

		chunks, _, err := s.retriever.Retrieve(ctx, RetrieveInput{
			Query:         input.Query,
			ReferenceTime: referenceTime,
			TopK:          input.TopK,
		})
		switch {
		case errors.Is(err, ErrNoRelevantContext):
			chunks = nil
		case errors.Is(err, context.Canceled):
			log.Printf("query stream closed: %v", domain.NewDomainErrorWithCause(
				domain.ErrCodeStreamCancelled, "caller went away during retrieval", err))
			return
		case err != nil:
			span.SetError(err)
			emit(Event{Type: EventError, Message: fmt.Sprintf("search failed: %v", err)})
			return
		}

		s.streamer.Stream(ctx, input.Query, chunks, out)
	}()

	return out
}

// Search runs retrieval only, without synthesis, for callers that want the
// fused chunk list directly.
func (s *QueryService) Search(ctx context.Context, input QueryInput) ([]*RetrievedChunk, error) {
	referenceTime := input.ReferenceTime
	if referenceTime.IsZero() {
		referenceTime = time.Now().UTC()
	}
	chunks, _, err := s.retriever.Retrieve(ctx, RetrieveInput{
		Query:         input.Query,
		ReferenceTime: referenceTime,
		TopK:          input.TopK,
	})
	if errors.Is(err, ErrNoRelevantContext) {
		return []*RetrievedChunk{}, nil
	}
	return chunks, err
}
