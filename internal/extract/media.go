package extract

import (
	"context"
	"fmt"

	"github.com/engramhq/engram/internal/domain"
)

// TranscriptionClient converts audio bytes into a transcript. Implementations
// are provider-specific; the extractor only consumes this contract.
type TranscriptionClient interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (text string, durationSeconds float64, err error)
}

// CaptioningClient describes an image in searchable prose.
type CaptioningClient interface {
	CaptionImage(ctx context.Context, filename string, image []byte) (string, error)
}

// AudioExtractor turns audio into text via a transcription capability.
type AudioExtractor struct {
	client TranscriptionClient
}

func NewAudioExtractor(client TranscriptionClient) *AudioExtractor {
	return &AudioExtractor{client: client}
}

func (e *AudioExtractor) Extract(ctx context.Context, in Input) (*Result, error) {
	if e.client == nil {
		return nil, domain.NewExtractionError("no transcription provider configured", nil)
	}
	if len(in.Data) == 0 {
		return nil, domain.NewExtractionError("audio payload is empty", nil)
	}

	text, duration, err := e.client.Transcribe(ctx, in.Title, in.Data)
	if err != nil {
		return nil, domain.NewExtractionError("transcription failed", err)
	}

	return &Result{
		Text: normalizeText(text),
		Metadata: domain.SourceMetadata{
			DurationSeconds: duration,
			ByteSize:        int64(len(in.Data)),
		},
	}, nil
}

// ImageExtractor turns an image into a searchable caption via a vision
// capability.
type ImageExtractor struct {
	client CaptioningClient
}

func NewImageExtractor(client CaptioningClient) *ImageExtractor {
	return &ImageExtractor{client: client}
}

func (e *ImageExtractor) Extract(ctx context.Context, in Input) (*Result, error) {
	if e.client == nil {
		return nil, domain.NewExtractionError("no captioning provider configured", nil)
	}
	if len(in.Data) == 0 {
		return nil, domain.NewExtractionError("image payload is empty", nil)
	}

	caption, err := e.client.CaptionImage(ctx, in.Title, in.Data)
	if err != nil {
		return nil, domain.NewExtractionError("image captioning failed", err)
	}

	text := normalizeText(caption)
	if in.Title != "" {
		text = fmt.Sprintf("Image: %s\n\n%s", in.Title, text)
	}

	return &Result{
		Text: text,
		Metadata: domain.SourceMetadata{
			ByteSize: int64(len(in.Data)),
		},
	}, nil
}
