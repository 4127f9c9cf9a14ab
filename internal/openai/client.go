package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/engramhq/engram/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultEmbeddingDimensions is the dimension of text-embedding-3-small vectors
	DefaultEmbeddingDimensions = 1536
	// DefaultChatModel is the model used for answer synthesis
	DefaultChatModel = openai.GPT4o
	// DefaultTranscriptionModel is the model used for audio transcription
	DefaultTranscriptionModel = openai.Whisper1

	// maxEmbeddingBatch caps how many inputs go into one embeddings request
	maxEmbeddingBatch = 100
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when an embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAPIKey is returned when OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
)

// Config controls models and dimensions for the client.
type Config struct {
	APIKey              string
	EmbeddingModel      openai.EmbeddingModel
	ChatModel           string
	EmbeddingDimensions int
}

// Client wraps the OpenAI API for embeddings, streaming generation,
// transcription, and image captioning.
type Client struct {
	api        *openai.Client
	cfg        Config
	dimensions int
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Client{
		api:        openai.NewClient(cfg.APIKey),
		cfg:        cfg,
		dimensions: dimensions,
	}
}

// NewClientFromEnv creates a new OpenAI client using OPENAI_API_KEY
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// GenerateEmbedding generates an embedding for a single text.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	vectors, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts returns one vector per input text, batching requests to respect
// the provider's batch limit. Any batch failure fails the whole call.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyText
	}
	for _, t := range texts {
		if t == "" {
			return nil, ErrEmptyText
		}
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbeddingBatch {
		end := start + maxEmbeddingBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: batch,
			Model: c.cfg.EmbeddingModel,
		})
		if err != nil {
			return nil, classifyError("failed to create embeddings", err)
		}
		if len(resp.Data) != len(batch) {
			return nil, domain.NewProviderFatalError(
				fmt.Sprintf("embedding response has %d vectors for %d inputs", len(resp.Data), len(batch)), nil)
		}
		for _, item := range resp.Data {
			if len(item.Embedding) != c.dimensions {
				return nil, fmt.Errorf("%w: got %d, expected %d", ErrWrongDimensions, len(item.Embedding), c.dimensions)
			}
			vectors = append(vectors, item.Embedding)
		}
	}

	return vectors, nil
}

// AnswerStream is an open token stream from the generation provider.
type AnswerStream struct {
	stream *openai.ChatCompletionStream
}

// Recv returns the next token of the answer. io.EOF signals completion.
func (s *AnswerStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

// Close releases the underlying provider connection.
func (s *AnswerStream) Close() error {
	return s.stream.Close()
}

// GenerateAnswerStream opens a streaming chat completion with the given
// system prompt and user message. The returned stream must be closed.
func (c *Client) GenerateAnswerStream(ctx context.Context, systemPrompt, userMessage string) (*AnswerStream, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.ChatModel,
		Temperature: 0.3,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMessage},
		},
		Stream: true,
	})
	if err != nil {
		return nil, classifyError("failed to open generation stream", err)
	}
	return &AnswerStream{stream: stream}, nil
}

// Transcribe converts audio bytes into text using Whisper.
func (c *Client) Transcribe(ctx context.Context, filename string, audio []byte) (string, float64, error) {
	if filename == "" {
		filename = "audio"
	}
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    DefaultTranscriptionModel,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return "", 0, classifyError("transcription request failed", err)
	}
	return resp.Text, float64(resp.Duration), nil
}

// CaptionImage asks the vision model for a searchable description of an image.
func (c *Client) CaptionImage(ctx context.Context, filename string, image []byte) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Describe this image in detail so it can be found later by text search. Include any visible text, names, and dates.",
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: dataURL(filename, image),
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", classifyError("captioning request failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewProviderFatalError("captioning response has no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// dataURL inlines image bytes as a base64 data URL for the vision API.
func dataURL(filename string, image []byte) string {
	mimeType := mime.TypeByExtension(filepath.Ext(filename))
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
}

// classifyError maps provider failures to the retryable/fatal taxonomy.
// Rate limits, server errors, and network timeouts are worth retrying;
// everything else (bad credentials, malformed input) is not.
func classifyError(message string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return domain.NewProviderTransientError(message, err)
		}
		return domain.NewProviderFatalError(message, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewProviderTransientError(message, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewProviderTransientError(message, err)
	}

	return domain.NewProviderFatalError(message, err)
}
