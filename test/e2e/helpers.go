//go:build e2e

package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/engramhq/engram/internal/api/handlers"
	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/extract"
	"github.com/engramhq/engram/internal/jobs"
	"github.com/engramhq/engram/internal/repository"
	"github.com/engramhq/engram/internal/server"
	"github.com/engramhq/engram/internal/service"
	"github.com/engramhq/engram/internal/storage"
	"github.com/engramhq/engram/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	S3Client     *storage.S3Client
	Worker       *jobs.Worker
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment with containers, an
// in-process server, and the background ingestion worker. Provider calls are
// served by a deterministic fake so runs are hermetic.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)

	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "test-raw",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	docRepo := repository.NewDocumentRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	ai := &fakeAI{}

	registry := extract.NewRegistry()
	registry.Register(domain.SourceTypeDocument, extract.NewTextExtractor())
	registry.Register(domain.SourceTypeWeb, extract.NewWebExtractor())

	chunker := service.NewChunker(service.DefaultChunkConfig())
	coordinator := service.NewIngestionCoordinator(
		docRepo, txRunner, registry, chunker, ai,
		service.WithPayloadArchive(s3Client),
	)

	retriever := service.NewHybridRetriever(chunkRepo, ai, service.RetrieverConfig{})
	streamer := service.NewSynthesisStreamer(ai)
	querySvc := service.NewQueryService(retriever, streamer)

	ingestWorker, err := jobs.NewIngestWorker(docRepo, coordinator, 2)
	if err != nil {
		t.Fatalf("failed to create ingestion worker: %v", err)
	}
	worker := jobs.NewWorker(ingestWorker, 100*time.Millisecond)
	workerCtx, cancelWorker := context.WithCancel(ctx)
	go worker.Start(workerCtx)

	router := server.NewRouter(server.RouterConfig{
		DocumentHandler: handlers.NewDocumentHandler(coordinator),
		QueryHandler:    handlers.NewQueryHandler(querySvc),
		ChunksHandler:   handlers.NewChunksHandler(chunkRepo),
	})

	srv := httptest.NewServer(router)

	env := &E2ETestEnv{
		T:         t,
		Ctx:       ctx,
		PostgresC: pgC,
		RustFSC:   s3C,
		Pool:      pool,
		ServerURL: srv.URL,
		ServerCloser: func() {
			cancelWorker()
			worker.Stop()
			ingestWorker.Release()
			srv.Close()
		},
		S3Client:   s3Client,
		Worker:     worker,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	return env
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// PostJSON sends a JSON POST and decodes the response body into out (unless
// out is nil). Returns the status code.
func (e *E2ETestEnv) PostJSON(path string, body interface{}, out interface{}) int {
	payload, err := json.Marshal(body)
	if err != nil {
		e.T.Fatalf("failed to marshal request: %v", err)
	}

	resp, err := e.HTTPClient.Post(e.ServerURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		e.T.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			e.T.Fatalf("failed to decode response from %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

// GetJSON sends a GET and decodes the response body into out.
func (e *E2ETestEnv) GetJSON(path string, out interface{}) int {
	resp, err := e.HTTPClient.Get(e.ServerURL + path)
	if err != nil {
		e.T.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			e.T.Fatalf("failed to decode response from %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

// Delete sends a DELETE and returns the status code.
func (e *E2ETestEnv) Delete(path string) int {
	req, err := http.NewRequest(http.MethodDelete, e.ServerURL+path, nil)
	if err != nil {
		e.T.Fatalf("failed to build DELETE %s: %v", path, err)
	}
	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		e.T.Fatalf("DELETE %s failed: %v", path, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

// WaitForStatus polls a document until it reaches the wanted status or the
// timeout elapses.
func (e *E2ETestEnv) WaitForStatus(documentID, want string, timeout time.Duration) map[string]interface{} {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var resp struct {
			Data map[string]interface{} `json:"data"`
		}
		status := e.GetJSON("/documents/"+documentID, &resp)
		if status == http.StatusOK {
			if got, _ := resp.Data["status"].(string); got == want {
				return resp.Data
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	e.T.Fatalf("document %s never reached status %q", documentID, want)
	return nil
}

// StreamQuery posts a query and collects the SSE events until the stream
// ends.
func (e *E2ETestEnv) StreamQuery(query string) []map[string]interface{} {
	payload, _ := json.Marshal(map[string]string{"query": query})
	resp, err := e.HTTPClient.Post(e.ServerURL+"/query", "application/json", bytes.NewReader(payload))
	if err != nil {
		e.T.Fatalf("POST /query failed: %v", err)
	}
	defer resp.Body.Close()

	var events []map[string]interface{}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]interface{}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			e.T.Fatalf("bad SSE payload %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

// fakeAI is a deterministic provider stand-in. Embeddings hash the input's
// words into a fixed-dimension vector, so texts sharing vocabulary land close
// in cosine space; generation streams a canned answer token by token.
type fakeAI struct{}

const fakeAnswer = "Based on the provided sources, the notes cover the project launch."

func (f *fakeAI) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = hashEmbedding(text)
	}
	return vectors, nil
}

func (f *fakeAI) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return hashEmbedding(text), nil
}

func (f *fakeAI) GenerateAnswerStream(ctx context.Context, systemPrompt, userMessage string) (service.TokenStream, error) {
	return &fakeStream{tokens: strings.SplitAfter(fakeAnswer, " ")}, nil
}

type fakeStream struct {
	tokens []string
	pos    int
}

func (s *fakeStream) Recv() (string, error) {
	if s.pos >= len(s.tokens) {
		return "", io.EOF
	}
	token := s.tokens[s.pos]
	s.pos++
	return token, nil
}

func (s *fakeStream) Close() error { return nil }

func hashEmbedding(text string) []float32 {
	vec := make([]float32, domain.EmbeddingDimensions)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%domain.EmbeddingDimensions]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// RepeatWords builds a text of n whitespace-separated tokens for chunking
// scenarios.
func RepeatWords(word string, n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%s%d", word, i)
	}
	return sb.String()
}
