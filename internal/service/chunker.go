package service

import "strings"

// ChunkConfig controls the token sliding window for chunking.
type ChunkConfig struct {
	// WindowSize is the maximum chunk length in tokens.
	WindowSize int
	// Overlap is how many trailing tokens each chunk shares with the next.
	Overlap int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		WindowSize: 512,
		Overlap:    50,
	}
}

// TextChunk is one window of extracted text. TokenStart and TokenEnd are
// half-open indexes into the tokenized input.
type TextChunk struct {
	Index      int
	TokenStart int
	TokenEnd   int
	Content    string
}

// Chunker splits plain text into overlapping, bounded fragments. Identical
// input always yields an identical chunk sequence.
type Chunker struct {
	cfg ChunkConfig
}

// NewChunker creates a Chunker, falling back to defaults for non-positive
// or inconsistent settings.
func NewChunker(cfg ChunkConfig) *Chunker {
	if cfg.WindowSize <= 0 {
		cfg = DefaultChunkConfig()
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.WindowSize {
		cfg.Overlap = DefaultChunkConfig().Overlap
		if cfg.Overlap >= cfg.WindowSize {
			cfg.Overlap = cfg.WindowSize / 4
		}
	}
	return &Chunker{cfg: cfg}
}

// Split tokenizes text on whitespace and walks a sliding window over the
// tokens. Each window prefers to end on a sentence boundary in its second
// half; if none exists the full window is taken as a hard cut. The next
// window starts Overlap tokens before the previous cut, so joining chunks
// with overlaps removed reconstructs the token sequence exactly. Empty input
// yields no chunks; input shorter than the window yields exactly one.
func (c *Chunker) Split(text string) []TextChunk {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	size := c.cfg.WindowSize
	overlap := c.cfg.Overlap

	if len(tokens) <= size {
		return []TextChunk{{
			Index:      0,
			TokenStart: 0,
			TokenEnd:   len(tokens),
			Content:    strings.Join(tokens, " "),
		}}
	}

	chunks := make([]TextChunk, 0, (len(tokens)-overlap)/(size-overlap)+1)
	start := 0
	for start < len(tokens) {
		end := start + size
		if end >= len(tokens) {
			end = len(tokens)
		} else {
			end = sentenceCut(tokens, start, overlap, end)
		}

		chunks = append(chunks, TextChunk{
			Index:      len(chunks),
			TokenStart: start,
			TokenEnd:   end,
			Content:    strings.Join(tokens[start:end], " "),
		})

		if end >= len(tokens) {
			break
		}
		start = end - overlap
	}

	return chunks
}

// Tokenize splits text into whitespace-delimited tokens. This is the token
// unit the window size and overlap are measured in.
func Tokenize(text string) []string {
	return strings.Fields(text)
}

// sentenceCut looks backward from the window limit for a token that ends a
// sentence, searching no further than the window midpoint so chunks stay
// reasonably full. The cut never lands at or before start+overlap, so the
// next window always starts past the current one. Returns the hard limit
// when no boundary is found.
func sentenceCut(tokens []string, start, overlap, limit int) int {
	min := start + (limit-start)/2
	if floor := start + overlap; floor > min {
		min = floor
	}
	for i := limit; i > min; i-- {
		if endsSentence(tokens[i-1]) {
			return i
		}
	}
	return limit
}

func endsSentence(token string) bool {
	trimmed := strings.TrimRight(token, `"')]`)
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
