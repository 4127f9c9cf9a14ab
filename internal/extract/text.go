package extract

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/engramhq/engram/internal/domain"
)

// TextExtractor handles plain-text and markdown documents. The bytes are the
// document itself; no external capability is needed.
type TextExtractor struct{}

func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

func (e *TextExtractor) Extract(ctx context.Context, in Input) (*Result, error) {
	if len(in.Data) == 0 {
		return nil, domain.NewExtractionError("document payload is empty", nil)
	}
	if !utf8.Valid(in.Data) {
		return nil, domain.NewExtractionError("document payload is not valid UTF-8 text", nil)
	}

	text := normalizeText(string(in.Data))

	return &Result{
		Text: text,
		Metadata: domain.SourceMetadata{
			ByteSize:  int64(len(in.Data)),
			PageCount: countPages(text),
		},
	}, nil
}

// countPages approximates a page count from form feeds, falling back to one
// page per ~3000 characters.
func countPages(text string) int {
	if text == "" {
		return 0
	}
	if pages := strings.Count(text, "\f") + 1; pages > 1 {
		return pages
	}
	const charsPerPage = 3000
	return (len(text) + charsPerPage - 1) / charsPerPage
}

// normalizeText collapses blank-line runs and trims trailing whitespace per
// line while preserving paragraph structure.
func normalizeText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
