package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/engramhq/engram/internal/domain"
)

const (
	defaultFetchTimeout = 30 * time.Second
	maxWebBodyBytes     = 10 * 1024 * 1024

	webUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// WebExtractor fetches a URL and strips it down to readable text.
type WebExtractor struct {
	client *http.Client
}

func NewWebExtractor() *WebExtractor {
	return &WebExtractor{
		client: &http.Client{Timeout: defaultFetchTimeout},
	}
}

// NewWebExtractorWithClient lets tests inject an HTTP client.
func NewWebExtractorWithClient(client *http.Client) *WebExtractor {
	return &WebExtractor{client: client}
}

func (e *WebExtractor) Extract(ctx context.Context, in Input) (*Result, error) {
	if strings.TrimSpace(in.URL) == "" {
		return nil, domain.NewExtractionError("web source requires a URL", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return nil, domain.NewExtractionError(fmt.Sprintf("invalid URL %q", in.URL), err)
	}
	req.Header.Set("User-Agent", webUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, domain.NewExtractionError(fmt.Sprintf("failed to fetch %s", in.URL), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, domain.NewExtractionError(
			fmt.Sprintf("access forbidden (403): %s blocks automated access", in.URL), nil)
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.NewExtractionError(
			fmt.Sprintf("page not found (404): %s does not exist", in.URL), nil)
	case resp.StatusCode >= 400:
		return nil, domain.NewExtractionError(
			fmt.Sprintf("HTTP error %d fetching %s", resp.StatusCode, in.URL), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebBodyBytes))
	if err != nil {
		return nil, domain.NewExtractionError(fmt.Sprintf("failed to read response from %s", in.URL), err)
	}

	text := normalizeText(StripHTML(string(body)))
	if text == "" {
		return nil, domain.NewExtractionError(fmt.Sprintf("no readable content at %s", in.URL), nil)
	}

	return &Result{
		Text: text,
		Metadata: domain.SourceMetadata{
			SourceURL: in.URL,
			ByteSize:  int64(len(body)),
		},
	}, nil
}

// skipElements are containers whose content never contributes readable text.
var skipElements = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {}, "nav": {}, "footer": {}, "header": {},
}

// StripHTML removes markup from an HTML document, dropping the contents of
// script/style/nav chrome elements and inserting line breaks at block tags.
func StripHTML(html string) string {
	var out strings.Builder
	var tag strings.Builder
	skipUntil := ""
	inTag := false

	flushTag := func() {
		name := tagName(tag.String())
		tag.Reset()
		if skipUntil != "" {
			if name == "/"+skipUntil {
				skipUntil = ""
			}
			return
		}
		if _, skip := skipElements[name]; skip {
			skipUntil = name
			return
		}
		if isBlockTag(name) {
			out.WriteByte('\n')
		}
	}

	for _, r := range html {
		switch {
		case inTag:
			if r == '>' {
				inTag = false
				flushTag()
			} else {
				tag.WriteRune(r)
			}
		case r == '<':
			inTag = true
		case skipUntil == "":
			out.WriteRune(r)
		}
	}

	return decodeEntities(out.String())
}

func tagName(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	end := strings.IndexAny(raw, " \t\n/")
	if strings.HasPrefix(raw, "/") {
		rest := raw[1:]
		if i := strings.IndexAny(rest, " \t\n"); i >= 0 {
			rest = rest[:i]
		}
		return "/" + rest
	}
	if end >= 0 {
		raw = raw[:end]
	}
	return raw
}

func isBlockTag(name string) bool {
	switch strings.TrimPrefix(name, "/") {
	case "p", "div", "br", "li", "ul", "ol", "h1", "h2", "h3", "h4", "h5", "h6",
		"tr", "td", "th", "table", "section", "article", "blockquote", "pre":
		return true
	}
	return false
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
	"&nbsp;", " ",
)

func decodeEntities(s string) string {
	return entityReplacer.Replace(s)
}
