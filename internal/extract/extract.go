// Package extract resolves a submitted URL into the article text that will be
// summarized. Extraction happens synchronously at submission time: a failure
// here rejects the submission, so a queued job always carries content.
package extract

import (
	"fmt"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// Extractor turns a URL into plain article text.
type Extractor interface {
	Extract(url string) (string, error)
}

// ReadabilityExtractor fetches the page and strips it down to readable text.
type ReadabilityExtractor struct {
	Timeout time.Duration
}

func (e *ReadabilityExtractor) Extract(pageURL string) (string, error) {
	article, err := readability.FromURL(pageURL, e.Timeout)
	if err != nil {
		return "", fmt.Errorf("invalid URL or failed to fetch content: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("failed to extract content from URL")
	}
	return text, nil
}
