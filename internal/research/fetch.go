package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"formcoach/internal/logging"

	"golang.org/x/net/html"
)

// Pre-compile regex patterns to avoid recompilation overhead
var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// Fetcher retrieves web pages and condenses them to plain text.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	maxChars int
}

// NewFetcher creates a page fetcher. maxChars bounds the condensed text per
// page; zero means the default of 8000.
func NewFetcher(timeout time.Duration, maxChars int) *Fetcher {
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	if maxChars <= 0 {
		maxChars = 8000
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: 2 << 20, // 2MB limit
		maxChars: maxChars,
	}
}

// Fetch downloads one page and returns its readable text.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	logging.ResearchDebug("Fetching page: %s", pageURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; formcoach/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	var text string
	if strings.Contains(contentType, "text/plain") || strings.Contains(contentType, "text/markdown") {
		text = cleanText(string(body))
	} else {
		text, err = htmlToText(string(body))
		if err != nil {
			return "", fmt.Errorf("failed to extract text: %w", err)
		}
	}

	if len(text) > f.maxChars {
		text = text[:f.maxChars] + "\n\n[...truncated...]"
	}

	logging.Research("Fetched %s (%d chars)", pageURL, len(text))
	return text, nil
}

// htmlToText flattens a page to readable text, keeping heading and list
// structure and dropping boilerplate elements.
func htmlToText(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	extractText(doc, &sb, 0)
	return cleanText(sb.String()), nil
}

func extractText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 50 {
		return // Prevent excessive recursion
	}

	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header", "form", "aside":
			return // Skip these elements
		case "title":
			sb.WriteString("# ")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				extractText(c, sb, depth+1)
			}
			sb.WriteString("\n\n")
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n\n" + strings.Repeat("#", int(n.Data[1]-'0')) + " ")
		case "p", "div", "section", "article":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6", "p":
			sb.WriteString("\n\n")
		}
	}
}

// cleanText removes excessive whitespace.
func cleanText(s string) string {
	s = multiSpacePattern.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")

	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
