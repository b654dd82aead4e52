package research

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"formcoach/internal/logging"
)

// SearchResult represents a single search result.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher finds web sources for a query.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// BraveConfig holds Brave Search API settings.
type BraveConfig struct {
	APIKey     string
	Endpoint   string
	Timeout    time.Duration
	MaxResults int
}

// DefaultBraveConfig returns the standard Brave Search configuration.
func DefaultBraveConfig() BraveConfig {
	return BraveConfig{
		Endpoint:   "https://api.search.brave.com/res/v1/web/search",
		Timeout:    10 * time.Second,
		MaxResults: 5,
	}
}

// BraveClient queries the Brave Search API. Brave's free tier allows one
// request per second, so requests through one client are spaced accordingly.
type BraveClient struct {
	apiKey     string
	endpoint   string
	maxResults int
	client     *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// NewBraveClient creates a Brave Search client with default settings.
func NewBraveClient(apiKey string) *BraveClient {
	return NewBraveClientWithConfig(BraveConfig{APIKey: apiKey})
}

// NewBraveClientWithConfig creates a Brave Search client with custom settings.
func NewBraveClientWithConfig(config BraveConfig) *BraveClient {
	defaults := DefaultBraveConfig()
	if config.Endpoint == "" {
		config.Endpoint = defaults.Endpoint
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxResults <= 0 {
		config.MaxResults = defaults.MaxResults
	}
	return &BraveClient{
		apiKey:     config.APIKey,
		endpoint:   strings.TrimRight(config.Endpoint, "/"),
		maxResults: config.MaxResults,
		client:     &http.Client{Timeout: config.Timeout},
	}
}

// braveResponse mirrors the web.results section of the Brave payload.
type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search executes a Brave query. Retries once on 429, honoring the
// X-RateLimit-Reset header.
func (b *BraveClient) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if strings.TrimSpace(b.apiKey) == "" {
		return nil, fmt.Errorf("brave API key is missing")
	}
	if maxResults <= 0 || maxResults > b.maxResults {
		maxResults = b.maxResults
	}

	logging.ResearchDebug("Brave search: query=%q max_results=%d", query, maxResults)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		b.waitForRateLimit()

		results, retryAfter, err := b.doSearch(ctx, query, maxResults)
		if err == nil {
			logging.Research("Brave search returned %d results for %q", len(results), query)
			return results, nil
		}
		lastErr = err
		if retryAfter <= 0 {
			break
		}
		logging.ResearchDebug("Brave rate limited, retrying in %s", retryAfter)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryAfter):
		}
	}
	return nil, lastErr
}

// waitForRateLimit spaces requests at least one second apart. Concurrent
// callers serialize on the mutex, so each waiter inherits the previous
// caller's send time.
func (b *BraveClient) waitForRateLimit() {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := time.Since(b.lastRequest)
	if elapsed < time.Second {
		time.Sleep(time.Second - elapsed)
	}
	b.lastRequest = time.Now()
}

// doSearch performs one request. A positive retryAfter alongside the error
// signals a rate-limit response worth retrying.
func (b *BraveClient) doSearch(ctx context.Context, query string, maxResults int) ([]SearchResult, time.Duration, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, braveRetryDelay(resp.Header), fmt.Errorf("brave rate limited (429)")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, 0, fmt.Errorf("brave HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, 0, fmt.Errorf("failed to decode response: %w", err)
	}

	results := make([]SearchResult, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
		if len(results) >= maxResults {
			break
		}
	}
	return results, 0, nil
}

// braveRetryDelay reads the X-RateLimit-Reset header, a comma-separated list
// of reset times in seconds; the smallest value wins. Falls back to 1 second.
func braveRetryDelay(h http.Header) time.Duration {
	raw := h.Get("X-RateLimit-Reset")
	if raw == "" {
		return time.Second
	}
	minReset := -1
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			continue
		}
		if minReset < 0 || n < minReset {
			minReset = n
		}
	}
	if minReset <= 0 {
		return time.Second
	}
	return time.Duration(minReset) * time.Second
}
