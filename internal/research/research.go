// Package research finds and condenses web sources: Brave Search for
// discovery, a bounded parallel fetcher for page content.
package research

import (
	"context"
	"sync"

	"formcoach/internal/logging"

	"golang.org/x/sync/errgroup"
)

// Page is one fetched web source.
type Page struct {
	URL     string
	Title   string
	Content string
}

// maxConcurrentFetches bounds parallel page downloads.
const maxConcurrentFetches = 3

// FetchPages downloads the given search results in parallel and returns the
// pages that yielded content. Individual fetch failures are logged and
// skipped; only context cancellation aborts the batch.
func FetchPages(ctx context.Context, fetcher *Fetcher, results []SearchResult, maxPages int) []Page {
	if fetcher == nil || len(results) == 0 {
		return nil
	}
	if maxPages > 0 && len(results) > maxPages {
		results = results[:maxPages]
	}

	pages := make([]Page, len(results))
	var mu sync.Mutex
	fetched := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, result := range results {
		i, result := i, result
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			content, err := fetcher.Fetch(gctx, result.URL)
			if err != nil {
				logging.ResearchDebug("Skipping %s: %v", result.URL, err)
				return nil
			}
			pages[i] = Page{URL: result.URL, Title: result.Title, Content: content}
			mu.Lock()
			fetched++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logging.Research("Page fetching aborted: %v", err)
	}

	out := make([]Page, 0, fetched)
	for _, page := range pages {
		if page.Content != "" {
			out = append(out, page)
		}
	}
	logging.Research("Fetched %d/%d pages", len(out), len(results))
	return out
}
