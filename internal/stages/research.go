package stages

import (
	"context"
	"fmt"
	"strings"

	"formcoach/internal/logging"
	"formcoach/internal/research"
	"formcoach/internal/schema"
	"formcoach/internal/store"
)

const researchSystemPrompt = `You are a sports science research assistant who evaluates evidence for exercise injury and rehabilitation questions.`

const researchSynthesisTemplate = `DIAGNOSIS UNDER REVIEW:
%s

GATHERED SOURCES:
%s

### TASK
Synthesize what these sources say about the cause and correction of this problem.

1. **KEY EVIDENCE:** The 2-3 findings most relevant to fixing it.
2. **CREDIBILITY:** How trustworthy each source is (clinical literature, coaching resource, or anecdote).

Keep it under 150 words. Cite sources by their number.`

// promptExcerptChars caps how much of a fetched page goes into the
// synthesis prompt.
const promptExcerptChars = 1200

// RunResearch gathers corrective references from the knowledge base and the
// web, then condenses them into findings for the prescription stage.
func RunResearch(ctx context.Context, deps *Deps, in Input) Result {
	timer := logging.StartTimer(logging.CategoryResearch, "research")
	defer timer.Stop()

	exercise := in.Field(schema.FieldExercise)
	painLocation := in.Field(schema.FieldPainLocation)
	subject := strings.TrimSpace(exercise + " " + painLocation)
	if subject == "" {
		return Errorf("nothing to research without an exercise or pain location")
	}

	correctives := lookupAtoms(ctx, deps, store.CategoryCorrectives, subject+" form correction", 3)

	var (
		results []research.SearchResult
		pages   map[string]string
	)
	if deps.Searcher != nil {
		webResults, err := deps.Searcher.Search(ctx, subject+" injury causes treatment", 3)
		if err != nil {
			logging.Research("Web search failed, continuing with knowledge base: %v", err)
		} else {
			results = webResults
		}
		pages = pageContentByURL(research.FetchPages(ctx, deps.Fetcher, results, 3))
	}

	if len(correctives) == 0 && len(results) == 0 {
		return Errorf("no research sources available")
	}

	var (
		sources strings.Builder
		urls    []string
		titles  []string
		n       int
	)
	for _, atom := range correctives {
		n++
		fmt.Fprintf(&sources, "[%d] %s (knowledge base)\n%s\n\n", n, atom.Concept, atom.Content)
	}
	for _, r := range results {
		n++
		body := r.Snippet
		if content, ok := pages[r.URL]; ok {
			body = truncateForPrompt(content, promptExcerptChars)
		}
		fmt.Fprintf(&sources, "[%d] %s\n%s\n%s\n\n", n, r.Title, r.URL, body)
		urls = append(urls, r.URL)
		titles = append(titles, r.Title)
	}

	data := map[string]string{
		"sources":       strings.Join(urls, "\n"),
		"source_titles": strings.Join(titles, "\n"),
		"web_results":   fmt.Sprintf("%d", len(results)),
	}

	if deps.LLM == nil {
		data["findings"] = sources.String()
		logging.Research("Findings assembled without synthesis (%d sources)", n)
		return Success(ConfidenceLow, data)
	}

	diagnosis := in.PriorData(InjuryDiagnosis, "diagnosis")
	if diagnosis == "" {
		diagnosis = subject
	}

	prompt := fmt.Sprintf(researchSynthesisTemplate, diagnosis, sources.String())
	findings, err := deps.LLM.CompleteWithSystem(ctx, researchSystemPrompt, prompt)
	if err != nil {
		return Errorf("research synthesis failed: %v", err)
	}

	data["findings"] = findings
	logging.Research("Synthesized %d sources (%d from web)", n, len(results))
	if len(results) > 0 {
		return Success(ConfidenceHigh, data)
	}
	return Success(ConfidenceMedium, data)
}

func pageContentByURL(pages []research.Page) map[string]string {
	if len(pages) == 0 {
		return nil
	}
	m := make(map[string]string, len(pages))
	for _, p := range pages {
		m[p.URL] = p.Content
	}
	return m
}

func truncateForPrompt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + " [...]"
}
