package store

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create local store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAtomDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	atom := Atom{
		Category: CategoryFormGuides,
		Concept:  "squat depth",
		Content:  "Break parallel with an upright torso.",
	}
	if err := s.StoreAtom(ctx, atom); err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}
	// Identical content is ignored, not duplicated
	if err := s.StoreAtom(ctx, atom); err != nil {
		t.Fatalf("StoreAtom failed on duplicate: %v", err)
	}

	count, err := s.CountAtoms(CategoryFormGuides)
	if err != nil {
		t.Fatalf("CountAtoms failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 atom after duplicate insert, got %d", count)
	}

	atom.Concept = "squat stance"
	if err := s.StoreAtom(ctx, atom); err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}
	count, _ = s.CountAtoms(CategoryFormGuides)
	if count != 2 {
		t.Errorf("Expected 2 atoms after distinct insert, got %d", count)
	}
}

func TestCountAtomsByCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.StoreAtom(ctx, Atom{Category: CategoryFormGuides, Concept: "a", Content: "x"})
	s.StoreAtom(ctx, Atom{Category: CategoryInjuryPatterns, Concept: "b", Content: "y"})
	s.StoreAtom(ctx, Atom{Category: CategoryInjuryPatterns, Concept: "c", Content: "z"})

	if n, _ := s.CountAtoms(CategoryInjuryPatterns); n != 2 {
		t.Errorf("Expected 2 injury patterns, got %d", n)
	}
	if n, _ := s.CountAtoms(""); n != 3 {
		t.Errorf("Expected 3 atoms total, got %d", n)
	}
}

func TestSearchAtomsKeywordRanking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.StoreAtom(ctx, Atom{Category: CategoryFormGuides, Concept: "squat depth",
		Content: "Break parallel with an upright torso."})
	s.StoreAtom(ctx, Atom{Category: CategoryFormGuides, Concept: "deadlift setup",
		Content: "Hinge at the hips, bar over midfoot."})
	s.StoreAtom(ctx, Atom{Category: CategoryFormGuides, Concept: "general warmup",
		Content: "A light warmup primes the joints.", Tags: []string{"squat"}})

	got, err := s.SearchAtoms(ctx, CategoryFormGuides, "squat depth", 3)
	if err != nil {
		t.Fatalf("SearchAtoms failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(got))
	}
	// Concept hits outweigh tag hits
	if got[0].Concept != "squat depth" {
		t.Errorf("Expected 'squat depth' first, got %q", got[0].Concept)
	}
	if got[1].Concept != "general warmup" {
		t.Errorf("Expected 'general warmup' second, got %q", got[1].Concept)
	}
	for _, atom := range got {
		if atom.Concept == "deadlift setup" {
			t.Error("Unrelated atom should not match")
		}
	}
}

func TestSearchAtomsLimitAndMisses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, concept := range []string{"squat depth", "squat stance", "squat bar path"} {
		s.StoreAtom(ctx, Atom{Category: CategoryFormGuides, Concept: concept, Content: "cue"})
	}

	got, err := s.SearchAtoms(ctx, CategoryFormGuides, "squat", 2)
	if err != nil {
		t.Fatalf("SearchAtoms failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected limit to cap results at 2, got %d", len(got))
	}

	if got, _ := s.SearchAtoms(ctx, CategoryFormGuides, "swimming", 3); got != nil {
		t.Errorf("Expected no results for unrelated query, got %d", len(got))
	}
	if got, _ := s.SearchAtoms(ctx, CategoryFormGuides, "   ", 3); got != nil {
		t.Errorf("Expected no results for blank query, got %d", len(got))
	}
}

// stubEngine maps any text mentioning "arch" to one axis and everything else
// to the other, which lets a test steer the semantic ordering.
type stubEngine struct{}

func (stubEngine) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(strings.ToLower(text), "arch") {
		return []float32{0, 1}, nil
	}
	return []float32{1, 0}, nil
}

func (e stubEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, _ := e.Embed(ctx, text)
		out[i] = vec
	}
	return out, nil
}

func (stubEngine) Dimensions() int { return 2 }
func (stubEngine) Name() string    { return "stub" }

func TestSearchAtomsSemanticRerank(t *testing.T) {
	s := newTestStore(t)
	s.SetEmbeddingEngine(stubEngine{})
	ctx := context.Background()

	// Keyword scores tie at 4; keyword order alone would put the higher
	// confidence atom first. The query embeds away from "arch", so the
	// rerank flips the order.
	s.StoreAtom(ctx, Atom{Category: CategoryFormGuides, Concept: "bench press arch",
		Content: "Set your arch and plant the feet.", Confidence: 1.0})
	s.StoreAtom(ctx, Atom{Category: CategoryFormGuides, Concept: "bench press grip",
		Content: "Grip width sets the wrist line.", Confidence: 0.5})

	got, err := s.SearchAtoms(ctx, CategoryFormGuides, "bench press", 2)
	if err != nil {
		t.Fatalf("SearchAtoms failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(got))
	}
	if got[0].Concept != "bench press grip" {
		t.Errorf("Expected semantic rerank to put 'bench press grip' first, got %q", got[0].Concept)
	}
}

func TestSearchAtomsKeywordOrderWithoutStoredVectors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Stored before any engine is attached, so no embeddings exist
	s.StoreAtom(ctx, Atom{Category: CategoryFormGuides, Concept: "bench press arch",
		Content: "Set your arch and plant the feet.", Confidence: 1.0})
	s.StoreAtom(ctx, Atom{Category: CategoryFormGuides, Concept: "bench press grip",
		Content: "Grip width sets the wrist line.", Confidence: 0.5})
	s.SetEmbeddingEngine(stubEngine{})

	got, err := s.SearchAtoms(ctx, CategoryFormGuides, "bench press", 2)
	if err != nil {
		t.Fatalf("SearchAtoms failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(got))
	}
	// Confidence breaks the keyword tie
	if got[0].Concept != "bench press arch" {
		t.Errorf("Expected keyword fallback order, got %q first", got[0].Concept)
	}
}

func TestReplaceCategoryLeavesOthers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.StoreAtom(ctx, Atom{Category: CategoryFormGuides, Concept: "old guide", Content: "x"})
	s.StoreAtom(ctx, Atom{Category: CategoryCorrectives, Concept: "hip stretch", Content: "y"})

	err := s.ReplaceCategory(ctx, CategoryFormGuides, []Atom{
		{Concept: "new guide one", Content: "a"},
		{Concept: "new guide two", Content: "b"},
	})
	if err != nil {
		t.Fatalf("ReplaceCategory failed: %v", err)
	}

	if n, _ := s.CountAtoms(CategoryFormGuides); n != 2 {
		t.Errorf("Expected 2 form guides after replace, got %d", n)
	}
	if n, _ := s.CountAtoms(CategoryCorrectives); n != 1 {
		t.Errorf("Expected correctives untouched, got %d", n)
	}

	got, _ := s.SearchAtoms(ctx, CategoryFormGuides, "old guide", 3)
	for _, atom := range got {
		if atom.Concept == "old guide" {
			t.Error("Replaced atom still present")
		}
	}
}

func TestAppendTurnIdempotent(t *testing.T) {
	s := newTestStore(t)

	conv := "conv-1"
	err := s.AppendTurn(HistoryEntry{ConversationID: conv, TurnNumber: 1, Speaker: "user", Content: "my knee hurts"})
	if err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}
	// Duplicate turn number is ignored
	err = s.AppendTurn(HistoryEntry{ConversationID: conv, TurnNumber: 1, Speaker: "user", Content: "overwritten?"})
	if err != nil {
		t.Fatalf("AppendTurn failed on duplicate: %v", err)
	}
	s.AppendTurn(HistoryEntry{ConversationID: conv, TurnNumber: 2, Speaker: "system", Content: "Which exercise?", FieldTag: "exercise"})

	history, err := s.History(conv)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(history))
	}
	if history[0].Content != "my knee hurts" {
		t.Errorf("Expected original turn 1 content, got %q", history[0].Content)
	}
	if history[1].FieldTag != "exercise" {
		t.Errorf("Expected field tag on turn 2, got %q", history[1].FieldTag)
	}
}

func TestDeleteConversation(t *testing.T) {
	s := newTestStore(t)

	s.AppendTurn(HistoryEntry{ConversationID: "keep", TurnNumber: 1, Speaker: "user", Content: "a"})
	s.AppendTurn(HistoryEntry{ConversationID: "drop", TurnNumber: 1, Speaker: "user", Content: "b"})

	if err := s.DeleteConversation("drop"); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}

	if history, _ := s.History("drop"); len(history) != 0 {
		t.Errorf("Expected dropped conversation to be empty, got %d turns", len(history))
	}
	if history, _ := s.History("keep"); len(history) != 1 {
		t.Errorf("Expected kept conversation intact, got %d turns", len(history))
	}
}

func TestSaveAndLatestReport(t *testing.T) {
	s := newTestStore(t)

	conv := "conv-report"
	if err := s.SaveReport(conv, "# First", 5, false); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	if err := s.SaveReport(conv, "# Second", 3, true); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	report, err := s.LatestReport(conv)
	if err != nil {
		t.Fatalf("LatestReport failed: %v", err)
	}
	if report != "# Second" {
		t.Errorf("Expected most recent report, got %q", report)
	}

	report, err = s.LatestReport("no-such-conversation")
	if err != nil {
		t.Fatalf("LatestReport on unknown conversation failed: %v", err)
	}
	if report != "" {
		t.Errorf("Expected empty report for unknown conversation, got %q", report)
	}
}

func TestPurgeHistoryBefore(t *testing.T) {
	s := newTestStore(t)

	s.AppendTurn(HistoryEntry{ConversationID: "c1", TurnNumber: 1, Speaker: "user", Content: "a"})
	s.AppendTurn(HistoryEntry{ConversationID: "c2", TurnNumber: 1, Speaker: "user", Content: "b"})

	// Cutoff in the past removes nothing
	n, err := s.PurgeHistoryBefore(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PurgeHistoryBefore failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected no rows purged with past cutoff, got %d", n)
	}

	// Cutoff in the future removes everything
	n, err = s.PurgeHistoryBefore(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeHistoryBefore failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 rows purged with future cutoff, got %d", n)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.StoreAtom(ctx, Atom{Category: CategoryFormGuides, Concept: "a", Content: "x"})
	s.AppendTurn(HistoryEntry{ConversationID: "c", TurnNumber: 1, Speaker: "user", Content: "m"})
	s.SaveReport("c", "# R", 5, false)

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats["knowledge_atoms"] != 1 {
		t.Errorf("Expected 1 knowledge atom, got %d", stats["knowledge_atoms"])
	}
	if stats["session_history"] != 1 {
		t.Errorf("Expected 1 history row, got %d", stats["session_history"])
	}
	if stats["reports"] != 1 {
		t.Errorf("Expected 1 report, got %d", stats["reports"])
	}
}
