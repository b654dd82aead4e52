package dialogue

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"formcoach/internal/schema"
)

// defaultView builds the production schema view with shuffling disabled so
// field order and budgets are deterministic.
func defaultView() schema.View {
	return schema.Default().SessionView(schema.ShufflePolicy{Enabled: false})
}

// twoTierView is a small synthetic schema for budget scenarios.
func twoTierView(maxAsksFirst, maxAsksSecond, budget int) schema.View {
	return schema.View{
		Required: []schema.FieldName{"exercise", "location", "timing"},
		Tiers: []schema.Tier{
			{Name: "first", Fields: []schema.FieldName{"a", "b"}, MaxAsks: maxAsksFirst},
			{Name: "second", Fields: []schema.FieldName{"c", "d"}, MaxAsks: maxAsksSecond},
		},
		OptionalBudget: budget,
	}
}

func TestRecordAnswerRoundTrip(t *testing.T) {
	s := NewState(defaultView(), 2)

	// 1. Recorded value leaves missingRequired
	s.RecordAnswer(map[schema.FieldName]string{schema.FieldExercise: "squat"})
	for _, f := range s.MissingRequired() {
		if f == schema.FieldExercise {
			t.Error("exercise should no longer be missing after RecordAnswer")
		}
	}

	// 2. Values are trimmed
	s.RecordAnswer(map[schema.FieldName]string{schema.FieldPainLocation: "  left knee  "})
	if got := s.Collected()[schema.FieldPainLocation]; got != "left knee" {
		t.Errorf("expected trimmed value, got %q", got)
	}

	// 3. Placeholders are dropped silently
	s.RecordAnswer(map[schema.FieldName]string{schema.FieldPainTiming: "unknown"})
	if s.Has(schema.FieldPainTiming) {
		t.Error("placeholder value must not be stored")
	}

	// 4. A placeholder never overwrites a good value
	s.RecordAnswer(map[schema.FieldName]string{schema.FieldExercise: "Unspecified"})
	if got := s.Collected()[schema.FieldExercise]; got != "squat" {
		t.Errorf("placeholder overwrote good value: %q", got)
	}

	// 5. A good value may overwrite an earlier good value
	s.RecordAnswer(map[schema.FieldName]string{schema.FieldExercise: "front squat"})
	if got := s.Collected()[schema.FieldExercise]; got != "front squat" {
		t.Errorf("expected overwrite with new good value, got %q", got)
	}

	// 6. Unknown field names are ignored
	s.RecordAnswer(map[schema.FieldName]string{"favorite_color": "blue"})
	if _, ok := s.Collected()["favorite_color"]; ok {
		t.Error("unknown field must not be stored")
	}
}

func TestMissingRequiredOrder(t *testing.T) {
	s := NewState(defaultView(), 2)

	want := []schema.FieldName{schema.FieldExercise, schema.FieldPainLocation, schema.FieldPainTiming}
	if diff := cmp.Diff(want, s.MissingRequired()); diff != "" {
		t.Errorf("missing required order (-want +got):\n%s", diff)
	}

	s.RecordAnswer(map[schema.FieldName]string{schema.FieldPainLocation: "shoulder"})
	want = []schema.FieldName{schema.FieldExercise, schema.FieldPainTiming}
	if diff := cmp.Diff(want, s.MissingRequired()); diff != "" {
		t.Errorf("after one answer (-want +got):\n%s", diff)
	}
}

func TestAskedFieldNeverReappearsInMissingOptional(t *testing.T) {
	s := NewState(twoTierView(2, 1, 3), 0)
	fillRequired(s)

	f, ok := s.NextQuestionField()
	if !ok {
		t.Fatal("expected an askable optional field")
	}
	if f != "a" {
		t.Fatalf("expected field a first, got %s", f)
	}

	// Field a stays unanswered, yet must never be offered again
	for _, m := range s.MissingOptional() {
		if m == "a" {
			t.Error("asked field reappeared in MissingOptional")
		}
	}

	next, ok := s.NextQuestionField()
	if !ok {
		t.Fatal("expected a second askable field")
	}
	if next == "a" {
		t.Error("asked field selected again as question target")
	}
}

func TestTierGatingStrict(t *testing.T) {
	s := NewState(twoTierView(2, 1, 3), 0)
	fillRequired(s)

	// Tier one has budget and missing fields: tier two must not be selected
	f1, _ := s.NextQuestionField()
	f2, _ := s.NextQuestionField()
	for _, f := range []schema.FieldName{f1, f2} {
		if f == "c" || f == "d" {
			t.Errorf("tier two field %s selected while tier one budget remained", f)
		}
	}

	// Tier one budget now exhausted (2 asks): tier two unlocks
	f3, ok := s.NextQuestionField()
	if !ok {
		t.Fatal("expected tier two to unlock after tier one budget exhausted")
	}
	if f3 != "c" {
		t.Errorf("expected first tier-two field c, got %s", f3)
	}
}

func TestTierNotSkippedWhileBudgetRemains(t *testing.T) {
	// Tier one fields all answered up front, but its cap is not exhausted.
	// Strict gating: tier two stays locked, optional questioning stops.
	s := NewState(twoTierView(2, 1, 3), 0)
	fillRequired(s)
	s.RecordAnswer(map[schema.FieldName]string{"a": "yes", "b": "no"})

	if s.ShouldAskOptional() {
		t.Error("ShouldAskOptional should be false: candidate tier has nothing to ask")
	}
	if _, ok := s.NextQuestionField(); ok {
		t.Error("no field should be askable while the candidate tier is satisfied")
	}
}

func TestForceProceed(t *testing.T) {
	s := NewState(defaultView(), 2)

	beforeRequired := s.MissingRequired()

	s.ForceProceed()

	// 1. Optional questioning suppressed immediately
	if s.ShouldAskOptional() {
		t.Error("ShouldAskOptional must be false after ForceProceed")
	}

	// 2. MissingRequired unchanged
	if diff := cmp.Diff(beforeRequired, s.MissingRequired()); diff != "" {
		t.Errorf("ForceProceed changed MissingRequired (-before +after):\n%s", diff)
	}

	// 3. Required fields remain askable
	f, ok := s.NextQuestionField()
	if !ok {
		t.Fatal("required field should remain askable after ForceProceed")
	}
	if f != schema.FieldExercise {
		t.Errorf("expected required field exercise, got %s", f)
	}
}

func TestRequiredAskedInSchemaOrder(t *testing.T) {
	s := NewState(defaultView(), 2)

	f, ok := s.NextQuestionField()
	if !ok || f != schema.FieldExercise {
		t.Fatalf("first question field = %s, want exercise", f)
	}

	s.RecordAnswer(map[schema.FieldName]string{schema.FieldExercise: "squat"})

	f, ok = s.NextQuestionField()
	if !ok || f != schema.FieldPainLocation {
		t.Fatalf("second question field = %s, want pain_location", f)
	}
}

func TestSessionOptionalBudgetSuppresses(t *testing.T) {
	// Session budget of 1 bites before the tier caps (2+1) do.
	s := NewState(twoTierView(2, 1, 1), 0)
	fillRequired(s)

	if _, ok := s.NextQuestionField(); !ok {
		t.Fatal("first optional ask should succeed")
	}
	if s.ShouldAskOptional() {
		t.Error("session optional budget exhausted, ShouldAskOptional must be false")
	}
	if _, ok := s.NextQuestionField(); ok {
		t.Error("no optional field should be askable past the session budget")
	}
}

func TestHasMinimumInfo(t *testing.T) {
	// 1. Missing required blocks regardless of optionals
	s := NewState(twoTierView(2, 1, 3), 2)
	s.RecordAnswer(map[schema.FieldName]string{"a": "x", "b": "y", "c": "z"})
	if s.HasMinimumInfo() {
		t.Error("HasMinimumInfo must be false while required fields are missing")
	}

	// 2. Required complete plus minimum optionals
	fillRequired(s)
	if !s.HasMinimumInfo() {
		t.Error("HasMinimumInfo should be true: required done, 3 optionals present")
	}

	// 3. Required complete, no optionals, budget not exhausted
	s2 := NewState(twoTierView(2, 1, 3), 2)
	fillRequired(s2)
	if s2.HasMinimumInfo() {
		t.Error("HasMinimumInfo should be false: no optionals and budget remains")
	}

	// 4. Forced proceed counts as exhausted budget
	s2.ForceProceed()
	if !s2.HasMinimumInfo() {
		t.Error("HasMinimumInfo should be true after ForceProceed")
	}

	// 5. Spending the ask budget also satisfies it
	s3 := NewState(twoTierView(1, 0, 1), 2)
	fillRequired(s3)
	s3.NextQuestionField()
	if !s3.HasMinimumInfo() {
		t.Error("HasMinimumInfo should be true once the ask budget is spent")
	}
}

func TestFollowUpMergesByFieldTag(t *testing.T) {
	s := NewState(defaultView(), 2)

	s.AddUserMessage("my knee hurts when I squat")

	ctx := context.Background()
	_, field, ok := s.SurfaceQuestion(ctx, nil)
	if !ok {
		t.Fatal("expected a question to surface")
	}
	if field != schema.FieldExercise {
		t.Fatalf("expected exercise asked first, got %s", field)
	}

	s.AddUserMessage("barbell back squat")
	s.MergeFollowUp("barbell back squat")

	if got := s.Collected()[schema.FieldExercise]; got != "barbell back squat" {
		t.Errorf("follow-up not merged into tagged field: %q", got)
	}
}

func TestFollowUpPlaceholderDropped(t *testing.T) {
	s := NewState(defaultView(), 2)

	s.SurfaceQuestion(context.Background(), nil)
	s.MergeFollowUp("unknown")

	if s.Has(schema.FieldExercise) {
		t.Error("placeholder follow-up must not be stored")
	}
}

func TestMergeFollowUpNoQuestionYet(t *testing.T) {
	s := NewState(defaultView(), 2)
	s.MergeFollowUp("something")
	if len(s.Collected()) != 0 {
		t.Error("MergeFollowUp before any question must be a no-op")
	}
}

func TestTurnsCountsUserMessages(t *testing.T) {
	s := NewState(defaultView(), 2)
	s.AddUserMessage("one")
	s.AddQuestion("q?", schema.FieldExercise, OriginFallbackQuestion)
	s.AddUserMessage("two")

	if got := s.Turns(); got != 2 {
		t.Errorf("Turns = %d, want 2", got)
	}
}

// stubGenerator is a controllable QuestionGenerator for tests.
type stubGenerator struct {
	question string
	err      error
	calls    int
}

func (g *stubGenerator) Generate(ctx context.Context, field schema.FieldName, collected map[schema.FieldName]string) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return g.question, nil
}

func TestSurfaceQuestionGeneratorSuccess(t *testing.T) {
	s := NewState(defaultView(), 2)
	gen := &stubGenerator{question: "Which movement were you doing?"}

	text, field, ok := s.SurfaceQuestion(context.Background(), gen)
	if !ok {
		t.Fatal("expected a question")
	}
	if text != "Which movement were you doing?" {
		t.Errorf("unexpected question text: %q", text)
	}
	if field != schema.FieldExercise {
		t.Errorf("unexpected field: %s", field)
	}

	tr := s.Transcript()
	last := tr[len(tr)-1]
	if last.Origin != OriginGeneratedQuestion {
		t.Errorf("expected llm_question origin, got %s", last.Origin)
	}
	if last.Field != schema.FieldExercise {
		t.Errorf("transcript entry missing field tag: %s", last.Field)
	}
}

func TestSurfaceQuestionGeneratorFailureFallsBack(t *testing.T) {
	s := NewState(defaultView(), 2)
	gen := &stubGenerator{err: fmt.Errorf("model unavailable")}

	text, field, ok := s.SurfaceQuestion(context.Background(), gen)
	if !ok {
		t.Fatal("expected fallback question")
	}
	if text != schema.QuestionFor(schema.FieldExercise) {
		t.Errorf("expected static table wording, got %q", text)
	}
	if field != schema.FieldExercise {
		t.Errorf("unexpected field: %s", field)
	}

	tr := s.Transcript()
	if tr[len(tr)-1].Origin != OriginFallbackQuestion {
		t.Errorf("expected fallback origin, got %s", tr[len(tr)-1].Origin)
	}
}

func TestSurfaceQuestionNothingAskable(t *testing.T) {
	s := NewState(twoTierView(1, 0, 1), 0)
	fillRequired(s)
	s.RecordAnswer(map[schema.FieldName]string{"a": "x", "b": "y", "c": "z", "d": "w"})

	if _, _, ok := s.SurfaceQuestion(context.Background(), nil); ok {
		t.Error("no question should surface when everything is collected")
	}
}

func fillRequired(s *State) {
	s.RecordAnswer(map[schema.FieldName]string{
		"exercise": "squat",
		"location": "knee",
		"timing":   "during",
	})
}
