package schema

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultShape(t *testing.T) {
	s := Default()

	if len(s.Required) != 3 {
		t.Fatalf("expected 3 required fields, got %d", len(s.Required))
	}
	if s.Required[0] != FieldExercise || s.Required[1] != FieldPainLocation || s.Required[2] != FieldPainTiming {
		t.Errorf("required order wrong: %v", s.Required)
	}

	if len(s.Tiers) != 3 {
		t.Fatalf("expected 3 tiers, got %d", len(s.Tiers))
	}

	// Tier budgets: 2 + 1 + 1
	if got := s.TotalOptionalAsks(); got != 4 {
		t.Errorf("TotalOptionalAsks = %d, want 4", got)
	}

	// 3 required + 5 + 5 + 7 optional
	if got := len(s.AllFields()); got != 20 {
		t.Errorf("AllFields length = %d, want 20", got)
	}
}

func TestIsPlaceholder(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		// 1. Exact placeholder strings
		{"unknown", true},
		{"unspecified", true},
		{"not specified", true},
		// 2. Case folding and trimming
		{"  Unknown  ", true},
		{"UNSPECIFIED", true},
		{"Not Specified", true},
		// 3. Real values
		{"squat", false},
		{"left knee", false},
		// 4. Empty is not a placeholder (it is simply absent)
		{"", false},
		// 5. Near-misses stay values
		{"unknowable", false},
		{"none", false},
	}

	for _, c := range cases {
		if got := IsPlaceholder(c.value); got != c.want {
			t.Errorf("IsPlaceholder(%q) = %v, want %v", c.value, got, c.want)
		}
	}
}

func TestIsPresent(t *testing.T) {
	if IsPresent("") || IsPresent("   ") || IsPresent("unknown") {
		t.Error("empty and placeholder values must not count as present")
	}
	if !IsPresent("bench press") {
		t.Error("real value must count as present")
	}
}

func TestKnownField(t *testing.T) {
	s := Default()

	for _, f := range s.AllFields() {
		if !s.KnownField(f) {
			t.Errorf("KnownField(%s) = false for schema field", f)
		}
	}
	if s.KnownField("favorite_color") {
		t.Error("KnownField should reject unknown fields")
	}
}

func TestQuestionTableCoversAllFields(t *testing.T) {
	s := Default()

	for _, f := range s.AllFields() {
		q := QuestionFor(f)
		if q == "" {
			t.Errorf("no question for field %s", f)
		}
		if q == QuestionFor("nonexistent_field") {
			t.Errorf("field %s fell through to the generic prompt", f)
		}
	}
}

func TestSessionViewShuffleDisabled(t *testing.T) {
	s := Default()
	v := s.SessionView(ShufflePolicy{Enabled: false})

	// Field order identical to the schema
	if diff := cmp.Diff(s.Required, v.Required); diff != "" {
		t.Errorf("required order changed (-want +got):\n%s", diff)
	}
	for i := range s.Tiers {
		if diff := cmp.Diff(s.Tiers[i].Fields, v.Tiers[i].Fields); diff != "" {
			t.Errorf("tier %d order changed (-want +got):\n%s", i, diff)
		}
	}

	// Budget defaults to the full tier total, so it never bites
	if v.OptionalBudget != s.TotalOptionalAsks() {
		t.Errorf("OptionalBudget = %d, want %d", v.OptionalBudget, s.TotalOptionalAsks())
	}
}

func TestSessionViewShuffleDeterministicWithSeed(t *testing.T) {
	s := Default()
	p := ShufflePolicy{Enabled: true, Seed: 42, BudgetMin: 3, BudgetMax: 4}

	a := s.SessionView(p)
	b := s.SessionView(p)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same seed produced different views (-a +b):\n%s", diff)
	}

	if a.OptionalBudget < 3 || a.OptionalBudget > 4 {
		t.Errorf("OptionalBudget = %d, want within [3,4]", a.OptionalBudget)
	}

	// Shuffling must not lose or invent fields
	for i := range s.Tiers {
		if len(a.Tiers[i].Fields) != len(s.Tiers[i].Fields) {
			t.Fatalf("tier %d field count changed", i)
		}
		seen := map[FieldName]bool{}
		for _, f := range a.Tiers[i].Fields {
			seen[f] = true
		}
		for _, f := range s.Tiers[i].Fields {
			if !seen[f] {
				t.Errorf("tier %d lost field %s", i, f)
			}
		}
	}
}

func TestSessionViewDoesNotAliasSchema(t *testing.T) {
	s := Default()
	v := s.SessionView(ShufflePolicy{Enabled: true, Seed: 7, BudgetMin: 3, BudgetMax: 4})

	// Mutating the view must not touch the shared schema
	v.Tiers[0].Fields[0] = "mutated"
	if s.Tiers[0].Fields[0] == "mutated" {
		t.Error("view aliases schema tier slices")
	}
}
