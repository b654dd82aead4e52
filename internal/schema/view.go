package schema

import "math/rand"

// ShufflePolicy controls the per-session variety knobs: whether optional
// field order is shuffled inside each tier, and the range the session's
// total optional-question budget is drawn from. Randomness is applied once
// when the view is built, never inside the decision functions, so a session
// behaves deterministically after start. Tests run with Enabled false.
type ShufflePolicy struct {
	Enabled   bool
	Seed      int64 // 0 means seed from the global source
	BudgetMin int   // lowest total optional questions per session
	BudgetMax int   // highest total optional questions per session
}

// View is a per-session projection of the schema. Required order is always
// schema order; tier field order and the total optional budget may vary per
// session under the shuffle policy.
type View struct {
	Required       []FieldName
	Tiers          []Tier
	OptionalBudget int // total optional questions allowed this session
}

// SessionView builds the view one session will use for its whole lifetime.
func (s *Schema) SessionView(p ShufflePolicy) View {
	v := View{
		Required: append([]FieldName(nil), s.Required...),
		Tiers:    make([]Tier, len(s.Tiers)),
	}
	for i, t := range s.Tiers {
		v.Tiers[i] = Tier{
			Name:    t.Name,
			Fields:  append([]FieldName(nil), t.Fields...),
			MaxAsks: t.MaxAsks,
		}
	}

	if !p.Enabled {
		v.OptionalBudget = s.TotalOptionalAsks()
		return v
	}

	var rng *rand.Rand
	if p.Seed != 0 {
		rng = rand.New(rand.NewSource(p.Seed))
	} else {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	for i := range v.Tiers {
		fields := v.Tiers[i].Fields
		rng.Shuffle(len(fields), func(a, b int) {
			fields[a], fields[b] = fields[b], fields[a]
		})
	}

	min, max := p.BudgetMin, p.BudgetMax
	if min <= 0 {
		min = s.TotalOptionalAsks()
	}
	if max < min {
		max = min
	}
	v.OptionalBudget = min + rng.Intn(max-min+1)

	return v
}

// TierBudgetTotal is the sum of per-tier ask limits in this view.
func (v View) TierBudgetTotal() int {
	n := 0
	for _, t := range v.Tiers {
		n += t.MaxAsks
	}
	return n
}
