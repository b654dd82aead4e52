// Package schema defines the field registry for the injury dialogue: the
// required fields, the tiered optional fields with per-tier ask limits, the
// placeholder values that count as missing, and the static question table.
// The schema is built once at startup and never mutated; sessions derive
// per-session views from it (see View).
package schema

import "strings"

// FieldName identifies one collectible fact about the user's situation.
// Wire names are snake_case and appear verbatim in LLM prompts, HTTP
// payloads, and the store.
type FieldName string

// Required fields. The pipeline hard-requires all three.
const (
	FieldExercise     FieldName = "exercise"
	FieldPainLocation FieldName = "pain_location"
	FieldPainTiming   FieldName = "pain_timing"
)

// Tier 1 optional fields: highest diagnostic value.
const (
	FieldPainSide           FieldName = "pain_side"
	FieldPainIntensity      FieldName = "pain_intensity"
	FieldPainType           FieldName = "pain_type"
	FieldMovementPhase      FieldName = "movement_phase"
	FieldDurationSinceOnset FieldName = "duration_since_onset"
)

// Tier 2 optional fields: training history and self-care context.
const (
	FieldPreviousInjuries     FieldName = "previous_injuries"
	FieldTrainingExperience   FieldName = "training_experience"
	FieldEquipment            FieldName = "equipment"
	FieldSelfTreatmentActions FieldName = "self_treatment_actions"
	FieldImprovementSince     FieldName = "improvement_since"
)

// Tier 3 optional fields: environment and lifestyle factors.
const (
	FieldSurfaceType        FieldName = "surface_type"
	FieldEnvironment        FieldName = "environment"
	FieldRepetitionScheme   FieldName = "repetition_scheme"
	FieldSleepQuality       FieldName = "sleep_quality"
	FieldHydrationLevel     FieldName = "hydration_level"
	FieldTrainingFrequency  FieldName = "training_frequency"
	FieldAssociatedSymptoms FieldName = "associated_symptoms"
)

// Tier is a priority bucket of optional fields. A lower-priority tier is
// only considered once this tier's MaxAsks budget is exhausted.
type Tier struct {
	Name    string
	Fields  []FieldName
	MaxAsks int
}

// Schema is the immutable field registry: required fields in ask order plus
// optional tiers in priority order.
type Schema struct {
	Required []FieldName
	Tiers    []Tier
}

// Default returns the registry used by the injury dialogue.
func Default() *Schema {
	return &Schema{
		Required: []FieldName{
			FieldExercise,
			FieldPainLocation,
			FieldPainTiming,
		},
		Tiers: []Tier{
			{
				Name: "primary",
				Fields: []FieldName{
					FieldPainSide,
					FieldPainIntensity,
					FieldPainType,
					FieldMovementPhase,
					FieldDurationSinceOnset,
				},
				MaxAsks: 2,
			},
			{
				Name: "history",
				Fields: []FieldName{
					FieldPreviousInjuries,
					FieldTrainingExperience,
					FieldEquipment,
					FieldSelfTreatmentActions,
					FieldImprovementSince,
				},
				MaxAsks: 1,
			},
			{
				Name: "context",
				Fields: []FieldName{
					FieldSurfaceType,
					FieldEnvironment,
					FieldRepetitionScheme,
					FieldSleepQuality,
					FieldHydrationLevel,
					FieldTrainingFrequency,
					FieldAssociatedSymptoms,
				},
				MaxAsks: 1,
			},
		},
	}
}

// AllFields returns every field the schema knows, required first, then
// tiers in priority order.
func (s *Schema) AllFields() []FieldName {
	out := make([]FieldName, 0, len(s.Required)+16)
	out = append(out, s.Required...)
	for _, t := range s.Tiers {
		out = append(out, t.Fields...)
	}
	return out
}

// KnownField reports whether the schema defines the given field.
func (s *Schema) KnownField(f FieldName) bool {
	for _, r := range s.Required {
		if r == f {
			return true
		}
	}
	for _, t := range s.Tiers {
		for _, tf := range t.Fields {
			if tf == f {
				return true
			}
		}
	}
	return false
}

// TotalOptionalAsks is the sum of all tier budgets.
func (s *Schema) TotalOptionalAsks() int {
	n := 0
	for _, t := range s.Tiers {
		n += t.MaxAsks
	}
	return n
}

// placeholders are values that count as "still missing". Extractors and the
// parsing stage emit these for fields they could not determine.
var placeholders = map[string]bool{
	"unknown":       true,
	"unspecified":   true,
	"not specified": true,
}

// IsPlaceholder reports whether a value counts as missing after trimming
// and case-folding.
func IsPlaceholder(v string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(v))]
}

// IsPresent reports whether a value is non-empty and not a placeholder.
func IsPresent(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && !IsPlaceholder(v)
}
