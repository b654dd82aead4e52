package stages

import (
	"context"

	"formcoach/internal/perception"
	"formcoach/internal/research"
	"formcoach/internal/schema"
	"formcoach/internal/store"
)

// Deps holds the external collaborators stages draw on. Any of them may be
// nil; every stage degrades to whatever is still available.
type Deps struct {
	LLM      perception.LLMClient
	Searcher research.Searcher
	Fetcher  *research.Fetcher
	Store    *store.LocalStore
}

// Input carries what a stage may read: the original complaint, the fields
// the dialogue has collected, and the results of stages already run.
type Input struct {
	Message   string
	Collected map[schema.FieldName]string
	Prior     map[Name]Result
}

// Field returns a collected field value, "" when absent or placeholder.
func (in Input) Field(f schema.FieldName) string {
	v := in.Collected[f]
	if !schema.IsPresent(v) {
		return ""
	}
	return v
}

// FieldOr returns a collected field value or the fallback.
func (in Input) FieldOr(f schema.FieldName, fallback string) string {
	if v := in.Field(f); v != "" {
		return v
	}
	return fallback
}

// PriorData reads one data key out of an earlier stage's result.
func (in Input) PriorData(stage Name, key string) string {
	r, ok := in.Prior[stage]
	if !ok || r.Data == nil {
		return ""
	}
	return r.Data[key]
}

// Func runs one pipeline stage.
type Func func(ctx context.Context, deps *Deps, in Input) Result

// Registry maps every stage name to its implementation. The orchestrator
// routes by name; an unknown name is the caller's error, not a silent no-op.
func Registry() map[Name]Func {
	return map[Name]Func{
		Parsing:         RunParsing,
		FormAnalysis:    RunFormAnalysis,
		InjuryDiagnosis: RunInjuryDiagnosis,
		Research:        RunResearch,
		Prescription:    RunPrescription,
	}
}
