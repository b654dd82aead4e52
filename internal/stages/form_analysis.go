package stages

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"formcoach/internal/logging"
	"formcoach/internal/schema"
	"formcoach/internal/store"
)

const formAnalysisSystemPrompt = `You are an expert strength coach analyzing form issues.`

const formAnalysisPromptTemplate = `Exercise: %s
Pain Location: %s
Pain Timing: %s
%s
Analyze the likely FORM ISSUES that could cause this pain pattern.

Provide:
1. Most likely form breakdown (1-2 sentences)
2. Biomechanical explanation (1-2 sentences)
3. What to check in form (2-3 specific points)

Be specific to this exercise and pain pattern. Keep under 200 words.`

// RunFormAnalysis explains which form breakdowns could produce the reported
// pain pattern, grounded in the form-guide knowledge base when one is loaded.
func RunFormAnalysis(ctx context.Context, deps *Deps, in Input) Result {
	timer := logging.StartTimer(logging.CategoryStage, "form_analysis")
	defer timer.Stop()

	exercise := in.Field(schema.FieldExercise)
	if exercise == "" {
		return Errorf("exercise not identified, cannot analyze form")
	}
	painLocation := in.FieldOr(schema.FieldPainLocation, "unspecified")
	painTiming := in.FieldOr(schema.FieldPainTiming, "unspecified")

	guides := lookupAtoms(ctx, deps, store.CategoryFormGuides,
		strings.TrimSpace(exercise+" "+in.Field(schema.FieldMovementPhase)+" "+painLocation), 2)

	var extra strings.Builder
	if phase := in.Field(schema.FieldMovementPhase); phase != "" {
		fmt.Fprintf(&extra, "Movement Phase: %s\n", phase)
	}
	if len(guides) > 0 {
		extra.WriteString("\nCoaching references:\n")
		for _, guide := range guides {
			fmt.Fprintf(&extra, "- %s: %s\n", guide.Concept, guide.Content)
		}
	}

	data := map[string]string{
		"exercise":    exercise,
		"guides_used": strconv.Itoa(len(guides)),
	}

	if deps.LLM == nil {
		if len(guides) == 0 {
			return Errorf("no LLM and no form guides available for %s", exercise)
		}
		// Knowledge base only: pass the guides through as the analysis
		var sb strings.Builder
		fmt.Fprintf(&sb, "Form reference points for the %s:\n", exercise)
		for _, guide := range guides {
			fmt.Fprintf(&sb, "- %s: %s\n", guide.Concept, guide.Content)
		}
		data["analysis"] = sb.String()
		logging.Stage("Form analysis from knowledge base only (%d guides)", len(guides))
		return Success(ConfidenceLow, data)
	}

	prompt := fmt.Sprintf(formAnalysisPromptTemplate, exercise, painLocation, painTiming, extra.String())
	analysis, err := deps.LLM.CompleteWithSystem(ctx, formAnalysisSystemPrompt, prompt)
	if err != nil {
		return Errorf("form analysis failed: %v", err)
	}

	data["analysis"] = analysis
	logging.Stage("Form analysis complete for %s (%d chars, %d guides)", exercise, len(analysis), len(guides))
	return Success(ConfidenceHigh, data)
}

// lookupAtoms searches one knowledge category, tolerating a missing store.
func lookupAtoms(ctx context.Context, deps *Deps, category, query string, limit int) []store.Atom {
	if deps.Store == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	atoms, err := deps.Store.SearchAtoms(ctx, category, query, limit)
	if err != nil {
		logging.StageDebug("Knowledge lookup failed for %s: %v", category, err)
		return nil
	}
	return atoms
}
