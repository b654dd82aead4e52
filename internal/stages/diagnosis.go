package stages

import (
	"context"
	"fmt"
	"strings"

	"formcoach/internal/logging"
	"formcoach/internal/schema"
	"formcoach/internal/store"
)

const diagnosisSystemPrompt = `You are a certified sports medicine professional and biomechanical analyst specializing in diagnosing exercise-related injuries.`

const diagnosisPromptTemplate = `INPUT DATA:
- Exercise performed: %s
- Pain location: %s
- Pain timing (when during the motion it occurs): %s
- Reported pain intensity (if available): %s
- Pain character (if available): %s

FORM & MOVEMENT ANALYSIS:
%s
%s
### TASK
Using the above data, produce a precise, evidence-based injury hypothesis. Your reasoning should reflect knowledge of biomechanics, musculoskeletal anatomy, and training form analysis.

Provide the following structured output:

1. **Probable Diagnosis:** Name the most likely injury or tissue involved (muscle, tendon, ligament, or joint) and specify the mechanism (e.g., impingement, strain, tendinitis).
2. **Root Cause (Biomechanical Explanation):** Explain *why* this injury likely occurred in relation to form errors, muscle imbalances, or overuse.
3. **Confidence Level:** High / Medium / Low - include a brief rationale for the rating.
4. **Red Flags:** Indicate any concerning symptoms that would require stopping exercise or seeking clinical evaluation.
5. **Clinical Insight:** Suggest what an in-person assessment would focus on.

Keep it under 220 words, using a clear and professional tone.`

// redFlagTerms are symptom phrases that warrant clinical evaluation rather
// than form coaching.
var redFlagTerms = []string{
	"numbness",
	"tingling",
	"shooting pain",
	"radiating",
	"swelling",
	"swollen",
	"gave out",
	"giving way",
	"instability",
	"locked up",
	"locking",
	"night pain",
	"loss of sensation",
	"bear weight",
	"popping sound",
	"heard a pop",
}

// RunInjuryDiagnosis builds an injury hypothesis from the collected fields,
// the form analysis, and the injury-pattern knowledge base.
func RunInjuryDiagnosis(ctx context.Context, deps *Deps, in Input) Result {
	timer := logging.StartTimer(logging.CategoryStage, "injury_diagnosis")
	defer timer.Stop()

	painLocation := in.Field(schema.FieldPainLocation)
	painTiming := in.Field(schema.FieldPainTiming)
	if painLocation == "" || painTiming == "" {
		return Errorf("pain location and timing are required for diagnosis")
	}
	exercise := in.FieldOr(schema.FieldExercise, "unknown")

	redFlags := detectRedFlags(in)

	patterns := lookupAtoms(ctx, deps, store.CategoryInjuryPatterns,
		strings.TrimSpace(painLocation+" "+in.Field(schema.FieldPainType)+" "+painTiming), 2)

	var patternBlock string
	if len(patterns) > 0 {
		var sb strings.Builder
		sb.WriteString("\nKNOWN INJURY PATTERNS:\n")
		for _, p := range patterns {
			fmt.Fprintf(&sb, "- %s: %s\n", p.Concept, p.Content)
		}
		patternBlock = sb.String()
	}

	data := map[string]string{
		"red_flags": strings.Join(redFlags, "; "),
	}

	if deps.LLM == nil {
		if len(patterns) == 0 {
			return Errorf("no LLM and no injury patterns available")
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Closest known pattern for %s pain %s:\n", painLocation, painTiming)
		for _, p := range patterns {
			fmt.Fprintf(&sb, "- %s: %s\n", p.Concept, p.Content)
		}
		data["diagnosis"] = sb.String()
		data["requires_medical_attention"] = fmt.Sprintf("%v", len(redFlags) > 0)
		logging.Stage("Diagnosis from knowledge base only (%d patterns)", len(patterns))
		return Success(ConfidenceLow, data)
	}

	formAnalysis := in.PriorData(FormAnalysis, "analysis")
	if formAnalysis == "" {
		formAnalysis = "No form analysis available"
	}

	prompt := fmt.Sprintf(diagnosisPromptTemplate,
		exercise, painLocation, painTiming,
		in.FieldOr(schema.FieldPainIntensity, "Unknown"),
		in.FieldOr(schema.FieldPainType, "Unknown"),
		formAnalysis, patternBlock)

	diagnosis, err := deps.LLM.CompleteWithSystem(ctx, diagnosisSystemPrompt, prompt)
	if err != nil {
		return Errorf("diagnosis failed: %v", err)
	}

	lower := strings.ToLower(diagnosis)
	medicalAttention := len(redFlags) > 0 ||
		strings.Contains(lower, "red flag") && !strings.Contains(lower, "no red flag") ||
		strings.Contains(lower, "see a doctor")

	data["diagnosis"] = diagnosis
	data["requires_medical_attention"] = fmt.Sprintf("%v", medicalAttention)
	logging.Stage("Diagnosis complete (confidence=%s, medical=%v, red_flags=%d)",
		confidenceFromWording(lower), medicalAttention, len(redFlags))
	return Success(confidenceFromWording(lower), data)
}

// detectRedFlags scans the complaint and collected symptom fields for
// phrases that point past form coaching toward clinical care.
func detectRedFlags(in Input) []string {
	haystack := strings.ToLower(in.Message)
	for _, f := range []schema.FieldName{schema.FieldAssociatedSymptoms, schema.FieldPainType} {
		haystack += " " + strings.ToLower(in.Field(f))
	}

	var found []string
	for _, term := range redFlagTerms {
		if strings.Contains(haystack, term) {
			found = append(found, term)
		}
	}
	return found
}

// confidenceFromWording grades the hypothesis by how the model hedged it.
func confidenceFromWording(lower string) Confidence {
	switch {
	case strings.Contains(lower, "high confidence") || strings.Contains(lower, "likely"):
		return ConfidenceHigh
	case strings.Contains(lower, "low confidence") || strings.Contains(lower, "unclear"):
		return ConfidenceLow
	default:
		return ConfidenceMedium
	}
}
