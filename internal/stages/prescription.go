package stages

import (
	"context"
	"fmt"
	"strings"

	"formcoach/internal/logging"
	"formcoach/internal/schema"
	"formcoach/internal/store"
)

const prescriptionSystemPrompt = `You are an experienced strength coach writing a practical recovery plan for an athlete. Plain text only.`

const prescriptionPromptTemplate = `ATHLETE COMPLAINT:
%s

DIAGNOSIS:
%s

RESEARCH FINDINGS:
%s
%s
### TASK
Write an actionable recovery and form-correction plan with exactly these sections:

ROOT CAUSE: one or two sentences naming the underlying problem.
IMMEDIATE ACTION: what to change in the very next training session.
THIS WEEK: exercises, cues, and load adjustments for the next 7 days.
MONITOR: what to watch to confirm the problem is improving.
SEE PROFESSIONAL IF: specific signs that mean booking a clinician.

Use the plain headings exactly as written. Do not use ** markdown. Keep it under 250 words.`

const medicalCautionNote = `
IMPORTANT: the diagnosis flagged symptoms that may need clinical evaluation. Open the plan with that caution before any training advice.
`

// RunPrescription turns the diagnosis and research findings into the final
// action plan, with a references section listing the web sources used.
func RunPrescription(ctx context.Context, deps *Deps, in Input) Result {
	timer := logging.StartTimer(logging.CategoryStage, "prescription")
	defer timer.Stop()

	diagnosis := in.PriorData(InjuryDiagnosis, "diagnosis")
	findings := in.PriorData(Research, "findings")
	references := buildReferences(
		splitLines(in.PriorData(Research, "source_titles")),
		splitLines(in.PriorData(Research, "sources")))

	if deps.LLM == nil {
		plan := fallbackPlan(ctx, deps, in, diagnosis)
		if plan == "" {
			return Errorf("cannot write a plan without an LLM or matching correctives")
		}
		logging.Stage("Prescription assembled from knowledge base only")
		return Success(ConfidenceLow, map[string]string{"plan": plan + references})
	}

	if diagnosis == "" {
		diagnosis = "No formal diagnosis; reason from the complaint alone."
	}
	hasFindings := findings != ""
	if !hasFindings {
		findings = "No research findings available."
	}

	caution := ""
	if in.PriorData(InjuryDiagnosis, "requires_medical_attention") == "true" {
		caution = medicalCautionNote
	}

	prompt := fmt.Sprintf(prescriptionPromptTemplate, in.Message, diagnosis, findings, caution)
	plan, err := deps.LLM.CompleteWithSystem(ctx, prescriptionSystemPrompt, prompt)
	if err != nil {
		return Errorf("prescription failed: %v", err)
	}

	// The references section is built from the actual sources, not from
	// whatever the model chose to cite.
	if idx := strings.Index(plan, "REFERENCES"); idx >= 0 {
		plan = strings.TrimSpace(plan[:idx])
	}
	plan += references

	data := map[string]string{"plan": plan}
	logging.Stage("Prescription complete (%d chars)", len(plan))
	if hasFindings {
		return Success(ConfidenceHigh, data)
	}
	return Success(ConfidenceMedium, data)
}

// fallbackPlan builds a minimal plan straight from the knowledge base when
// no LLM is configured.
func fallbackPlan(ctx context.Context, deps *Deps, in Input, diagnosis string) string {
	subject := strings.TrimSpace(
		in.Field(schema.FieldExercise) + " " + in.Field(schema.FieldPainLocation))
	correctives := lookupAtoms(ctx, deps, store.CategoryCorrectives, subject+" correction", 3)
	if diagnosis == "" && len(correctives) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("ROOT CAUSE:\n")
	if diagnosis != "" {
		sb.WriteString(strings.TrimSpace(diagnosis))
	} else {
		sb.WriteString("Not established. Collect more detail or consult a coach in person.")
	}
	sb.WriteString("\n\nIMMEDIATE ACTION:\nReduce the load and stop any set where the pain appears.\n")
	if len(correctives) > 0 {
		sb.WriteString("\nTHIS WEEK:\n")
		for _, c := range correctives {
			fmt.Fprintf(&sb, "- %s: %s\n", c.Concept, c.Content)
		}
	}
	sb.WriteString("\nMONITOR:\nPain during warm-up sets and the morning after training.\n")
	sb.WriteString("\nSEE PROFESSIONAL IF:\nPain sharpens, spreads, or has not eased within two weeks.\n")
	return sb.String()
}

func buildReferences(titles, urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\nREFERENCES:\n")
	for i, u := range urls {
		title := u
		if i < len(titles) && titles[i] != "" {
			title = titles[i]
		}
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, title, u)
	}
	return sb.String()
}

func splitLines(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
