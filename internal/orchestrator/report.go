package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"formcoach/internal/schema"
	"formcoach/internal/stages"
)

// Report is the compiled outcome of one conversation.
type Report struct {
	ConversationID string
	UserInput      string
	Collected      map[schema.FieldName]string

	FormAnalysis string
	Diagnosis    string
	Findings     string
	Sources      []string
	Plan         string

	StagesExecuted           []stages.Name
	Turns                    int
	RequiresMedicalAttention bool
	Partial                  bool
	Warning                  string
	ReflectionSummary        string
	Elapsed                  time.Duration
	GeneratedAt              time.Time
}

func (s *Session) compileReport(partial bool, warning string) *Report {
	r := &Report{
		ConversationID:    s.ID,
		UserInput:         s.complaint,
		Collected:         s.dialogue.Collected(),
		StagesExecuted:    s.exec.History(),
		Turns:             s.dialogue.Turns(),
		Partial:           partial,
		Warning:           warning,
		ReflectionSummary: summarizeReflections(s.reflections),
		Elapsed:           time.Since(s.startedAt),
		GeneratedAt:       time.Now(),
	}

	if res, ok := s.exec.results[stages.FormAnalysis]; ok && res.OK() {
		r.FormAnalysis = res.Data["analysis"]
	}
	if res, ok := s.exec.results[stages.InjuryDiagnosis]; ok && res.OK() {
		r.Diagnosis = res.Data["diagnosis"]
		r.RequiresMedicalAttention = res.Data["requires_medical_attention"] == "true"
	}
	if res, ok := s.exec.results[stages.Research]; ok && res.OK() {
		r.Findings = res.Data["findings"]
		for _, u := range strings.Split(res.Data["sources"], "\n") {
			if u = strings.TrimSpace(u); u != "" {
				r.Sources = append(r.Sources, u)
			}
		}
	}
	if res, ok := s.exec.results[stages.Prescription]; ok && res.OK() {
		r.Plan = res.Data["plan"]
	}
	return r
}

// Markdown renders the report for terminals and persistence.
func (r *Report) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# Form Coach Report\n\n")

	if r.RequiresMedicalAttention {
		sb.WriteString("**Caution:** some reported symptoms warrant an in-person clinical evaluation. Treat the plan below as secondary to that.\n\n")
	}
	if r.Partial {
		warning := r.Warning
		if warning == "" {
			warning = "completion was forced"
		}
		fmt.Fprintf(&sb, "*Partial result: %s. Sections below reflect whatever had finished.*\n\n", warning)
	}

	if r.UserInput != "" {
		fmt.Fprintf(&sb, "**Complaint:** %s\n\n", r.UserInput)
	}

	if len(r.Collected) > 0 {
		sb.WriteString("## What we know\n\n")
		keys := make([]string, 0, len(r.Collected))
		for k := range r.Collected {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", strings.ReplaceAll(k, "_", " "), r.Collected[schema.FieldName(k)])
		}
		sb.WriteString("\n")
	}

	writeSection(&sb, "Form analysis", r.FormAnalysis)
	writeSection(&sb, "Diagnosis", r.Diagnosis)
	writeSection(&sb, "Research findings", r.Findings)
	writeSection(&sb, "Action plan", r.Plan)

	sb.WriteString("---\n\n")
	names := make([]string, 0, len(r.StagesExecuted))
	for _, n := range r.StagesExecuted {
		names = append(names, string(n))
	}
	fmt.Fprintf(&sb, "Stages executed (%d/%d): %s  \n", len(names), len(stages.Pipeline), strings.Join(names, ", "))
	fmt.Fprintf(&sb, "Conversation turns: %d  \n", r.Turns)
	fmt.Fprintf(&sb, "Elapsed: %.1fs  \n", r.Elapsed.Seconds())
	if r.ReflectionSummary != "" {
		fmt.Fprintf(&sb, "Stage depth: %s  \n", r.ReflectionSummary)
	}
	return sb.String()
}

func writeSection(sb *strings.Builder, title, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	fmt.Fprintf(sb, "## %s\n\n%s\n\n", title, body)
}
