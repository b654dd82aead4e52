package orchestrator

import (
	"fmt"
	"strings"

	"formcoach/internal/stages"
)

// Reflection grades one stage result after the fact: how deep the analysis
// went and whether more dialogue could have improved it.
type Reflection struct {
	Stage         stages.Name
	Depth         int // 0 errored, 1 shallow, 3 thorough
	NeedsMoreInfo bool
}

// dialogueSensitive marks the stages whose quality rises with more
// collected fields. Low confidence there means the conversation ended too
// early, not that the model hedged.
var dialogueSensitive = map[stages.Name]bool{
	stages.FormAnalysis:    true,
	stages.InjuryDiagnosis: true,
}

func reflectOn(name stages.Name, r stages.Result) Reflection {
	depth := 0
	if r.OK() {
		switch r.Confidence {
		case stages.ConfidenceHigh:
			depth = 3
		case stages.ConfidenceMedium:
			depth = 2
		default:
			depth = 1
		}
	}
	return Reflection{
		Stage:         name,
		Depth:         depth,
		NeedsMoreInfo: r.OK() && r.Confidence == stages.ConfidenceLow && dialogueSensitive[name],
	}
}

// summarizeReflections renders the per-stage grades for the report footer.
func summarizeReflections(rs []Reflection) string {
	if len(rs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(rs))
	for _, r := range rs {
		p := fmt.Sprintf("%s %d/3", r.Stage, r.Depth)
		if r.NeedsMoreInfo {
			p += " (wanted more detail)"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, ", ")
}
