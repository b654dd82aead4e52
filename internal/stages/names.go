// Package stages defines the analysis pipeline: the fixed stage order, the
// result envelope every stage returns, and the stage implementations
// themselves. Stage functions never panic across the package boundary; the
// executor in the orchestrator package converts failures into error results.
package stages

// Name identifies one pipeline stage.
type Name string

const (
	Parsing         Name = "parsing"
	FormAnalysis    Name = "form_analysis"
	InjuryDiagnosis Name = "injury_diagnosis"
	Research        Name = "research"
	Prescription    Name = "prescription"
)

// Pipeline is the fixed, total execution order. The sequencer never
// branches between stages on content; it only walks this list.
var Pipeline = []Name{Parsing, FormAnalysis, InjuryDiagnosis, Research, Prescription}

// ParseName maps a string to a known stage name.
func ParseName(s string) (Name, bool) {
	for _, n := range Pipeline {
		if Name(s) == n {
			return n, true
		}
	}
	return "", false
}

// Index returns the position of n in the pipeline, or -1.
func Index(n Name) int {
	for i, p := range Pipeline {
		if p == n {
			return i
		}
	}
	return -1
}
