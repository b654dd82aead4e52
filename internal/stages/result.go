package stages

import "fmt"

// Status is the outcome class of a stage run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Confidence grades how much trust downstream stages should place in a
// result. Stages derive it from response wording, so it is advisory.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Result is the envelope every stage returns. Data keys are stage-specific;
// the orchestrator stores them verbatim in the execution record.
type Result struct {
	Status     Status
	Confidence Confidence
	Data       map[string]string
	Err        string
}

// Errorf builds an error result from a format string.
func Errorf(format string, args ...interface{}) Result {
	return Result{Status: StatusError, Err: fmt.Sprintf(format, args...)}
}

// Success builds a success result around the given data.
func Success(confidence Confidence, data map[string]string) Result {
	return Result{Status: StatusSuccess, Confidence: confidence, Data: data}
}

// OK reports whether the stage produced a usable result.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}
