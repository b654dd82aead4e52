// Package planner decides the next step of a session: ask the user a
// question, run a pipeline stage, or finish. Decide is a pure function of
// the execution view, so every branch is directly testable and the
// orchestrator owns all mutation.
package planner

import (
	"formcoach/internal/logging"
	"formcoach/internal/stages"
)

// Action is the kind of step the planner selects.
type Action string

const (
	ActionAskUser  Action = "ask_user"
	ActionRunStage Action = "run_stage"
	ActionComplete Action = "complete"
)

// Decision is one planner verdict. Stage is set only for ActionRunStage.
type Decision struct {
	Action Action
	Stage  stages.Name
	Reason string
}

// ExecView is the read-only slice of execution state Decide consumes.
type ExecView struct {
	// Executed holds every stage that has a recorded result, including
	// error results.
	Executed map[stages.Name]bool
	// LastStage is the most recently run stage, or "" before any run.
	LastStage stages.Name
}

// HasRun reports whether the stage has a recorded result.
func (v ExecView) HasRun(n stages.Name) bool {
	return v.Executed[n]
}

// Decide picks the next step. Rules in priority order, first match wins:
//
//  1. Parsing has run but form analysis has not: run form analysis. The
//     analysis must always directly follow parsing, even when the user
//     still owes answers, so this outranks clarification.
//  2. Clarification needed: ask the user.
//  3. The would-be-next stage equals the stage that just ran: skip ahead
//     to the following unexecuted stage so a stage never runs twice in a
//     row.
//  4. Run the first unexecuted stage in pipeline order.
//  5. Everything has run: complete.
func Decide(view ExecView, needsClarification bool) Decision {
	if view.HasRun(stages.Parsing) && !view.HasRun(stages.FormAnalysis) {
		return runStage(stages.FormAnalysis, "form analysis must follow parsing")
	}

	if needsClarification {
		logging.PlannerDebug("Decide: clarification requested")
		return Decision{Action: ActionAskUser, Reason: "missing fields"}
	}

	next, ok := firstUnexecuted(view, 0)
	if !ok {
		return Decision{Action: ActionComplete, Reason: "all stages executed"}
	}

	if next == view.LastStage {
		after, ok := firstUnexecuted(view, stages.Index(next)+1)
		if !ok {
			return Decision{Action: ActionComplete, Reason: "no stage left after skipping repeat"}
		}
		return runStage(after, "skipped immediate repeat of "+string(next))
	}

	return runStage(next, "next unexecuted stage")
}

func runStage(n stages.Name, reason string) Decision {
	logging.PlannerDebug("Decide: run %s (%s)", n, reason)
	return Decision{Action: ActionRunStage, Stage: n, Reason: reason}
}

// firstUnexecuted scans the pipeline from the given index for a stage with
// no recorded result.
func firstUnexecuted(view ExecView, from int) (stages.Name, bool) {
	for _, n := range stages.Pipeline[from:] {
		if !view.HasRun(n) {
			return n, true
		}
	}
	return "", false
}
