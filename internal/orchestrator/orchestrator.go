// Package orchestrator owns the bounded conversation loop. Each inbound
// message is driven through planner decisions until the session asks a
// question, completes with a compiled report, or trips a safety bound.
// A Session is not safe for concurrent use; callers serialize access per
// conversation id.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"formcoach/internal/dialogue"
	"formcoach/internal/extract"
	"formcoach/internal/logging"
	"formcoach/internal/planner"
	"formcoach/internal/schema"
	"formcoach/internal/stages"
	"formcoach/internal/store"
)

// Config holds the named safety knobs of the run loop.
type Config struct {
	// MaxIterations caps planner cycles per inbound message.
	MaxIterations int
	// MaxStagesPerRequest caps stage executions per inbound message,
	// independently of the iteration cap.
	MaxStagesPerRequest int
	// ProgressCheckInterval is how many iterations pass between stall
	// checks. A check without stage progress forces the dialogue to stop
	// asking optional questions.
	ProgressCheckInterval int
	// StageTimeout bounds one stage execution. A timeout is recorded as a
	// stage error, never retried.
	StageTimeout time.Duration
	// MinOptionalFields is the optional-field count the dialogue wants
	// before it considers the picture complete.
	MinOptionalFields int
}

// DefaultConfig returns the standard safety envelope.
func DefaultConfig() Config {
	return Config{
		MaxIterations:         50,
		MaxStagesPerRequest:   10,
		ProgressCheckInterval: 5,
		StageTimeout:          60 * time.Second,
		MinOptionalFields:     2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MaxStagesPerRequest <= 0 {
		c.MaxStagesPerRequest = d.MaxStagesPerRequest
	}
	if c.ProgressCheckInterval <= 0 {
		c.ProgressCheckInterval = d.ProgressCheckInterval
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = d.StageTimeout
	}
	if c.MinOptionalFields < 0 {
		c.MinOptionalFields = d.MinOptionalFields
	}
	return c
}

// ExecutionState tracks which stages have run and what they returned.
type ExecutionState struct {
	results   map[stages.Name]stages.Result
	history   []stages.Name
	lastStage stages.Name
	stageRuns int
	complete  bool
}

func newExecutionState() *ExecutionState {
	return &ExecutionState{results: make(map[stages.Name]stages.Result)}
}

func (e *ExecutionState) hasRun(n stages.Name) bool {
	_, ok := e.results[n]
	return ok
}

func (e *ExecutionState) record(n stages.Name, r stages.Result) {
	e.results[n] = r
	e.history = append(e.history, n)
	e.lastStage = n
	e.stageRuns++
}

// view projects the state into the planner's read-only shape.
func (e *ExecutionState) view() planner.ExecView {
	executed := make(map[stages.Name]bool, len(e.results))
	for n := range e.results {
		executed[n] = true
	}
	return planner.ExecView{Executed: executed, LastStage: e.lastStage}
}

func (e *ExecutionState) resultsCopy() map[stages.Name]stages.Result {
	out := make(map[stages.Name]stages.Result, len(e.results))
	for n, r := range e.results {
		out[n] = r
	}
	return out
}

// History returns the stages run so far, in run order.
func (e *ExecutionState) History() []stages.Name {
	return append([]stages.Name(nil), e.history...)
}

// OutcomeType classifies what a message handling produced.
type OutcomeType string

const (
	OutcomeQuestion OutcomeType = "question"
	OutcomeComplete OutcomeType = "complete"
	OutcomeError    OutcomeType = "error"
)

// Outcome is what the caller gets back for one inbound message: exactly one
// of a question to relay, a compiled report, or an explicit error.
type Outcome struct {
	Type     OutcomeType
	Question string
	Field    schema.FieldName
	Report   *Report
	Err      error
}

// Session drives one conversation. It owns the dialogue state, the
// execution state, and the loop that mediates between them.
type Session struct {
	ID string

	cfg        Config
	deps       *stages.Deps
	registry   map[stages.Name]stages.Func
	questioner dialogue.QuestionGenerator
	decide     func(planner.ExecView, bool) planner.Decision

	dialogue    *dialogue.State
	exec        *ExecutionState
	reflections []Reflection

	complaint string
	report    *Report
	startedAt time.Time
}

// NewSession creates a session over the given schema view and collaborators.
// Any Deps collaborator may be nil; stages degrade accordingly.
func NewSession(id string, cfg Config, view schema.View, deps *stages.Deps, questioner dialogue.QuestionGenerator) *Session {
	cfg = cfg.withDefaults()
	if deps == nil {
		deps = &stages.Deps{}
	}
	logging.Orchestrator("Session %s created (budget %d optional questions)", id, view.OptionalBudget)
	return &Session{
		ID:         id,
		cfg:        cfg,
		deps:       deps,
		registry:   stages.Registry(),
		questioner: questioner,
		decide:     planner.Decide,
		dialogue:   dialogue.NewState(view, cfg.MinOptionalFields),
		exec:       newExecutionState(),
		startedAt:  time.Now(),
	}
}

// Complete reports whether the session has produced its final report.
func (s *Session) Complete() bool {
	return s.exec.complete
}

// Turns returns the number of user messages processed so far.
func (s *Session) Turns() int {
	return s.dialogue.Turns()
}

// ForceProceed suppresses optional questioning for the rest of the session.
// Single-shot callers use it to reach a report without the back-and-forth.
func (s *Session) ForceProceed() {
	s.dialogue.ForceProceed()
}

// HandleMessage processes one inbound user message through the bounded
// loop. A completed session returns its existing report unchanged.
func (s *Session) HandleMessage(ctx context.Context, message string) Outcome {
	if s.exec.complete {
		return Outcome{Type: OutcomeComplete, Report: s.report}
	}

	s.dialogue.AddUserMessage(message)
	s.persistTurn(string(dialogue.SpeakerUser), message, "")

	if s.dialogue.Turns() == 1 {
		s.complaint = message
		s.dialogue.RecordAnswer(extract.FromMessage(message))
	} else {
		s.dialogue.MergeFollowUp(message)
	}

	return s.loop(ctx)
}

// loop runs planner cycles until a terminal outcome. Every iteration either
// returns (question, report, error) or makes bounded progress; the caps
// guarantee return within MaxIterations regardless of collaborator behavior.
func (s *Session) loop(ctx context.Context) Outcome {
	stagesThisRequest := 0
	stagesAtCheckpoint := s.exec.stageRuns
	askExhausted := false

	for iteration := 1; iteration <= s.cfg.MaxIterations; iteration++ {
		if stagesThisRequest >= s.cfg.MaxStagesPerRequest {
			logging.Get(logging.CategoryOrchestrator).Warn(
				"Session %s hit the per-request stage cap (%d), forcing completion",
				s.ID, s.cfg.MaxStagesPerRequest)
			return s.complete(ctx, true, "stage budget exhausted")
		}

		// Stall check: no stage progress since the last checkpoint means
		// questioning is not converging, so stop asking and make sure the
		// diagnosis eventually runs.
		if iteration%s.cfg.ProgressCheckInterval == 0 {
			if s.exec.stageRuns == stagesAtCheckpoint {
				logging.Orchestrator("Session %s stalled at iteration %d, forcing proceed", s.ID, iteration)
				s.dialogue.ForceProceed()
				if !s.exec.hasRun(stages.InjuryDiagnosis) {
					if err := s.runStage(ctx, stages.InjuryDiagnosis); err != nil {
						return Outcome{Type: OutcomeError, Err: err}
					}
					stagesThisRequest++
				}
			}
			stagesAtCheckpoint = s.exec.stageRuns
		}

		needsClarification := s.dialogue.NeedsClarification() && !askExhausted
		decision := s.decide(s.exec.view(), needsClarification)

		switch decision.Action {
		case planner.ActionAskUser:
			question, field, ok := s.dialogue.SurfaceQuestion(ctx, s.questioner)
			if !ok {
				// Every askable field has been asked; clarification can
				// make no further progress this request.
				logging.Orchestrator("Session %s has no askable field left, proceeding", s.ID)
				askExhausted = true
				continue
			}
			s.persistTurn(string(dialogue.SpeakerSystem), question, string(field))
			logging.Orchestrator("Session %s asks about %s", s.ID, field)
			return Outcome{Type: OutcomeQuestion, Question: question, Field: field}

		case planner.ActionRunStage:
			if decision.Stage == s.exec.lastStage {
				logging.Get(logging.CategoryOrchestrator).Warn(
					"Session %s: refusing immediate repeat of %s", s.ID, decision.Stage)
				continue
			}
			if err := s.runStage(ctx, decision.Stage); err != nil {
				return Outcome{Type: OutcomeError, Err: err}
			}
			stagesThisRequest++

		case planner.ActionComplete:
			return s.complete(ctx, false, "")

		default:
			return Outcome{Type: OutcomeError,
				Err: fmt.Errorf("planner returned unknown action %q", decision.Action)}
		}
	}

	logging.Get(logging.CategoryOrchestrator).Warn(
		"Session %s hit the iteration cap (%d), forcing completion", s.ID, s.cfg.MaxIterations)
	return s.complete(ctx, true, "iteration limit reached")
}

// runStage executes one stage and records its result. Stage errors are
// recorded and the pipeline moves on; only an unknown stage name is fatal.
func (s *Session) runStage(ctx context.Context, name stages.Name) error {
	fn, ok := s.registry[name]
	if !ok {
		logging.Get(logging.CategoryOrchestrator).Error("Unknown stage %q requested", name)
		return fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}

	in := stages.Input{
		Message:   s.complaint,
		Collected: s.dialogue.Collected(),
		Prior:     s.exec.resultsCopy(),
	}
	result := executeStage(ctx, s.cfg.StageTimeout, name, fn, s.deps, in)
	s.exec.record(name, result)
	s.reflections = append(s.reflections, reflectOn(name, result))

	if result.OK() {
		// Stage data keys that match schema fields flow back into the
		// dialogue; RecordAnswer drops everything else.
		values := make(map[schema.FieldName]string, len(result.Data))
		for k, v := range result.Data {
			values[schema.FieldName(k)] = v
		}
		s.dialogue.RecordAnswer(values)
	} else {
		logging.Orchestrator("Session %s stage %s errored: %s", s.ID, name, result.Err)
	}
	return nil
}

// complete compiles the final report, persists it, and marks the session
// done. Forced completion is a normal path, flagged Partial on the report.
func (s *Session) complete(ctx context.Context, partial bool, warning string) Outcome {
	s.exec.complete = true
	report := s.compileReport(partial, warning)
	s.report = report

	if s.deps.Store != nil {
		if err := s.deps.Store.SaveReport(s.ID, report.Markdown(), len(s.exec.history), partial); err != nil {
			logging.Get(logging.CategoryOrchestrator).Warn("Session %s report not persisted: %v", s.ID, err)
		}
	}

	logging.Orchestrator("Session %s complete (%d stages, partial=%v, %.1fs)",
		s.ID, len(s.exec.history), partial, report.Elapsed.Seconds())
	return Outcome{Type: OutcomeComplete, Report: report}
}

// persistTurn mirrors one transcript entry into the store, when present.
func (s *Session) persistTurn(speaker, content, fieldTag string) {
	if s.deps.Store == nil {
		return
	}
	err := s.deps.Store.AppendTurn(store.HistoryEntry{
		ConversationID: s.ID,
		TurnNumber:     len(s.dialogue.Transcript()),
		Speaker:        speaker,
		Content:        content,
		FieldTag:       fieldTag,
	})
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("Session %s turn not persisted: %v", s.ID, err)
	}
}
