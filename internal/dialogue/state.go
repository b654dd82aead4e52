// Package dialogue implements the field-collection state machine: which
// facts have been gathered, which questions have been asked, and whether the
// conversation still needs clarification before the pipeline may proceed.
// One State exists per conversation session; access is serialized by the
// session owner, so State itself carries no locking.
package dialogue

import (
	"strings"

	"formcoach/internal/logging"
	"formcoach/internal/schema"
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerSystem Speaker = "system"
)

// Origin records how a transcript entry arose.
type Origin string

const (
	OriginUserMessage       Origin = "user_message"
	OriginGeneratedQuestion Origin = "llm_question"
	OriginFallbackQuestion  Origin = "fallback_question"
)

// Entry is one transcript line. System questions carry the Field they
// target so follow-up answers map back by direct lookup instead of
// re-parsing question text.
type Entry struct {
	Speaker Speaker
	Text    string
	Origin  Origin
	Field   schema.FieldName
}

// State is the mutable dialogue record for one session.
type State struct {
	view         schema.View
	known        map[schema.FieldName]bool
	collected    map[schema.FieldName]string
	asked        map[schema.FieldName]bool
	transcript   []Entry
	tierAsks     []int // optional questions asked per tier
	optionalAsks int   // total optional questions asked
	forced       bool
	minOptional  int
}

// NewState creates dialogue state over a per-session schema view.
// minOptional is the optional-field count HasMinimumInfo requires.
func NewState(view schema.View, minOptional int) *State {
	known := make(map[schema.FieldName]bool, len(view.Required)+16)
	for _, f := range view.Required {
		known[f] = true
	}
	for _, t := range view.Tiers {
		for _, f := range t.Fields {
			known[f] = true
		}
	}
	if minOptional < 0 {
		minOptional = 0
	}
	return &State{
		view:        view,
		known:       known,
		collected:   make(map[schema.FieldName]string),
		asked:       make(map[schema.FieldName]bool),
		tierAsks:    make([]int, len(view.Tiers)),
		minOptional: minOptional,
	}
}

// RecordAnswer merges extracted or answered values. Values are trimmed;
// empty values, placeholders, and unknown field names are dropped silently.
// A placeholder never overwrites a previously good value.
func (s *State) RecordAnswer(values map[schema.FieldName]string) {
	for field, raw := range values {
		if !s.known[field] {
			logging.DialogueDebug("RecordAnswer: dropping unknown field %q", field)
			continue
		}
		v := strings.TrimSpace(raw)
		if v == "" || schema.IsPlaceholder(v) {
			continue
		}
		s.collected[field] = v
		logging.DialogueDebug("RecordAnswer: %s = %q", field, v)
	}
}

// Collected returns a copy of the presently collected values.
func (s *State) Collected() map[schema.FieldName]string {
	out := make(map[schema.FieldName]string, len(s.collected))
	for k, v := range s.collected {
		out[k] = v
	}
	return out
}

// Has reports whether a field holds a present (non-placeholder) value.
func (s *State) Has(field schema.FieldName) bool {
	v, ok := s.collected[field]
	return ok && schema.IsPresent(v)
}

// MissingRequired returns required fields absent or placeholder, in schema
// order.
func (s *State) MissingRequired() []schema.FieldName {
	var out []schema.FieldName
	for _, f := range s.view.Required {
		if !s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// MissingOptionalTier returns the given tier's fields that are absent or
// placeholder and have not been asked about, in tier order.
func (s *State) MissingOptionalTier(tier int) []schema.FieldName {
	if tier < 0 || tier >= len(s.view.Tiers) {
		return nil
	}
	var out []schema.FieldName
	for _, f := range s.view.Tiers[tier].Fields {
		if !s.Has(f) && !s.asked[f] {
			out = append(out, f)
		}
	}
	return out
}

// MissingOptional returns all tiers' missing unasked fields concatenated in
// tier order.
func (s *State) MissingOptional() []schema.FieldName {
	var out []schema.FieldName
	for i := range s.view.Tiers {
		out = append(out, s.MissingOptionalTier(i)...)
	}
	return out
}

// NeedsClarification reports whether the dialogue still wants input before
// the pipeline proceeds.
func (s *State) NeedsClarification() bool {
	return len(s.MissingRequired()) > 0 || s.ShouldAskOptional()
}

// ShouldAskOptional walks tiers in priority order. A tier whose ask budget
// is not yet exhausted is the only candidate: if it has missing unasked
// fields the answer is yes, otherwise no. Lower tiers unlock only once the
// tier above has spent its full budget; the cap doubles as a release valve
// when a tier's questions go unanswered.
func (s *State) ShouldAskOptional() bool {
	if s.forced {
		return false
	}
	if s.optionalAsks >= s.view.OptionalBudget {
		return false
	}
	for i, t := range s.view.Tiers {
		if s.tierAsks[i] < t.MaxAsks {
			return len(s.MissingOptionalTier(i)) > 0
		}
	}
	return false
}

// NextQuestionField selects the next field to ask about: first missing
// unasked required field in schema order, else the first missing field of
// the first tier with budget left. The field is marked asked; optional
// picks charge the tier and session budgets. Returns false when nothing is
// askable.
func (s *State) NextQuestionField() (schema.FieldName, bool) {
	for _, f := range s.view.Required {
		if !s.Has(f) && !s.asked[f] {
			s.asked[f] = true
			logging.Dialogue("Next question targets required field %s", f)
			return f, true
		}
	}

	if !s.ShouldAskOptional() {
		return "", false
	}

	for i, t := range s.view.Tiers {
		if s.tierAsks[i] >= t.MaxAsks {
			continue
		}
		missing := s.MissingOptionalTier(i)
		if len(missing) == 0 {
			return "", false
		}
		f := missing[0]
		s.asked[f] = true
		s.tierAsks[i]++
		s.optionalAsks++
		logging.Dialogue("Next question targets optional field %s (tier %d, ask %d/%d)",
			f, i, s.tierAsks[i], t.MaxAsks)
		return f, true
	}

	return "", false
}

// ForceProceed suppresses all further optional questioning. Required-field
// questioning is unaffected: pipeline stages hard-require those fields, so
// they stay askable even after forcing.
func (s *State) ForceProceed() {
	if !s.forced {
		logging.Dialogue("Force proceed: optional questioning suppressed")
	}
	s.forced = true
}

// Forced reports whether ForceProceed has been called.
func (s *State) Forced() bool {
	return s.forced
}

// HasMinimumInfo reports whether enough is known to produce a useful
// analysis: every required field present, plus either the configured
// minimum of optional fields or an exhausted ask budget.
func (s *State) HasMinimumInfo() bool {
	if len(s.MissingRequired()) > 0 {
		return false
	}

	optionalPresent := 0
	for _, t := range s.view.Tiers {
		for _, f := range t.Fields {
			if s.Has(f) {
				optionalPresent++
			}
		}
	}
	if optionalPresent >= s.minOptional {
		return true
	}
	return s.budgetExhausted()
}

func (s *State) budgetExhausted() bool {
	if s.forced {
		return true
	}
	if s.optionalAsks >= s.view.OptionalBudget {
		return true
	}
	for i, t := range s.view.Tiers {
		if s.tierAsks[i] < t.MaxAsks {
			return false
		}
	}
	return true
}

// AddUserMessage appends a user turn to the transcript.
func (s *State) AddUserMessage(text string) {
	s.transcript = append(s.transcript, Entry{
		Speaker: SpeakerUser,
		Text:    text,
		Origin:  OriginUserMessage,
	})
}

// AddQuestion appends a system question tagged with its target field.
func (s *State) AddQuestion(text string, field schema.FieldName, origin Origin) {
	s.transcript = append(s.transcript, Entry{
		Speaker: SpeakerSystem,
		Text:    text,
		Origin:  origin,
		Field:   field,
	})
}

// Transcript returns a copy of the transcript.
func (s *State) Transcript() []Entry {
	return append([]Entry(nil), s.transcript...)
}

// Turns counts user messages so far.
func (s *State) Turns() int {
	n := 0
	for _, e := range s.transcript {
		if e.Speaker == SpeakerUser {
			n++
		}
	}
	return n
}

// LastAskedField returns the field tag of the most recent system question.
func (s *State) LastAskedField() (schema.FieldName, bool) {
	for i := len(s.transcript) - 1; i >= 0; i-- {
		e := s.transcript[i]
		if e.Speaker == SpeakerSystem && e.Field != "" {
			return e.Field, true
		}
	}
	return "", false
}

// MergeFollowUp records a user's reply as the value of the last-asked
// field. The tag lookup replaces keyword-matching on question text, so an
// answer can never be attributed to a different field than the one asked.
// No-op when no question has been asked yet.
func (s *State) MergeFollowUp(text string) {
	field, ok := s.LastAskedField()
	if !ok {
		return
	}
	s.RecordAnswer(map[schema.FieldName]string{field: text})
}
