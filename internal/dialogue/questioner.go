package dialogue

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"formcoach/internal/logging"
	"formcoach/internal/schema"
)

// QuestionGenerator produces the wording for one clarifying question.
// Implementations must not block the dialogue: on error the caller falls
// back to the static question table.
type QuestionGenerator interface {
	Generate(ctx context.Context, field schema.FieldName, collected map[schema.FieldName]string) (string, error)
}

// CompletionClient is the slice of the LLM client the questioner needs.
type CompletionClient interface {
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLMQuestioner phrases clarifying questions with a language model.
type LLMQuestioner struct {
	client CompletionClient
}

// NewLLMQuestioner creates a generator backed by the given client.
func NewLLMQuestioner(client CompletionClient) *LLMQuestioner {
	return &LLMQuestioner{client: client}
}

const questionSystemPrompt = `You are the intake assistant of a workout injury triage service.
You ask exactly one short, friendly clarifying question at a time.
Reply with the question only: no preamble, no numbering, no quotes.`

// Generate asks the model for a one-line question targeting the field.
func (q *LLMQuestioner) Generate(ctx context.Context, field schema.FieldName, collected map[schema.FieldName]string) (string, error) {
	if q.client == nil {
		return "", fmt.Errorf("no completion client configured")
	}

	var sb strings.Builder
	sb.WriteString("Known so far:\n")
	if len(collected) == 0 {
		sb.WriteString("  (nothing yet)\n")
	} else {
		keys := make([]string, 0, len(collected))
		for k := range collected {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %s\n", k, collected[schema.FieldName(k)])
		}
	}
	fmt.Fprintf(&sb, "\nAsk one question to learn: %s\n", field)
	fmt.Fprintf(&sb, "Reference wording: %s\n", schema.QuestionFor(field))

	reply, err := q.client.CompleteWithSystem(ctx, questionSystemPrompt, sb.String())
	if err != nil {
		return "", fmt.Errorf("question generation failed: %w", err)
	}

	question := strings.TrimSpace(reply)
	if idx := strings.IndexByte(question, '\n'); idx > 0 {
		question = strings.TrimSpace(question[:idx])
	}
	question = strings.Trim(question, `"`)
	if question == "" {
		return "", fmt.Errorf("question generation returned empty text")
	}
	if len(question) > 300 {
		return "", fmt.Errorf("question generation returned %d chars, rejecting", len(question))
	}
	return question, nil
}

// SurfaceQuestion selects the next field, phrases the question (generator
// first, static table on failure or when no generator is configured),
// appends it to the transcript with its field tag, and returns it. Returns
// false when no field is askable.
func (s *State) SurfaceQuestion(ctx context.Context, gen QuestionGenerator) (string, schema.FieldName, bool) {
	field, ok := s.NextQuestionField()
	if !ok {
		return "", "", false
	}

	origin := OriginFallbackQuestion
	text := ""
	if gen != nil {
		generated, err := gen.Generate(ctx, field, s.Collected())
		if err != nil {
			logging.Get(logging.CategoryDialogue).Warn("Question generator failed for %s, using static table: %v", field, err)
		} else if generated != "" {
			text = generated
			origin = OriginGeneratedQuestion
		}
	}
	if text == "" {
		text = schema.QuestionFor(field)
	}

	s.AddQuestion(text, field, origin)
	return text, field, true
}
