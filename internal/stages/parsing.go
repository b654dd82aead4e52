package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"formcoach/internal/extract"
	"formcoach/internal/logging"
	"formcoach/internal/schema"
)

const parsingSystemPrompt = `You extract structured facts from a lifter's description of a training problem. Respond ONLY with valid JSON, no surrounding text.`

const parsingUserPrompt = `Extract key facts from this workout issue description.

User message: %q

Respond with a single JSON object. Include only fields the message actually mentions, chosen from:
exercise, pain_location, pain_timing, pain_side, pain_intensity, pain_type, movement_phase, duration_since_onset, equipment, training_experience, additional_context

Example: {"exercise": "squat", "pain_location": "right knee", "pain_timing": "during the movement"}`

// RunParsing turns the raw complaint into structured fields. The LLM does
// the heavy lifting; the keyword extractor fills gaps and covers the case
// where no LLM is configured.
func RunParsing(ctx context.Context, deps *Deps, in Input) Result {
	timer := logging.StartTimer(logging.CategoryStage, "parsing")
	defer timer.Stop()

	message := strings.TrimSpace(in.Message)
	if message == "" {
		return Errorf("no message to parse")
	}

	fields := make(map[string]string)
	llmParsed := false
	if deps.LLM != nil {
		reply, err := deps.LLM.CompleteWithSystem(ctx, parsingSystemPrompt, fmt.Sprintf(parsingUserPrompt, message))
		if err != nil {
			logging.Stage("Parsing LLM failed, keyword extraction only: %v", err)
		} else if parsed, perr := parseFieldJSON(reply); perr != nil {
			logging.Stage("Parsing reply unusable: %v", perr)
		} else {
			fields = parsed
			llmParsed = true
		}
	}

	// Keyword extraction fills anything the LLM missed
	for field, value := range extract.FromMessage(message) {
		if _, ok := fields[string(field)]; !ok {
			fields[string(field)] = value
		}
	}

	logging.Stage("Parsing extracted %d fields (llm=%v)", len(fields), llmParsed)

	confidence := ConfidenceLow
	switch {
	case llmParsed && len(fields) >= 3:
		confidence = ConfidenceHigh
	case len(fields) > 0:
		confidence = ConfidenceMedium
	}
	return Success(confidence, fields)
}

// parseFieldJSON pulls the first {...} object out of an LLM reply and
// flattens it to trimmed strings. Placeholder values and empty values are
// dropped rather than stored.
func parseFieldJSON(reply string) (map[string]string, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	fields := make(map[string]string, len(raw))
	for key, value := range raw {
		var text string
		switch v := value.(type) {
		case string:
			text = v
		case float64:
			text = fmt.Sprintf("%v", v)
		case bool:
			text = fmt.Sprintf("%v", v)
		default:
			continue // nested objects and arrays are not field values
		}
		text = strings.TrimSpace(text)
		if text == "" || schema.IsPlaceholder(text) {
			continue
		}
		fields[strings.TrimSpace(key)] = text
	}
	return fields, nil
}
