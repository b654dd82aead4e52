// Package extract pulls obvious schema fields out of free text with
// keyword and pattern tables. It runs before (and as a fallback for) the
// LLM parsing stage, so it must be cheap and must never error.
package extract

import (
	"regexp"
	"strings"

	"formcoach/internal/schema"
)

// term is one recognized phrase with its canonical form.
type term struct {
	text      string
	canonical string
}

// exerciseTerms lists recognized exercise names, longest first so compound
// names win over their substrings ("bench press" before "bench"). Terms are
// matched on word boundaries, so plural variants are listed explicitly.
var exerciseTerms = []term{
	{"tricep extensions", "tricep extension"},
	{"tricep extension", "tricep extension"},
	{"leg extensions", "leg extension"},
	{"overhead presses", "overhead press"},
	{"overhead press", "overhead press"},
	{"bench presses", "bench press"},
	{"bench press", "bench press"},
	{"barbell rows", "barbell row"},
	{"barbell row", "barbell row"},
	{"lat pulldowns", "lat pulldown"},
	{"lat pulldown", "lat pulldown"},
	{"leg extension", "leg extension"},
	{"biceps curls", "curl"},
	{"biceps curl", "curl"},
	{"bicep curls", "curl"},
	{"bicep curl", "curl"},
	{"hip thrusts", "hip thrust"},
	{"hip thrust", "hip thrust"},
	{"leg presses", "leg press"},
	{"leg press", "leg press"},
	{"leg curls", "leg curl"},
	{"leg curl", "leg curl"},
	{"pull-ups", "pull-up"},
	{"pull-up", "pull-up"},
	{"pull ups", "pull-up"},
	{"pull up", "pull-up"},
	{"pullups", "pull-up"},
	{"pullup", "pull-up"},
	{"chin-ups", "chin-up"},
	{"chin-up", "chin-up"},
	{"chin ups", "chin-up"},
	{"chin up", "chin-up"},
	{"chinups", "chin-up"},
	{"chinup", "chin-up"},
	{"push-ups", "push-up"},
	{"push-up", "push-up"},
	{"push ups", "push-up"},
	{"push up", "push-up"},
	{"pushups", "push-up"},
	{"pushup", "push-up"},
	{"deadlifts", "deadlift"},
	{"deadlift", "deadlift"},
	{"sprinting", "sprinting"},
	{"jogging", "jogging"},
	{"running", "running"},
	{"snatches", "snatch"},
	{"snatch", "snatch"},
	{"lunges", "lunge"},
	{"lunge", "lunge"},
	{"squats", "squat"},
	{"squat", "squat"},
	{"planks", "plank"},
	{"plank", "plank"},
	{"cleans", "clean"},
	{"clean", "clean"},
	{"benching", "bench press"},
	{"bench", "bench press"},
	{"curls", "curl"},
	{"curl", "curl"},
	{"dips", "dip"},
	{"dip", "dip"},
	{"rows", "row"},
	{"row", "row"},
	{"ohp", "overhead press"},
}

// bodyParts lists recognized pain locations, longest first so "lower back"
// is not swallowed by "back". Plurals normalize to the singular.
var bodyParts = []term{
	{"rotator cuff", "shoulder"},
	{"lower back", "lower back"},
	{"upper back", "upper back"},
	{"quadriceps", "quadriceps"},
	{"hamstrings", "hamstring"},
	{"hamstring", "hamstring"},
	{"shoulders", "shoulder"},
	{"shoulder", "shoulder"},
	{"kneecap", "knee"},
	{"patella", "knee"},
	{"elbows", "elbow"},
	{"wrists", "wrist"},
	{"ankles", "ankle"},
	{"calves", "calf"},
	{"glutes", "glute"},
	{"quads", "quadriceps"},
	{"knees", "knee"},
	{"elbow", "elbow"},
	{"wrist", "wrist"},
	{"ankle", "ankle"},
	{"glute", "glute"},
	{"chest", "chest"},
	{"quad", "quadriceps"},
	{"knee", "knee"},
	{"back", "back"},
	{"calf", "calf"},
	{"neck", "neck"},
	{"hips", "hip"},
	{"hip", "hip"},
}

// timingGroup maps trigger phrases to a normalized timing description.
type timingGroup struct {
	triggers []string
	value    string
}

// timingGroups are checked in order; the first trigger hit wins.
var timingGroups = []timingGroup{
	{[]string{"during", "while", "when i", "as i", "mid-rep", "every rep"}, "during the movement"},
	{[]string{"after", "following", "post-workout", "next day", "day after", "later"}, "after the workout"},
	{[]string{"before", "prior to", "warming up", "warm-up", "warm up"}, "before the workout"},
	{[]string{"all the time", "constant", "even at rest", "at rest"}, "constant"},
}

// phaseTriggers identify the movement phase when one is mentioned.
var phaseTriggers = []timingGroup{
	{[]string{"at the bottom", "bottom of", "in the hole", "descent", "lowering", "on the way down", "eccentric"}, "bottom of the movement"},
	{[]string{"at the top", "top of", "lockout", "locking out", "on the way up", "coming up", "concentric", "drive up"}, "top of the movement"},
	{[]string{"midway", "halfway", "sticking point"}, "midpoint of the movement"},
}

// sideStopPhrases are adverbial uses of "right" that must not read as a
// body side ("right after my workout").
var sideStopPhrases = []string{
	"right after", "right before", "right away", "right now",
	"right at", "right as", "all right", "alright",
}

var (
	rightSide = regexp.MustCompile(`(?i)\bright\b`)
	leftSide  = regexp.MustCompile(`(?i)\bleft\b`)
	bothSides = regexp.MustCompile(`(?i)\bboth\b`)

	// "7/10", "7 out of 10", "7 of 10"
	intensityScale = regexp.MustCompile(`\b(10|[0-9])\s*(?:/|out of|of)\s*10\b`)
)

// FromMessage extracts whatever schema fields the tables recognize in the
// message. Fields with no match are absent from the result; it never errors.
func FromMessage(message string) map[schema.FieldName]string {
	lower := strings.ToLower(message)
	found := make(map[schema.FieldName]string)

	for _, t := range exerciseTerms {
		if containsWord(lower, t.text) {
			found[schema.FieldExercise] = t.canonical
			break
		}
	}

	for _, t := range bodyParts {
		if containsWord(lower, t.text) {
			found[schema.FieldPainLocation] = t.canonical
			break
		}
	}

	sideText := lower
	for _, stop := range sideStopPhrases {
		sideText = strings.ReplaceAll(sideText, stop, "")
	}
	switch {
	case bothSides.MatchString(sideText):
		found[schema.FieldPainSide] = "both"
	case rightSide.MatchString(sideText):
		found[schema.FieldPainSide] = "right"
	case leftSide.MatchString(sideText):
		found[schema.FieldPainSide] = "left"
	}
	if side, ok := found[schema.FieldPainSide]; ok && side != "both" {
		if loc, ok := found[schema.FieldPainLocation]; ok {
			found[schema.FieldPainLocation] = side + " " + loc
		}
	}

	for _, g := range timingGroups {
		if containsAny(lower, g.triggers) {
			found[schema.FieldPainTiming] = g.value
			break
		}
	}

	for _, g := range phaseTriggers {
		if containsAny(lower, g.triggers) {
			found[schema.FieldMovementPhase] = g.value
			// A named phase implies pain during the lift
			if _, ok := found[schema.FieldPainTiming]; !ok {
				found[schema.FieldPainTiming] = "during the movement"
			}
			break
		}
	}

	if m := intensityScale.FindStringSubmatch(lower); m != nil {
		found[schema.FieldPainIntensity] = m[1] + "/10"
	}

	return found
}

// containsWord reports whether sub occurs in s on word boundaries, so
// "row" does not match inside "tomorrow".
func containsWord(s, sub string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], sub)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(sub)
		if (start == 0 || !isWordChar(s[start-1])) && (end == len(s) || !isWordChar(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordChar(c byte) bool {
	return c == '_' ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9')
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
