package extract

import (
	"testing"

	"formcoach/internal/schema"
)

func TestFromMessageTypicalComplaint(t *testing.T) {
	got := FromMessage("My right knee hurts at the bottom of the squat, maybe a 7/10")

	want := map[schema.FieldName]string{
		schema.FieldExercise:      "squat",
		schema.FieldPainLocation:  "right knee",
		schema.FieldPainSide:      "right",
		schema.FieldPainTiming:    "during the movement",
		schema.FieldMovementPhase: "bottom of the movement",
		schema.FieldPainIntensity: "7/10",
	}
	for f, v := range want {
		if got[f] != v {
			t.Errorf("%s = %q, want %q", f, got[f], v)
		}
	}
}

func TestFromMessageFieldTables(t *testing.T) {
	cases := []struct {
		name    string
		message string
		field   schema.FieldName
		want    string
	}{
		{"compound exercise wins over substring", "sharp pain while bench pressing", schema.FieldExercise, "bench press"},
		{"plural normalizes", "my knees ache after squats", schema.FieldExercise, "squat"},
		{"spelling variant", "doing pullups at the park", schema.FieldExercise, "pull-up"},
		{"abbreviation", "OHP makes my shoulder click", schema.FieldExercise, "overhead press"},
		{"lower back not swallowed by back", "lower back tightness on deadlifts", schema.FieldPainLocation, "lower back"},
		{"synonym normalizes", "I think I tweaked my rotator cuff", schema.FieldPainLocation, "shoulder"},
		{"timing after", "feels fine during, sore the next day", schema.FieldPainTiming, "during the movement"},
		{"timing only after", "sore the day after training", schema.FieldPainTiming, "after the workout"},
		{"phase top", "pinches at lockout", schema.FieldMovementPhase, "top of the movement"},
		{"intensity out of ten", "pain is about 8 out of 10", schema.FieldPainIntensity, "8/10"},
		{"side left", "left hip clicks on lunges", schema.FieldPainSide, "left"},
		{"side both", "both wrists hurt on push ups", schema.FieldPainSide, "both"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FromMessage(tc.message)
			if got[tc.field] != tc.want {
				t.Errorf("FromMessage(%q)[%s] = %q, want %q", tc.message, tc.field, got[tc.field], tc.want)
			}
		})
	}
}

func TestFromMessageNoFalsePositives(t *testing.T) {
	cases := []struct {
		name    string
		message string
		field   schema.FieldName
	}{
		{"row not matched inside tomorrow", "I will train again tomorrow", schema.FieldExercise},
		{"dip not matched inside dipping", "form keeps dipping late in sets", schema.FieldExercise},
		{"right after is not a side", "it started right after my workout", schema.FieldPainSide},
		{"hip not matched inside whipped", "I whipped through the warmup", schema.FieldPainLocation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FromMessage(tc.message)
			if v, ok := got[tc.field]; ok {
				t.Errorf("FromMessage(%q) unexpectedly extracted %s=%q", tc.message, tc.field, v)
			}
		})
	}
}

func TestFromMessageEmptyAndUnrelated(t *testing.T) {
	if got := FromMessage(""); len(got) != 0 {
		t.Errorf("empty message extracted %v", got)
	}
	if got := FromMessage("hello there"); len(got) != 0 {
		t.Errorf("unrelated message extracted %v", got)
	}
}

func TestFromMessageSidePrefixesLocation(t *testing.T) {
	got := FromMessage("left shoulder pain on overhead press")
	if got[schema.FieldPainLocation] != "left shoulder" {
		t.Errorf("pain_location = %q, want %q", got[schema.FieldPainLocation], "left shoulder")
	}

	// "both" stays out of the location text
	got = FromMessage("both knees ache on leg press")
	if got[schema.FieldPainLocation] != "knee" {
		t.Errorf("pain_location = %q, want %q", got[schema.FieldPainLocation], "knee")
	}
}
