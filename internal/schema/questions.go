package schema

// questionTable is the static fallback wording for each field. Used when no
// question generator is configured or the generator fails; the dialogue
// never blocks on question generation.
var questionTable = map[FieldName]string{
	FieldExercise:     "What exercise were you performing when the pain occurred?",
	FieldPainLocation: "Where exactly do you feel the pain?",
	FieldPainTiming:   "When does the pain occur - during the exercise, after, or constantly?",

	FieldPainSide:           "Is the pain on your left side, right side, or both?",
	FieldPainIntensity:      "How intense is the pain on a scale of 1 to 10?",
	FieldPainType:           "How would you describe the pain - sharp, dull, burning, or aching?",
	FieldMovementPhase:      "At which point of the movement does the pain show up?",
	FieldDurationSinceOnset: "How long ago did the pain start?",

	FieldPreviousInjuries:     "Have you had any previous injuries in that area?",
	FieldTrainingExperience:   "How long have you been training this exercise?",
	FieldEquipment:            "What equipment were you using - barbell, dumbbell, machine, or bodyweight?",
	FieldSelfTreatmentActions: "Have you tried anything for it so far, like ice, rest, or stretching?",
	FieldImprovementSince:     "Has the pain improved, worsened, or stayed the same since it started?",

	FieldSurfaceType:        "What kind of surface were you training on?",
	FieldEnvironment:        "Where were you training - gym, home, or outdoors?",
	FieldRepetitionScheme:   "What sets and reps were you doing?",
	FieldSleepQuality:       "How has your sleep been lately?",
	FieldHydrationLevel:     "How has your hydration been on training days?",
	FieldTrainingFrequency:  "How many times per week do you train?",
	FieldAssociatedSymptoms: "Any other symptoms, like swelling, numbness, or clicking?",
}

// QuestionFor returns the static question wording for a field. Falls back
// to a generic prompt for fields outside the table so the dialogue always
// has something to ask.
func QuestionFor(f FieldName) string {
	if q, ok := questionTable[f]; ok {
		return q
	}
	return "Could you tell me more about " + string(f) + "?"
}
