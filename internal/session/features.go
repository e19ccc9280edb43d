package session

// Feature identifies a view the feature router can render.
type Feature string

const (
	FeatureDashboard  Feature = "dashboard"
	FeatureNotes      Feature = "notes"
	FeatureQuiz       Feature = "quiz"
	FeatureFlashcards Feature = "flashcards"
	FeatureStudyPlan  Feature = "study-plan"
	FeatureMindMap    Feature = "mind-map"
	FeatureTutorChat  Feature = "tutor-chat"
	FeatureExport     Feature = "export"
)

var proFeatures = map[Feature]bool{
	FeatureQuiz:       true,
	FeatureFlashcards: true,
	FeatureStudyPlan:  true,
	FeatureMindMap:    true,
	FeatureTutorChat:  true,
	FeatureExport:     true,
}

// IsPro reports whether f is gated on an unexpired trial.
func (f Feature) IsPro() bool {
	return proFeatures[f]
}

// View is what the feature router should render.
type View string

const (
	ViewLogin         View = "login"
	ViewProfileForm   View = "profile-form"
	ViewUpgradePrompt View = "upgrade-prompt"
	ViewFeature       View = "feature"
)
