package models

import "strings"

// Canonical exercise type names.
const (
	ExerciseBicepCurl     = "bicep_curl"
	ExerciseShoulderPress = "shoulder_press"
	ExerciseKneeExtension = "knee_extension"
)

// exerciseTypeMap maps lowercased display spellings to canonical names.
// Clients historically sent the display label ("Bicep Curl").
var exerciseTypeMap = map[string]string{
	"bicep curl":     ExerciseBicepCurl,
	"bicep curls":    ExerciseBicepCurl,
	"biceps curl":    ExerciseBicepCurl,
	"curl":           ExerciseBicepCurl,
	"bicepcurl":      ExerciseBicepCurl,
	"shoulder press": ExerciseShoulderPress,
	"overhead press": ExerciseShoulderPress,
	"knee extension": ExerciseKneeExtension,
	"leg extension":  ExerciseKneeExtension,
	"kneeextension":  ExerciseKneeExtension,
	"shoulderpress":  ExerciseShoulderPress,
}

// NormalizeExerciseType maps an exercise label to its canonical snake_case
// name. Known reports whether the label matched a known exercise; unknown
// labels are still lowercased with spaces and dashes replaced by underscores.
func NormalizeExerciseType(label string) (name string, known bool) {
	key := strings.ToLower(strings.TrimSpace(label))
	if canonical, ok := exerciseTypeMap[key]; ok {
		return canonical, true
	}
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	switch name {
	case ExerciseBicepCurl, ExerciseShoulderPress, ExerciseKneeExtension:
		return name, true
	}
	return name, false
}
