package ai

import "strings"

var refusalIndicators = []string{
	"i'm sorry", "i am sorry", "i cannot", "i can't", "i'm unable", "i am unable",
	"i apologize", "unfortunately", "i'm afraid", "i don't have access",
	"as an ai", "against my guidelines",
}

// LooksLikeRefusal reports whether text reads like the model declining the task.
// It only annotates diagnostics; it never triggers another model call.
func LooksLikeRefusal(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "{") {
		return false
	}
	for _, indicator := range refusalIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
