package classifier

import (
	"strings"
)

// singleVocabulary is the fixed answer set for single-category classification.
var singleVocabulary = []string{
	"Motivational", "Gym", "Communication", "Ideas", "Coding", "UI",
	"ML-AI", "Job", "Internships", "love", "sayari", "songs",
}

// SingleVocabulary returns a copy of the answers Classify can return,
// excluding the Other fallback.
func SingleVocabulary() []string {
	out := make([]string, len(singleVocabulary))
	copy(out, singleVocabulary)
	return out
}

// generationConfig mirrors the generateContent generationConfig object.
type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

var (
	singleConfig = generationConfig{
		Temperature:     0.2,
		TopK:            1,
		TopP:            1,
		MaxOutputTokens: 10,
	}
	suggestConfig = generationConfig{
		Temperature:     0.2,
		MaxOutputTokens: 256,
	}
)

func singleInstruction() string {
	return "Classify this Instagram reel text into exactly one of [" +
		strings.Join(singleVocabulary, ", ") +
		"]. Return only the category name."
}

func suggestInstruction(vocabulary []string) string {
	return "Classify this Instagram reel text using only these categories: [" +
		strings.Join(vocabulary, ", ") + "]. " +
		`Respond with a JSON object and nothing else, shaped like ` +
		`{"primary": "<best category>", "suggestions": ["<category>", "<category>", "<category>"]}. ` +
		"Suggestions are the three most likely categories, best first."
}

func buildPrompt(instruction, caption string) string {
	return instruction + "\n\nText to classify: " + caption
}
