package classifier

import (
	"encoding/json"
	"regexp"
	"slices"
	"strings"

	"github.com/hpungsan/reelnote/internal/category"
)

// SuggestionCount is the number of suggestions every Suggestion carries.
const SuggestionCount = 3

// fallbackSuggestions pads short suggestion lists, in order.
var fallbackSuggestions = []string{category.Other, "Entertainment", "Communication"}

// Suggestion is the result of multi-suggestion classification.
type Suggestion struct {
	Primary     string   `json:"primary"`
	Suggestions []string `json:"suggestions"`

	// Degraded is set when the model produced nothing usable and the
	// result is the fixed fallback.
	Degraded bool `json:"degraded"`
}

// DegradedSuggestion is returned when classification could not produce an answer.
func DegradedSuggestion() Suggestion {
	return Suggestion{
		Primary:     category.Other,
		Suggestions: slices.Clone(fallbackSuggestions),
		Degraded:    true,
	}
}

type responseKind int

const (
	kindUnparseable responseKind = iota
	kindStructured
	kindPlain
)

// modelResponse is the raw model text resolved into one of three shapes.
type modelResponse struct {
	kind        responseKind
	primary     string   // kindStructured
	suggestions []string // kindStructured
	name        string   // kindPlain
}

var fenceRegex = regexp.MustCompile("(?s)^```(?:[A-Za-z]*\\n)?\\s*(.*?)\\s*```$")

// stripFence removes a surrounding markdown code fence, if any.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if m := fenceRegex.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

func parseResponse(text string) modelResponse {
	text = stripFence(text)
	if text == "" {
		return modelResponse{kind: kindUnparseable}
	}

	var structured struct {
		Primary     string   `json:"primary"`
		Suggestions []string `json:"suggestions"`
	}
	if strings.HasPrefix(text, "{") && json.Unmarshal([]byte(text), &structured) == nil {
		return modelResponse{
			kind:        kindStructured,
			primary:     strings.TrimSpace(structured.Primary),
			suggestions: structured.Suggestions,
		}
	}

	var name string
	if json.Unmarshal([]byte(text), &name) == nil {
		if name = strings.TrimSpace(name); name == "" {
			return modelResponse{kind: kindUnparseable}
		}
		return modelResponse{kind: kindPlain, name: name}
	}
	return modelResponse{kind: kindPlain, name: text}
}

// resolve coerces a parsed response into a Suggestion whose primary and
// suggestions all belong to vocabulary.
func (r modelResponse) resolve(vocabulary []string) Suggestion {
	switch r.kind {
	case kindStructured:
		return Suggestion{
			Primary:     inVocabulary(vocabulary, r.primary),
			Suggestions: fillSuggestions(vocabulary, r.suggestions),
		}
	case kindPlain:
		return Suggestion{
			Primary:     inVocabulary(vocabulary, r.name),
			Suggestions: fillSuggestions(vocabulary, []string{r.name, "Entertainment", "Communication"}),
		}
	default:
		return DegradedSuggestion()
	}
}

// inVocabulary returns the vocabulary spelling of name, or Other.
func inVocabulary(vocabulary []string, name string) string {
	if match, ok := category.Find(vocabulary, strings.TrimSpace(name)); ok {
		return match
	}
	return category.Other
}

// fillSuggestions keeps the in-vocabulary candidates, de-duplicated and in
// order, truncates to SuggestionCount and pads from fallbackSuggestions.
func fillSuggestions(vocabulary, candidates []string) []string {
	out := make([]string, 0, SuggestionCount)
	add := func(name string) {
		if len(out) >= SuggestionCount {
			return
		}
		match, ok := category.Find(vocabulary, strings.TrimSpace(name))
		if !ok || slices.Contains(out, match) {
			return
		}
		out = append(out, match)
	}
	for _, c := range candidates {
		add(c)
	}
	for _, f := range fallbackSuggestions {
		add(f)
	}
	return out
}

// matchSingle maps a single-category answer onto the fixed vocabulary.
// Matching is exact; anything else is Other.
func matchSingle(text string) string {
	text = strings.TrimSpace(text)
	if slices.Contains(singleVocabulary, text) {
		return text
	}
	return category.Other
}
