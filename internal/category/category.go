// Package category holds the built-in category list and the user's custom
// categories, and is the single source of truth for what a valid category is.
package category

import (
	"regexp"
	"strings"
)

// Other is the fallback category for answers that match nothing known.
const Other = "Other"

// All is the query sentinel meaning "no category filter".
const All = "All"

// builtIn is the fixed list shipped with the app.
var builtIn = []string{
	"Motivational", "Gym", "AI/ML", "Entertainment", "Communication",
	"Ideas", "Coding", "UI/UX", "Job", "Internships", "Love",
	"Poetry", "Songs", "News", "Sports", "Food", "Travel", "Fashion",
	Other,
}

// BuiltIn returns a copy of the built-in categories in declaration order.
func BuiltIn() []string {
	out := make([]string, len(builtIn))
	copy(out, builtIn)
	return out
}

// IsBuiltIn reports whether name matches a built-in category, ignoring case.
func IsBuiltIn(name string) bool {
	_, ok := Find(builtIn, name)
	return ok
}

var whitespaceRegex = regexp.MustCompile(`\s+`)

// Clean trims name and collapses internal whitespace to single spaces.
// Case is preserved.
func Clean(name string) string {
	return whitespaceRegex.ReplaceAllString(strings.TrimSpace(name), " ")
}

// Find returns the entry of names equal to name ignoring case.
func Find(names []string, name string) (string, bool) {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return n, true
		}
	}
	return "", false
}
