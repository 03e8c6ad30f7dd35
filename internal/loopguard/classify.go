package loopguard

import (
	"sort"
	"strings"

	"github.com/basket/spawnguard/internal/config"
	"github.com/basket/spawnguard/internal/shared"
)

// Category is the closed set of evolution categories. The zero value
// means the request matched no category and category-scoped checks are
// skipped.
type Category string

const CategoryUnknown Category = ""

// IsEvolutionRequest reports whether the request text matches the
// evolution trigger vocabulary, meaning it asks the framework to
// create a new capability artifact.
func IsEvolutionRequest(text string, classifier config.ClassifierConfig) bool {
	normalized := shared.Normalize(text)
	if normalized == "" {
		return false
	}
	for _, trigger := range classifier.Triggers {
		if strings.Contains(normalized, shared.Normalize(trigger)) {
			return true
		}
	}
	return false
}

// Classify maps the request text onto an evolution category using the
// configured keyword table. Categories are scanned in sorted order so
// a text matching several keywords classifies deterministically.
func Classify(text string, classifier config.ClassifierConfig) Category {
	normalized := shared.Normalize(text)
	if normalized == "" {
		return CategoryUnknown
	}
	names := make([]string, 0, len(classifier.Categories))
	for name := range classifier.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, keyword := range classifier.Categories[name] {
			if strings.Contains(normalized, shared.Normalize(keyword)) {
				return Category(name)
			}
		}
	}
	return CategoryUnknown
}
