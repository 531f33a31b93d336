// Package meow implements the counting core of the bot: classifying chat
// lines for whole-word keyword occurrences and persisting per-user, per-day
// and all-time aggregates behind a single store.
package meow

import (
	"regexp"
	"strings"
)

// Classifier counts whole-word, case-insensitive occurrences of a keyword in
// a chat line. "meowing" is not a match; "Meow!" and "MEOW" are.
type Classifier struct {
	token string
	re    *regexp.Regexp
}

// NewClassifier builds a classifier for the given keyword. An empty token
// defaults to "meow".
func NewClassifier(token string) *Classifier {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		token = "meow"
	}
	return &Classifier{
		token: token,
		re:    regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(token) + `\b`),
	}
}

// Token returns the keyword the classifier matches.
func (c *Classifier) Token() string { return c.token }

// Count returns the number of whole-word matches in text. Malformed or empty
// input yields 0; Count never fails.
func (c *Classifier) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.re.FindAllStringIndex(text, -1))
}
